package server

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/crafthub/plantilla/blobs"
	"github.com/crafthub/plantilla/catalog"
	"github.com/crafthub/plantilla/store"
	"github.com/crafthub/plantilla/templates"
)

const testAdminKey = "hunter2"

var testServer *httptest.Server

func init() {
	records, err := catalog.NewQlStore("memory")
	if err != nil {
		panic(err)
	}
	files := blobs.New(store.NewMemory())
	files.Load()
	s := &RESTServer{
		Templates: &templates.Manager{Records: records, Files: files},
		AdminKey:  testAdminKey,
	}
	testServer = httptest.NewServer(s.addRoutes())
}

var pdfContent = []byte("%PDF-1.4 pretend invitation content")

func TestTemplateLifecycle(t *testing.T) {
	checkStatus(t, "GET", "/api/templates/zzzz", 404)

	// writes need the key
	resp := postForm(t, "POST", "/api/templates", "", fields{"title": "x"}, nil)
	if resp.StatusCode != 401 {
		t.Fatalf("Got %d, expected 401", resp.StatusCode)
	}
	resp.Body.Close()

	// create
	resp = postForm(t, "POST", "/api/templates", testAdminKey,
		fields{
			"title":   "Boda Elegante",
			"purpose": "Invitaciones de boda",
			"price":   "9.99",
			"author":  "maria",
			"tags":    "boda,elegante",
		},
		[]filePart{
			{"image", "cover.png", "image/png", []byte("png bytes")},
			{"templateFile", "invite.pdf", "application/pdf", pdfContent},
		})
	rec := decodeRecord(t, resp, 201)
	if rec.FileFormat != "pdf" || rec.DownloadCount != 0 {
		t.Fatalf("Got format %q count %d, expected pdf and 0", rec.FileFormat, rec.DownloadCount)
	}
	if rec.Price != 9.99 || len(rec.Tags) != 2 {
		t.Errorf("Got %#v, expected price 9.99 and two tags", rec)
	}
	id := rec.ID

	// it shows up in the active list and the title search
	for _, route := range []string{
		"/api/templates",
		"/api/templates?query=elegante",
	} {
		var list []catalog.Template
		if err := json.Unmarshal([]byte(getbody(t, "GET", route, 200)), &list); err != nil {
			t.Fatal(route, err)
		}
		if len(list) != 1 || list[0].ID != id {
			t.Errorf("%s: Got %#v, expected one record %s", route, list, id)
		}
	}

	// image round trip
	resp = checkRoute(t, "GET", "/api/templates/"+id+"/image", 200)
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Got content type %s, expected image/png", ct)
	}
	body, _ := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "png bytes" {
		t.Errorf("Got %q for image body", body)
	}

	// download counts and returns the exact bytes
	resp = checkRoute(t, "GET", "/api/templates/"+id+"/download", 200)
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="invite.pdf"` {
		t.Errorf("Got disposition %q", cd)
	}
	body, _ = ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(body, pdfContent) {
		t.Errorf("download body mismatch")
	}
	rec = getRecord(t, id)
	if rec.DownloadCount != 1 {
		t.Errorf("Got count %d, expected 1", rec.DownloadCount)
	}
	oldFileBlob := rec.FileBlob

	// replace the file, the old blob becomes unreachable
	resp = postForm(t, "PUT", "/api/templates/"+id, testAdminKey, nil,
		[]filePart{{"templateFile", "invite_v2.docx",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			[]byte("docx bytes")}})
	rec = decodeRecord(t, resp, 200)
	if rec.FileFormat != "docx" || rec.FileBlob == oldFileBlob {
		t.Errorf("Got format %q blob %q, expected docx and a new blob", rec.FileFormat, rec.FileBlob)
	}

	// a rejected type changes nothing
	resp = postForm(t, "PUT", "/api/templates/"+id, testAdminKey, nil,
		[]filePart{{"templateFile", "evil.exe", "application/octet-stream", []byte("nope")}})
	if resp.StatusCode != 400 {
		t.Errorf("Got %d, expected 400", resp.StatusCode)
	}
	resp.Body.Close()

	// delete takes the record and both blobs with it
	resp = postForm(t, "DELETE", "/api/templates/"+id, testAdminKey, nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("Got %d, expected 200", resp.StatusCode)
	}
	resp.Body.Close()
	checkStatus(t, "GET", "/api/templates/"+id, 404)
	checkStatus(t, "GET", "/api/templates/"+id+"/image", 404)
	checkStatus(t, "GET", "/api/templates/"+id+"/download", 404)
}

func TestPartialUpdate(t *testing.T) {
	resp := postForm(t, "POST", "/api/templates", testAdminKey,
		fields{
			"title":  "Menu Rustico",
			"price":  "4.50",
			"author": "jo",
		},
		[]filePart{
			{"image", "menu.jpg", "image/jpeg", []byte("jpg")},
			{"templateFile", "menu.xlsx", "application/zip", []byte("xlsx")},
		})
	rec := decodeRecord(t, resp, 201)

	resp = postForm(t, "PUT", "/api/templates/"+rec.ID, testAdminKey,
		fields{"price": "5.00"}, nil)
	rec = decodeRecord(t, resp, 200)
	if rec.Price != 5.00 || rec.Title != "Menu Rustico" {
		t.Errorf("Got %#v, expected only the price changed", rec)
	}
}

func TestEmptyFilePartIgnored(t *testing.T) {
	content := []byte("%PDF real invitation content")
	resp := postForm(t, "POST", "/api/templates", testAdminKey,
		fields{
			"title":  "Quince Dorado",
			"price":  "7.25",
			"author": "ana",
		},
		[]filePart{
			{"image", "quince.png", "image/png", []byte("png")},
			{"templateFile", "quince.pdf", "application/pdf", content},
		})
	rec := decodeRecord(t, resp, 201)
	oldImage, oldFile := rec.ImageBlob, rec.FileBlob

	// a zero-byte file part must not replace a stored binary
	resp = postForm(t, "PUT", "/api/templates/"+rec.ID, testAdminKey, nil,
		[]filePart{
			{"image", "empty.png", "image/png", nil},
			{"templateFile", "empty.pdf", "application/pdf", nil},
		})
	rec = decodeRecord(t, resp, 200)
	if rec.ImageBlob != oldImage || rec.FileBlob != oldFile {
		t.Fatalf("Got blobs %s/%s, expected %s/%s unchanged",
			rec.ImageBlob, rec.FileBlob, oldImage, oldFile)
	}

	body := getbody(t, "GET", "/api/templates/"+rec.ID+"/download", 200)
	if !bytes.Equal([]byte(body), content) {
		t.Errorf("download content changed after empty-part update")
	}

	// a zero-byte part on create means the binary is missing
	resp = postForm(t, "POST", "/api/templates", testAdminKey,
		fields{
			"title":  "Vacio",
			"price":  "1.00",
			"author": "ana",
		},
		[]filePart{
			{"image", "cover.png", "image/png", []byte("png")},
			{"templateFile", "empty.pdf", "application/pdf", nil},
		})
	if resp.StatusCode != 400 {
		t.Errorf("Got %d, expected 400 for an empty create part", resp.StatusCode)
	}
	resp.Body.Close()
}

type fields map[string]string

type filePart struct {
	field       string
	filename    string
	contentType string
	content     []byte
}

func postForm(t *testing.T, verb, route, key string, fv fields, parts []filePart) *http.Response {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fv {
		mw.WriteField(k, v)
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			`form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		pw, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(route, err)
		}
		pw.Write(p.content)
	}
	mw.Close()

	req, err := http.NewRequest(verb, testServer.URL+route, &buf)
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
	}
	return resp
}

func decodeRecord(t *testing.T, resp *http.Response, expstatus int) *catalog.Template {
	defer resp.Body.Close()
	if resp.StatusCode != expstatus {
		body, _ := ioutil.ReadAll(resp.Body)
		t.Fatalf("Expected status %d and received %d (%s)",
			expstatus, resp.StatusCode, body)
	}
	var rec catalog.Template
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	return &rec
}

func getRecord(t *testing.T, id string) *catalog.Template {
	var rec catalog.Template
	if err := json.Unmarshal([]byte(getbody(t, "GET", "/api/templates/"+id, 200)), &rec); err != nil {
		t.Fatal(err)
	}
	return &rec
}

func getbody(t *testing.T, verb, route string, expstatus int) string {
	resp := checkRoute(t, verb, route, expstatus)
	if resp != nil {
		body, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(route, err)
		}
		resp.Body.Close()
		return string(body)
	}
	return ""
}

func checkStatus(t *testing.T, verb, route string, expstatus int) {
	resp := checkRoute(t, verb, route, expstatus)
	if resp != nil {
		resp.Body.Close()
	}
}

func checkRoute(t *testing.T, verb, route string, expstatus int) *http.Response {
	req, err := http.NewRequest(verb, testServer.URL+route, nil)
	if err != nil {
		t.Fatal("Problem creating request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(route, err)
		return nil
	}
	if resp.StatusCode != expstatus {
		t.Errorf("%s: Expected status %d and received %d",
			route,
			expstatus,
			resp.StatusCode)
		resp.Body.Close()
		return nil
	}
	return resp
}
