package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	pkgerrors "github.com/pkg/errors"

	"github.com/crafthub/plantilla/blobs"
	"github.com/crafthub/plantilla/catalog"
	"github.com/crafthub/plantilla/templates"
)

// writeError translates an error from the lower layers into a status
// code. Anything unrecognized counts as a storage failure.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch pkgerrors.Cause(err) {
	case catalog.ErrNotFound, blobs.ErrNotFound:
		status = 404
	case templates.ErrInvalidImage, templates.ErrInvalidFile:
		status = 400
	default:
		status = 500
	}
	w.WriteHeader(status)
	fmt.Fprintln(w, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, val interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(val)
}

// ListTemplatesHandler returns the active records. The query parameter
// "query" switches to a title substring search and "category" to a
// category listing. "author" lists everything by one author.
func (s *RESTServer) ListTemplatesHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	q := r.URL.Query()
	var list []*catalog.Template
	var err error
	switch {
	case q.Get("query") != "":
		list, err = s.Templates.Records.FindByTitle(q.Get("query"))
	case q.Get("category") != "":
		list, err = s.Templates.Records.FindByCategory(q.Get("category"))
	case q.Get("author") != "":
		list, err = s.Templates.Records.FindByAuthor(q.Get("author"))
	default:
		list, err = s.Templates.Records.FindAllActive()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*catalog.Template{}
	}
	writeJSON(w, 200, list)
}

func (s *RESTServer) GetTemplateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	t, err := s.Templates.Records.FindByID(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, t)
}

// ImageHandler streams the preview image with its stored content type.
func (s *RESTServer) ImageHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	rc, contentType, size, err := s.Templates.Image(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	io.Copy(w, rc)
}

// DownloadHandler streams the template file as an attachment and counts
// the download.
func (s *RESTServer) DownloadHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	d, err := s.Templates.Download(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer d.Content.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", d.Filename))
	io.Copy(w, d.Content)
}

func (s *RESTServer) CreateTemplateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	price, err := strconv.ParseFloat(r.FormValue("price"), 64)
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad price")
		return
	}
	image, err := formUpload(r, "image")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing image")
		return
	}
	file, err := formUpload(r, "templateFile")
	if err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, "missing templateFile")
		return
	}

	t, err := s.Templates.Create(templates.CreateRequest{
		Title:            r.FormValue("title"),
		Description:      r.FormValue("description"),
		Purpose:          r.FormValue("purpose"),
		Price:            price,
		Author:           r.FormValue("author"),
		AuthorID:         r.FormValue("authorId"),
		Category:         r.FormValue("category"),
		Tags:             parseTags(r.MultipartForm.Value["tags"]),
		TutorialVideoURL: r.FormValue("tutorialVideoUrl"),
		Image:            *image,
		File:             *file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 201, t)
}

// UpdateTemplateHandler applies a partial update. Only the form fields
// actually present in the request are touched.
func (s *RESTServer) UpdateTemplateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		w.WriteHeader(400)
		fmt.Fprintln(w, err.Error())
		return
	}
	var req templates.UpdateRequest
	req.Title = formString(r, "title")
	req.Description = formString(r, "description")
	req.Purpose = formString(r, "purpose")
	req.Category = formString(r, "category")
	req.TutorialVideoURL = formString(r, "tutorialVideoUrl")
	if p := formString(r, "price"); p != nil {
		price, err := strconv.ParseFloat(*p, 64)
		if err != nil {
			w.WriteHeader(400)
			fmt.Fprintln(w, "bad price")
			return
		}
		req.Price = &price
	}
	if vals, ok := r.MultipartForm.Value["tags"]; ok {
		req.Tags = parseTags(vals)
	}
	if image, err := formUpload(r, "image"); err == nil {
		req.Image = image
	}
	if file, err := formUpload(r, "templateFile"); err == nil {
		req.File = file
	}

	t, err := s.Templates.Update(ps.ByName("id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, t)
}

func (s *RESTServer) DeleteTemplateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.Templates.Delete(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]string{"message": "Template deleted successfully"})
}

// formUpload pulls one uploaded file out of the multipart form. A
// zero-byte file part counts as absent, so an empty part on an update
// cannot replace a stored binary.
func formUpload(r *http.Request, name string) (*templates.Upload, error) {
	f, fh, err := r.FormFile(name)
	if err != nil {
		return nil, err
	}
	if fh.Size == 0 {
		f.Close()
		return nil, http.ErrMissingFile
	}
	return &templates.Upload{
		Content:     f,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
	}, nil
}

// formString returns the form value as a pointer, nil when the field was
// not sent at all.
func formString(r *http.Request, name string) *string {
	if vals, ok := r.MultipartForm.Value[name]; ok && len(vals) > 0 {
		return &vals[0]
	}
	return nil
}

// parseTags accepts both repeated tag fields and comma separated lists.
func parseTags(vals []string) []string {
	var tags []string
	for _, v := range vals {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
