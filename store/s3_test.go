package store

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
)

// A write that triggers a failed part upload must still report the bytes
// it consumed, since they were accepted into the buffer.
func TestS3WriteReportsConsumed(t *testing.T) {
	// every request 404s, so Create sees a missing key but the
	// multipart upload cannot start
	fake := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(404)
		}))
	defer fake.Close()
	conf := aws.NewConfig().
		WithEndpoint(fake.URL).
		WithRegion("us-east-1").
		WithCredentials(credentials.NewStaticCredentials("id", "secret", "")).
		WithDisableSSL(true).
		WithS3ForcePathStyle(true)
	s := NewS3("bucket", "prefix/", session.New(conf))

	w, err := s.Create("somekey")
	if err != nil {
		t.Fatalf("Create: got %v, expected no error", err)
	}
	// stay under the part size, so nothing is uploaded yet
	n, err := w.Write(make([]byte, s3PartSize-10))
	if n != s3PartSize-10 || err != nil {
		t.Errorf("Got (%d, %v), expected (%d, nil)", n, err, s3PartSize-10)
	}
	// this write crosses the part size and the upload fails
	p := make([]byte, 100)
	n, err = w.Write(p)
	if err == nil {
		t.Errorf("Got no error, expected upload failure")
	}
	if n != len(p) {
		t.Errorf("Got %d, expected %d", n, len(p))
	}
	w.Close()
}
