package store

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// S3 is a Store kept in an S3 bucket. All keys are placed under Prefix,
// so one bucket can hold several stores. Do not change Bucket or Prefix
// while calls are in flight.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
}

var _ Store = &S3{}

// ErrNotExist is returned when opening a key that is not in the bucket.
var ErrNotExist = errors.New("key does not exist")

// NewS3 creates an S3 store on the given bucket, keeping all keys under
// prefix. The credentials in the session are used for every request.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// List returns a channel enumerating every key in this store.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store beginning with prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
	}
	return result, err
}

// Open returns a reader over the content of key. Data is paged in with
// ranged GETs as it is read.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}, size, nil
}

// Create returns a writer uploading content for key. Content is uploaded
// with the multipart interface, one part per buffered piece, so values
// larger than memory can be written.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	_, err := s.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	}
	return &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
	}, nil
}

// Delete removes key from the store. It is not an error to delete a key
// which is absent.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key})
	}
	return err
}

// stat does a HEAD for a key and returns its size, or ErrNotExist.
func (s *S3) stat(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
			return 0, ErrNotExist
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3ReadAtCloser adapts ranged GET requests to the io.ReaderAt interface.
// One page of downloaded data is kept, which is enough for the expected
// case of a sequential scan through the value. Not safe for concurrent use.
type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	size   int64
	page   []byte // current downloaded page
	offset int64  // offset of page[0] in the value
}

const s3PageSize = 10 * 1024 * 1024 // 10 MiB

func (rac *s3ReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	var nn int
	for len(p) > 0 && off < rac.size {
		if rac.page == nil || off < rac.offset || off >= rac.offset+int64(len(rac.page)) {
			if err := rac.loadpage(off); err != nil {
				return nn, err
			}
		}
		n := copy(p, rac.page[off-rac.offset:])
		p = p[n:]
		off += int64(n)
		nn += n
	}
	if len(p) > 0 {
		return nn, io.EOF
	}
	return nn, nil
}

// loadpage downloads the page containing offset. Page starts are aligned
// to s3PageSize so successive pages never overlap.
func (rac *s3ReadAtCloser) loadpage(off int64) error {
	start := (off / s3PageSize) * s3PageSize
	end := start + s3PageSize
	if end > rac.size {
		end = rac.size
	}
	output, err := rac.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		log.Println("S3 loadpage:", rac.key, off, err)
		raven.CaptureError(err, map[string]string{"Bucket": rac.bucket, "Key": rac.key})
		return err
	}
	var data bytes.Buffer
	_, err = io.Copy(&data, output.Body)
	output.Body.Close()
	if err != nil {
		return err
	}
	rac.page = data.Bytes()
	rac.offset = start
	return nil
}

func (rac *s3ReadAtCloser) Close() error {
	return nil
}

// s3WriteCloser uploads a value to S3. Small values, fitting into a
// single buffer, are uploaded with one PUT. Anything larger goes through
// the multipart upload interface. A failed or aborted upload removes
// whatever parts were already sent, so no partial value is left behind.
type s3WriteCloser struct {
	svc      *s3.S3
	bucket   string
	key      string
	buf      bytes.Buffer
	isMulti  bool
	uploadID string
	part     int64    // next part number, 1-based per AWS
	etags    []string // etag of each uploaded part in order
	abort    bool
}

// AWS requires multipart parts (other than the last) to be at least 5 MB.
const s3PartSize = 16 * 1024 * 1024

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	n, err := wc.buf.Write(p)
	if err != nil {
		wc.abort = true
		return n, err
	}
	if wc.buf.Len() >= s3PartSize {
		if err = wc.uploadpart(); err != nil {
			// p was already accepted into the buffer
			wc.abort = true
			return n, err
		}
	}
	return n, nil
}

func (wc *s3WriteCloser) Close() error {
	if wc.abort {
		return wc.doabort(nil)
	}
	if !wc.isMulti {
		// everything fit in one buffer
		_, err := wc.svc.PutObject(&s3.PutObjectInput{
			Body:          bytes.NewReader(wc.buf.Bytes()),
			Bucket:        aws.String(wc.bucket),
			Key:           aws.String(wc.key),
			ContentLength: aws.Int64(int64(wc.buf.Len())),
		})
		if err != nil {
			log.Println("S3 put:", wc.key, err)
			raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
		}
		return err
	}
	if wc.buf.Len() > 0 {
		if err := wc.uploadpart(); err != nil {
			return wc.doabort(err)
		}
	}
	var completed []*s3.CompletedPart
	for i, etag := range wc.etags {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int64(int64(i + 1)),
		})
	}
	_, err := wc.svc.CompleteMultipartUpload(&s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(wc.bucket),
		Key:             aws.String(wc.key),
		UploadId:        aws.String(wc.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return wc.doabort(err)
	}
	return nil
}

func (wc *s3WriteCloser) doabort(err error) error {
	if wc.isMulti {
		_, err2 := wc.svc.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
		})
		if err2 != nil {
			log.Println("S3 abort:", wc.key, err2)
		}
		if err == nil {
			err = err2
		}
	}
	return err
}

func (wc *s3WriteCloser) uploadpart() error {
	if !wc.isMulti {
		result, err := wc.svc.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
			Bucket: aws.String(wc.bucket),
			Key:    aws.String(wc.key),
		})
		if err != nil {
			log.Println("S3 start multipart:", wc.key, err)
			raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
			return err
		}
		wc.isMulti = true
		wc.uploadID = *result.UploadId
		wc.part = 1
	}
	output, err := wc.svc.UploadPart(&s3.UploadPartInput{
		Body:       bytes.NewReader(wc.buf.Bytes()),
		Bucket:     aws.String(wc.bucket),
		Key:        aws.String(wc.key),
		PartNumber: aws.Int64(wc.part),
		UploadId:   aws.String(wc.uploadID),
	})
	if err != nil {
		log.Println("S3 uploadpart:", wc.key, wc.part, err)
		return err
	}
	if output.ETag == nil {
		return errors.New("no ETag returned from AWS")
	}
	wc.etags = append(wc.etags, *output.ETag)
	wc.part++
	wc.buf.Reset()
	return nil
}
