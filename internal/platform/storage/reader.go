package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Object is an opened storage object ready for streaming.
type Object struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Reader streams objects from a storage bucket.
type Reader interface {
	Open(ctx context.Context, object string) (Object, error)
}

// BucketReader implements Reader over one Cloud Storage bucket.
type BucketReader struct {
	client *gcs.Client
	bucket string
}

// NewBucketReader constructs a reader bound to the named bucket.
func NewBucketReader(client *gcs.Client, bucket string) (*BucketReader, error) {
	if client == nil {
		return nil, errors.New("storage reader: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage reader: bucket name is required")
	}
	return &BucketReader{client: client, bucket: bucket}, nil
}

// Open returns a streaming handle for the object. The caller owns Body and
// must close it.
func (r *BucketReader) Open(ctx context.Context, object string) (Object, error) {
	if r == nil || r.client == nil {
		return Object{}, errors.New("storage reader: not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return Object{}, errors.New("storage reader: object name is required")
	}

	reader, err := r.client.Bucket(r.bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrObjectNotFound, object)
		}
		return Object{}, fmt.Errorf("storage reader: open %s: %w", object, err)
	}

	return Object{
		Name:        object,
		ContentType: reader.Attrs.ContentType,
		Size:        reader.Attrs.Size,
		Body:        reader,
	}, nil
}
