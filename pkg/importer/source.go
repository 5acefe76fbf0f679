package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
)

// Source opens the newline-delimited input of one import run.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source in logs.
	Name() string
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

// Open opens the file for reading.
func (s FileSource) Open(_ context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	return f, nil
}

// Name returns the file path.
func (s FileSource) Name() string { return s.Path }

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
}

// GCSSource reads one object from a Cloud Storage bucket.
type GCSSource struct {
	Client GCSClient
	Bucket string
	Object string
}

// Open starts reading the object.
func (s GCSSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.Client == nil {
		return nil, errors.New("gcs client cannot be nil")
	}
	r, err := s.Client.Bucket(s.Bucket).Object(s.Object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.Bucket, s.Object, err)
	}
	return r, nil
}

// Name returns the gs:// URL of the object.
func (s GCSSource) Name() string {
	return fmt.Sprintf("gs://%s/%s", s.Bucket, s.Object)
}

// --- Adapters to wrap the concrete Google Cloud Storage client ---

// gcsClientAdapter wraps a *storage.Client to satisfy the GCSClient interface.
type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter creates an adapter that makes the concrete *storage.Client
// conform to the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

// NewReader returns the underlying *storage.Reader, which already implements io.ReadCloser.
func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}
