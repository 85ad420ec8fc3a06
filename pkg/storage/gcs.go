package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsWriteTimeout = 2 * time.Minute

// GCSStorage persists objects in a Google Cloud Storage bucket.
type GCSStorage struct {
	client        *gcs.Client
	bucket        string
	publicBaseURL string

	// newWriter opens an upload. GCS commits the object only when Close succeeds on a live context.
	newWriter func(ctx context.Context, key, contentType string) io.WriteCloser
}

// GCSConfig describes the bucket to write to.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
}

// NewGCSStorage dials the storage API. Empty credentials fall back to application default credentials.
func NewGCSStorage(ctx context.Context, cfg GCSConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	st := &GCSStorage{client: client, bucket: cfg.Bucket, publicBaseURL: base}
	st.newWriter = st.objectWriter
	return st, nil
}

func (s *GCSStorage) objectWriter(ctx context.Context, key, contentType string) io.WriteCloser {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}

// Put uploads r to key. A failed copy cancels the upload so no partial object is created.
func (s *GCSStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, gcsWriteTimeout)
	defer cancel()

	w := s.newWriter(ctx, key, contentType)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs writer: %w", err)
	}
	return key, nil
}

// Open streams the object content.
func (s *GCSStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs object: %w", err)
	}
	return rc, nil
}

// Delete removes the object, treating a missing object as success.
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object: %w", err)
	}
	return nil
}

// URL returns the public address of the object.
func (s *GCSStorage) URL(key string) string {
	return s.publicBaseURL + "/" + strings.TrimLeft(key, "/")
}

// Close releases the client.
func (s *GCSStorage) Close() error {
	return s.client.Close()
}
