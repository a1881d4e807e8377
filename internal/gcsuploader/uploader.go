package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
)

const defaultTimeout = 2 * time.Minute

// Client wraps a GCS client. It assumes Application Default Credentials are
// configured (gcloud auth application-default login).
type Client struct {
	client  *storage.Client
	timeout time.Duration
}

// NewClient creates a storage client. timeout bounds each transfer; zero
// means two minutes.
func NewClient(ctx context.Context, timeout time.Duration) (*Client, error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewClient: create storage client: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{client: sc, timeout: timeout}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// UploadFile uploads a local file to a GCS bucket under the given object name.
func (c *Client) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	if err := c.write(ctx, bucketName, objectName, "", f); err != nil {
		return fmt.Errorf("UploadFile: %w", err)
	}
	return nil
}

// UploadBytes uploads data with the given content type.
func (c *Client) UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error {
	if err := c.write(ctx, bucketName, objectName, contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("UploadBytes: %w", err)
	}
	return nil
}

func (c *Client) write(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	w := c.client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to gs://%s/%s: %w", bucketName, objectName, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize gs://%s/%s: %w", bucketName, objectName, err)
	}
	return nil
}
