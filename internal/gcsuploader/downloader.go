package gcsuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
)

// IsGCSURI reports whether s looks like gs://bucket/object.
func IsGCSURI(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// ParseURI splits gs://bucket/path/to/file.pdf into bucket and object.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !IsGCSURI(gcsURI) {
		return "", "", apperr.Errorf(apperr.InvalidArgument, "ParseURI", "invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", apperr.Errorf(apperr.InvalidArgument, "ParseURI", "invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// Download streams the object at gcsURI into destPath. A missing object is
// a NotFound error.
func (c *Client) Download(ctx context.Context, gcsURI, destPath string) error {
	bucket, object, err := ParseURI(gcsURI)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return apperr.E(apperr.NotFound, "Download", fmt.Errorf("%s: %w", gcsURI, err))
		}
		return fmt.Errorf("Download: open %s: %w", gcsURI, err)
	}
	defer rc.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("Download: create %s: %w", destPath, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("Download: read %s: %w", gcsURI, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("Download: close %s: %w", destPath, err)
	}
	return nil
}
