package gcsuploader

import (
	"context"
)

// StorageService provides the object storage operations used for statement
// sources and report uploads.
type StorageService interface {
	// Download copies the object at a gs:// URI into a local file.
	Download(ctx context.Context, gcsURI, destPath string) error

	// UploadFile uploads a local file under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// UploadBytes uploads an in-memory payload under the given object name.
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
}

var _ StorageService = (*Client)(nil)
