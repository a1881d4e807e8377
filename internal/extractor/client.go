package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// FileRef identifies an image held in the provider's file store.
type FileRef struct {
	Name     string // provider handle used for deletion
	URI      string
	MIMEType string
}

// Request is one generation call: text instructions followed by the page
// images, in order.
type Request struct {
	Model  string
	Prompt []string
	Files  []FileRef
}

// Usage is the token accounting reported for a call.
type Usage struct {
	PromptTokens    int32
	CandidateTokens int32
}

// ModelClient is the capability the extractor needs from a vision model
// provider. Implementations classify their failures with apperr kinds.
type ModelClient interface {
	UploadImage(ctx context.Context, path string) (FileRef, error)
	DeleteFile(ctx context.Context, ref FileRef) error
	// GenerateJSON returns the model's answer constrained to the statement
	// schema.
	GenerateJSON(ctx context.Context, req Request) (string, Usage, error)
	// GenerateText returns the model's free-text answer.
	GenerateText(ctx context.Context, req Request) (string, Usage, error)
}

// StatusError carries the HTTP status a provider answered with.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// transient reports whether the status allows another attempt.
func (e *StatusError) transient() bool {
	return e.Code == 408 || e.Code == 429 || e.Code >= 500
}

func mimeTypeFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	default:
		return "", fmt.Errorf("unsupported image type %q", filepath.Ext(path))
	}
}
