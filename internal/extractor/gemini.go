package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
)

// GeminiClient implements ModelClient on the Gemini API.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini API client. An empty key is an AuthError.
// httpTimeout bounds every HTTP request the SDK makes; zero leaves the SDK
// default.
func NewGeminiClient(ctx context.Context, apiKey string, httpTimeout time.Duration) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, apperr.Errorf(apperr.AuthError, "NewGeminiClient", "GEMINI_API_KEY is not set")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpTimeout > 0 {
		cfg.HTTPOptions = genai.HTTPOptions{Timeout: &httpTimeout}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiClient: create genai client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// UploadImage uploads one page image to the Files API.
func (c *GeminiClient) UploadImage(ctx context.Context, path string) (FileRef, error) {
	mimeType, err := mimeTypeFor(path)
	if err != nil {
		return FileRef{}, apperr.E(apperr.InvalidArgument, "UploadImage", err)
	}

	f, err := c.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return FileRef{}, classify("UploadImage", apperr.UploadError, err)
	}

	ref := FileRef{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

// DeleteFile removes an uploaded image from the Files API.
func (c *GeminiClient) DeleteFile(ctx context.Context, ref FileRef) error {
	if _, err := c.client.Files.Delete(ctx, ref.Name, nil); err != nil {
		return classify("DeleteFile", apperr.ProviderError, err)
	}
	return nil
}

// GenerateJSON asks for output constrained to StatementSchema.
func (c *GeminiClient) GenerateJSON(ctx context.Context, req Request) (string, Usage, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   StatementSchema(),
		Temperature:      genai.Ptr[float32](0),
	}
	return c.generate(ctx, "GenerateJSON", req, cfg)
}

// GenerateText asks for an unconstrained answer.
func (c *GeminiClient) GenerateText(ctx context.Context, req Request) (string, Usage, error) {
	return c.generate(ctx, "GenerateText", req, nil)
}

func (c *GeminiClient) generate(ctx context.Context, op string, req Request, cfg *genai.GenerateContentConfig) (string, Usage, error) {
	parts := make([]*genai.Part, 0, len(req.Prompt)+len(req.Files))
	for _, p := range req.Prompt {
		parts = append(parts, genai.NewPartFromText(p))
	}
	for _, f := range req.Files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return "", Usage{}, classify(op, apperr.ProviderError, err)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = resp.UsageMetadata.PromptTokenCount
		usage.CandidateTokens = resp.UsageMetadata.CandidatesTokenCount
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", usage, apperr.Errorf(apperr.ProviderError, op, "empty response from model")
	}
	return text, usage, nil
}

// classify maps an SDK error to an error kind. Rejected credentials are an
// AuthError whatever the operation; everything else keeps the fallback kind
// with the HTTP status attached so the retry policy can tell transient
// failures from permanent ones.
func classify(op string, fallback apperr.Kind, err error) error {
	code, msg := apiStatus(err)
	if code == 0 {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.E(apperr.ProviderError, op, err)
		}
		return apperr.E(fallback, op, err)
	}

	se := &StatusError{Code: code, Err: err}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperr.E(apperr.AuthError, op, se)
	case code == http.StatusBadRequest && isInvalidKey(msg):
		return apperr.E(apperr.AuthError, op, se)
	default:
		return apperr.E(fallback, op, se)
	}
}

func apiStatus(err error) (int, string) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Message
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Message
	}
	return 0, ""
}

func isInvalidKey(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key not valid") || strings.Contains(m, "api_key_invalid")
}
