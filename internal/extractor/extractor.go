// Package extractor turns rasterized statement pages into a validated
// statement.Statement using a vision-capable language model.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/prompts"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-3-flash-preview"

// Config tunes the extractor. Zero values mean the defaults.
type Config struct {
	Model            string
	UploadAttempts   int           // per page, default 3
	GenerateAttempts int           // default 4
	CallTimeout      time.Duration // per network call, default 2m
	InitialBackoff   time.Duration // default 1s
	MaxBackoff       time.Duration // default 30s
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.UploadAttempts <= 0 {
		c.UploadAttempts = 3
	}
	if c.GenerateAttempts <= 0 {
		c.GenerateAttempts = 4
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 2 * time.Minute
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Extractor reads statements through a ModelClient.
type Extractor struct {
	client ModelClient
	cfg    Config
}

// New creates an Extractor.
func New(client ModelClient, cfg Config) *Extractor {
	return &Extractor{client: client, cfg: cfg.withDefaults()}
}

// Extract uploads the page images, requests structured output and returns a
// statement that satisfies every schema invariant. DCC fee rows are merged
// into the preceding transaction and empty card names are filled from the
// statement. Output that fails validation is re-prompted once with the
// validation failure before a SchemaValidationError is returned.
func (e *Extractor) Extract(ctx context.Context, imagePaths []string) (*statement.Statement, error) {
	log := logger.FromContext(ctx)

	refs, err := e.uploadAll(ctx, "Extract", imagePaths)
	defer e.cleanup(ctx, refs)
	if err != nil {
		return nil, err
	}

	req := Request{Model: e.cfg.Model, Prompt: []string{prompts.StatementReader()}, Files: refs}

	stmt, err := e.generateStatement(ctx, req)
	if err != nil && errors.Is(err, apperr.SchemaValidationError) {
		log.Warn().Err(err).Msg("model output failed validation, re-prompting once")
		req.Prompt = append(req.Prompt, prompts.Retry(err))
		stmt, err = e.generateStatement(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	cc := stmt.CrossCheck()
	ev := log.Info()
	if !cc.TotalMatches() || !cc.CountMatches() {
		ev = log.Warn()
	}
	ev.Str("card_name", stmt.CardName).
		Str("reported_total", cc.ReportedTotal.String()).
		Str("summed_total", cc.SummedTotal.String()).
		Int("reported_count", cc.ReportedCount).
		Int("rows", cc.ExtractedRows).
		Msg("statement extracted")

	return stmt, nil
}

// ExtractRawText returns the model's free-text reading of the pages. It is a
// debugging aid: the output is not validated and never enters the dataset.
func (e *Extractor) ExtractRawText(ctx context.Context, imagePaths []string) (string, error) {
	refs, err := e.uploadAll(ctx, "ExtractRawText", imagePaths)
	defer e.cleanup(ctx, refs)
	if err != nil {
		return "", err
	}

	req := Request{Model: e.cfg.Model, Prompt: []string{prompts.RawReader()}, Files: refs}

	var text string
	err = e.retry(ctx, "generate", e.cfg.GenerateAttempts, func(callCtx context.Context) error {
		t, usage, err := e.client.GenerateText(callCtx, req)
		logUsage(ctx, usage)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ExtractRawText: %w", err)
	}
	return text, nil
}

// Extract is a one-shot helper that builds a Gemini-backed Extractor for a
// single statement.
func Extract(ctx context.Context, apiKey, model string, imagePaths []string) (*statement.Statement, error) {
	client, err := NewGeminiClient(ctx, apiKey, 0)
	if err != nil {
		return nil, err
	}
	return New(client, Config{Model: model}).Extract(ctx, imagePaths)
}

func (e *Extractor) uploadAll(ctx context.Context, op string, imagePaths []string) ([]FileRef, error) {
	if len(imagePaths) == 0 {
		return nil, apperr.Errorf(apperr.InvalidArgument, op, "no page images given")
	}
	for _, p := range imagePaths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, apperr.E(apperr.NotFound, op, err)
			}
			return nil, apperr.E(apperr.UploadError, op, err)
		}
	}

	log := logger.FromContext(ctx)
	refs := make([]FileRef, 0, len(imagePaths))
	for i, p := range imagePaths {
		var ref FileRef
		err := e.retry(ctx, "upload", e.cfg.UploadAttempts, func(callCtx context.Context) error {
			r, err := e.client.UploadImage(callCtx, p)
			if err != nil {
				return err
			}
			ref = r
			return nil
		})
		if err != nil {
			return refs, fmt.Errorf("%s: upload page %d: %w", op, i+1, err)
		}
		log.Debug().Int("page", i+1).Str("uri", ref.URI).Msg("page uploaded")
		refs = append(refs, ref)
	}
	return refs, nil
}

// cleanup deletes uploaded images. Failures are logged and ignored. It runs
// even when ctx is already cancelled.
func (e *Extractor) cleanup(ctx context.Context, refs []FileRef) {
	if len(refs) == 0 {
		return
	}
	log := logger.FromContext(ctx)
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CallTimeout)
	defer cancel()

	for _, ref := range refs {
		if err := e.client.DeleteFile(dctx, ref); err != nil {
			log.Warn().Err(err).Str("file_ref", ref.Name).Msg("failed to delete uploaded page")
		}
	}
}

func (e *Extractor) generateStatement(ctx context.Context, req Request) (*statement.Statement, error) {
	var raw string
	err := e.retry(ctx, "generate", e.cfg.GenerateAttempts, func(callCtx context.Context) error {
		text, usage, err := e.client.GenerateJSON(callCtx, req)
		logUsage(ctx, usage)
		if err != nil {
			return err
		}
		raw = text
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Extract: %w", err)
	}

	stmt, err := decodeStatement(raw)
	if err != nil {
		return nil, err
	}
	if err := statement.Normalize(stmt); err != nil {
		return nil, err
	}
	if err := statement.Validate(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

// decodeStatement parses the model's JSON strictly. Unknown fields, a
// missing transactions list or trailing data are schema failures.
func decodeStatement(raw string) (*statement.Statement, error) {
	clean := cleanModelJSON(raw)

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(clean), &probe); err != nil {
		return nil, apperr.E(apperr.SchemaValidationError, "decodeStatement", fmt.Errorf("response is not a JSON object: %w", err))
	}
	if _, ok := probe["transactions"]; !ok {
		return nil, apperr.Errorf(apperr.SchemaValidationError, "decodeStatement", "response has no transactions field")
	}
	if err := checkAmounts(probe["transactions"]); err != nil {
		return nil, apperr.E(apperr.SchemaValidationError, "decodeStatement", err)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(clean)))
	dec.DisallowUnknownFields()

	var stmt statement.Statement
	if err := dec.Decode(&stmt); err != nil {
		return nil, apperr.E(apperr.SchemaValidationError, "decodeStatement", err)
	}
	if stmt.Transactions == nil {
		stmt.Transactions = []statement.Transaction{}
	}
	return &stmt, nil
}

// checkAmounts requires every transaction to carry amount as a JSON number.
// A null or absent amount would otherwise decode as zero.
func checkAmounts(raw json.RawMessage) error {
	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		// shape errors are reported by the strict decode
		return nil
	}
	for i, row := range rows {
		amount, ok := row["amount"]
		if !ok {
			return fmt.Errorf("transaction %d: amount is missing", i)
		}
		v := bytes.TrimSpace(amount)
		if len(v) == 0 || (v[0] != '-' && (v[0] < '0' || v[0] > '9')) {
			return fmt.Errorf("transaction %d: amount %s is not a number", i, v)
		}
	}
	return nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

func logUsage(ctx context.Context, u Usage) {
	if u.PromptTokens == 0 && u.CandidateTokens == 0 {
		return
	}
	log := logger.FromContext(ctx)
	log.Debug().
		Int32("prompt_tokens", u.PromptTokens).
		Int32("candidate_tokens", u.CandidateTokens).
		Msg("model usage")
}
