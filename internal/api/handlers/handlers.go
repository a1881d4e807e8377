package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/csvout"
	"github.com/dvloznov/statement-analyzer/internal/gcsuploader"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/report"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// BatchesHandler serves statement batch uploads, status and downloads.
type BatchesHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore

	uploadDir      string
	maxUploadBytes int64

	// When storage and bucket are set, uploaded PDFs are copied to
	// gs://bucket/uploads/<job>/ and the job reads them from there.
	storage gcsuploader.StorageService
	bucket  string
}

// Options configures a BatchesHandler.
type Options struct {
	UploadDir      string
	MaxUploadBytes int64
	Storage        gcsuploader.StorageService
	Bucket         string
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(publisher jobs.Publisher, store jobs.JobStore, opts Options) *BatchesHandler {
	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(os.TempDir(), "statement-uploads")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	return &BatchesHandler{
		publisher:      publisher,
		store:          store,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		storage:        opts.Storage,
		bucket:         opts.Bucket,
	}
}

// Register adds the batch routes and the health check to mux.
func (h *BatchesHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/batches", h.CreateBatch)
	mux.HandleFunc("GET /api/batches", h.ListBatches)
	mux.HandleFunc("GET /api/batches/{id}", h.GetBatch)
	mux.HandleFunc("GET /api/batches/{id}/csv", h.DownloadCSV)
	mux.HandleFunc("GET /api/batches/{id}/xlsx", h.DownloadXLSX)
	mux.HandleFunc("GET /api/batches/{id}/summary", h.GetSummary)
	mux.HandleFunc("GET /api/categories", h.ListCategories)
	mux.HandleFunc("GET /health", Health)
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// CreateBatch handles POST /api/batches with multipart field "files".
func (h *BatchesHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if r.ContentLength > h.maxUploadBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Expected a multipart form with PDF files")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one PDF is required in field \"files\"")
		return
	}
	for _, fh := range files {
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Not a PDF: %s", fh.Filename))
			return
		}
	}

	job := &jobs.AnalyzeBatchJob{JobID: uuid.NewString()}
	for i, fh := range files {
		src, err := h.storeUpload(ctx, job.JobID, i, fh)
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Failed to store upload")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to store upload")
			return
		}
		job.Sources = append(job.Sources, src)
	}

	if err := h.publisher.PublishAnalyzeBatch(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue batch")
		return
	}

	log.Info().Str("job_id", job.JobID).Int("files", len(job.Sources)).Msg("Batch enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.JobID,
		"status": job.Status,
		"files":  len(job.Sources),
	})
}

// storeUpload saves one uploaded file under the job's upload dir and, when a
// bucket is configured, copies it to GCS.
func (h *BatchesHandler) storeUpload(ctx context.Context, jobID string, idx int, fh *multipart.FileHeader) (jobs.Source, error) {
	name := filepath.Base(fh.Filename)
	dir := filepath.Join(h.uploadDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return jobs.Source{}, fmt.Errorf("storeUpload: creating upload dir: %w", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("%03d_%s", idx, name))

	in, err := fh.Open()
	if err != nil {
		return jobs.Source{}, fmt.Errorf("storeUpload: opening part: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return jobs.Source{}, fmt.Errorf("storeUpload: creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return jobs.Source{}, fmt.Errorf("storeUpload: writing %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return jobs.Source{}, fmt.Errorf("storeUpload: closing %s: %w", dest, err)
	}

	if h.storage == nil || h.bucket == "" {
		return jobs.Source{Name: name, Path: dest}, nil
	}

	object := path.Join("uploads", jobID, filepath.Base(dest))
	if err := h.storage.UploadFile(ctx, h.bucket, object, dest); err != nil {
		return jobs.Source{}, fmt.Errorf("storeUpload: %w", err)
	}
	_ = os.Remove(dest)
	return jobs.Source{Name: name, Path: fmt.Sprintf("gs://%s/%s", h.bucket, object)}, nil
}

// ListBatches handles GET /api/batches
func (h *BatchesHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{Status: jobs.JobStatus(query.Get("status"))}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("Failed to list batches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list batches")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"batches": list,
		"count":   len(list),
	})
}

// GetBatch handles GET /api/batches/{id}
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r, false)
	if !ok {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// DownloadCSV handles GET /api/batches/{id}/csv. The body is the aggregate
// CSV exactly as produced by the batch.
func (h *BatchesHandler) DownloadCSV(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r, true)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", csvout.DownloadName))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, job.CSV)
}

// DownloadXLSX handles GET /api/batches/{id}/xlsx
func (h *BatchesHandler) DownloadXLSX(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	job, ok := h.loadJob(w, r, true)
	if !ok {
		return
	}
	table, err := report.ParseString(job.CSV)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Stored CSV is unreadable")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build workbook")
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, table); err != nil {
		log.Error().Err(err).Msg("Failed to write workbook")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to build workbook")
		return
	}

	name := strings.TrimSuffix(csvout.DownloadName, ".csv") + ".xlsx"
	w.Header().Set("Content-Type", report.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GetSummary handles GET /api/batches/{id}/summary. Optional repeated
// "category" and "account" query parameters filter the rows first.
func (h *BatchesHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r, true)
	if !ok {
		return
	}
	table, err := report.ParseString(job.CSV)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", job.JobID).Msg("Stored CSV is unreadable")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to summarize batch")
		return
	}

	var f report.Filter
	for _, c := range r.URL.Query()["category"] {
		cat := statement.Category(c)
		if !cat.Valid() {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown category: %s", c))
			return
		}
		f.Categories = append(f.Categories, cat)
	}
	for _, a := range r.URL.Query()["account"] {
		acct := statement.Account(a)
		if !acct.Valid() {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown account: %s", a))
			return
		}
		f.Accounts = append(f.Accounts, acct)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.JobID,
		"summary": table.Filter(f).Summarize(),
		"files":   job.Outcomes,
	})
}

// ListCategories handles GET /api/categories
func (h *BatchesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": statement.CategoryNames(),
		"accounts":   statement.AccountNames(),
	})
}

// loadJob fetches the job named in the path. With needResult, a job that has
// not completed yields 409.
func (h *BatchesHandler) loadJob(w http.ResponseWriter, r *http.Request, needResult bool) (*jobs.AnalyzeBatchJob, bool) {
	jobID := r.PathValue("id")
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			middleware.WriteError(w, http.StatusNotFound, "Batch not found")
			return nil, false
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get batch")
		return nil, false
	}
	if needResult && job.Status != jobs.JobStatusCompleted {
		middleware.WriteError(w, http.StatusConflict, fmt.Sprintf("Batch is %s", job.Status))
		return nil, false
	}
	return job, true
}
