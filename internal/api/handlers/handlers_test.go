package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
)

var rowsByFile = map[string]string{
	"a.pdf": "2025-12-01,GOOGLE CLOUD,120.5,Cloud Services,Business,AE Platinum\n",
	"b.pdf": "2025-12-02,HANA-MUSUBI,45,Dining,Personal,HSBC Red\n",
}

// MockRunner returns one canned row per known file name and fails the rest.
type MockRunner struct {
	mu      sync.Mutex
	sources [][]pipeline.Source
}

func (m *MockRunner) Run(ctx context.Context, sources []pipeline.Source) *pipeline.BatchResult {
	m.mu.Lock()
	m.sources = append(m.sources, sources)
	m.mu.Unlock()

	res := &pipeline.BatchResult{ID: "batch-" + sources[0].Name}
	for i, s := range sources {
		out := pipeline.FileOutcome{Index: i, Name: s.Name, Source: s.Path}
		if rows, ok := rowsByFile[s.Name]; ok {
			out.Status = pipeline.StatusSucceeded
			out.Rows = rows
			out.Transactions = 1
		} else {
			out.Status = pipeline.StatusFailed
			out.ErrorKind = "ConversionError"
			out.Error = "cannot render"
		}
		res.Files = append(res.Files, out)
	}
	return res
}

// MockStorage is a mock implementation of gcsuploader.StorageService.
type MockStorage struct {
	mu      sync.Mutex
	objects []string
}

func (m *MockStorage) Download(ctx context.Context, uri, dest string) error { return nil }

func (m *MockStorage) UploadFile(ctx context.Context, bucket, object, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = append(m.objects, bucket+"/"+object)
	return nil
}

func (m *MockStorage) UploadBytes(ctx context.Context, bucket, object, contentType string, data []byte) error {
	return nil
}

type testServer struct {
	mux       *http.ServeMux
	store     *inmemory.Store
	runner    *MockRunner
	uploadDir string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(8, 1, store)
	runner := &MockRunner{}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, queue.Start(ctx, AnalyzeJobHandler(runner, opts.UploadDir)))
	t.Cleanup(func() {
		cancel()
		_ = queue.Stop(context.Background())
	})

	mux := http.NewServeMux()
	NewBatchesHandler(queue, store, opts).Register(mux)
	return &testServer{mux: mux, store: store, runner: runner, uploadDir: opts.UploadDir}
}

func multipartBody(t *testing.T, names ...string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, n := range names {
		part, err := mw.CreateFormFile("files", n)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-1.4\n"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *testServer) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(t *testing.T, names ...string) string {
	t.Helper()
	body, ct := multipartBody(t, names...)
	rec := s.do(t, http.MethodPost, "/api/batches", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		JobID string `json:"job_id"`
		Files int    `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, len(names), resp.Files)

	require.Eventually(t, func() bool {
		job, err := s.store.GetJob(context.Background(), resp.JobID)
		return err == nil && job.Status == jobs.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	return resp.JobID
}

func TestBatchLifecycle(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.submit(t, "a.pdf", "broken.pdf", "b.pdf")

	// status with per-file outcomes, input order kept
	rec := s.do(t, http.MethodGet, "/api/batches/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.AnalyzeBatchJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.Len(t, job.Outcomes, 3)
	assert.Equal(t, "a.pdf", job.Outcomes[0].Name)
	assert.Equal(t, pipeline.StatusFailed, job.Outcomes[1].Status)
	assert.Equal(t, "ConversionError", job.Outcomes[1].ErrorKind)
	assert.Equal(t, "b.pdf", job.Outcomes[2].Name)

	// raw CSV served verbatim
	rec = s.do(t, http.MethodGet, "/api/batches/"+id+"/csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "credit_card_analysis.csv")
	assert.Equal(t,
		"date,transaction_name,amount,category,account,card_name\n"+rowsByFile["a.pdf"]+rowsByFile["b.pdf"],
		rec.Body.String())

	// uploads are cleaned up after the run
	_, err := os.Stat(filepath.Join(s.uploadDir, id))
	assert.True(t, os.IsNotExist(err))
}

func TestGetSummary(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.submit(t, "a.pdf", "b.pdf")

	rec := s.do(t, http.MethodGet, "/api/batches/"+id+"/summary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Summary struct {
			Transactions int    `json:"transactions"`
			Total        string `json:"total"`
			Business     string `json:"business"`
			ByCard       []struct {
				Key string `json:"key"`
			} `json:"by_card"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Summary.Transactions)
	assert.Equal(t, "165.5", resp.Summary.Total)
	assert.Equal(t, "120.5", resp.Summary.Business)
	require.Len(t, resp.Summary.ByCard, 2)
	assert.Equal(t, "AE Platinum", resp.Summary.ByCard[0].Key)

	rec = s.do(t, http.MethodGet, "/api/batches/"+id+"/summary?category=Dining", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "45", resp.Summary.Total)

	rec = s.do(t, http.MethodGet, "/api/batches/"+id+"/summary?category=Food", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadXLSX(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.submit(t, "a.pdf")

	rec := s.do(t, http.MethodGet, "/api/batches/"+id+"/xlsx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "credit_card_analysis.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Transactions")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "GOOGLE CLOUD", rows[1][1])
}

func TestListBatches(t *testing.T) {
	s := newTestServer(t, Options{})
	s.submit(t, "a.pdf")
	s.submit(t, "b.pdf")

	rec := s.do(t, http.MethodGet, "/api/batches?status=completed&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestBatchErrors(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := s.do(t, http.MethodGet, "/api/batches/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, s.store.SaveJob(context.Background(), &jobs.AnalyzeBatchJob{JobID: "pending", Status: jobs.JobStatusPending}))
	rec = s.do(t, http.MethodGet, "/api/batches/pending/csv", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	body, ct := multipartBody(t)
	rec = s.do(t, http.MethodPost, "/api/batches", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "notes.txt")
	rec = s.do(t, http.MethodPost, "/api/batches", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "notes.txt")

	rec = s.do(t, http.MethodPost, "/api/batches", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateBatch_TooLarge(t *testing.T) {
	s := newTestServer(t, Options{MaxUploadBytes: 64})
	body, ct := multipartBody(t, "a.pdf", "b.pdf")
	rec := s.do(t, http.MethodPost, "/api/batches", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCreateBatch_CopiesUploadsToGCS(t *testing.T) {
	storage := &MockStorage{}
	s := newTestServer(t, Options{Storage: storage, Bucket: "statements"})
	s.submit(t, "a.pdf")

	require.Len(t, storage.objects, 1)
	assert.True(t, strings.HasPrefix(storage.objects[0], "statements/uploads/"))
	assert.True(t, strings.HasSuffix(storage.objects[0], "_a.pdf"))

	require.Len(t, s.runner.sources, 1)
	assert.True(t, strings.HasPrefix(s.runner.sources[0][0].Path, "gs://statements/uploads/"))
	assert.Equal(t, "a.pdf", s.runner.sources[0][0].Name)
}

func TestHealthAndCategories(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = s.do(t, http.MethodGet, "/api/categories", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cloud Services")
	assert.Contains(t, rec.Body.String(), "Business")
}

func TestAnalyzeJobHandler(t *testing.T) {
	uploadDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(uploadDir, "job-1"), 0o755))

	var exported string
	handler := AnalyzeJobHandler(&MockRunner{}, uploadDir,
		func(ctx context.Context, res *pipeline.BatchResult) error {
			exported = res.ID
			return nil
		},
		func(ctx context.Context, res *pipeline.BatchResult) error {
			return errors.New("bigquery unavailable")
		},
	)

	job := &jobs.AnalyzeBatchJob{JobID: "job-1", Sources: []jobs.Source{{Name: "a.pdf", Path: "/x/a.pdf"}}}
	require.NoError(t, handler(context.Background(), job))
	assert.Equal(t, "batch-a.pdf", job.BatchID)
	assert.Equal(t, "batch-a.pdf", exported)
	assert.Contains(t, job.CSV, "GOOGLE CLOUD")

	_, err := os.Stat(filepath.Join(uploadDir, "job-1"))
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, handler(context.Background(), &jobs.AnalyzeBatchJob{JobID: "empty"}))
}
