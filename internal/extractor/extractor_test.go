package extractor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/statement-analyzer/internal/apperr"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/statement"
)

// MockModelClient is a ModelClient whose behaviour is set per test.
type MockModelClient struct {
	UploadImageFunc  func(ctx context.Context, path string) (FileRef, error)
	DeleteFileFunc   func(ctx context.Context, ref FileRef) error
	GenerateJSONFunc func(ctx context.Context, req Request) (string, Usage, error)
	GenerateTextFunc func(ctx context.Context, req Request) (string, Usage, error)

	mu      sync.Mutex
	uploads int
	deleted []string
	calls   []Request
}

func (m *MockModelClient) UploadImage(ctx context.Context, path string) (FileRef, error) {
	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	if m.UploadImageFunc != nil {
		return m.UploadImageFunc(ctx, path)
	}
	name := "files/" + filepath.Base(path)
	return FileRef{Name: name, URI: "https://example.test/" + name, MIMEType: "image/png"}, nil
}

func (m *MockModelClient) DeleteFile(ctx context.Context, ref FileRef) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, ref.Name)
	m.mu.Unlock()
	if m.DeleteFileFunc != nil {
		return m.DeleteFileFunc(ctx, ref)
	}
	return nil
}

func (m *MockModelClient) GenerateJSON(ctx context.Context, req Request) (string, Usage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.GenerateJSONFunc(ctx, req)
}

func (m *MockModelClient) GenerateText(ctx context.Context, req Request) (string, Usage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.GenerateTextFunc(ctx, req)
}

func fastConfig() Config {
	return Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		CallTimeout:    time.Second,
	}
}

func pageImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "page_"+string(rune('1'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte("png"), 0o644))
	}
	return paths
}

const validJSON = `{
  "transactions": [
    {"date": "2025-12-01", "transaction_name": "GOOGLE CLOUD", "amount": 120.50, "category": "Cloud Services", "account": "Business", "card_name": "AE Platinum"},
    {"date": "2025-12-03", "transaction_name": "AMAZON WEB SERVICES", "amount": 200.00, "category": "Cloud Services", "account": "Business", "card_name": ""},
    {"date": "2025-12-03", "transaction_name": "DCC FEE", "amount": 2.00, "category": "Others", "account": "Personal", "card_name": "AE Platinum"},
    {"date": "2025-12-05", "transaction_name": "HANA-MUSUBI", "amount": 45, "category": "Dining", "account": "Personal", "card_name": "AE Platinum"}
  ],
  "card_name": "AE Platinum",
  "total_spending": 367.50,
  "number_of_transactions": 3,
  "due_date": "2026-01-20"
}`

func TestExtract_Success(t *testing.T) {
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return validJSON, Usage{PromptTokens: 1000, CandidateTokens: 200}, nil
		},
	}
	images := pageImages(t, 2)

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), images)
	require.NoError(t, err)

	require.Len(t, stmt.Transactions, 3)
	assert.Equal(t, "AMAZON WEB SERVICES", stmt.Transactions[1].TransactionName)
	assert.Equal(t, "202", stmt.Transactions[1].Amount.String())
	assert.Equal(t, "AE Platinum", stmt.Transactions[1].CardName)
	assert.Equal(t, "2026-01-20", stmt.DueDate)
	assert.Equal(t, 3, stmt.NumberOfTransactions)

	require.Len(t, mock.calls, 1)
	assert.Equal(t, DefaultModel, mock.calls[0].Model)
	require.Len(t, mock.calls[0].Files, 2)
	assert.Equal(t, "files/page_1.png", mock.calls[0].Files[0].Name)
	assert.ElementsMatch(t, []string{"files/page_1.png", "files/page_2.png"}, mock.deleted)
}

func TestExtract_NoImages(t *testing.T) {
	_, err := New(&MockModelClient{}, fastConfig()).Extract(context.Background(), nil)
	assert.True(t, errors.Is(err, apperr.InvalidArgument))
}

func TestExtract_MissingImage(t *testing.T) {
	_, err := New(&MockModelClient{}, fastConfig()).Extract(context.Background(), []string{"/no/such/page_1.png"})
	assert.True(t, errors.Is(err, apperr.NotFound))
}

func TestExtract_UploadRetriedThenFails(t *testing.T) {
	mock := &MockModelClient{
		UploadImageFunc: func(ctx context.Context, path string) (FileRef, error) {
			return FileRef{}, apperr.E(apperr.UploadError, "UploadImage", errors.New("connection reset"))
		},
	}

	_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.UploadError))
	assert.Equal(t, 3, mock.uploads)
}

func TestExtract_UploadRecovers(t *testing.T) {
	var attempts int
	mock := &MockModelClient{
		UploadImageFunc: func(ctx context.Context, path string) (FileRef, error) {
			attempts++
			if attempts == 1 {
				return FileRef{}, apperr.E(apperr.UploadError, "UploadImage", errors.New("connection reset"))
			}
			return FileRef{Name: "files/x", URI: "u", MIMEType: "image/png"}, nil
		},
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return validJSON, Usage{}, nil
		},
	}

	_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestExtract_UploadFailureCleansUpEarlierPages(t *testing.T) {
	mock := &MockModelClient{
		UploadImageFunc: func(ctx context.Context, path string) (FileRef, error) {
			if strings.HasSuffix(path, "page_2.png") {
				return FileRef{}, apperr.E(apperr.UploadError, "UploadImage", &StatusError{Code: 400, Err: errors.New("bad image")})
			}
			return FileRef{Name: "files/" + filepath.Base(path)}, nil
		},
	}

	_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 2))
	assert.True(t, errors.Is(err, apperr.UploadError))
	assert.Equal(t, 2, mock.uploads, "400 must not be retried")
	assert.Equal(t, []string{"files/page_1.png"}, mock.deleted)
}

func TestExtract_AuthErrorNotRetried(t *testing.T) {
	var calls int
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			calls++
			return "", Usage{}, apperr.E(apperr.AuthError, "GenerateJSON", &StatusError{Code: 401, Err: errors.New("unauthenticated")})
		},
	}

	_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	assert.True(t, errors.Is(err, apperr.AuthError))
	assert.Equal(t, 1, calls)
}

func TestExtract_ProviderErrorRetried(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantCalls int
	}{
		{name: "rate limited", code: 429, wantCalls: 4},
		{name: "unavailable", code: 503, wantCalls: 4},
		{name: "not found model", code: 404, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			mock := &MockModelClient{
				GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
					calls++
					return "", Usage{}, apperr.E(apperr.ProviderError, "GenerateJSON", &StatusError{Code: tt.code, Err: errors.New("x")})
				},
			}

			_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
			assert.True(t, errors.Is(err, apperr.ProviderError))
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestExtract_ProviderRecovers(t *testing.T) {
	var calls int
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			calls++
			if calls < 3 {
				return "", Usage{}, apperr.E(apperr.ProviderError, "GenerateJSON", &StatusError{Code: 500, Err: errors.New("internal")})
			}
			return validJSON, Usage{}, nil
		},
	}

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Len(t, stmt.Transactions, 3)
	assert.Equal(t, 3, calls)
}

func TestExtract_TimeoutIsProviderError(t *testing.T) {
	cfg := fastConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	cfg.GenerateAttempts = 2

	var calls int
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			calls++
			<-ctx.Done()
			return "", Usage{}, ctx.Err()
		},
	}

	_, err := New(mock, cfg).Extract(context.Background(), pageImages(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ProviderError))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 2, calls)
}

func TestExtract_RepromptsOnceOnSchemaFailure(t *testing.T) {
	bad := strings.Replace(validJSON, `"category": "Dining"`, `"category": "Food"`, 1)
	var calls int
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			calls++
			if calls == 1 {
				return bad, Usage{}, nil
			}
			return validJSON, Usage{}, nil
		},
	}

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Len(t, stmt.Transactions, 3)

	require.Len(t, mock.calls, 2)
	require.Len(t, mock.calls[1].Prompt, 2)
	assert.Contains(t, mock.calls[1].Prompt[1], `invalid category "Food"`)
}

func TestExtract_SchemaFailureSurfacedAfterReprompt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "business dining", body: strings.Replace(validJSON, `"category": "Dining", "account": "Personal"`, `"category": "Dining", "account": "Business"`, 1)},
		{name: "negative amount", body: strings.Replace(validJSON, `"amount": 45`, `"amount": -45`, 1)},
		{name: "bad date", body: strings.Replace(validJSON, `"2025-12-05"`, `"05/12/2025"`, 1)},
		{name: "not json", body: "I could not read the statement."},
		{name: "unknown field", body: strings.Replace(validJSON, `"due_date"`, `"currency": "HKD", "due_date"`, 1)},
		{name: "missing transactions", body: `{"card_name": "x", "total_spending": 0, "number_of_transactions": 0, "due_date": ""}`},
		{name: "null amount", body: strings.Replace(validJSON, `"amount": 45`, `"amount": null`, 1)},
		{name: "missing amount", body: strings.Replace(validJSON, `"amount": 45, `, ``, 1)},
		{name: "quoted amount", body: strings.Replace(validJSON, `"amount": 45`, `"amount": "45"`, 1)},
		{name: "leading dcc", body: `{"transactions": [{"date": "2025-12-01", "transaction_name": "DCC", "amount": 1, "category": "Others", "account": "Personal", "card_name": "x"}], "card_name": "x", "total_spending": 1, "number_of_transactions": 1, "due_date": ""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			mock := &MockModelClient{
				GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
					calls++
					return tt.body, Usage{}, nil
				},
			}

			_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.SchemaValidationError), err.Error())
			assert.Equal(t, 2, calls)
		})
	}
}

func TestExtract_ZeroTransactionsIsValid(t *testing.T) {
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return `{"transactions": [], "card_name": "HSBC Red", "total_spending": 0, "number_of_transactions": 0, "due_date": "2026-01-05"}`, Usage{}, nil
		},
	}

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Empty(t, stmt.Transactions)
	assert.Equal(t, "HSBC Red", stmt.CardName)
}

func TestExtract_FencedJSON(t *testing.T) {
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return "```json\n" + validJSON + "\n```", Usage{}, nil
		},
	}

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Len(t, stmt.Transactions, 3)
}

func TestExtract_DeleteFailureIgnored(t *testing.T) {
	mock := &MockModelClient{
		DeleteFileFunc: func(ctx context.Context, ref FileRef) error {
			return errors.New("gone")
		},
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return validJSON, Usage{}, nil
		},
	}

	_, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	assert.NoError(t, err)
}

func TestExtractRawText(t *testing.T) {
	mock := &MockModelClient{
		GenerateTextFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return "| Date | Merchant |", Usage{}, nil
		},
	}

	text, err := New(mock, Config{Model: "gemini-2.0-flash"}).ExtractRawText(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "| Date | Merchant |", text)
	assert.Equal(t, "gemini-2.0-flash", mock.calls[0].Model)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		fallback apperr.Kind
		err      error
		want     apperr.Kind
	}{
		{name: "unauthorized", fallback: apperr.ProviderError, err: genai.APIError{Code: 401}, want: apperr.AuthError},
		{name: "forbidden on upload", fallback: apperr.UploadError, err: genai.APIError{Code: 403}, want: apperr.AuthError},
		{name: "invalid key", fallback: apperr.ProviderError, err: genai.APIError{Code: 400, Message: "API key not valid. Please pass a valid API key."}, want: apperr.AuthError},
		{name: "bad request", fallback: apperr.ProviderError, err: genai.APIError{Code: 400, Message: "bad"}, want: apperr.ProviderError},
		{name: "rate limited upload", fallback: apperr.UploadError, err: genai.APIError{Code: 429}, want: apperr.UploadError},
		{name: "pointer error", fallback: apperr.ProviderError, err: &genai.APIError{Code: 403}, want: apperr.AuthError},
		{name: "deadline", fallback: apperr.UploadError, err: context.DeadlineExceeded, want: apperr.ProviderError},
		{name: "network", fallback: apperr.UploadError, err: errors.New("dial tcp: refused"), want: apperr.UploadError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(classify("op", tt.fallback, tt.err)))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, shouldRetry(apperr.E(apperr.ProviderError, "op", &StatusError{Code: 429, Err: errors.New("x")})))
	assert.True(t, shouldRetry(apperr.E(apperr.UploadError, "op", errors.New("reset"))))
	assert.False(t, shouldRetry(apperr.E(apperr.ProviderError, "op", &StatusError{Code: 400, Err: errors.New("x")})))
	assert.False(t, shouldRetry(apperr.E(apperr.SchemaValidationError, "op", errors.New("x"))))
	assert.False(t, shouldRetry(errors.New("plain")))
}

func TestNewGeminiClient_MissingKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), " ", 0)
	assert.True(t, errors.Is(err, apperr.AuthError))
}

func TestStatementSchemaEnums(t *testing.T) {
	s := StatementSchema()
	tx := s.Properties["transactions"].Items
	assert.Equal(t, statement.CategoryNames(), tx.Properties["category"].Enum)
	assert.Equal(t, statement.AccountNames(), tx.Properties["account"].Enum)
	assert.Len(t, tx.Required, 6)
}

func TestMimeTypeFor(t *testing.T) {
	m, err := mimeTypeFor("page_1.PNG")
	require.NoError(t, err)
	assert.Equal(t, "image/png", m)

	m, err = mimeTypeFor("page_1.jpeg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", m)

	_, err = mimeTypeFor("page_1.tiff")
	assert.Error(t, err)
}

func TestExtract_NullAmountRepromptsWithReason(t *testing.T) {
	bad := strings.Replace(validJSON, `"amount": 120.50`, `"amount": null`, 1)
	var calls int
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			calls++
			if calls == 1 {
				return bad, Usage{}, nil
			}
			return validJSON, Usage{}, nil
		},
	}

	stmt, err := New(mock, fastConfig()).Extract(context.Background(), pageImages(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "120.5", stmt.Transactions[0].Amount.String())

	require.Len(t, mock.calls, 2)
	require.Len(t, mock.calls[1].Prompt, 2)
	assert.Contains(t, mock.calls[1].Prompt[1], "transaction 0: amount null is not a number")
}

func TestDecodeStatement_Amounts(t *testing.T) {
	_, err := decodeStatement(strings.Replace(validJSON, `"amount": 2.00, `, ``, 1))
	require.Error(t, err)
	assert.Equal(t, apperr.SchemaValidationError, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "transaction 2: amount is missing")

	stmt, err := decodeStatement(validJSON)
	require.NoError(t, err)
	assert.Equal(t, "2", stmt.Transactions[2].Amount.String())
}

func TestExtract_LogsModelUsage(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), zerolog.New(&buf).Level(zerolog.DebugLevel))
	mock := &MockModelClient{
		GenerateJSONFunc: func(ctx context.Context, req Request) (string, Usage, error) {
			return validJSON, Usage{PromptTokens: 1000, CandidateTokens: 200}, nil
		},
	}

	_, err := New(mock, fastConfig()).Extract(ctx, pageImages(t, 1))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"prompt_tokens":1000`)
	assert.Contains(t, buf.String(), `"candidate_tokens":200`)
}
