package payments

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bentoya/bentoya/internal/shared"
)

func newTestHandler(t *testing.T, repo *memoryPaymentsRepo) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	store := shared.NewIdempotencyStore(client, time.Hour)
	handler := NewHandler(logger, NewService(repo), nil, store, nil)

	r := chi.NewRouter()
	r.Route("/api/payments", handler.MountRoutes)
	return r
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestRecordPaymentEndpoint(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	router := newTestHandler(t, repo)

	body := `{"invoice_id":1,"method":"bank_transfer","payment_date":"2026-01-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)

	var resp struct {
		Amount        string `json:"amount"`
		InvoiceStatus string `json:"invoice_status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, "4500", resp.Amount)
	require.Equal(t, "paid", resp.InvoiceStatus)
}

func TestRecordPaymentEndpointUnknownMethod(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	router := newTestHandler(t, repo)

	body := `{"invoice_id":1,"method":"barter","payment_date":"2026-01-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecordPaymentEndpointAlreadySettled(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	router := newTestHandler(t, repo)

	body := `{"invoice_id":1,"method":"cash","payment_date":"2026-01-15"}`
	first := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	require.Equal(t, http.StatusCreated, rr.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestBulkPaymentsEndpointIdempotencyKey(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 1000)
	seedInvoice(repo, 2, 2000)
	router := newTestHandler(t, repo)

	body := `{"invoice_ids":[1,2],"method":"direct_debit","payment_date":"2026-01-31"}`
	first := httptest.NewRequest(http.MethodPost, "/api/payments/bulk", bytes.NewBufferString(body))
	first.Header.Set("Idempotency-Key", "batch-2026-01-31")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp BulkResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.SuccessCount)
	require.Equal(t, 0, resp.FailedCount)
	require.Equal(t, "3000", resp.TotalAmount.String())

	retry := httptest.NewRequest(http.MethodPost, "/api/payments/bulk", bytes.NewBufferString(body))
	retry.Header.Set("Idempotency-Key", "batch-2026-01-31")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, retry)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelPaymentEndpointRequiresReason(t *testing.T) {
	repo := newMemoryPaymentsRepo()
	seedInvoice(repo, 1, 4500)
	router := newTestHandler(t, repo)

	body := `{"invoice_id":1,"method":"cash","payment_date":"2026-01-15"}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	cancel := httptest.NewRequest(http.MethodPost, "/api/payments/1/cancel", bytes.NewBufferString(`{}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, cancel)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	cancel = httptest.NewRequest(http.MethodPost, "/api/payments/1/cancel", bytes.NewBufferString(`{"reason":"wrong invoice"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, cancel)
	require.Equal(t, http.StatusOK, rr.Code)
}
