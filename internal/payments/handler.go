package payments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/observability"
	"github.com/bentoya/bentoya/internal/platform/httpx"
	"github.com/bentoya/bentoya/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	audit       *shared.AuditLogger
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger, idempotency *shared.IdempotencyStore, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, idempotency: idempotency, metrics: metrics}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.recordPayment)
	r.Post("/bulk", h.recordBulkPayments)
	r.Post("/{id}/cancel", h.cancelPayment)
}

type recordPayload struct {
	InvoiceID   int64  `json:"invoice_id" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required"`
	PaymentDate string `json:"payment_date" validate:"required"`
	Reference   string `json:"reference"`
	Note        string `json:"note"`
}

type paymentResponse struct {
	ID            int64                 `json:"id"`
	InvoiceID     int64                 `json:"invoice_id"`
	Amount        decimal.Decimal       `json:"amount"`
	Method        billing.PaymentMethod `json:"method"`
	PaymentDate   string                `json:"payment_date"`
	Reference     string                `json:"reference,omitempty"`
	Note          string                `json:"note,omitempty"`
	InvoiceStatus billing.InvoiceStatus `json:"invoice_status"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var payload recordPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	method, err := billing.ParsePaymentMethod(payload.Method)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	paymentDate, err := httpx.ParseDate("payment_date", payload.PaymentDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.RecordFullPayment(r.Context(), RecordInput{
		InvoiceID:   payload.InvoiceID,
		Method:      method,
		PaymentDate: paymentDate,
		Reference:   payload.Reference,
		Note:        payload.Note,
	})
	if err != nil {
		h.logger.Error("record payment", slog.Any("error", err), slog.Int64("invoice_id", payload.InvoiceID))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "payment.record",
		Entity:   "payment",
		EntityID: strconv.FormatInt(result.Payment.ID, 10),
		Meta: map[string]any{
			"invoice_id": result.Payment.InvoiceID,
			"amount":     result.Payment.Amount.String(),
		},
	}); err != nil {
		h.logger.Warn("audit payment record", slog.Any("error", err))
	}

	if h.metrics != nil {
		h.metrics.PaymentsRecorded.WithLabelValues(string(method)).Inc()
	}

	httpx.JSON(w, http.StatusCreated, paymentResponse{
		ID:            result.Payment.ID,
		InvoiceID:     result.Payment.InvoiceID,
		Amount:        result.Payment.Amount,
		Method:        result.Payment.Method,
		PaymentDate:   result.Payment.PaymentDate.Format("2006-01-02"),
		Reference:     result.Payment.Reference,
		Note:          result.Payment.Note,
		InvoiceStatus: result.InvoiceStatus,
	})
}

type bulkPayload struct {
	InvoiceIDs  []int64 `json:"invoice_ids" validate:"required,min=1,dive,gt=0"`
	Method      string  `json:"method" validate:"required"`
	PaymentDate string  `json:"payment_date" validate:"required"`
	Reference   string  `json:"reference"`
	Note        string  `json:"note"`
}

func (h *Handler) recordBulkPayments(w http.ResponseWriter, r *http.Request) {
	var payload bulkPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	method, err := billing.ParsePaymentMethod(payload.Method)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	paymentDate, err := httpx.ParseDate("payment_date", payload.PaymentDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "payments.bulk"); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				h.logger.Error("idempotency claim", slog.Any("error", err))
			}
			httpx.RespondError(w, err)
			return
		}
	}

	result, err := h.service.RecordBulkFullPayments(r.Context(), BulkInput{
		InvoiceIDs:  payload.InvoiceIDs,
		Method:      method,
		PaymentDate: paymentDate,
		Reference:   payload.Reference,
		Note:        payload.Note,
	})
	if err != nil {
		// Release the key so a corrected request may retry.
		if idemKey != "" {
			if delErr := h.idempotency.Delete(r.Context(), idemKey, "payments.bulk"); delErr != nil {
				h.logger.Warn("idempotency release", slog.Any("error", delErr))
			}
		}
		h.logger.Error("bulk payments", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "payment.bulk_record",
		Entity:   "payment_batch",
		EntityID: batchEntityID(idemKey, payload.InvoiceIDs),
		Meta: map[string]any{
			"success_count": result.SuccessCount,
			"failed_count":  result.FailedCount,
			"total_amount":  result.TotalAmount.String(),
		},
	}); err != nil {
		h.logger.Warn("audit bulk payments", slog.Any("error", err))
	}

	if h.metrics != nil {
		h.metrics.PaymentsRecorded.WithLabelValues(string(method)).Add(float64(result.SuccessCount))
	}

	h.logger.Info("bulk settlement processed",
		slog.Int("success", result.SuccessCount),
		slog.Int("failed", result.FailedCount))

	httpx.JSON(w, http.StatusOK, result)
}

// batchEntityID keys the audit record on the idempotency key when present,
// else on the first invoice of the batch.
func batchEntityID(idemKey string, invoiceIDs []int64) string {
	if idemKey != "" {
		return idemKey
	}
	if len(invoiceIDs) > 0 {
		return strconv.FormatInt(invoiceIDs[0], 10)
	}
	return "empty"
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	var payload struct {
		Reason string `json:"reason" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.CancelPayment(r.Context(), id, payload.Reason)
	if err != nil {
		h.logger.Error("cancel payment", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "payment.cancel",
		Entity:   "payment",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"reason": payload.Reason},
	}); err != nil {
		h.logger.Warn("audit payment cancel", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":                id,
		"invoice_status":    result.InvoiceStatus,
		"voided_receipt_id": result.VoidedReceiptID,
		"remaining_balance": result.RemainingBalance,
	})
}
