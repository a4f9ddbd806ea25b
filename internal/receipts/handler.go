package receipts

import (
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

// Handler manages receipt endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   *shared.AuditLogger
	metrics *observability.Metrics
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, service: service, audit: audit, metrics: metrics}
}

// MountRoutes registers receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/pre", h.issuePreReceipt)
	r.Post("/from-payment/{paymentID}", h.issuePostPaymentReceipt)
}

type receiptResponse struct {
	ID            int64                 `json:"id"`
	Number        string                `json:"number"`
	ExternalRef   string                `json:"external_ref"`
	InvoiceID     int64                 `json:"invoice_id,omitempty"`
	PaymentID     *int64                `json:"payment_id,omitempty"`
	RecipientName string                `json:"recipient_name"`
	Amount        decimal.Decimal       `json:"amount"`
	AmountText    string                `json:"amount_text"`
	IssueDate     string                `json:"issue_date,omitempty"`
	Status        billing.ReceiptStatus `json:"status"`
}

func toReceiptResponse(rc billing.Receipt) receiptResponse {
	resp := receiptResponse{
		ID:            rc.ID,
		Number:        rc.Number,
		ExternalRef:   rc.ExternalRef,
		InvoiceID:     rc.InvoiceID,
		PaymentID:     rc.PaymentID,
		RecipientName: rc.RecipientName,
		Amount:        rc.Amount,
		AmountText:    FormatYen(rc.Amount),
		Status:        rc.Status,
	}
	if rc.IssueDate != nil {
		resp.IssueDate = rc.IssueDate.Format("2006-01-02")
	}
	return resp
}

type preReceiptPayload struct {
	InvoiceID     int64  `json:"invoice_id" validate:"required,gt=0"`
	RecipientName string `json:"recipient_name" validate:"required"`
	Amount        string `json:"amount" validate:"required"`
}

func (h *Handler) issuePreReceipt(w http.ResponseWriter, r *http.Request) {
	var payload preReceiptPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount must be a decimal string")
		return
	}

	receipt, err := h.service.IssuePreReceipt(r.Context(), PreReceiptInput{
		InvoiceID:     payload.InvoiceID,
		RecipientName: payload.RecipientName,
		Amount:        amount,
	})
	if err != nil {
		h.logger.Error("issue pre-receipt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "receipt.pre_issue",
		Entity:   "receipt",
		EntityID: strconv.FormatInt(receipt.ID, 10),
		Meta:     map[string]any{"number": receipt.Number, "amount": receipt.Amount.String()},
	}); err != nil {
		h.logger.Warn("audit pre-receipt", slog.Any("error", err))
	}

	if h.metrics != nil {
		h.metrics.ReceiptsIssued.WithLabelValues("pre").Inc()
	}

	httpx.JSON(w, http.StatusCreated, toReceiptResponse(*receipt))
}

func (h *Handler) issuePostPaymentReceipt(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	result, err := h.service.IssuePostPaymentReceipt(r.Context(), paymentID)
	if err != nil {
		h.logger.Error("issue receipt", slog.Any("error", err), slog.Int64("payment_id", paymentID))
		httpx.RespondError(w, err)
		return
	}
	if result.Warning != "" {
		h.logger.Warn("receipt amount mismatch",
			slog.Int64("payment_id", paymentID),
			slog.String("warning", result.Warning))
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "receipt.issue",
		Entity:   "receipt",
		EntityID: strconv.FormatInt(result.Receipt.ID, 10),
		Meta: map[string]any{
			"number":     result.Receipt.Number,
			"payment_id": paymentID,
			"bound":      result.Bound,
		},
	}); err != nil {
		h.logger.Warn("audit receipt issue", slog.Any("error", err))
	}

	if h.metrics != nil {
		h.metrics.ReceiptsIssued.WithLabelValues("post_payment").Inc()
	}

	status := http.StatusCreated
	if result.Bound {
		status = http.StatusOK
	}
	response := map[string]any{
		"receipt": toReceiptResponse(result.Receipt),
		"bound":   result.Bound,
	}
	if result.Warning != "" {
		response["warning"] = result.Warning
	}
	httpx.JSON(w, status, response)
}
