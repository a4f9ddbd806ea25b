package invoicing

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

// Handler manages invoice endpoints.
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

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/generate", h.generateInvoices)
	r.Get("/{id}", h.getInvoice)
	r.Post("/{id}/cancel", h.cancelInvoice)
}

type generatePayload struct {
	Type        string  `json:"type" validate:"required"`
	PeriodStart string  `json:"period_start" validate:"required"`
	PeriodEnd   string  `json:"period_end" validate:"required"`
	DueDate     string  `json:"due_date" validate:"required"`
	TargetIDs   []int64 `json:"target_ids" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) generateInvoices(w http.ResponseWriter, r *http.Request) {
	var payload generatePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}

	invoiceType, err := billing.ParseInvoiceType(payload.Type)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodStart, err := httpx.ParseDate("period_start", payload.PeriodStart)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periodEnd, err := httpx.ParseDate("period_end", payload.PeriodEnd)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := httpx.ParseDate("due_date", payload.DueDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	result, err := h.service.GenerateInvoices(r.Context(), GenerateInput{
		Type:        invoiceType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		DueDate:     dueDate,
		TargetIDs:   payload.TargetIDs,
	})
	if err != nil {
		h.logger.Error("generate invoices", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	for _, inv := range result.Invoices {
		if err := h.audit.Record(r.Context(), shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "invoice.generate",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(inv.ID, 10),
			Meta:     map[string]any{"number": inv.Number, "total_amount": inv.TotalAmount.String()},
		}); err != nil {
			h.logger.Warn("audit invoice generate", slog.Any("error", err))
		}
	}

	if h.metrics != nil {
		h.metrics.InvoicesGenerated.WithLabelValues(string(invoiceType)).Add(float64(len(result.Invoices)))
	}

	h.logger.Info("invoice batch generated",
		slog.String("type", string(invoiceType)),
		slog.Int("created", len(result.Invoices)),
		slog.Int("skipped", result.SkippedTargets),
		slog.Int("errors", len(result.Errors)))

	httpx.JSON(w, http.StatusCreated, result)
}

type invoiceLineResponse struct {
	OrderID   int64           `json:"order_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Amount    decimal.Decimal `json:"amount"`
}

type invoiceResponse struct {
	ID           int64                 `json:"id"`
	Number       string                `json:"number"`
	Type         billing.InvoiceType   `json:"type"`
	CompanyID    int64                 `json:"company_id,omitempty"`
	DepartmentID int64                 `json:"department_id,omitempty"`
	PersonID     int64                 `json:"person_id,omitempty"`
	PeriodStart  string                `json:"period_start"`
	PeriodEnd    string                `json:"period_end"`
	TotalAmount  decimal.Decimal       `json:"total_amount"`
	PaidAmount   decimal.Decimal       `json:"paid_amount"`
	Outstanding  decimal.Decimal       `json:"outstanding"`
	DueDate      string                `json:"due_date"`
	Status       billing.InvoiceStatus `json:"status"`
	CancelReason string                `json:"cancel_reason,omitempty"`
	Lines        []invoiceLineResponse `json:"lines"`
}

func toInvoiceResponse(detail *InvoiceDetail) invoiceResponse {
	lines := make([]invoiceLineResponse, 0, len(detail.Lines))
	for _, line := range detail.Lines {
		lines = append(lines, invoiceLineResponse{
			OrderID:   line.OrderID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Amount:    line.Amount,
		})
	}
	return invoiceResponse{
		ID:           detail.ID,
		Number:       detail.Number,
		Type:         detail.Type,
		CompanyID:    detail.CompanyID,
		DepartmentID: detail.DepartmentID,
		PersonID:     detail.PersonID,
		PeriodStart:  detail.PeriodStart.Format("2006-01-02"),
		PeriodEnd:    detail.PeriodEnd.Format("2006-01-02"),
		TotalAmount:  detail.TotalAmount,
		PaidAmount:   detail.PaidAmount,
		Outstanding:  detail.Outstanding,
		DueDate:      detail.DueDate.Format("2006-01-02"),
		Status:       detail.Status,
		CancelReason: detail.CancelReason,
		Lines:        lines,
	}
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.logger.Error("get invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, toInvoiceResponse(detail))
}

type cancelPayload struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var payload cancelPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}

	if err := h.service.CancelInvoice(r.Context(), id, payload.Reason); err != nil {
		h.logger.Error("cancel invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "invoice.cancel",
		Entity:   "invoice",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"reason": payload.Reason},
	}); err != nil {
		h.logger.Warn("audit invoice cancel", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": billing.StatusCancelled})
}
