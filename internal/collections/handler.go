package collections

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/billing"
	"github.com/bentoya/bentoya/internal/platform/httpx"
)

// Handler manages collection worklist endpoints. All routes are read-only.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers collection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listCollections)
	r.Get("/summary", h.summary)
}

type collectionItemResponse struct {
	InvoiceID   int64                 `json:"invoice_id"`
	Number      string                `json:"number"`
	Type        billing.InvoiceType   `json:"type"`
	CompanyID   int64                 `json:"company_id,omitempty"`
	CompanyName string                `json:"company_name,omitempty"`
	TotalAmount decimal.Decimal       `json:"total_amount"`
	PaidAmount  decimal.Decimal       `json:"paid_amount"`
	Outstanding decimal.Decimal       `json:"outstanding"`
	DueDate     string                `json:"due_date"`
	Status      billing.InvoiceStatus `json:"status"`
	AlertLevel  AlertLevel            `json:"alert_level"`
	OverdueDays int                   `json:"overdue_days"`
}

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := Query{
		CompanyName: q.Get("company_name"),
		AlertLevel:  AlertLevel(q.Get("alert_level")),
		DueBucket:   DueBucket(q.Get("due_bucket")),
		Sort:        SortKey(q.Get("sort")),
	}
	if v := q.Get("amount_min"); v != "" {
		min, err := decimal.NewFromString(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount_min must be a decimal string")
			return
		}
		query.AmountMin = &min
	}
	if v := q.Get("amount_max"); v != "" {
		max, err := decimal.NewFromString(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount_max must be a decimal string")
			return
		}
		query.AmountMax = &max
	}
	if v := q.Get("page"); v != "" {
		query.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("limit"); v != "" {
		query.Limit, _ = strconv.Atoi(v)
	}

	result, err := h.service.List(r.Context(), query)
	if err != nil {
		h.logger.Error("list collections", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	items := make([]collectionItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, collectionItemResponse{
			InvoiceID:   item.InvoiceID,
			Number:      item.Number,
			Type:        item.Type,
			CompanyID:   item.CompanyID,
			CompanyName: item.CompanyName,
			TotalAmount: item.TotalAmount,
			PaidAmount:  item.PaidAmount,
			Outstanding: item.Outstanding,
			DueDate:     item.DueDate.Format("2006-01-02"),
			Status:      item.Status,
			AlertLevel:  item.AlertLevel,
			OverdueDays: item.OverdueDays,
		})
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": result.Pagination,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.logger.Error("collection summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
