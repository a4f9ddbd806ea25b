package orders

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bentoya/bentoya/internal/platform/httpx"
	"github.com/bentoya/bentoya/internal/shared"
)

// Handler manages order ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	audit   *shared.AuditLogger
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, audit *shared.AuditLogger) *Handler {
	return &Handler{logger: logger, service: service, audit: audit}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Post("/{id}/cancel", h.cancelOrder)
}

type createOrderPayload struct {
	PersonID     int64  `json:"person_id" validate:"required,gt=0"`
	CompanyID    int64  `json:"company_id" validate:"required,gt=0"`
	DepartmentID int64  `json:"department_id" validate:"omitempty,gt=0"`
	ProductName  string `json:"product_name" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice    string `json:"unit_price" validate:"required"`
	DeliveryDate string `json:"delivery_date" validate:"required"`
}

type orderResponse struct {
	ID            int64           `json:"id"`
	PersonID      int64           `json:"person_id"`
	CompanyID     int64           `json:"company_id"`
	DepartmentID  int64           `json:"department_id,omitempty"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	SubsidyAmount decimal.Decimal `json:"subsidy_amount"`
	PayableAmount decimal.Decimal `json:"payable_amount"`
	DeliveryDate  string          `json:"delivery_date"`
	Status        OrderStatus     `json:"status"`
	InvoiceID     *int64          `json:"invoice_id,omitempty"`
}

func toOrderResponse(o Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		PersonID:      o.PersonID,
		CompanyID:     o.CompanyID,
		DepartmentID:  o.DepartmentID,
		ProductName:   o.ProductName,
		Quantity:      o.Quantity,
		UnitPrice:     o.UnitPrice,
		TotalAmount:   o.TotalAmount,
		SubsidyAmount: o.SubsidyAmount,
		PayableAmount: o.PayableAmount,
		DeliveryDate:  o.DeliveryDate.Format("2006-01-02"),
		Status:        o.Status,
		InvoiceID:     o.InvoiceID,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload createOrderPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := httpx.Validate(payload); err != nil {
		httpx.RespondError(w, err)
		return
	}
	unitPrice, err := decimal.NewFromString(payload.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_price must be a decimal string")
		return
	}
	deliveryDate, err := httpx.ParseDate("delivery_date", payload.DeliveryDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), CreateOrderInput{
		PersonID:     payload.PersonID,
		CompanyID:    payload.CompanyID,
		DepartmentID: payload.DepartmentID,
		ProductName:  payload.ProductName,
		Quantity:     payload.Quantity,
		UnitPrice:    unitPrice,
		DeliveryDate: deliveryDate,
	})
	if err != nil {
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "order.create",
		Entity:   "order",
		EntityID: strconv.FormatInt(order.ID, 10),
		Meta:     map[string]any{"total_amount": order.TotalAmount.String()},
	}); err != nil {
		h.logger.Warn("audit order create", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusCreated, toOrderResponse(*order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListOrdersRequest{
		Unbilled: q.Get("unbilled") == "true",
	}
	if v := q.Get("company_id"); v != "" {
		req.CompanyID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("person_id"); v != "" {
		req.PersonID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("from"); v != "" {
		from, err := httpx.ParseDate("from", v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := httpx.ParseDate("to", v)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req.To = to
	}
	if v := q.Get("limit"); v != "" {
		req.Limit, _ = strconv.Atoi(v)
	}

	list, err := h.service.ListOrders(r.Context(), req)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]orderResponse, 0, len(list))
	for _, o := range list {
		out = append(out, toOrderResponse(o))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	if err := h.service.CancelOrder(r.Context(), id); err != nil {
		h.logger.Error("cancel order", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.audit.Record(r.Context(), shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "order.cancel",
		Entity:   "order",
		EntityID: strconv.FormatInt(id, 10),
	}); err != nil {
		h.logger.Warn("audit order cancel", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "status": OrderCancelled})
}
