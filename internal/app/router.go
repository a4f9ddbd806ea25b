package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bentoya/bentoya/internal/collections"
	"github.com/bentoya/bentoya/internal/invoicing"
	"github.com/bentoya/bentoya/internal/observability"
	"github.com/bentoya/bentoya/internal/orders"
	"github.com/bentoya/bentoya/internal/payments"
	"github.com/bentoya/bentoya/internal/receipts"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	OrdersHandler      *orders.Handler
	InvoicingHandler   *invoicing.Handler
	PaymentsHandler    *payments.Handler
	CollectionsHandler *collections.Handler
	ReceiptsHandler    *receipts.Handler
	Metrics            *observability.Metrics
	HealthCheck        func(r *http.Request) error
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.HealthCheck != nil {
			if err := params.HealthCheck(r); err != nil {
				params.Logger.Error("health check", slog.Any("error", err))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.InvoicingHandler != nil {
			r.Route("/invoices", params.InvoicingHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.CollectionsHandler != nil {
			r.Route("/collections", params.CollectionsHandler.MountRoutes)
		}
		if params.ReceiptsHandler != nil {
			r.Route("/receipts", params.ReceiptsHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
