package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/bentoya/bentoya/internal/collections"
	jobmetrics "github.com/bentoya/bentoya/internal/jobs"
	"github.com/bentoya/bentoya/internal/observability"
)

// OverdueScanJob refreshes the overdue gauges from the balance view. It is a
// pure read: the ledger is never mutated and alert levels are never stored.
type OverdueScanJob struct {
	Collections *collections.Service
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	AppMetrics  *observability.Metrics
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(svc *collections.Service, logger *slog.Logger, metrics *jobmetrics.Metrics, appMetrics *observability.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Collections: svc,
		Logger:      logger,
		Metrics:     metrics,
		AppMetrics:  appMetrics,
	}
}

// Handle executes the overdue scan.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Collections == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Collections.Summary(ctx)
	if err != nil {
		resultErr = err
		j.Logger.Error("overdue scan", slog.Any("error", err))
		return err
	}

	if !payload.DryRun && j.AppMetrics != nil {
		j.AppMetrics.OverdueInvoices.Set(float64(summary.OverdueCount))
		total, _ := summary.TotalOutstanding.Float64()
		j.AppMetrics.OutstandingTotal.Set(total)
	}

	j.Logger.Info("overdue scan complete",
		slog.Int("overdue", summary.OverdueCount),
		slog.Int("urgent", summary.UrgentCount),
		slog.Int("normal", summary.NormalCount),
		slog.String("total_outstanding", summary.TotalOutstanding.String()),
		slog.Bool("dry_run", payload.DryRun))
	return nil
}
