package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueScan is the task type for the periodic overdue invoice scan.
	TaskOverdueScan = "collections:overdue_scan"
)

// OverdueScanPayload configures one overdue scan run.
type OverdueScanPayload struct {
	DryRun bool `json:"dry_run,omitempty"`
}

// NewOverdueScanTask constructs an Asynq task.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data), nil
}
