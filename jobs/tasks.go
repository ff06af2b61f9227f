package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileViews is the task type for the periodic view-membership
	// reconciliation sweep.
	TaskReconcileViews = "authz:reconcile_views"
)

// ReconcileViewsPayload tunes one reconciliation sweep.
type ReconcileViewsPayload struct {
	DryRun bool `json:"dry_run"`
}

// NewReconcileViewsTask constructs an Asynq task.
func NewReconcileViewsTask(payload ReconcileViewsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileViews, data), nil
}
