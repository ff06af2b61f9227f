package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/meridian-edu/authcore/internal/jobs"
	"github.com/meridian-edu/authcore/internal/reconcile"
)

// reconcileConcurrency bounds how many roles are reconciled in parallel.
// Each role's changes still commit one item at a time.
const reconcileConcurrency = 4

// NewReconcileViewsHandler builds the Asynq handler for the periodic sweep.
func NewReconcileViewsHandler(service *reconcile.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconcileViewsPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("reconcile_views")
		return tracker.End(ReconcileViews(ctx, service, reconcile.Options{DryRun: payload.DryRun}, logger))
	}
}

// ReconcileViews runs reconciliation for every view-bound role.
func ReconcileViews(ctx context.Context, service *reconcile.Service, opts reconcile.Options, logger *slog.Logger) error {
	roles, err := service.ViewRoles(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileConcurrency)
	for _, role := range roles {
		g.Go(func() error {
			report, err := service.ReconcileRole(ctx, role.ID, opts)
			if err != nil {
				if logger != nil {
					logger.Error("reconcile sweep", slog.String("role", role.Name), slog.Any("error", err))
				}
				return err
			}
			if logger != nil && len(report.Lines) > 0 {
				logger.Info("reconcile sweep",
					slog.String("role", role.Name),
					slog.String("run_id", report.RunID),
					slog.Int("changes", len(report.Lines)))
			}
			return nil
		})
	}
	return g.Wait()
}
