package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridian-edu/authcore/internal/audit"
	"github.com/meridian-edu/authcore/internal/authz"
	"github.com/meridian-edu/authcore/internal/platform/db"
	"github.com/meridian-edu/authcore/internal/shared"
)

// Store is the persistence surface reconciliation needs.
type Store interface {
	Role(ctx context.Context, id int64) (authz.Role, error)
	ViewRoles(ctx context.Context) ([]authz.Role, error)
	RoleMemberships(ctx context.Context, roleID int64) ([]authz.RoleMembership, error)
	InsertMembership(ctx context.Context, tx pgx.Tx, roleID int64, principal, viewName string) (authz.RoleMembership, error)
	DeleteMembership(ctx context.Context, tx pgx.Tx, id int64) error
}

// Auditor writes trail entries inside each reconciliation transaction.
type Auditor interface {
	Record(ctx context.Context, tx pgx.Tx, entry audit.Entry) error
}

// Invalidator evicts resolution cache entries.
type Invalidator interface {
	Invalidate(ctx context.Context, principal string) error
}

// Options tune a reconciliation run.
type Options struct {
	// DryRun computes the report without touching the store.
	DryRun bool
}

// Report describes what one run did, or would do under DryRun.
type Report struct {
	RunID    string   `json:"run_id"`
	Role     string   `json:"role"`
	View     string   `json:"view"`
	DryRun   bool     `json:"dry_run"`
	Created  int      `json:"created"`
	Removed  int      `json:"removed"`
	Upgraded int      `json:"upgraded"`
	Lines    []string `json:"lines"`
}

// Service aligns view-bound role memberships with the population the view
// currently selects. Manual rows (empty view tag) are never touched; only
// rows this process created carry the view tag and are eligible for removal.
type Service struct {
	runner    db.Runner
	store     Store
	providers *Registry
	audit     Auditor
	cache     Invalidator
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service. timeout bounds each provider call.
func NewService(runner db.Runner, store Store, providers *Registry, auditor Auditor, cache Invalidator, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		runner:    runner,
		store:     store,
		providers: providers,
		audit:     auditor,
		cache:     cache,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// ViewRoles lists the roles eligible for reconciliation.
func (s *Service) ViewRoles(ctx context.Context) ([]authz.Role, error) {
	return s.store.ViewRoles(ctx)
}

// ReconcileRole brings one role's view-managed memberships in line with the
// provider population. Each change commits in its own transaction together
// with its audit entry, evicting the principal's cache after the commit, so
// an interrupted run leaves a consistent prefix and the next run picks up
// the rest.
func (s *Service) ReconcileRole(ctx context.Context, roleID int64, opts Options) (*Report, error) {
	role, err := s.store.Role(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.ViewName == "" {
		return nil, fmt.Errorf("reconcile: role %q has no view binding: %w", role.Name, shared.ErrValidation)
	}

	population, err := s.population(ctx, role.ViewName)
	if err != nil {
		return nil, err
	}

	memberships, err := s.store.RoleMemberships(ctx, roleID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:  uuid.NewString(),
		Role:   role.Name,
		View:   role.ViewName,
		DryRun: opts.DryRun,
	}
	actor := shared.ActorFromContext(ctx)
	if actor == "" {
		actor = "system:reconcile"
	}
	at := s.now()

	desired := make(map[string]bool, len(population))
	for _, principal := range population {
		principal = strings.TrimSpace(principal)
		if principal != "" {
			desired[principal] = true
		}
	}
	current := make(map[string]authz.RoleMembership, len(memberships))
	for _, m := range memberships {
		current[m.Principal] = m
	}

	for _, principal := range sortedKeys(desired) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		row, exists := current[principal]
		switch {
		case !exists:
			if err := s.create(ctx, actor, role, principal, report); err != nil {
				return report, err
			}
		case !row.Window.ActiveAt(at):
			// The view still selects this principal but the old row's
			// window has run out. Replace it with an undated row.
			if err := s.upgrade(ctx, actor, role, row, report); err != nil {
				return report, err
			}
		}
	}

	var stale []authz.RoleMembership
	for _, m := range memberships {
		// Only rows this view put there are ours to take away. Manual
		// grants and rows tagged by a previously bound view stay.
		if m.ViewName == role.ViewName && !desired[m.Principal] {
			stale = append(stale, m)
		}
	}
	if len(desired) == 0 {
		// An empty population usually means the upstream feed broke, not
		// that everyone left. Keep existing members and flag it.
		report.Lines = append(report.Lines, fmt.Sprintf(
			"view %s returned no principals; keeping %d existing view-managed members", role.ViewName, len(stale)))
		return report, nil
	}
	for _, m := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.remove(ctx, actor, role, m, report); err != nil {
			return report, err
		}
	}
	if s.logger != nil {
		s.logger.Info("reconciled role",
			slog.String("role", role.Name),
			slog.String("view", role.ViewName),
			slog.String("run_id", report.RunID),
			slog.Int("created", report.Created),
			slog.Int("removed", report.Removed),
			slog.Int("upgraded", report.Upgraded),
			slog.Bool("dry_run", report.DryRun))
	}
	return report, nil
}

func (s *Service) population(ctx context.Context, viewName string) ([]string, error) {
	provider, err := s.providers.Provider(viewName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	population, err := provider.Population(ctx, viewName)
	if err != nil {
		return nil, fmt.Errorf("reconcile: population for view %q: %w: %w", viewName, shared.ErrProviderUnavailable, err)
	}
	return population, nil
}

func (s *Service) create(ctx context.Context, actor string, role authz.Role, principal string, report *Report) error {
	report.Created++
	report.Lines = append(report.Lines, fmt.Sprintf("add %s to %s", principal, role.Name))
	if report.DryRun {
		return nil
	}
	err := s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		m, err := s.store.InsertMembership(ctx, tx, role.ID, principal, role.ViewName)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindCreate,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(m.ID, 10),
			Meta:     s.meta(role, principal, report.RunID),
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, principal)
}

func (s *Service) upgrade(ctx context.Context, actor string, role authz.Role, row authz.RoleMembership, report *Report) error {
	report.Upgraded++
	report.Lines = append(report.Lines, fmt.Sprintf("refresh %s in %s (window expired)", row.Principal, role.Name))
	if report.DryRun {
		return nil
	}
	err := s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeleteMembership(ctx, tx, row.ID); err != nil {
			return err
		}
		m, err := s.store.InsertMembership(ctx, tx, role.ID, row.Principal, role.ViewName)
		if err != nil {
			return err
		}
		meta := s.meta(role, row.Principal, report.RunID)
		meta["refreshed"] = true
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindUpdate,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(m.ID, 10),
			Meta:     meta,
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, row.Principal)
}

func (s *Service) remove(ctx context.Context, actor string, role authz.Role, row authz.RoleMembership, report *Report) error {
	report.Removed++
	report.Lines = append(report.Lines, fmt.Sprintf("remove %s from %s (left view)", row.Principal, role.Name))
	if report.DryRun {
		return nil
	}
	err := s.runner.RunTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.DeleteMembership(ctx, tx, row.ID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Kind:     audit.KindDelete,
			Entity:   audit.EntityRoleMembership,
			EntityID: strconv.FormatInt(row.ID, 10),
			Meta:     s.meta(role, row.Principal, report.RunID),
		})
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, row.Principal)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Service) meta(role authz.Role, principal, runID string) map[string]any {
	return map[string]any{
		"role_id":   role.ID,
		"principal": principal,
		"view":      role.ViewName,
		"run_id":    runID,
	}
}
