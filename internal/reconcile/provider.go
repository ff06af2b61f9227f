package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-edu/authcore/internal/shared"
)

// PopulationProvider resolves the principals a named view currently selects.
// Implementations sit in front of a registrar feed, an HR extract or any
// other institutional source of record.
type PopulationProvider interface {
	Population(ctx context.Context, viewName string) ([]string, error)
}

// Registry maps view name prefixes to providers. A view named
// "registrar.enrolled_2026" routes to the provider registered under
// "registrar". Unprefixed views fall through to the default provider.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string]PopulationProvider
	fallback PopulationProvider
}

// NewRegistry builds a Registry with the given default provider.
func NewRegistry(fallback PopulationProvider) *Registry {
	return &Registry{byPrefix: map[string]PopulationProvider{}, fallback: fallback}
}

// Register binds a provider to a view name prefix.
func (r *Registry) Register(prefix string, provider PopulationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrefix[prefix] = provider
}

// Provider returns the provider responsible for a view name.
func (r *Registry) Provider(viewName string) (PopulationProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if prefix, _, found := strings.Cut(viewName, "."); found {
		if p, ok := r.byPrefix[prefix]; ok {
			return p, nil
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("reconcile: no provider for view %q: %w", viewName, shared.ErrProviderUnavailable)
	}
	return r.fallback, nil
}

// StaticProvider serves fixed populations. Used in tests and as a stand-in
// while a live feed is onboarded.
type StaticProvider struct {
	mu          sync.RWMutex
	populations map[string][]string
}

// NewStaticProvider builds a StaticProvider from an initial population map.
func NewStaticProvider(populations map[string][]string) *StaticProvider {
	if populations == nil {
		populations = map[string][]string{}
	}
	return &StaticProvider{populations: populations}
}

// SetPopulation replaces the population of one view.
func (p *StaticProvider) SetPopulation(viewName string, principals []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.populations[viewName] = principals
}

// Population returns the stored principals. An unknown view reads as an
// empty population, not an error.
func (p *StaticProvider) Population(_ context.Context, viewName string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.populations[viewName]...), nil
}

// SQLProvider reads view populations from the view_populations table, which
// downstream ETL keeps in sync with the institutional sources.
type SQLProvider struct {
	pool *pgxpool.Pool
}

// NewSQLProvider builds a SQLProvider on the given pool.
func NewSQLProvider(pool *pgxpool.Pool) *SQLProvider {
	return &SQLProvider{pool: pool}
}

// Population lists the principals currently present for a view.
func (p *SQLProvider) Population(ctx context.Context, viewName string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT principal
		FROM view_populations
		WHERE view_name = $1
		ORDER BY principal`, viewName)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query view population: %w", err)
	}
	defer rows.Close()

	var principals []string
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, fmt.Errorf("reconcile: scan view population: %w", err)
		}
		principals = append(principals, principal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: read view population: %w", err)
	}
	return principals, nil
}
