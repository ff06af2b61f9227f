package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides read access to the audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const timelineBaseQuery = `SELECT id, occurred_at, actor, kind, entity, entity_id, meta
FROM audit_entries
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
  AND ($3::text IS NULL OR actor = $3)
  AND ($4::text IS NULL OR entity = $4)
  AND ($5::text IS NULL OR kind = $5)
ORDER BY occurred_at DESC, id DESC`

// TimelineWindow returns one page of entries, newest first.
func (r *Repository) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	query := timelineBaseQuery + " LIMIT $6 OFFSET $7"
	rows, err := r.pool.Query(ctx, query,
		optionalTime(filters.From), optionalTime(filters.To),
		optionalText(filters.Actor), optionalText(filters.Entity), optionalText(filters.Kind),
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline window: %w", err)
	}
	return scanEntries(rows)
}

// TimelineAll returns every matching entry without paging.
func (r *Repository) TimelineAll(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, timelineBaseQuery,
		optionalTime(filters.From), optionalTime(filters.To),
		optionalText(filters.Actor), optionalText(filters.Entity), optionalText(filters.Kind))
	if err != nil {
		return nil, fmt.Errorf("audit: timeline all: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			at    time.Time
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &at, &entry.Actor, &entry.Kind, &entry.Entity, &entry.EntityID, &meta); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		entry.At = at
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &entry.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: read entries: %w", err)
	}
	return entries, nil
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}
