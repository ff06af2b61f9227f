package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Recorder appends entries to the audit trail. Record runs against the
// caller's transaction so the trail commits or rolls back together with the
// grant mutation it documents.
type Recorder struct{}

// NewRecorder returns a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record persists one entry within tx.
func (r *Recorder) Record(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if entry.Kind == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit: entry requires kind/entity/entity_id")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries (actor, kind, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Actor, entry.Kind, entry.Entity, entry.EntityID, metaJSON, at)
	return err
}
