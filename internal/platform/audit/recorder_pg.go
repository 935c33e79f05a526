package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgRecorder struct{ pool *pgxpool.Pool }

// NewPGRecorder returns a Recorder backed by the audit_event table.
func NewPGRecorder(pool *pgxpool.Pool) Recorder {
	return &pgRecorder{pool: pool}
}

func (r *pgRecorder) Record(ctx context.Context, ev Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_event (id, actor, action, entity_kind, entity_id, before_state, after_state, request_id, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.Actor, ev.Action, ev.Entity.Kind, ev.Entity.ID,
		ev.Before, ev.After, ev.RequestID, ev.At)
	return err
}
