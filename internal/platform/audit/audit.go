// Package audit captures compliance audit events. Appends are
// fire-and-forget: a failing audit sink is logged but never blocks or fails
// the decision path that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/platform/occ"
)

// Event is one audit record. Entity is a tagged reference; resolution into a
// concrete record happens at the read boundary by dispatching on the kind.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Entity    occ.EntityRef   `json:"entity"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	At        time.Time       `json:"at"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, ev Event) error

func (f RecorderFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Trail wraps a Recorder with the fire-and-forget contract.
type Trail struct {
	rec    Recorder
	logger zerolog.Logger
}

func NewTrail(rec Recorder, logger zerolog.Logger) *Trail {
	return &Trail{rec: rec, logger: logger}
}

// Append records the event, marshalling before/after snapshots. Errors are
// logged and swallowed.
func (t *Trail) Append(ctx context.Context, actor, action string, entity occ.EntityRef, before, after interface{}) {
	ev := Event{
		ID:     uuid.New(),
		Actor:  actor,
		Action: action,
		Entity: entity,
		At:     time.Now().UTC(),
	}
	if before != nil {
		if data, err := json.Marshal(before); err == nil {
			ev.Before = data
		}
	}
	if after != nil {
		if data, err := json.Marshal(after); err == nil {
			ev.After = data
		}
	}

	if err := t.rec.Record(ctx, ev); err != nil {
		t.logger.Error().Err(err).
			Str("action", action).
			Str("entity", entity.String()).
			Msg("audit append failed")
	}
}

// MemRecorder is a thread-safe in-memory Recorder for tests and development.
type MemRecorder struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemRecorder() *MemRecorder {
	return &MemRecorder{}
}

func (m *MemRecorder) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (m *MemRecorder) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
