package occ

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Store is the per-entity adapter a backing store registers with the guard.
// Put must compare expected against the stored version atomically, using
// whatever the store natively offers (ETag, row version, CAS), and
// return ErrVersionMismatch without applying the write when they differ.
type Store interface {
	// Get returns the current state and version of the record.
	Get(ctx context.Context, id string) (interface{}, Version, error)
	// Put applies the write iff the stored version equals expected,
	// returning the new version.
	Put(ctx context.Context, id string, expected Version, entity interface{}) (Version, error)
}

// Guard exposes one compare-and-swap surface over heterogeneous backing
// stores. It is a last-writer-detects protocol: a single version comparison
// per write, no distributed locking, no silent overwrite, no auto-merge.
type Guard struct {
	mu     sync.RWMutex
	stores map[EntityKind]Store
}

func NewGuard() *Guard {
	return &Guard{stores: make(map[EntityKind]Store)}
}

// Register attaches the store responsible for a record kind.
func (g *Guard) Register(kind EntityKind, store Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stores[kind] = store
}

func (g *Guard) store(kind EntityKind) (Store, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	st, ok := g.stores[kind]
	if !ok {
		return nil, fmt.Errorf("no store registered for entity kind %q", kind)
	}
	return st, nil
}

// Read returns the current state and version of the referenced record.
func (g *Guard) Read(ctx context.Context, ref EntityRef) (interface{}, Version, error) {
	st, err := g.store(ref.Kind)
	if err != nil {
		return nil, 0, err
	}
	return st.Get(ctx, ref.ID)
}

// CompareAndSwap reads the referenced record, applies mutate to produce the
// intended write, and commits it iff the stored version still equals
// expected. On mismatch it returns a *ConflictError carrying both versions
// and, where computable, the fields that diverge between the intended write
// and the current stored state.
func (g *Guard) CompareAndSwap(ctx context.Context, ref EntityRef, expected Version, mutate func(current interface{}) (interface{}, error)) (Version, error) {
	st, err := g.store(ref.Kind)
	if err != nil {
		return 0, err
	}

	current, cv, err := st.Get(ctx, ref.ID)
	if err != nil {
		return 0, err
	}
	if cv != expected {
		return 0, &ConflictError{
			Entity:         ref.Kind,
			ID:             ref.ID,
			CallerVersion:  expected,
			CurrentVersion: cv,
		}
	}

	intended, err := mutate(current)
	if err != nil {
		return 0, err
	}

	newV, err := st.Put(ctx, ref.ID, expected, intended)
	if errors.Is(err, ErrVersionMismatch) {
		// Lost the race between read and write. Re-read for the report.
		latest, lv, rerr := st.Get(ctx, ref.ID)
		ce := &ConflictError{
			Entity:         ref.Kind,
			ID:             ref.ID,
			CallerVersion:  expected,
			CurrentVersion: lv,
		}
		if rerr == nil {
			ce.DivergentFields = DiffFields(intended, latest)
		}
		return 0, ce
	}
	if err != nil {
		return 0, err
	}
	return newV, nil
}
