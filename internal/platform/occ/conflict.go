package occ

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrVersionMismatch is the sentinel a Store returns when the stored version
// differs from the one the caller supplied. The guard wraps it into a
// *ConflictError before it reaches a caller.
var ErrVersionMismatch = errors.New("version mismatch")

// ErrNotFound is returned when the referenced record does not exist.
var ErrNotFound = errors.New("entity not found")

// ConflictError reports a detected write conflict. The caller must re-read,
// merge or discard, and retry explicitly.
type ConflictError struct {
	Entity          EntityKind `json:"entity"`
	ID              string     `json:"id"`
	CallerVersion   Version    `json:"caller_version"`
	CurrentVersion  Version    `json:"current_version"`
	DivergentFields []string   `json:"divergent_fields,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: caller has %d, store has %d",
		e.Entity, e.ID, e.CallerVersion, e.CurrentVersion)
}

// AsConflict unwraps err into a *ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// DiffFields returns the sorted names of top-level JSON fields whose values
// differ between the caller's intended write and the current stored state.
// Fields that cannot be compared are reported as divergent. Returns nil when
// either side cannot be marshalled, in which case the conflict is reported
// without a field list.
func DiffFields(intended, current interface{}) []string {
	im, ok := toFieldMap(intended)
	if !ok {
		return nil
	}
	cm, ok := toFieldMap(current)
	if !ok {
		return nil
	}

	seen := map[string]struct{}{}
	var fields []string
	for k, iv := range im {
		if k == "version" {
			continue
		}
		cv, present := cm[k]
		if !present || !reflect.DeepEqual(iv, cv) {
			fields = append(fields, k)
		}
		seen[k] = struct{}{}
	}
	for k := range cm {
		if k == "version" {
			continue
		}
		if _, dup := seen[k]; !dup {
			fields = append(fields, k)
		}
	}
	sort.Strings(fields)
	return fields
}

func toFieldMap(v interface{}) (map[string]interface{}, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}
