package licence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/platform/occ"
)

// Activity is a bit set of operations a licence permits.
type Activity uint16

const (
	ActivityPossess Activity = 1 << iota
	ActivityStore
	ActivityDistribute
	ActivityImport
	ActivityExport
	ActivityHandlePrecursors
	ActivityManufacture
)

var activityNames = []struct {
	bit  Activity
	name string
}{
	{ActivityPossess, "Possess"},
	{ActivityStore, "Store"},
	{ActivityDistribute, "Distribute"},
	{ActivityImport, "Import"},
	{ActivityExport, "Export"},
	{ActivityHandlePrecursors, "HandlePrecursors"},
	{ActivityManufacture, "Manufacture"},
}

// Has reports whether the set covers every bit in req.
func (a Activity) Has(req Activity) bool { return a&req == req }

func (a Activity) Names() []string {
	out := []string{}
	for _, n := range activityNames {
		if a&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func ParseActivity(name string) (Activity, error) {
	for _, n := range activityNames {
		if n.name == name {
			return n.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown activity %q", name)
}

func ParseActivities(names []string) (Activity, error) {
	var set Activity
	for _, name := range names {
		bit, err := ParseActivity(name)
		if err != nil {
			return 0, err
		}
		set |= bit
	}
	return set, nil
}

func (a Activity) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Names())
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	set, err := ParseActivities(names)
	if err != nil {
		return err
	}
	*a = set
	return nil
}

// Holder discriminants. A licence is held by the wholesaler itself or by
// one of its customers.
const (
	HolderCompany  = "company"
	HolderCustomer = "customer"
)

// Licence statuses. Expired is computed on read; Suspended and Revoked are
// only ever set by explicit action.
const (
	StatusValid     = "Valid"
	StatusExpired   = "Expired"
	StatusSuspended = "Suspended"
	StatusRevoked   = "Revoked"
)

// Licence is an authorization record scoped to activities and, through its
// substance mappings, to substances.
type Licence struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	Number         string      `db:"number" json:"number"`
	TypeID         *uuid.UUID  `db:"type_id" json:"type_id,omitempty"`
	HolderKind     string      `db:"holder_kind" json:"holder_kind"`
	HolderID       string      `db:"holder_id" json:"holder_id"`
	Authority      string      `db:"authority" json:"authority"`
	IssueDate      time.Time   `db:"issue_date" json:"issue_date"`
	ExpiryDate     time.Time   `db:"expiry_date" json:"expiry_date"`
	GracePeriodEnd *time.Time  `db:"grace_period_end" json:"grace_period_end,omitempty"`
	Status         string      `db:"status" json:"status"`
	Activities     Activity    `db:"activities" json:"activities"`
	Version        occ.Version `db:"version" json:"version"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus computes the status in force at now. Expiry is derived
// here rather than stored: a licence past its expiry date is Expired unless
// a grace period is still running. Suspended and Revoked always win.
func (l *Licence) EffectiveStatus(now time.Time) string {
	if l.Status == StatusSuspended || l.Status == StatusRevoked {
		return l.Status
	}
	if now.After(l.ExpiryDate) {
		if l.GracePeriodEnd != nil && !now.After(*l.GracePeriodEnd) {
			return StatusValid
		}
		return StatusExpired
	}
	return StatusValid
}

// ValidAt reports whether the licence is usable at now.
func (l *Licence) ValidAt(now time.Time) bool {
	return l.EffectiveStatus(now) == StatusValid
}

func (l *Licence) Validate() error {
	if l.Number == "" {
		return fmt.Errorf("number is required")
	}
	if l.HolderKind != HolderCompany && l.HolderKind != HolderCustomer {
		return fmt.Errorf("holder_kind must be %q or %q", HolderCompany, HolderCustomer)
	}
	if l.HolderID == "" {
		return fmt.Errorf("holder_id is required")
	}
	if l.ExpiryDate.Before(l.IssueDate) {
		return fmt.Errorf("expiry_date before issue_date")
	}
	if l.Activities == 0 {
		return fmt.Errorf("at least one permitted activity is required")
	}
	return nil
}

// LicenceType is a category definition referenced, never owned, by licences.
type LicenceType struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Activities Activity  `db:"activities" json:"activities"`
	Active     bool      `db:"active" json:"active"`
}

// SubstanceMapping scopes a licence to a substance for a date window.
// The (licence, substance, effective_from) triple is unique so historical
// scope changes can coexist.
type SubstanceMapping struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	LicenceID     uuid.UUID  `db:"licence_id" json:"licence_id"`
	SubstanceCode string     `db:"substance_code" json:"substance_code"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`
}

// ActiveAt reports whether the mapping window covers t.
func (m *SubstanceMapping) ActiveAt(t time.Time) bool {
	if t.Before(m.EffectiveFrom) {
		return false
	}
	return m.EffectiveTo == nil || !t.After(*m.EffectiveTo)
}
