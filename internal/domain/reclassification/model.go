package reclassification

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/domain/substance"
	"github.com/pharmos/compliance/internal/platform/occ"
)

// Processing states of a reclassification event.
const (
	StatusPending    = "Pending"
	StatusProcessing = "Processing"
	StatusCompleted  = "Completed"
)

// Reclassification is one regulatory change of a substance's classification.
// It owns the customer impact records produced by the analysis.
type Reclassification struct {
	ID            uuid.UUID                `db:"id" json:"id"`
	SubstanceCode string                   `db:"substance_code" json:"substance_code"`
	Previous      substance.Classification `db:"-" json:"previous"`
	New           substance.Classification `db:"-" json:"new"`
	EffectiveDate time.Time                `db:"effective_date" json:"effective_date"`
	RegulatoryRef string                   `db:"regulatory_ref" json:"regulatory_ref,omitempty"`
	Status        string                   `db:"status" json:"status"`

	// Counters filled in by Process.
	AffectedCustomers int `db:"affected_customers" json:"affected_customers"`
	FlaggedCustomers  int `db:"flagged_customers" json:"flagged_customers"`

	Version   occ.Version `db:"version" json:"version"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// CustomerImpact records whether one customer's licences remain sufficient
// under the new classification. A flagged impact blocks that customer's
// transactions in the substance until a compliance officer marks the
// customer re-qualified.
type CustomerImpact struct {
	ID                 uuid.UUID   `db:"id" json:"id"`
	ReclassificationID uuid.UUID   `db:"reclassification_id" json:"reclassification_id"`
	CustomerID         string      `db:"customer_id" json:"customer_id"`
	SubstanceCode      string      `db:"substance_code" json:"substance_code"`
	Sufficient         bool        `db:"sufficient" json:"sufficient"`
	Gap                string      `db:"gap" json:"gap,omitempty"`
	RequiresReQual     bool        `db:"requires_requalification" json:"requires_requalification"`
	ReQualifiedAt      *time.Time  `db:"requalified_at" json:"requalified_at,omitempty"`
	Version            occ.Version `db:"version" json:"version"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
}

// Open reports whether the impact still blocks the customer.
func (i *CustomerImpact) Open() bool {
	return i.RequiresReQual && i.ReQualifiedAt == nil
}

// ImpactSummary is the result of an impact analysis run.
type ImpactSummary struct {
	TotalCustomers  int               `json:"total_customers"`
	SufficientCount int               `json:"sufficient_count"`
	FlaggedCount    int               `json:"flagged_count"`
	Detail          []*CustomerImpact `json:"detail"`
}

var opiumRank = map[string]int{
	substance.OpiumNone:   0,
	substance.OpiumListII: 1,
	substance.OpiumListI:  2,
}

var precursorRank = map[string]int{
	substance.PrecursorNone: 0,
	substance.PrecursorCat3: 1,
	substance.PrecursorCat2: 2,
	substance.PrecursorCat1: 3,
}

// Upgrade reports whether the change moves the substance into a stricter
// regime on either axis. A downgrade never requires customer action.
func (r *Reclassification) Upgrade() bool {
	return opiumRank[r.New.OpiumList] > opiumRank[r.Previous.OpiumList] ||
		precursorRank[r.New.PrecursorCategory] > precursorRank[r.Previous.PrecursorCategory]
}

// RequiredActivities maps a classification to the activity set a holder's
// licence must cover to legally handle the substance.
func RequiredActivities(c substance.Classification) licence.Activity {
	required := licence.ActivityPossess
	if c.OpiumList == substance.OpiumListI {
		required |= licence.ActivityStore
	}
	if c.PrecursorCategory == substance.PrecursorCat1 {
		required |= licence.ActivityHandlePrecursors
	}
	return required
}

func (r *Reclassification) Validate() error {
	if r.SubstanceCode == "" {
		return fmt.Errorf("substance_code is required")
	}
	if _, ok := opiumRank[r.New.OpiumList]; !ok {
		return fmt.Errorf("invalid opium list classification %q", r.New.OpiumList)
	}
	if _, ok := precursorRank[r.New.PrecursorCategory]; !ok {
		return fmt.Errorf("invalid precursor category %q", r.New.PrecursorCategory)
	}
	if r.New == r.Previous {
		return fmt.Errorf("new classification equals the current one")
	}
	if r.New.OpiumList == substance.OpiumNone && r.New.PrecursorCategory == substance.PrecursorNone {
		return fmt.Errorf("at least one classification must remain set")
	}
	if r.EffectiveDate.IsZero() {
		return fmt.Errorf("effective_date is required")
	}
	return nil
}
