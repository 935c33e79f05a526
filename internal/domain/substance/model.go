package substance

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Opium Act list classifications.
const (
	OpiumNone   = "none"
	OpiumListI  = "list-I"
	OpiumListII = "list-II"
)

// Drug-precursor categories.
const (
	PrecursorNone = "none"
	PrecursorCat1 = "cat-1"
	PrecursorCat2 = "cat-2"
	PrecursorCat3 = "cat-3"
)

// ControlledSubstance is a regulated item identified by its internal code.
type ControlledSubstance struct {
	ID                      uuid.UUID `db:"id" json:"id"`
	Code                    string    `db:"code" json:"code"`
	Name                    string    `db:"name" json:"name"`
	OpiumListClassification string    `db:"opium_list_classification" json:"opium_list_classification"`
	PrecursorCategory       string    `db:"precursor_category" json:"precursor_category"`
	Active                  bool      `db:"active" json:"active"`
	EffectiveDate           time.Time `db:"effective_date" json:"effective_date"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// Classification is the pair of regulatory axes a substance is controlled
// under at a point in time.
type Classification struct {
	OpiumList         string `json:"opium_list_classification"`
	PrecursorCategory string `json:"precursor_category"`
}

// ClassificationRecord is one row of the classification history. The record
// in force at time t is the one with the greatest EffectiveFrom <= t.
type ClassificationRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	SubstanceCode string    `db:"substance_code" json:"substance_code"`
	OpiumList     string    `db:"opium_list_classification" json:"opium_list_classification"`
	Precursor     string    `db:"precursor_category" json:"precursor_category"`
	EffectiveFrom time.Time `db:"effective_from" json:"effective_from"`
	RegulatoryRef string    `db:"regulatory_ref" json:"regulatory_ref,omitempty"`
}

func validOpiumList(v string) bool {
	return v == OpiumNone || v == OpiumListI || v == OpiumListII
}

func validPrecursor(v string) bool {
	return v == PrecursorNone || v == PrecursorCat1 || v == PrecursorCat2 || v == PrecursorCat3
}

// Validate checks the substance invariants. A substance must be controlled
// under at least one axis.
func (s *ControlledSubstance) Validate() error {
	if s.Code == "" {
		return fmt.Errorf("code is required")
	}
	if !validOpiumList(s.OpiumListClassification) {
		return fmt.Errorf("invalid opium list classification %q", s.OpiumListClassification)
	}
	if !validPrecursor(s.PrecursorCategory) {
		return fmt.Errorf("invalid precursor category %q", s.PrecursorCategory)
	}
	if s.OpiumListClassification == OpiumNone && s.PrecursorCategory == PrecursorNone {
		return fmt.Errorf("at least one classification must be set")
	}
	return nil
}

// Current returns the substance's live classification pair.
func (s *ControlledSubstance) Current() Classification {
	return Classification{
		OpiumList:         s.OpiumListClassification,
		PrecursorCategory: s.PrecursorCategory,
	}
}
