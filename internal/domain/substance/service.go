package substance

import (
	"context"
	"fmt"
	"time"
)

// ErrNotFound is returned when no substance matches the requested code.
var ErrNotFound = fmt.Errorf("substance not found")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create registers a new controlled substance and seeds its classification
// history with the initial record.
func (s *Service) Create(ctx context.Context, sub *ControlledSubstance) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if sub.EffectiveDate.IsZero() {
		sub.EffectiveDate = time.Now().UTC()
	}
	sub.Active = true
	if err := s.repo.Create(ctx, sub); err != nil {
		return err
	}
	return s.repo.AppendClassification(ctx, &ClassificationRecord{
		SubstanceCode: sub.Code,
		OpiumList:     sub.OpiumListClassification,
		Precursor:     sub.PrecursorCategory,
		EffectiveFrom: sub.EffectiveDate,
	})
}

func (s *Service) Get(ctx context.Context, code string) (*ControlledSubstance, error) {
	return s.repo.GetByCode(ctx, code)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*ControlledSubstance, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update edits descriptive fields. Classification changes do not go through
// here: they are regulatory events handled by the reclassification workflow
// so the history stays consistent.
func (s *Service) Update(ctx context.Context, code string, name string, active bool) (*ControlledSubstance, error) {
	sub, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	sub.Name = name
	sub.Active = active
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// EffectiveClassification returns the classification in force at asOf.
// Classification changes are never retroactive: a change effective after
// asOf does not alter the answer.
func (s *Service) EffectiveClassification(ctx context.Context, code string, asOf time.Time) (Classification, error) {
	rec, err := s.repo.ClassificationAt(ctx, code, asOf)
	if err != nil {
		return Classification{}, err
	}
	return Classification{OpiumList: rec.OpiumList, PrecursorCategory: rec.Precursor}, nil
}

func (s *Service) History(ctx context.Context, code string) ([]*ClassificationRecord, error) {
	return s.repo.History(ctx, code)
}
