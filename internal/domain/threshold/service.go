package threshold

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, t *Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.repo.Create(ctx, t)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Threshold, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Threshold, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Update(ctx context.Context, t *Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.repo.Update(ctx, t)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// Check reports, for each threshold on the pair, whether adding quantity to
// the usage inside the threshold's window would exceed the limit.
type Finding struct {
	Threshold *Threshold `json:"threshold"`
	Usage     Usage      `json:"usage"`
	Exceeded  bool       `json:"exceeded"`
}

func (s *Service) Check(ctx context.Context, customerID, substanceCode string, quantity Usage) ([]Finding, error) {
	thresholds, err := s.repo.ForCustomerSubstance(ctx, customerID, substanceCode)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var findings []Finding
	for _, t := range thresholds {
		usage, err := s.repo.UsageSince(ctx, customerID, substanceCode, now.AddDate(0, 0, -t.WindowDays))
		if err != nil {
			return nil, err
		}
		f := Finding{Threshold: t, Usage: usage}
		switch t.Kind {
		case KindMonthlyQuantity:
			f.Exceeded = usage.Quantity.Add(quantity.Quantity).GreaterThan(t.Limit)
		case KindAnnualFrequency:
			f.Exceeded = decimal.NewFromInt(int64(usage.Count + quantity.Count)).GreaterThan(t.Limit)
		}
		findings = append(findings, f)
	}
	return findings, nil
}
