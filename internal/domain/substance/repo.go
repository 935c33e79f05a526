package substance

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, s *ControlledSubstance) error
	GetByCode(ctx context.Context, code string) (*ControlledSubstance, error)
	Update(ctx context.Context, s *ControlledSubstance) error
	List(ctx context.Context, limit, offset int) ([]*ControlledSubstance, int, error)

	AppendClassification(ctx context.Context, rec *ClassificationRecord) error
	// ClassificationAt returns the history record in force at asOf.
	ClassificationAt(ctx context.Context, code string, asOf time.Time) (*ClassificationRecord, error)
	History(ctx context.Context, code string) ([]*ClassificationRecord, error)
}
