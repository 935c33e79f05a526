package reclassification

import (
	"context"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/platform/occ"
)

type Repository interface {
	// InTx runs fn with every repository call routed through one database
	// transaction. Process relies on it: impact rows and the substance
	// mutation must land together or not at all.
	InTx(ctx context.Context, fn func(context.Context) error) error

	Create(ctx context.Context, r *Reclassification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reclassification, error)
	List(ctx context.Context, limit, offset int) ([]*Reclassification, int, error)
	UpdateVersioned(ctx context.Context, r *Reclassification, expected occ.Version) (occ.Version, error)

	SaveImpacts(ctx context.Context, impacts []*CustomerImpact) error
	GetImpact(ctx context.Context, id uuid.UUID) (*CustomerImpact, error)
	ImpactsByReclassification(ctx context.Context, id uuid.UUID) ([]*CustomerImpact, error)
	UpdateImpactVersioned(ctx context.Context, i *CustomerImpact, expected occ.Version) (occ.Version, error)

	// OpenImpactSubstances returns the substance codes blocked for the
	// customer by impacts still awaiting re-qualification.
	OpenImpactSubstances(ctx context.Context, customerID string) (map[string]bool, error)
}
