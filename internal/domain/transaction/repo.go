package transaction

import (
	"context"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/platform/occ"
)

type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*Transaction, error)
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*Transaction, int, error)
	List(ctx context.Context, limit, offset int) ([]*Transaction, int, error)
	UpdateVersioned(ctx context.Context, t *Transaction, expected occ.Version) (occ.Version, error)
}
