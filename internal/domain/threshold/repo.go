package threshold

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Threshold) error
	GetByID(ctx context.Context, id uuid.UUID) (*Threshold, error)
	// ForCustomerSubstance returns all thresholds configured for the pair.
	ForCustomerSubstance(ctx context.Context, customerID, substanceCode string) ([]*Threshold, error)
	List(ctx context.Context, limit, offset int) ([]*Threshold, int, error)
	Update(ctx context.Context, t *Threshold) error
	Delete(ctx context.Context, id uuid.UUID) error

	// UsageSince sums recorded transaction lines for the pair from the
	// window start onward.
	UsageSince(ctx context.Context, customerID, substanceCode string, since time.Time) (Usage, error)
}
