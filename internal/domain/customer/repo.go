package customer

import (
	"context"
	"time"

	"github.com/pharmos/compliance/internal/platform/occ"
)

type Repository interface {
	Create(ctx context.Context, c *Customer) error
	Get(ctx context.Context, dataAreaID, accountID string) (*Customer, error)
	List(ctx context.Context, limit, offset int) ([]*Customer, int, error)
	// ReVerificationDueBefore returns customers whose re-verification date
	// has passed, for the periodic monitor.
	ReVerificationDueBefore(ctx context.Context, cutoff time.Time) ([]*Customer, error)
	UpdateVersioned(ctx context.Context, c *Customer, expected occ.Version) (occ.Version, error)
}
