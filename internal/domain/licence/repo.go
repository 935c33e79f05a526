package licence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/platform/occ"
)

type Repository interface {
	Create(ctx context.Context, l *Licence) error
	GetByID(ctx context.Context, id uuid.UUID) (*Licence, error)
	GetByNumber(ctx context.Context, number string) (*Licence, error)
	ListByHolder(ctx context.Context, holderKind, holderID string) ([]*Licence, error)
	// ListBySubstance returns licences that have any mapping for the
	// substance code, regardless of window.
	ListBySubstance(ctx context.Context, substanceCode string) ([]*Licence, error)
	List(ctx context.Context, limit, offset int) ([]*Licence, int, error)
	// ExpiringBefore returns licences still marked Valid whose expiry
	// (including any grace period) falls before cutoff.
	ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*Licence, error)
	// UpdateVersioned applies the write iff the stored version equals
	// expected, returning the new version or occ.ErrVersionMismatch.
	UpdateVersioned(ctx context.Context, l *Licence, expected occ.Version) (occ.Version, error)

	CreateType(ctx context.Context, t *LicenceType) error
	GetType(ctx context.Context, id uuid.UUID) (*LicenceType, error)
	ListTypes(ctx context.Context) ([]*LicenceType, error)

	AddMapping(ctx context.Context, m *SubstanceMapping) error
	RemoveMapping(ctx context.Context, id uuid.UUID) error
	MappingsByLicence(ctx context.Context, licenceID uuid.UUID) ([]*SubstanceMapping, error)
	MappingsBySubstance(ctx context.Context, substanceCode string) ([]*SubstanceMapping, error)
}
