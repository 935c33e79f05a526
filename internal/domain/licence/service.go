package licence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
)

type Service struct {
	repo  Repository
	guard *occ.Guard
	trail *audit.Trail
}

// NewService wires the repository behind the concurrency guard so every
// licence mutation is version-checked.
func NewService(repo Repository, guard *occ.Guard, trail *audit.Trail) *Service {
	guard.Register(occ.EntityLicence, &guardStore{repo: repo})
	return &Service{repo: repo, guard: guard, trail: trail}
}

// guardStore adapts the repository to the guard's store contract.
type guardStore struct{ repo Repository }

func (s *guardStore) Get(ctx context.Context, id string) (interface{}, occ.Version, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid licence id: %w", err)
	}
	l, err := s.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, 0, err
	}
	return l, l.Version, nil
}

func (s *guardStore) Put(ctx context.Context, id string, expected occ.Version, entity interface{}) (occ.Version, error) {
	l, ok := entity.(*Licence)
	if !ok {
		return 0, fmt.Errorf("unexpected entity type %T", entity)
	}
	return s.repo.UpdateVersioned(ctx, l, expected)
}

func (s *Service) Create(ctx context.Context, actor string, l *Licence) error {
	if err := l.Validate(); err != nil {
		return err
	}
	l.Status = StatusValid
	if err := s.repo.Create(ctx, l); err != nil {
		return err
	}
	s.trail.Append(ctx, actor, "licence.create",
		occ.EntityRef{Kind: occ.EntityLicence, ID: l.ID.String()}, nil, l)
	return nil
}

// Get returns the licence with its status computed as of now.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Licence, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Status = l.EffectiveStatus(time.Now().UTC())
	return l, nil
}

func (s *Service) ListByHolder(ctx context.Context, holderKind, holderID string) ([]*Licence, error) {
	licences, err := s.repo.ListByHolder(ctx, holderKind, holderID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, l := range licences {
		l.Status = l.EffectiveStatus(now)
	}
	return licences, nil
}

func (s *Service) ListBySubstance(ctx context.Context, substanceCode string) ([]*Licence, error) {
	licences, err := s.repo.ListBySubstance(ctx, substanceCode)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, l := range licences {
		l.Status = l.EffectiveStatus(now)
	}
	return licences, nil
}

// ExpiringBefore returns licences whose validity lapses before cutoff. The
// periodic monitor uses it to raise expiry events.
func (s *Service) ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*Licence, error) {
	return s.repo.ExpiringBefore(ctx, cutoff)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Licence, int, error) {
	licences, total, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now().UTC()
	for _, l := range licences {
		l.Status = l.EffectiveStatus(now)
	}
	return licences, total, nil
}

// Update replaces the editable fields, guarded by the version the caller
// read. Status is not editable here.
func (s *Service) Update(ctx context.Context, actor string, id uuid.UUID, expected occ.Version, apply func(*Licence) error) (*Licence, occ.Version, error) {
	ref := occ.EntityRef{Kind: occ.EntityLicence, ID: id.String()}
	var before, after *Licence
	newVersion, err := s.guard.CompareAndSwap(ctx, ref, expected, func(current interface{}) (interface{}, error) {
		cur := current.(*Licence)
		snapshot := *cur
		before = &snapshot
		if err := apply(cur); err != nil {
			return nil, err
		}
		if err := cur.Validate(); err != nil {
			return nil, err
		}
		after = cur
		return cur, nil
	})
	if err != nil {
		return nil, 0, err
	}
	after.Version = newVersion
	s.trail.Append(ctx, actor, "licence.update", ref, before, after)
	return after, newVersion, nil
}

func (s *Service) transition(ctx context.Context, actor string, id uuid.UUID, expected occ.Version, action, from, to string) (*Licence, occ.Version, error) {
	return s.Update(ctx, actor, id, expected, func(l *Licence) error {
		if from != "" && l.Status != from {
			return fmt.Errorf("%s: licence is %s, not %s", action, l.Status, from)
		}
		l.Status = to
		return nil
	})
}

func (s *Service) Suspend(ctx context.Context, actor string, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
	return s.transition(ctx, actor, id, expected, "suspend", "", StatusSuspended)
}

func (s *Service) Reinstate(ctx context.Context, actor string, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
	return s.transition(ctx, actor, id, expected, "reinstate", StatusSuspended, StatusValid)
}

// Revoke is terminal: a revoked licence is never reinstated.
func (s *Service) Revoke(ctx context.Context, actor string, id uuid.UUID, expected occ.Version) (*Licence, occ.Version, error) {
	return s.Update(ctx, actor, id, expected, func(l *Licence) error {
		if l.Status == StatusRevoked {
			return fmt.Errorf("licence already revoked")
		}
		l.Status = StatusRevoked
		return nil
	})
}

// AddMapping scopes the licence to a substance. The mapping window must not
// run past the licence's expiry.
func (s *Service) AddMapping(ctx context.Context, actor string, m *SubstanceMapping) error {
	if m.SubstanceCode == "" {
		return fmt.Errorf("substance_code is required")
	}
	l, err := s.repo.GetByID(ctx, m.LicenceID)
	if err != nil {
		return err
	}
	if m.EffectiveFrom.IsZero() {
		m.EffectiveFrom = time.Now().UTC()
	}
	if m.EffectiveTo != nil && m.EffectiveTo.After(l.ExpiryDate) {
		return fmt.Errorf("mapping window exceeds licence expiry %s", l.ExpiryDate.Format("2006-01-02"))
	}
	if m.EffectiveTo == nil {
		// Open-ended mappings are clamped to the licence expiry.
		end := l.ExpiryDate
		m.EffectiveTo = &end
	}
	if err := s.repo.AddMapping(ctx, m); err != nil {
		return err
	}
	s.trail.Append(ctx, actor, "licence.mapping.add",
		occ.EntityRef{Kind: occ.EntityLicence, ID: l.ID.String()}, nil, m)
	return nil
}

func (s *Service) RemoveMapping(ctx context.Context, actor string, licenceID, mappingID uuid.UUID) error {
	if err := s.repo.RemoveMapping(ctx, mappingID); err != nil {
		return err
	}
	s.trail.Append(ctx, actor, "licence.mapping.remove",
		occ.EntityRef{Kind: occ.EntityLicence, ID: licenceID.String()}, nil, nil)
	return nil
}

func (s *Service) Mappings(ctx context.Context, licenceID uuid.UUID) ([]*SubstanceMapping, error) {
	return s.repo.MappingsByLicence(ctx, licenceID)
}

func (s *Service) CreateType(ctx context.Context, t *LicenceType) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Activities == 0 {
		return fmt.Errorf("at least one activity is required")
	}
	t.Active = true
	return s.repo.CreateType(ctx, t)
}

func (s *Service) ListTypes(ctx context.Context) ([]*LicenceType, error) {
	return s.repo.ListTypes(ctx)
}
