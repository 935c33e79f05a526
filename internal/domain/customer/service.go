package customer

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
)

type Service struct {
	repo  Repository
	guard *occ.Guard
	trail *audit.Trail
}

func NewService(repo Repository, guard *occ.Guard, trail *audit.Trail) *Service {
	guard.Register(occ.EntityCustomer, &guardStore{repo: repo})
	return &Service{repo: repo, guard: guard, trail: trail}
}

type guardStore struct{ repo Repository }

func (s *guardStore) Get(ctx context.Context, id string) (interface{}, occ.Version, error) {
	dataAreaID, accountID, err := ParseKey(id)
	if err != nil {
		return nil, 0, err
	}
	c, err := s.repo.Get(ctx, dataAreaID, accountID)
	if err != nil {
		return nil, 0, err
	}
	return c, c.Version, nil
}

func (s *guardStore) Put(ctx context.Context, _ string, expected occ.Version, entity interface{}) (occ.Version, error) {
	c, ok := entity.(*Customer)
	if !ok {
		return 0, fmt.Errorf("unexpected entity type %T", entity)
	}
	return s.repo.UpdateVersioned(ctx, c, expected)
}

func (s *Service) Create(ctx context.Context, actor string, c *Customer) error {
	if c.ApprovalStatus == "" {
		c.ApprovalStatus = ApprovalPending
	}
	if c.GDPQualification == "" {
		c.GDPQualification = GDPPending
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}
	s.trail.Append(ctx, actor, "customer.create",
		occ.EntityRef{Kind: occ.EntityCustomer, ID: c.Key()}, nil, c)
	return nil
}

func (s *Service) Get(ctx context.Context, dataAreaID, accountID string) (*Customer, error) {
	return s.repo.Get(ctx, dataAreaID, accountID)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Customer, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies a guarded mutation to the compliance extension.
func (s *Service) Update(ctx context.Context, actor string, dataAreaID, accountID string, expected occ.Version, apply func(*Customer) error) (*Customer, occ.Version, error) {
	ref := occ.EntityRef{Kind: occ.EntityCustomer, ID: dataAreaID + ":" + accountID}
	var before, after *Customer
	newVersion, err := s.guard.CompareAndSwap(ctx, ref, expected, func(current interface{}) (interface{}, error) {
		cur := current.(*Customer)
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
	s.trail.Append(ctx, actor, "customer.update", ref, before, after)
	return after, newVersion, nil
}

func (s *Service) Suspend(ctx context.Context, actor, dataAreaID, accountID string, expected occ.Version) (*Customer, occ.Version, error) {
	return s.Update(ctx, actor, dataAreaID, accountID, expected, func(c *Customer) error {
		c.Suspended = true
		return nil
	})
}

func (s *Service) Unsuspend(ctx context.Context, actor, dataAreaID, accountID string, expected occ.Version) (*Customer, occ.Version, error) {
	return s.Update(ctx, actor, dataAreaID, accountID, expected, func(c *Customer) error {
		c.Suspended = false
		return nil
	})
}

// ReVerificationDue lists customers overdue for re-verification as of now.
func (s *Service) ReVerificationDue(ctx context.Context) ([]*Customer, error) {
	return s.repo.ReVerificationDueBefore(ctx, time.Now().UTC())
}
