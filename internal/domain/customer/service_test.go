package customer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
)

type mockRepo struct {
	customers map[string]*Customer
}

func newMockRepo() *mockRepo {
	return &mockRepo{customers: make(map[string]*Customer)}
}

func (m *mockRepo) Create(_ context.Context, c *Customer) error {
	c.Version = 1
	cp := *c
	m.customers[c.Key()] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, dataAreaID, accountID string) (*Customer, error) {
	c, ok := m.customers[dataAreaID+":"+accountID]
	if !ok {
		return nil, occ.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Customer, int, error) {
	var out []*Customer
	for _, c := range m.customers {
		cp := *c
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) ReVerificationDueBefore(_ context.Context, cutoff time.Time) ([]*Customer, error) {
	var out []*Customer
	for _, c := range m.customers {
		if c.ReVerificationDue != nil && c.ReVerificationDue.Before(cutoff) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateVersioned(_ context.Context, c *Customer, expected occ.Version) (occ.Version, error) {
	cur, ok := m.customers[c.Key()]
	if !ok {
		return 0, occ.ErrNotFound
	}
	if cur.Version != expected {
		return 0, occ.ErrVersionMismatch
	}
	cp := *c
	cp.Version = expected + 1
	m.customers[c.Key()] = &cp
	return cp.Version, nil
}

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	trail := audit.NewTrail(audit.NewMemRecorder(), zerolog.Nop())
	return NewService(repo, occ.NewGuard(), trail), repo
}

func TestCreateDefaultsToPending(t *testing.T) {
	svc, _ := newTestService()

	c := &Customer{AccountID: "CUST-1", DataAreaID: "nl01"}
	if err := svc.Create(context.Background(), "tester", c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ApprovalStatus != ApprovalPending || c.GDPQualification != GDPPending {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestCreateRequiresIdentity(t *testing.T) {
	svc, _ := newTestService()

	if err := svc.Create(context.Background(), "tester", &Customer{AccountID: "CUST-1"}); err == nil {
		t.Error("expected error for missing data_area_id")
	}
}

func TestSuspendBumpsVersion(t *testing.T) {
	svc, _ := newTestService()

	c := &Customer{AccountID: "CUST-1", DataAreaID: "nl01"}
	if err := svc.Create(context.Background(), "tester", c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, v, err := svc.Suspend(context.Background(), "officer-1", "nl01", "CUST-1", 1)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if !got.Suspended || v != 2 {
		t.Errorf("after suspend: suspended=%v version=%d", got.Suspended, v)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	svc, _ := newTestService()

	c := &Customer{AccountID: "CUST-1", DataAreaID: "nl01"}
	if err := svc.Create(context.Background(), "tester", c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Suspend(context.Background(), "officer-1", "nl01", "CUST-1", 1); err != nil {
		t.Fatalf("first suspend: %v", err)
	}

	_, _, err := svc.Unsuspend(context.Background(), "officer-2", "nl01", "CUST-1", 1)
	if err == nil {
		t.Fatal("expected conflict with stale version")
	}
	conflict, ok := occ.AsConflict(err)
	if !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CallerVersion != 1 || conflict.CurrentVersion != 2 {
		t.Errorf("conflict versions: caller=%d current=%d", conflict.CallerVersion, conflict.CurrentVersion)
	}
}

func TestReVerificationDue(t *testing.T) {
	svc, _ := newTestService()

	past := time.Now().UTC().AddDate(0, -1, 0)
	future := time.Now().UTC().AddDate(0, 1, 0)

	for _, c := range []*Customer{
		{AccountID: "OVERDUE", DataAreaID: "nl01", ReVerificationDue: &past},
		{AccountID: "OK", DataAreaID: "nl01", ReVerificationDue: &future},
		{AccountID: "NONE", DataAreaID: "nl01"},
	} {
		if err := svc.Create(context.Background(), "tester", c); err != nil {
			t.Fatalf("create %s: %v", c.AccountID, err)
		}
	}

	due, err := svc.ReVerificationDue(context.Background())
	if err != nil {
		t.Fatalf("reverification due: %v", err)
	}
	if len(due) != 1 || due[0].AccountID != "OVERDUE" {
		t.Errorf("expected only OVERDUE, got %d customers", len(due))
	}
}
