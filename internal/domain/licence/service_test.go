package licence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
)

type mockRepo struct {
	licences map[uuid.UUID]*Licence
	types    map[uuid.UUID]*LicenceType
	mappings map[uuid.UUID]*SubstanceMapping
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		licences: make(map[uuid.UUID]*Licence),
		types:    make(map[uuid.UUID]*LicenceType),
		mappings: make(map[uuid.UUID]*SubstanceMapping),
	}
}

func (m *mockRepo) Create(_ context.Context, l *Licence) error {
	l.ID = uuid.New()
	l.Version = 1
	cp := *l
	m.licences[l.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Licence, error) {
	l, ok := m.licences[id]
	if !ok {
		return nil, occ.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *mockRepo) GetByNumber(_ context.Context, number string) (*Licence, error) {
	for _, l := range m.licences {
		if l.Number == number {
			cp := *l
			return &cp, nil
		}
	}
	return nil, occ.ErrNotFound
}

func (m *mockRepo) ListByHolder(_ context.Context, kind, id string) ([]*Licence, error) {
	var out []*Licence
	for _, l := range m.licences {
		if l.HolderKind == kind && l.HolderID == id {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListBySubstance(_ context.Context, code string) ([]*Licence, error) {
	seen := make(map[uuid.UUID]bool)
	var out []*Licence
	for _, mp := range m.mappings {
		if mp.SubstanceCode != code || seen[mp.LicenceID] {
			continue
		}
		seen[mp.LicenceID] = true
		if l, ok := m.licences[mp.LicenceID]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ExpiringBefore(_ context.Context, cutoff time.Time) ([]*Licence, error) {
	var out []*Licence
	for _, l := range m.licences {
		if l.Status != StatusValid || !l.ExpiryDate.Before(cutoff) {
			continue
		}
		if l.GracePeriodEnd != nil && !l.GracePeriodEnd.Before(cutoff) {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Licence, int, error) {
	var out []*Licence
	for _, l := range m.licences {
		cp := *l
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateVersioned(_ context.Context, l *Licence, expected occ.Version) (occ.Version, error) {
	cur, ok := m.licences[l.ID]
	if !ok {
		return 0, occ.ErrNotFound
	}
	if cur.Version != expected {
		return 0, occ.ErrVersionMismatch
	}
	cp := *l
	cp.Version = expected + 1
	m.licences[l.ID] = &cp
	return cp.Version, nil
}

func (m *mockRepo) CreateType(_ context.Context, t *LicenceType) error {
	t.ID = uuid.New()
	m.types[t.ID] = t
	return nil
}

func (m *mockRepo) GetType(_ context.Context, id uuid.UUID) (*LicenceType, error) {
	t, ok := m.types[id]
	if !ok {
		return nil, occ.ErrNotFound
	}
	return t, nil
}

func (m *mockRepo) ListTypes(_ context.Context) ([]*LicenceType, error) {
	var out []*LicenceType
	for _, t := range m.types {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockRepo) AddMapping(_ context.Context, mp *SubstanceMapping) error {
	mp.ID = uuid.New()
	m.mappings[mp.ID] = mp
	return nil
}

func (m *mockRepo) RemoveMapping(_ context.Context, id uuid.UUID) error {
	if _, ok := m.mappings[id]; !ok {
		return occ.ErrNotFound
	}
	delete(m.mappings, id)
	return nil
}

func (m *mockRepo) MappingsByLicence(_ context.Context, licenceID uuid.UUID) ([]*SubstanceMapping, error) {
	var out []*SubstanceMapping
	for _, mp := range m.mappings {
		if mp.LicenceID == licenceID {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *mockRepo) MappingsBySubstance(_ context.Context, code string) ([]*SubstanceMapping, error) {
	var out []*SubstanceMapping
	for _, mp := range m.mappings {
		if mp.SubstanceCode == code {
			out = append(out, mp)
		}
	}
	return out, nil
}

func newTestService() (*Service, *mockRepo, *audit.MemRecorder) {
	repo := newMockRepo()
	rec := audit.NewMemRecorder()
	trail := audit.NewTrail(rec, zerolog.Nop())
	svc := NewService(repo, occ.NewGuard(), trail)
	return svc, repo, rec
}

func validLicence() *Licence {
	return &Licence{
		Number:     "CD-2026-001",
		HolderKind: HolderCustomer,
		HolderID:   "CUST-1",
		Authority:  "Farmatec",
		IssueDate:  day("2025-01-01"),
		ExpiryDate: day("2027-01-01"),
		Activities: ActivityPossess | ActivityStore | ActivityDistribute,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()

	l := validLicence()
	l.Activities = 0
	if err := svc.Create(context.Background(), "tester", l); err == nil {
		t.Error("expected error for empty activity set")
	}

	l = validLicence()
	l.HolderKind = "warehouse"
	if err := svc.Create(context.Background(), "tester", l); err == nil {
		t.Error("expected error for unknown holder kind")
	}

	l = validLicence()
	if err := svc.Create(context.Background(), "tester", l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if l.Status != StatusValid {
		t.Errorf("new licence status = %q, want %q", l.Status, StatusValid)
	}
}

func TestSuspendAndReinstate(t *testing.T) {
	svc, _, rec := newTestService()

	l := validLicence()
	if err := svc.Create(context.Background(), "officer-1", l); err != nil {
		t.Fatalf("create: %v", err)
	}

	suspended, v, err := svc.Suspend(context.Background(), "officer-1", l.ID, 1)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if suspended.Status != StatusSuspended || v != 2 {
		t.Errorf("after suspend: status=%q version=%d", suspended.Status, v)
	}

	// Reinstating with the stale version must conflict.
	if _, _, err := svc.Reinstate(context.Background(), "officer-1", l.ID, 1); err == nil {
		t.Fatal("expected conflict with stale version")
	} else if _, ok := occ.AsConflict(err); !ok {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	reinstated, v, err := svc.Reinstate(context.Background(), "officer-1", l.ID, 2)
	if err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	if reinstated.Status != StatusValid || v != 3 {
		t.Errorf("after reinstate: status=%q version=%d", reinstated.Status, v)
	}

	events := rec.Events()
	if len(events) < 3 {
		t.Errorf("expected audit events for create+suspend+reinstate, got %d", len(events))
	}
}

func TestReinstateRequiresSuspended(t *testing.T) {
	svc, _, _ := newTestService()

	l := validLicence()
	if err := svc.Create(context.Background(), "officer-1", l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Reinstate(context.Background(), "officer-1", l.ID, 1); err == nil {
		t.Error("expected error reinstating a licence that is not suspended")
	}
}

func TestRevokeIsTerminal(t *testing.T) {
	svc, _, _ := newTestService()

	l := validLicence()
	if err := svc.Create(context.Background(), "officer-1", l); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Revoke(context.Background(), "officer-1", l.ID, 1); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, _, err := svc.Revoke(context.Background(), "officer-1", l.ID, 2); err == nil {
		t.Error("expected error revoking an already revoked licence")
	}
}

func TestAddMappingClampsToLicenceExpiry(t *testing.T) {
	svc, repo, _ := newTestService()

	l := validLicence()
	if err := svc.Create(context.Background(), "officer-1", l); err != nil {
		t.Fatalf("create: %v", err)
	}

	beyond := l.ExpiryDate.AddDate(1, 0, 0)
	err := svc.AddMapping(context.Background(), "officer-1", &SubstanceMapping{
		LicenceID:     l.ID,
		SubstanceCode: "SUB-1",
		EffectiveFrom: day("2026-01-01"),
		EffectiveTo:   &beyond,
	})
	if err == nil {
		t.Fatal("expected error for window past licence expiry")
	}

	err = svc.AddMapping(context.Background(), "officer-1", &SubstanceMapping{
		LicenceID:     l.ID,
		SubstanceCode: "SUB-1",
		EffectiveFrom: day("2026-01-01"),
	})
	if err != nil {
		t.Fatalf("add mapping: %v", err)
	}

	mappings, _ := repo.MappingsByLicence(context.Background(), l.ID)
	if len(mappings) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mappings))
	}
	if mappings[0].EffectiveTo == nil || !mappings[0].EffectiveTo.Equal(l.ExpiryDate) {
		t.Errorf("open mapping not clamped to expiry: %v", mappings[0].EffectiveTo)
	}
}

func TestGetComputesEffectiveStatus(t *testing.T) {
	svc, repo, _ := newTestService()

	l := validLicence()
	l.IssueDate = time.Now().UTC().AddDate(-2, 0, 0)
	l.ExpiryDate = time.Now().UTC().AddDate(0, 0, -1)
	if err := svc.Create(context.Background(), "officer-1", l); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Stored status remains Valid; expiry is derived on read.
	if repo.licences[l.ID].Status != StatusValid {
		t.Fatalf("stored status should stay %q", StatusValid)
	}

	got, err := svc.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("effective status = %q, want %q", got.Status, StatusExpired)
	}
}
