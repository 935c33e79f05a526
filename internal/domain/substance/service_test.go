package substance

import (
	"context"
	"sort"
	"testing"
	"time"
)

type mockRepo struct {
	subs    map[string]*ControlledSubstance
	history map[string][]*ClassificationRecord
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		subs:    make(map[string]*ControlledSubstance),
		history: make(map[string][]*ClassificationRecord),
	}
}

func (m *mockRepo) Create(_ context.Context, s *ControlledSubstance) error {
	m.subs[s.Code] = s
	return nil
}

func (m *mockRepo) GetByCode(_ context.Context, code string) (*ControlledSubstance, error) {
	s, ok := m.subs[code]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) Update(_ context.Context, s *ControlledSubstance) error {
	if _, ok := m.subs[s.Code]; !ok {
		return ErrNotFound
	}
	m.subs[s.Code] = s
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*ControlledSubstance, int, error) {
	var out []*ControlledSubstance
	for _, s := range m.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, len(out), nil
}

func (m *mockRepo) AppendClassification(_ context.Context, rec *ClassificationRecord) error {
	m.history[rec.SubstanceCode] = append(m.history[rec.SubstanceCode], rec)
	return nil
}

func (m *mockRepo) ClassificationAt(_ context.Context, code string, asOf time.Time) (*ClassificationRecord, error) {
	var best *ClassificationRecord
	for _, rec := range m.history[code] {
		if rec.EffectiveFrom.After(asOf) {
			continue
		}
		if best == nil || rec.EffectiveFrom.After(best.EffectiveFrom) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func (m *mockRepo) History(_ context.Context, code string) ([]*ClassificationRecord, error) {
	return m.history[code], nil
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCreateRequiresClassification(t *testing.T) {
	svc := NewService(newMockRepo())

	err := svc.Create(context.Background(), &ControlledSubstance{
		Code:                    "SUB-1",
		OpiumListClassification: OpiumNone,
		PrecursorCategory:       PrecursorNone,
	})
	if err == nil {
		t.Fatal("expected error for substance with no classification")
	}
}

func TestCreateRejectsUnknownClassification(t *testing.T) {
	svc := NewService(newMockRepo())

	err := svc.Create(context.Background(), &ControlledSubstance{
		Code:                    "SUB-1",
		OpiumListClassification: "list-IX",
		PrecursorCategory:       PrecursorNone,
	})
	if err == nil {
		t.Fatal("expected error for invalid opium list value")
	}
}

func TestCreateSeedsClassificationHistory(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	err := svc.Create(context.Background(), &ControlledSubstance{
		Code:                    "SUB-1",
		Name:                    "Morphine",
		OpiumListClassification: OpiumListI,
		PrecursorCategory:       PrecursorNone,
		EffectiveDate:           date("2020-01-01"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	history, _ := repo.History(context.Background(), "SUB-1")
	if len(history) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(history))
	}
	if history[0].OpiumList != OpiumListI {
		t.Errorf("seeded history opium list = %q, want %q", history[0].OpiumList, OpiumListI)
	}
}

func TestEffectiveClassificationIsNotRetroactive(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	err := svc.Create(context.Background(), &ControlledSubstance{
		Code:                    "SUB-1",
		OpiumListClassification: OpiumListII,
		PrecursorCategory:       PrecursorNone,
		EffectiveDate:           date("2020-01-01"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Reclassified to list-I effective 2026-03-01.
	err = repo.AppendClassification(context.Background(), &ClassificationRecord{
		SubstanceCode: "SUB-1",
		OpiumList:     OpiumListI,
		Precursor:     PrecursorNone,
		EffectiveFrom: date("2026-03-01"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	before, err := svc.EffectiveClassification(context.Background(), "SUB-1", date("2026-02-15"))
	if err != nil {
		t.Fatalf("effective classification before: %v", err)
	}
	if before.OpiumList != OpiumListII {
		t.Errorf("classification at 2026-02-15 = %q, want %q", before.OpiumList, OpiumListII)
	}

	after, err := svc.EffectiveClassification(context.Background(), "SUB-1", date("2026-03-02"))
	if err != nil {
		t.Fatalf("effective classification after: %v", err)
	}
	if after.OpiumList != OpiumListI {
		t.Errorf("classification at 2026-03-02 = %q, want %q", after.OpiumList, OpiumListI)
	}
}

func TestUpdateDoesNotTouchClassification(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	err := svc.Create(context.Background(), &ControlledSubstance{
		Code:                    "SUB-1",
		Name:                    "Old name",
		OpiumListClassification: OpiumListI,
		PrecursorCategory:       PrecursorNone,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, err := svc.Update(context.Background(), "SUB-1", "New name", false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if sub.Name != "New name" || sub.Active {
		t.Errorf("update did not apply: %+v", sub)
	}
	if sub.OpiumListClassification != OpiumListI {
		t.Errorf("classification changed through update: %q", sub.OpiumListClassification)
	}
	history, _ := repo.History(context.Background(), "SUB-1")
	if len(history) != 1 {
		t.Errorf("update appended history, got %d records", len(history))
	}
}
