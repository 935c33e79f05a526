package threshold

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockRepo struct {
	thresholds map[uuid.UUID]*Threshold
	usage      map[string]Usage
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		thresholds: make(map[uuid.UUID]*Threshold),
		usage:      make(map[string]Usage),
	}
}

func key(customerID, substanceCode string) string { return customerID + ":" + substanceCode }

func (m *mockRepo) Create(_ context.Context, t *Threshold) error {
	t.ID = uuid.New()
	m.thresholds[t.ID] = t
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Threshold, error) {
	t, ok := m.thresholds[id]
	if !ok {
		return nil, fmt.Errorf("threshold not found")
	}
	return t, nil
}

func (m *mockRepo) ForCustomerSubstance(_ context.Context, customerID, substanceCode string) ([]*Threshold, error) {
	var out []*Threshold
	for _, t := range m.thresholds {
		if t.CustomerID == customerID && t.SubstanceCode == substanceCode {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Threshold, int, error) {
	var out []*Threshold
	for _, t := range m.thresholds {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (m *mockRepo) Update(_ context.Context, t *Threshold) error {
	m.thresholds[t.ID] = t
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.thresholds, id)
	return nil
}

func (m *mockRepo) UsageSince(_ context.Context, customerID, substanceCode string, _ time.Time) (Usage, error) {
	return m.usage[key(customerID, substanceCode)], nil
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(newMockRepo())

	bad := []*Threshold{
		{SubstanceCode: "SUB-1", Kind: KindMonthlyQuantity, Limit: decimal.NewFromInt(100), WindowDays: 30},
		{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: "weekly", Limit: decimal.NewFromInt(100), WindowDays: 30},
		{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: KindMonthlyQuantity, Limit: decimal.Zero, WindowDays: 30},
		{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: KindMonthlyQuantity, Limit: decimal.NewFromInt(100), WindowDays: 0},
	}
	for i, th := range bad {
		if err := svc.Create(context.Background(), th); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	ok := &Threshold{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: KindMonthlyQuantity,
		Limit: decimal.NewFromInt(100), Unit: "g", WindowDays: 30}
	if err := svc.Create(context.Background(), ok); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestCheckQuantityThreshold(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	th := &Threshold{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: KindMonthlyQuantity,
		Limit: decimal.NewFromInt(100), Unit: "g", WindowDays: 30}
	if err := svc.Create(context.Background(), th); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.usage[key("C1", "SUB-1")] = Usage{Quantity: decimal.NewFromInt(80), Count: 4}

	findings, err := svc.Check(context.Background(), "C1", "SUB-1",
		Usage{Quantity: decimal.NewFromInt(30), Count: 1})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(findings) != 1 || !findings[0].Exceeded {
		t.Fatalf("expected one exceeded finding, got %+v", findings)
	}

	// 80 + 20 == 100 is at, not over, the limit.
	findings, err = svc.Check(context.Background(), "C1", "SUB-1",
		Usage{Quantity: decimal.NewFromInt(20), Count: 1})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if findings[0].Exceeded {
		t.Error("reaching the limit exactly should not count as exceeded")
	}
}

func TestCheckFrequencyThreshold(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)

	th := &Threshold{CustomerID: "C1", SubstanceCode: "SUB-1", Kind: KindAnnualFrequency,
		Limit: decimal.NewFromInt(12), Unit: "orders", WindowDays: 365}
	if err := svc.Create(context.Background(), th); err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.usage[key("C1", "SUB-1")] = Usage{Quantity: decimal.NewFromInt(500), Count: 12}

	findings, err := svc.Check(context.Background(), "C1", "SUB-1", Usage{Count: 1})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !findings[0].Exceeded {
		t.Error("13th order in a 12-order window should exceed")
	}
}

func TestCheckNoThresholds(t *testing.T) {
	svc := NewService(newMockRepo())

	findings, err := svc.Check(context.Background(), "C1", "SUB-1", Usage{Quantity: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("expected no findings without configuration, got %d", len(findings))
	}
}
