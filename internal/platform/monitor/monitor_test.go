package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/webhook"
)

type stubLicences struct{ expired []*licence.Licence }

func (s *stubLicences) ExpiringBefore(context.Context, time.Time) ([]*licence.Licence, error) {
	return s.expired, nil
}

type stubCustomers struct{ due []*customer.Customer }

func (s *stubCustomers) ReVerificationDue(context.Context) ([]*customer.Customer, error) {
	return s.due, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []webhook.Event
}

func (n *captureNotifier) Dispatch(_ context.Context, ev webhook.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) Events() []webhook.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]webhook.Event, len(n.events))
	copy(out, n.events)
	return out
}

func TestSweepRaisesExpiryAndReVerification(t *testing.T) {
	expired := &licence.Licence{
		ID:         uuid.New(),
		Number:     "NL-OLD-001",
		Status:     licence.StatusValid,
		ExpiryDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	due := &customer.Customer{
		AccountID:        "CUST-1",
		DataAreaID:       "nl01",
		GDPQualification: customer.GDPLapsed,
	}

	notifier := &captureNotifier{}
	recorder := audit.NewMemRecorder()
	m := New(&stubLicences{expired: []*licence.Licence{expired}},
		&stubCustomers{due: []*customer.Customer{due}},
		notifier, audit.NewTrail(recorder, zerolog.Nop()), time.Hour, zerolog.Nop())

	m.RunOnce(context.Background())

	events := notifier.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	types := map[string]bool{}
	for _, ev := range events {
		types[ev.Type] = true
	}
	if !types[webhook.EventLicenceExpired] || !types[webhook.EventReVerificationDue] {
		t.Errorf("event types = %v", types)
	}

	audits := recorder.Events()
	if len(audits) != 2 {
		t.Fatalf("audit events = %d, want 2", len(audits))
	}
	for _, ev := range audits {
		if ev.Actor != "monitor" {
			t.Errorf("actor = %q, want monitor", ev.Actor)
		}
	}
}

func TestSweepDoesNotReRaise(t *testing.T) {
	expired := &licence.Licence{
		ID:         uuid.New(),
		Status:     licence.StatusValid,
		ExpiryDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	notifier := &captureNotifier{}
	m := New(&stubLicences{expired: []*licence.Licence{expired}},
		&stubCustomers{}, notifier,
		audit.NewTrail(audit.NewMemRecorder(), zerolog.Nop()), time.Hour, zerolog.Nop())

	m.RunOnce(context.Background())
	m.RunOnce(context.Background())

	if got := len(notifier.Events()); got != 1 {
		t.Errorf("events after two sweeps = %d, want 1", got)
	}
}
