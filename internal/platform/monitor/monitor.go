// Package monitor runs the periodic compliance sweeps: licence expiry and
// customer re-verification. It only reads through the domain services and
// raises webhook events plus audit entries; no business rules live here.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pharmos/compliance/internal/domain/customer"
	"github.com/pharmos/compliance/internal/domain/licence"
	"github.com/pharmos/compliance/internal/platform/audit"
	"github.com/pharmos/compliance/internal/platform/occ"
	"github.com/pharmos/compliance/internal/platform/webhook"
)

type LicenceSource interface {
	ExpiringBefore(ctx context.Context, cutoff time.Time) ([]*licence.Licence, error)
}

type CustomerSource interface {
	ReVerificationDue(ctx context.Context) ([]*customer.Customer, error)
}

type Notifier interface {
	Dispatch(ctx context.Context, ev webhook.Event) error
}

type Monitor struct {
	licences  LicenceSource
	customers CustomerSource
	notifier  Notifier
	trail     *audit.Trail
	interval  time.Duration
	logger    zerolog.Logger

	// raised dedupes events within one process lifetime so a licence is
	// not re-announced on every sweep.
	mu     sync.Mutex
	raised map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

func New(licences LicenceSource, customers CustomerSource, notifier Notifier,
	trail *audit.Trail, interval time.Duration, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Monitor{
		licences:  licences,
		customers: customers,
		notifier:  notifier,
		trail:     trail,
		interval:  interval,
		logger:    logger,
		raised:    make(map[string]bool),
		done:      make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs after one interval.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.RunOnce(ctx)
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Monitor) Close() {
	close(m.done)
	m.wg.Wait()
}

// RunOnce performs one sweep of both scans.
func (m *Monitor) RunOnce(ctx context.Context) {
	m.scanLicences(ctx)
	m.scanCustomers(ctx)
}

func (m *Monitor) scanLicences(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := m.licences.ExpiringBefore(ctx, now)
	if err != nil {
		m.logger.Error().Err(err).Msg("licence expiry scan failed")
		return
	}
	for _, l := range expired {
		key := "licence:" + l.ID.String()
		if !m.mark(key) {
			continue
		}
		ref := occ.EntityRef{Kind: occ.EntityLicence, ID: l.ID.String()}
		m.dispatch(ctx, webhook.Event{
			Type:       webhook.EventLicenceExpired,
			EntityKind: occ.EntityLicence,
			EntityID:   l.ID.String(),
			NewStatus:  licence.StatusExpired,
		})
		m.trail.Append(ctx, "monitor", "licence.expired", ref, nil, l)
		m.logger.Warn().
			Str("licence_id", l.ID.String()).
			Str("number", l.Number).
			Time("expiry_date", l.ExpiryDate).
			Msg("licence expired")
	}
}

func (m *Monitor) scanCustomers(ctx context.Context) {
	due, err := m.customers.ReVerificationDue(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("re-verification scan failed")
		return
	}
	for _, c := range due {
		key := "customer:" + c.Key()
		if !m.mark(key) {
			continue
		}
		ref := occ.EntityRef{Kind: occ.EntityCustomer, ID: c.Key()}
		m.dispatch(ctx, webhook.Event{
			Type:       webhook.EventReVerificationDue,
			EntityKind: occ.EntityCustomer,
			EntityID:   c.Key(),
			NewStatus:  c.GDPQualification,
		})
		m.trail.Append(ctx, "monitor", "customer.reverification-due", ref, nil, c)
		m.logger.Warn().
			Str("customer", c.Key()).
			Msg("customer re-verification overdue")
	}
}

func (m *Monitor) mark(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raised[key] {
		return false
	}
	m.raised[key] = true
	return true
}

func (m *Monitor) dispatch(ctx context.Context, ev webhook.Event) {
	if err := m.notifier.Dispatch(ctx, ev); err != nil {
		m.logger.Error().Err(err).Str("event_type", ev.Type).Msg("monitor event dispatch failed")
	}
}
