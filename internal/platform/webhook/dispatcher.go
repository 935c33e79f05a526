package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// subscriptionPage is the batch size Dispatch uses when walking the
// subscription store.
const subscriptionPage = 200

// AlertSink receives administrator alerts raised by the dispatcher.
type AlertSink interface {
	Raise(ctx context.Context, alert Alert)
}

// AlertSinkFunc is a function adapter for AlertSink.
type AlertSinkFunc func(ctx context.Context, alert Alert)

func (f AlertSinkFunc) Raise(ctx context.Context, alert Alert) { f(ctx, alert) }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the default HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithRetrySchedule overrides the attempt schedule. The slice length is the
// total number of attempts; entry i is the delay before attempt i+1.
func WithRetrySchedule(delays []time.Duration) Option {
	return func(d *Dispatcher) { d.schedule = delays }
}

// WithAlertSink overrides where exhaustion alerts are raised.
func WithAlertSink(sink AlertSink) Option {
	return func(d *Dispatcher) { d.alerts = sink }
}

// Dispatcher fans compliance events out to matching subscriptions.
// Dispatch enqueues and returns immediately; delivery attempts and their
// retries run on independent timers off the request path.
type Dispatcher struct {
	store      Store
	httpClient *http.Client
	schedule   []time.Duration
	alerts     AlertSink
	logger     zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher creates a Dispatcher with the production retry schedule:
// attempts fire 10s, 60s and 300s after the previous step, three in total.
func NewDispatcher(store Store, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		schedule:   []time.Duration{10 * time.Second, 60 * time.Second, 300 * time.Second},
		logger:     logger,
		timers:     make(map[string]*time.Timer),
	}
	d.alerts = AlertSinkFunc(func(_ context.Context, alert Alert) {
		d.logger.Error().
			Str("target", alert.Target).
			Str("subscription_id", alert.SubscriptionID).
			Msg(alert.Message)
	})
	for _, o := range opts {
		o(d)
	}
	return d
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validateCallbackURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

// Subscribe validates and persists a new subscription. If secret is empty, a
// cryptographically random one is generated.
func (d *Dispatcher) Subscribe(ctx context.Context, rawURL, secret string, eventTypes []string) (*Subscription, error) {
	if err := validateCallbackURL(rawURL); err != nil {
		return nil, err
	}
	if len(eventTypes) == 0 {
		return nil, fmt.Errorf("at least one event type filter is required")
	}
	if secret == "" {
		s, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
		secret = s
	}

	sub := &Subscription{
		ID:         uuid.New().String(),
		URL:        rawURL,
		Secret:     secret,
		EventTypes: eventTypes,
		Status:     StatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Deactivate stops a subscription; scheduled attempts for it are skipped.
func (d *Dispatcher) Deactivate(ctx context.Context, id string) error {
	sub, err := d.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Status = StatusInactive
	return d.store.UpdateSubscription(ctx, sub)
}

// Reactivate marks a subscription active and clears its failure counter.
func (d *Dispatcher) Reactivate(ctx context.Context, id string) error {
	sub, err := d.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Status = StatusActive
	sub.ConsecutiveFailures = 0
	return d.store.UpdateSubscription(ctx, sub)
}

// Dispatch enqueues one delivery per subscription matching the event type
// and returns immediately. Unhealthy subscriptions are included: they get
// new events, just not a replay of the ones they missed.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	for offset := 0; ; offset += subscriptionPage {
		subs, total, err := d.store.ListSubscriptions(ctx, subscriptionPage, offset)
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}

		for _, sub := range subs {
			if sub.Status == StatusInactive || !sub.Subscribed(ev.Type) {
				continue
			}
			delivery := &Delivery{
				ID:             uuid.New().String(),
				SubscriptionID: sub.ID,
				EventID:        ev.ID,
				EventType:      ev.Type,
				Payload:        payload,
				Signature:      SignPayload(payload, sub.Secret),
				Attempt:        0,
				NextAttemptAt:  time.Now().UTC().Add(d.schedule[0]),
				Status:         DeliveryPending,
				CreatedAt:      time.Now().UTC(),
			}
			if err := d.store.SaveDelivery(ctx, delivery); err != nil {
				d.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("persist delivery")
				continue
			}
			d.arm(delivery.ID, d.schedule[0])
		}

		if len(subs) == 0 || offset+len(subs) >= total {
			return nil
		}
	}
}

// Resume reloads pending deliveries from the store and re-arms their timers.
// Called once at startup so retries survive process restarts.
func (d *Dispatcher) Resume(ctx context.Context) error {
	pending, err := d.store.PendingDeliveries(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, del := range pending {
		delay := del.NextAttemptAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		d.arm(del.ID, delay)
	}
	return nil
}

// Close cancels all armed timers and waits for in-flight attempts.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) arm(deliveryID string, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.wg.Add(1)
	d.timers[deliveryID] = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		delete(d.timers, deliveryID)
		d.mu.Unlock()
		d.attempt(context.Background(), deliveryID)
	})
}

// attempt performs one delivery attempt and schedules the next on failure.
func (d *Dispatcher) attempt(ctx context.Context, deliveryID string) {
	del, err := d.store.GetDelivery(ctx, deliveryID)
	if err != nil || del.Status != DeliveryPending {
		return
	}

	sub, err := d.store.GetSubscription(ctx, del.SubscriptionID)
	if err != nil {
		return
	}
	// Subscription went inactive between scheduling and firing.
	if sub.Status == StatusInactive {
		return
	}

	del.Attempt++
	statusCode, attemptErr := d.post(ctx, sub, del)
	del.StatusCode = statusCode

	if attemptErr == nil {
		now := time.Now().UTC()
		del.Status = DeliverySuccess
		del.Error = ""
		del.CompletedAt = &now
		_ = d.store.SaveDelivery(ctx, del)

		if sub.ConsecutiveFailures != 0 || sub.Status == StatusUnhealthy {
			sub.ConsecutiveFailures = 0
			sub.Status = StatusActive
			_ = d.store.UpdateSubscription(ctx, sub)
		}
		return
	}

	del.Error = attemptErr.Error()
	sub.ConsecutiveFailures++

	if del.Attempt >= len(d.schedule) {
		now := time.Now().UTC()
		del.Status = DeliveryExhausted
		del.CompletedAt = &now
		_ = d.store.SaveDelivery(ctx, del)

		wasHealthy := sub.Status != StatusUnhealthy
		sub.Status = StatusUnhealthy
		_ = d.store.UpdateSubscription(ctx, sub)

		// One alert per exhaustion, not one per attempt.
		if wasHealthy {
			d.alerts.Raise(ctx, Alert{
				Target:         "SystemAdmin",
				SubscriptionID: sub.ID,
				Message: fmt.Sprintf("webhook subscription %s marked unhealthy after %d failed deliveries of event %s",
					sub.ID, del.Attempt, del.EventID),
				At: time.Now().UTC(),
			})
		}
		d.logger.Warn().
			Str("subscription_id", sub.ID).
			Str("event_id", del.EventID).
			Int("attempts", del.Attempt).
			Msg("webhook delivery exhausted")
		return
	}

	delay := d.schedule[del.Attempt]
	del.NextAttemptAt = time.Now().UTC().Add(delay)
	_ = d.store.SaveDelivery(ctx, del)
	_ = d.store.UpdateSubscription(ctx, sub)
	d.arm(del.ID, delay)
}

func (d *Dispatcher) post(ctx context.Context, sub *Subscription, del *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(del.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Compliance-Signature", "sha256="+del.Signature)
	req.Header.Set("X-Compliance-Event", del.EventType)
	req.Header.Set("X-Compliance-Delivery", del.ID)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Read at most 1KB so a chatty subscriber cannot bloat the log.
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
