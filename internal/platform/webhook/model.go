// Package webhook delivers compliance events to subscribed systems with
// HMAC-SHA256 signed payloads, at-least-once semantics, and a bounded,
// persisted retry schedule.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/pharmos/compliance/internal/platform/occ"
)

// Event types fanned out by the dispatcher.
const (
	EventComplianceStatusChanged = "ComplianceStatusChanged"
	EventLicenceExpired          = "LicenceExpired"
	EventReclassificationDone    = "ReclassificationCompleted"
	EventReVerificationDue       = "CustomerReVerificationDue"
	EventTest                    = "webhook.test"
)

// Subscription statuses.
const (
	StatusActive    = "active"
	StatusUnhealthy = "unhealthy"
	StatusInactive  = "inactive"
)

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliverySuccess   = "success"
	DeliveryExhausted = "exhausted"
)

// Subscription is a registered webhook destination.
type Subscription struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Secret              string    `json:"secret,omitempty"`
	EventTypes          []string  `json:"event_types"`
	Status              string    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
}

// Subscribed reports whether the subscription's filter matches eventType.
// Filters are exact event types or the wildcard "*".
func (s *Subscription) Subscribed(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}

// Event is one compliance event to be fanned out.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityKind occ.EntityKind `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	NewStatus  string         `json:"new_status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Delivery tracks the attempts to deliver one event to one subscription.
// Attempt count and next-fire timestamp are persisted so retries survive
// process restarts.
type Delivery struct {
	ID            string          `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Signature     string          `json:"signature"`
	Attempt       int             `json:"attempt"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	Status        string          `json:"status"`
	StatusCode    int             `json:"status_code,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// Alert is raised for the platform administrators when a subscription
// exhausts its retries.
type Alert struct {
	Target         string    `json:"target"`
	SubscriptionID string    `json:"subscription_id"`
	Message        string    `json:"message"`
	At             time.Time `json:"at"`
}
