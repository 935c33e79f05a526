package webhook

import (
	"context"
	"fmt"
	"sync"
)

// Store is the persistence interface for subscriptions and deliveries.
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, limit, offset int) ([]*Subscription, int, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error

	SaveDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id string) (*Delivery, error)
	// PendingDeliveries returns deliveries whose next attempt is still owed,
	// used to resume the retry queue after a restart.
	PendingDeliveries(ctx context.Context) ([]*Delivery, error)
	ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error)
	// ListMissed returns exhausted deliveries for the subscription so
	// subscribers can pull events they never received.
	ListMissed(ctx context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error)
}

// MemStore is a thread-safe, in-memory Store.
type MemStore struct {
	mu            sync.RWMutex
	subs          map[string]*Subscription
	deliveries    map[string]*Delivery
	subOrder      []string
	deliveryOrder []string
}

func NewMemStore() *MemStore {
	return &MemStore{
		subs:       make(map[string]*Subscription),
		deliveries: make(map[string]*Delivery),
	}
}

func (s *MemStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	s.subOrder = append(s.subOrder, sub.ID)
	return nil
}

func (s *MemStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemStore) ListSubscriptions(_ context.Context, limit, offset int) ([]*Subscription, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Subscription
	for _, id := range s.subOrder {
		if sub := s.subs[id]; sub != nil {
			cp := *sub
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= total {
		return []*Subscription{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *MemStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *MemStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(s.subs, id)
	for i, sid := range s.subOrder {
		if sid == id {
			s.subOrder = append(s.subOrder[:i], s.subOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemStore) SaveDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		s.deliveryOrder = append(s.deliveryOrder, d.ID)
	}
	cp := *d
	s.deliveries[d.ID] = &cp
	return nil
}

func (s *MemStore) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, fmt.Errorf("delivery %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) PendingDeliveries(_ context.Context) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Delivery
	for _, id := range s.deliveryOrder {
		if d := s.deliveries[id]; d != nil && d.Status == DeliveryPending {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) ListDeliveries(_ context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return s.listByStatus(subscriptionID, "", limit, offset)
}

func (s *MemStore) ListMissed(_ context.Context, subscriptionID string, limit, offset int) ([]*Delivery, int, error) {
	return s.listByStatus(subscriptionID, DeliveryExhausted, limit, offset)
}

func (s *MemStore) listByStatus(subscriptionID, status string, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var filtered []*Delivery
	for _, id := range s.deliveryOrder {
		d := s.deliveries[id]
		if d == nil || d.SubscriptionID != subscriptionID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		filtered = append(filtered, &cp)
	}
	total := len(filtered)
	if offset >= total {
		return []*Delivery{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}
