package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/tournevent/fulfillment/pkg/shipper"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	updates []ShippingUpdate

	// UpdateErr, when set, fails every UpdateShipping call.
	UpdateErr error
}

// NewMemoryStore creates a store seeded with orders.
func NewMemoryStore(seed ...Order) *MemoryStore {
	s := &MemoryStore{orders: make(map[string]Order)}
	for _, o := range seed {
		s.orders[o.ID] = o
	}
	return s
}

// Put inserts or replaces an order.
func (s *MemoryStore) Put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

// GetOrder returns a copy of the order.
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shipper.ErrOrderNotFound, id)
	}
	o.Items = append([]Item(nil), o.Items...)
	if o.Billing != nil {
		b := *o.Billing
		o.Billing = &b
	}
	return &o, nil
}

// UpdateShipping applies the update.
func (s *MemoryStore) UpdateShipping(ctx context.Context, id string, u ShippingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", shipper.ErrOrderNotFound, id)
	}
	o.Status = u.Status
	o.TrackingNumber = u.TrackingNumber
	o.ProviderOrderID = u.ProviderOrderID
	o.ProviderShipmentID = u.ProviderShipmentID
	s.orders[id] = o
	return nil
}

// Updates returns every UpdateShipping call received, including failed ones.
func (s *MemoryStore) Updates() []ShippingUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ShippingUpdate(nil), s.updates...)
}

var _ Store = (*MemoryStore)(nil)
