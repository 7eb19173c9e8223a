package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and local development.
type Memory struct {
	mu          sync.RWMutex
	orders      map[string]Order
	notes       map[string][]string
	instruments map[string]PaymentInstrument // keyed by instrument id
	defaults    map[int64]string             // customer id -> default instrument id
	now         func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:      make(map[string]Order),
		notes:       make(map[string][]string),
		instruments: make(map[string]PaymentInstrument),
		defaults:    make(map[int64]string),
		now:         time.Now,
	}
}

// PutOrder seeds or replaces an order.
func (m *Memory) PutOrder(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.Authorization != nil {
		auth := *o.Authorization
		o.Authorization = &auth
	}
	m.orders[o.ID] = o
}

// Notes returns the notes appended to an order.
func (m *Memory) Notes(orderID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.notes[orderID]...)
}

// Instruments returns all saved instruments for a customer.
func (m *Memory) Instruments(customerID int64) []PaymentInstrument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []PaymentInstrument
	for _, inst := range m.instruments {
		if inst.CustomerID == customerID {
			out = append(out, inst)
		}
	}
	return out
}

// DefaultInstrument returns the customer's default instrument id.
func (m *Memory) DefaultInstrument(customerID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults[customerID]
}

// GetOrder implements Store.
func (m *Memory) GetOrder(_ context.Context, orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetOrderByCaptureID implements Store.
func (m *Memory) GetOrderByCaptureID(_ context.Context, captureID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.CaptureID == captureID {
			return cloneOrder(o), nil
		}
	}
	return Order{}, ErrNotFound
}

// OrdersWithOpenAuthorization implements Store.
func (m *Memory) OrdersWithOpenAuthorization(_ context.Context, customerID int64) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var out []Order
	for _, o := range m.orders {
		if o.CustomerID == customerID && o.Authorization.Open(now) {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

// UpdateOrderStatus implements Store.
func (m *Memory) UpdateOrderStatus(_ context.Context, orderID string, status OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	m.orders[orderID] = o
	return nil
}

// AppendOrderNote implements Store.
func (m *Memory) AppendOrderNote(_ context.Context, orderID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return ErrNotFound
	}
	m.notes[orderID] = append(m.notes[orderID], note)
	return nil
}

// MarkAuthorizationCaptured implements Store.
func (m *Memory) MarkAuthorizationCaptured(_ context.Context, orderID, captureID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Authorization != nil {
		auth := *o.Authorization
		auth.Status = AuthorizationCaptured
		o.Authorization = &auth
	}
	o.CaptureID = captureID
	m.orders[orderID] = o
	return nil
}

// SavePaymentInstrument implements Store. Instruments are upserted by
// (customer, provider token) so redelivery never creates duplicate rows.
func (m *Memory) SavePaymentInstrument(_ context.Context, inst PaymentInstrument) (string, error) {
	if inst.Token == "" {
		return "", fmt.Errorf("store: instrument token is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.instruments {
		if existing.CustomerID == inst.CustomerID && existing.Token == inst.Token {
			inst.ID = id
			m.instruments[id] = inst
			return id, nil
		}
	}
	inst.ID = uuid.NewString()
	m.instruments[inst.ID] = inst
	return inst.ID, nil
}

// DeletePaymentInstrument implements Store.
func (m *Memory) DeletePaymentInstrument(_ context.Context, customerID int64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, inst := range m.instruments {
		if inst.CustomerID == customerID && inst.Token == token {
			delete(m.instruments, id)
			if m.defaults[customerID] == id {
				delete(m.defaults, customerID)
			}
			return nil
		}
	}
	return ErrNotFound
}

// SetDefaultPaymentInstrument implements Store.
func (m *Memory) SetDefaultPaymentInstrument(_ context.Context, customerID int64, instrumentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instruments[instrumentID]; !ok {
		return ErrNotFound
	}
	m.defaults[customerID] = instrumentID
	return nil
}

func cloneOrder(o Order) Order {
	if o.Authorization != nil {
		auth := *o.Authorization
		o.Authorization = &auth
	}
	return o
}
