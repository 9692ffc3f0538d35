package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/models"
)

// ErrStaleStatus is returned by ApplyTransition when the order is no longer
// in the status the caller based its decision on.
var ErrStaleStatus = errors.New("order status changed concurrently")

// OrderStore is the persistence collaborator the realtime core consumes.
// Unknown ids yield an apperr NotFound error.
type OrderStore interface {
	GetOrder(ctx context.Context, id string) (models.OrderView, error)
	DriverExists(ctx context.Context, id string) (bool, error)
	// ApplyTransition moves the order from -> to if it is still in from,
	// recording the change in its history. A non-empty driverID sets the
	// assigned driver.
	ApplyTransition(ctx context.Context, id string, from, to models.Status, driverID string, at time.Time) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]*models.Order
	drivers map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order), drivers: make(map[string]struct{})}
}

// SaveOrder inserts or replaces an order. A new order without history gets
// its current status as the first entry.
func (m *MemoryStore) SaveOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if len(cp.StatusHistory) == 0 {
		cp.StatusHistory = []models.StatusChange{{Status: cp.Status, At: cp.CreatedAt}}
	} else {
		cp.StatusHistory = append([]models.StatusChange(nil), o.StatusHistory...)
	}
	m.orders[cp.ID] = &cp
}

func (m *MemoryStore) AddDriver(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[id] = struct{}{}
}

// Order returns a copy of the full record.
func (m *MemoryStore) Order(id string) (models.Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, false
	}
	cp := *o
	cp.StatusHistory = append([]models.StatusChange(nil), o.StatusHistory...)
	return cp, true
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (models.OrderView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.OrderView{}, apperr.Newf(apperr.NotFound, "order %s not found", id)
	}
	return o.View(), nil
}

func (m *MemoryStore) DriverExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.drivers[id]
	return ok, nil
}

func (m *MemoryStore) ApplyTransition(_ context.Context, id string, from, to models.Status, driverID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "order %s not found", id)
	}
	if o.Status != from {
		return ErrStaleStatus
	}
	o.Status = to
	if driverID != "" {
		o.DriverID = driverID
	}
	o.StatusHistory = append(o.StatusHistory, models.StatusChange{Status: to, At: at})
	return nil
}
