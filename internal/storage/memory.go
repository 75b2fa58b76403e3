package storage

import (
	"context"
	"sync"

	"github.com/example/ride-hailing/internal/models"
)

// MemoryStore keeps ride requests in a mutex-guarded map. It is the default
// backend for local runs and tests; CAS updates are atomic because the check
// and write happen under the same lock.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RideRequest
	subs     *subscribers
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.RideRequest),
		subs:     newSubscribers(),
	}
}

func (m *MemoryStore) Put(ctx context.Context, req *models.RideRequest) error {
	cp := req.Clone()
	m.mu.Lock()
	m.requests[cp.RiderID] = cp
	m.mu.Unlock()
	m.subs.notify(cp.RiderID, cp.Clone())
	return nil
}

func (m *MemoryStore) PutUnlessStatus(ctx context.Context, req *models.RideRequest, blocked models.Status) error {
	cp := req.Clone()
	m.mu.Lock()
	if cur, ok := m.requests[cp.RiderID]; ok && cur.Status == blocked {
		m.mu.Unlock()
		return models.ErrConflict
	}
	m.requests[cp.RiderID] = cp
	m.mu.Unlock()
	m.subs.notify(cp.RiderID, cp.Clone())
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, riderID string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[riderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RideRequest, 0)
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, riderID string, ch Change) (*models.RideRequest, error) {
	m.mu.Lock()
	r, ok := m.requests[riderID]
	if !ok {
		m.mu.Unlock()
		return nil, models.ErrNotFound
	}
	if ch.ExpectStatus != nil && r.Status != *ch.ExpectStatus {
		m.mu.Unlock()
		return nil, models.ErrConflict
	}
	cp := r.Clone()
	ch.apply(cp)
	m.requests[riderID] = cp
	m.mu.Unlock()
	m.subs.notify(riderID, cp.Clone())
	return cp.Clone(), nil
}

func (m *MemoryStore) Subscribe(riderID string, fn func(*models.RideRequest)) func() {
	// The snapshot is offered while the read lock is held: a writer that
	// lands after registration must wait for the lock, so its notification
	// cannot be clobbered by a stale initial value.
	m.mu.RLock()
	sub, cancel := m.subs.add(riderID, fn)
	sub.offer(m.requests[riderID].Clone())
	m.mu.RUnlock()
	return cancel
}
