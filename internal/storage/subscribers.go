package storage

import (
	"sync"

	"github.com/example/ride-hailing/internal/models"
)

// subscribers is a per-key callback registry shared by the store backends.
// Each subscriber runs its own delivery goroutine fed through a conflating
// one-slot channel, so writers never block on a slow callback and a
// subscriber that falls behind skips straight to the latest value.
type subscribers struct {
	mu    sync.Mutex
	next  int
	byKey map[string]map[int]*subscriber
}

type subscriber struct {
	fn      func(*models.RideRequest)
	updates chan *models.RideRequest
	quit    chan struct{}
	stopped chan struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{byKey: make(map[string]map[int]*subscriber)}
}

func (s *subscribers) add(riderID string, fn func(*models.RideRequest)) (*subscriber, func()) {
	sub := &subscriber{
		fn:      fn,
		updates: make(chan *models.RideRequest, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go sub.run()

	s.mu.Lock()
	id := s.next
	s.next++
	if s.byKey[riderID] == nil {
		s.byKey[riderID] = make(map[int]*subscriber)
	}
	s.byKey[riderID][id] = sub
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if m, ok := s.byKey[riderID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(s.byKey, riderID)
			}
		}
		s.mu.Unlock()
		close(sub.quit)
		// Wait for the delivery goroutine so no callback fires after
		// cancel returns.
		<-sub.stopped
	}
	return sub, cancel
}

// notify fans the new value out to every subscriber on the key.
func (s *subscribers) notify(riderID string, req *models.RideRequest) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.byKey[riderID]))
	for _, sub := range s.byKey[riderID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.offer(req)
	}
}

// offer replaces any undelivered value with the newer one.
func (sub *subscriber) offer(req *models.RideRequest) {
	for {
		select {
		case sub.updates <- req:
			return
		default:
			select {
			case <-sub.updates:
			default:
			}
		}
	}
}

func (sub *subscriber) run() {
	defer close(sub.stopped)
	for {
		select {
		case <-sub.quit:
			return
		case req := <-sub.updates:
			select {
			case <-sub.quit:
				return
			default:
			}
			sub.fn(req)
		}
	}
}
