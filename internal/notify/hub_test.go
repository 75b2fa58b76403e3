package notify

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/example/ride-hailing/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*models.RideRequest
	failed bool
	closed bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return errors.New("write on dead conn")
	}
	c.sent = append(c.sent, v.(*models.RideRequest))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubDeliverReachesAllRiderSessions(t *testing.T) {
	h := testHub()
	c1, c2, other := &fakeConn{}, &fakeConn{}, &fakeConn{}
	h.Add("rider1", c1)
	h.Add("rider1", c2)
	h.Add("rider2", other)

	h.Deliver("rider1", &models.RideRequest{RiderID: "rider1", Status: models.StatusPending})

	if c1.count() != 1 || c2.count() != 1 {
		t.Fatalf("expected both rider1 sessions to receive, got %d/%d", c1.count(), c2.count())
	}
	if other.count() != 0 {
		t.Fatalf("rider2 session received rider1 update")
	}
}

func TestHubRemoveStopsDeliveryAndClosesConn(t *testing.T) {
	h := testHub()
	c := &fakeConn{}
	s := h.Add("rider1", c)
	h.Remove("rider1", s)

	h.Deliver("rider1", &models.RideRequest{RiderID: "rider1"})
	if c.count() != 0 {
		t.Fatalf("removed session still received updates")
	}
	if !c.closed {
		t.Fatalf("conn not closed on remove")
	}
}

func TestHubDeliverSurvivesFailedSend(t *testing.T) {
	h := testHub()
	dead, live := &fakeConn{failed: true}, &fakeConn{}
	h.Add("rider1", dead)
	h.Add("rider1", live)

	h.Deliver("rider1", &models.RideRequest{RiderID: "rider1"})
	if live.count() != 1 {
		t.Fatalf("healthy session starved by failing one")
	}
}
