package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

type fakeSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeSink) Publish(ctx context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) types() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestService() (*Service, *fakeSink) {
	sink := &fakeSink{}
	return &Service{Store: storage.NewMemoryStore(), Events: sink}, sink
}

func TestRequestRideCreatesPendingRecord(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	req, err := s.RequestRide(ctx, "rider1", 40.0, -73.0, "dest", "a@x.com")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != models.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	got, err := s.GetRide(ctx, "rider1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RiderID != "rider1" || got.PickupLatitude != 40.0 || got.PickupLongitude != -73.0 ||
		got.Destination != "dest" || got.RiderEmail != "a@x.com" || got.Status != models.StatusPending {
		t.Fatalf("record does not match submission: %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestRequestRideRequiresRiderID(t *testing.T) {
	s, _ := newTestService()
	if _, err := s.RequestRide(context.Background(), "  ", 0, 0, "dest", ""); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRequestRideReplacesPendingButNotAccepted(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	if _, err := s.RequestRide(ctx, "rider1", 1, 1, "old", ""); err != nil {
		t.Fatalf("request: %v", err)
	}
	// a rider may revise a request no driver has claimed
	if _, err := s.RequestRide(ctx, "rider1", 2, 2, "new", ""); err != nil {
		t.Fatalf("revise: %v", err)
	}
	got, _ := s.GetRide(ctx, "rider1")
	if got.Destination != "new" {
		t.Fatalf("expected revised destination, got %q", got.Destination)
	}

	if _, err := s.AcceptRide(ctx, "rider1", "driverA", "Alice", "Civic"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := s.RequestRide(ctx, "rider1", 3, 3, "again", ""); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict over accepted ride, got %v", err)
	}

	// after completion a new request is allowed again
	if _, err := s.CompleteRide(ctx, "rider1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.RequestRide(ctx, "rider1", 3, 3, "again", ""); err != nil {
		t.Fatalf("new request after completion: %v", err)
	}
}

func TestRequestRideNeverErasesConcurrentAccept(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		riderID := "rider" + string(rune('0'+i%10)) + string(rune('a'+i/10))
		if _, err := s.RequestRide(ctx, riderID, 0, 0, "dest", ""); err != nil {
			t.Fatalf("seed request: %v", err)
		}

		var (
			wg                    sync.WaitGroup
			acceptErr, requestErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = s.AcceptRide(ctx, riderID, "driverA", "Alice", "Civic")
		}()
		go func() {
			defer wg.Done()
			_, requestErr = s.RequestRide(ctx, riderID, 1, 1, "revised", "")
		}()
		wg.Wait()

		got, err := s.GetRide(ctx, riderID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		// Whatever the interleaving, a successful accept must survive: the
		// re-request either ran first or was rejected with a conflict.
		if acceptErr == nil && (got.Status != models.StatusAccepted || got.DriverID != "driverA") {
			t.Fatalf("accepted ride erased by concurrent request: %+v (requestErr=%v)", got, requestErr)
		}
		if requestErr != nil && !errors.Is(requestErr, models.ErrConflict) {
			t.Fatalf("unexpected request error: %v", requestErr)
		}
	}
}

func TestAcceptRideUnknownID(t *testing.T) {
	s, _ := newTestService()
	if _, err := s.AcceptRide(context.Background(), "ghost", "driverA", "Alice", "Civic"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcceptRideValidatesDriverFields(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "dest", "")

	cases := [][3]string{
		{"", "Alice", "Civic"},
		{"driverA", "", "Civic"},
		{"driverA", "Alice", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		// validation applies whether or not the record exists
		if _, err := s.AcceptRide(ctx, "rider1", c[0], c[1], c[2]); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("fields %q: expected ErrInvalidArgument, got %v", c, err)
		}
		if _, err := s.AcceptRide(ctx, "ghost", c[0], c[1], c[2]); !errors.Is(err, models.ErrInvalidArgument) {
			t.Fatalf("fields %q on missing record: expected ErrInvalidArgument, got %v", c, err)
		}
	}
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()
	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "dest", "")

	const drivers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	var okCount, conflictCount int
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i))
			_, err := s.AcceptRide(ctx, "rider1", "driver"+id, "Driver "+id, "Car "+id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, models.ErrConflict):
				conflictCount++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if okCount != 1 || conflictCount != drivers-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", drivers-1, okCount, conflictCount)
	}
	got, _ := s.GetRide(ctx, "rider1")
	if got.Status != models.StatusAccepted || got.DriverID == "" || got.AcceptedAt == nil {
		t.Fatalf("inconsistent record after race: %+v", got)
	}
}

func TestCompleteRideRequiresAccepted(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	if _, err := s.CompleteRide(ctx, "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "dest", "")
	if _, err := s.CompleteRide(ctx, "rider1"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict completing a pending ride, got %v", err)
	}
}

func TestCancelRidePendingOnly(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "dest", "")
	req, err := s.CancelRide(ctx, "rider1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != models.StatusCancelled || req.CancelledAt == nil {
		t.Fatalf("expected cancelled record, got %+v", req)
	}

	_, _ = s.RequestRide(ctx, "rider2", 0, 0, "dest", "")
	_, _ = s.AcceptRide(ctx, "rider2", "driverA", "Alice", "Civic")
	if _, err := s.CancelRide(ctx, "rider2"); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict cancelling an accepted ride, got %v", err)
	}
}

func TestListPendingExcludesClaimedRides(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "a", "")
	_, _ = s.RequestRide(ctx, "rider2", 0, 0, "b", "")
	_, _ = s.RequestRide(ctx, "rider3", 0, 0, "c", "")
	_, _ = s.AcceptRide(ctx, "rider2", "driverA", "Alice", "Civic")
	_, _ = s.AcceptRide(ctx, "rider3", "driverB", "Bob", "Camry")
	_, _ = s.CompleteRide(ctx, "rider3")

	got, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].RiderID != "rider1" {
		t.Fatalf("expected only rider1 pending, got %+v", got)
	}
	for _, r := range got {
		if r.Status != models.StatusPending {
			t.Fatalf("non-pending record in listing: %+v", r)
		}
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	s, sink := newTestService()
	ctx := context.Background()

	if _, err := s.RequestRide(ctx, "rider1", 40.0, -73.0, "dest", "a@x.com"); err != nil {
		t.Fatalf("request: %v", err)
	}
	pending, err := s.ListPending(ctx)
	if err != nil || len(pending) != 1 || pending[0].RiderID != "rider1" || pending[0].Status != models.StatusPending {
		t.Fatalf("unexpected pending listing: %+v err=%v", pending, err)
	}

	if _, err := s.AcceptRide(ctx, "rider1", "driverA", "Alice", "Civic"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ := s.GetRide(ctx, "rider1")
	if got.Status != models.StatusAccepted || got.DriverID != "driverA" || got.DriverName != "Alice" ||
		got.DriverVehicle != "Civic" || got.AcceptedAt == nil {
		t.Fatalf("unexpected record after accept: %+v", got)
	}

	if _, err := s.CompleteRide(ctx, "rider1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetRide(ctx, "rider1")
	if got.Status != models.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected record after complete: %+v", got)
	}
	if got.DriverID != "driverA" || got.DriverName != "Alice" || got.DriverVehicle != "Civic" {
		t.Fatalf("driver fields changed on complete: %+v", got)
	}

	want := []events.Type{events.TypeRequested, events.TypeAccepted, events.TypeCompleted}
	types := sink.types()
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}

// failingStore fails every operation with a fixed error.
type failingStore struct{ err error }

func (f *failingStore) Put(ctx context.Context, r *models.RideRequest) error { return f.err }
func (f *failingStore) PutUnlessStatus(ctx context.Context, r *models.RideRequest, blocked models.Status) error {
	return f.err
}
func (f *failingStore) Get(ctx context.Context, riderID string) (*models.RideRequest, error) {
	return nil, f.err
}
func (f *failingStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.RideRequest, error) {
	return nil, f.err
}
func (f *failingStore) Update(ctx context.Context, riderID string, ch storage.Change) (*models.RideRequest, error) {
	return nil, f.err
}
func (f *failingStore) Subscribe(riderID string, fn func(*models.RideRequest)) func() {
	return func() {}
}

func TestStoreDeadlineMapsToErrTimeout(t *testing.T) {
	s := &Service{Store: &failingStore{err: context.DeadlineExceeded}}
	ctx := context.Background()

	if _, err := s.RequestRide(ctx, "rider1", 0, 0, "dest", ""); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("request: expected ErrTimeout, got %v", err)
	}
	if _, err := s.AcceptRide(ctx, "rider1", "driverA", "Alice", "Civic"); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("accept: expected ErrTimeout, got %v", err)
	}
	if _, err := s.CompleteRide(ctx, "rider1"); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("complete: expected ErrTimeout, got %v", err)
	}
	if _, err := s.GetRide(ctx, "rider1"); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("get: expected ErrTimeout, got %v", err)
	}
	if _, err := s.ListPending(ctx); !errors.Is(err, models.ErrTimeout) {
		t.Fatalf("list: expected ErrTimeout, got %v", err)
	}
}

func TestStoreFailureMapsToErrStoreUnavailable(t *testing.T) {
	s := &Service{Store: &failingStore{err: errors.New("connection refused")}}
	ctx := context.Background()

	if _, err := s.RequestRide(ctx, "rider1", 0, 0, "dest", ""); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("request: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.ListPending(ctx); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("list: expected ErrStoreUnavailable, got %v", err)
	}
	// timeout and outage stay distinguishable
	if _, err := s.GetRide(ctx, "rider1"); errors.Is(err, models.ErrTimeout) {
		t.Fatalf("plain failure must not look like a timeout: %v", err)
	}
}

func TestWatchObservesTransitions(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	seen := make(chan models.Status, 8)
	cancel := s.Watch("rider1", func(r *models.RideRequest) {
		if r != nil {
			seen <- r.Status
		}
	})
	defer cancel()

	_, _ = s.RequestRide(ctx, "rider1", 0, 0, "dest", "")
	if st := <-seen; st != models.StatusPending {
		t.Fatalf("expected pending first, got %s", st)
	}
	_, _ = s.AcceptRide(ctx, "rider1", "driverA", "Alice", "Civic")
	if st := <-seen; st != models.StatusAccepted {
		t.Fatalf("expected accepted, got %s", st)
	}
}
