// Package lifecycle enforces the ride-request state machine:
// pending -> accepted -> completed, with pending -> cancelled as the only
// other exit. Transitions are compare-and-swap updates against the store, so
// two drivers racing to accept the same request cannot both win.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

// Service exposes the lifecycle operations over an injected store. Events is
// optional; when set, every successful mutation emits a lifecycle event.
type Service struct {
	Store     storage.RideStore
	Events    events.Sink
	Logger    *slog.Logger
	OpTimeout time.Duration
}

// RequestRide records a new pending request for the rider, stamped with the
// current time. A rider may revise a pending request or file a new one after
// the previous ride finished, but a request that a driver already accepted
// cannot be silently replaced.
func (s *Service) RequestRide(ctx context.Context, riderID string, pickupLat, pickupLng float64, destination, riderEmail string) (*models.RideRequest, error) {
	if strings.TrimSpace(riderID) == "" {
		return nil, fmt.Errorf("%w: riderId is required", models.ErrInvalidArgument)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	req := &models.RideRequest{
		RiderID:         riderID,
		PickupLatitude:  pickupLat,
		PickupLongitude: pickupLng,
		Destination:     destination,
		Status:          models.StatusPending,
		RiderEmail:      riderEmail,
		Timestamp:       time.Now().UTC(),
	}
	// The accepted-record guard lives in the store so a driver's accept
	// landing concurrently with a re-request can never be erased.
	if err := s.Store.PutUnlessStatus(ctx, req, models.StatusAccepted); err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.TransitionConflictsTotal.WithLabelValues("request").Inc()
			return nil, fmt.Errorf("%w: rider has a ride in progress", models.ErrConflict)
		}
		return nil, s.storeErr("put", err)
	}
	observability.RidesRequestedTotal.Inc()
	s.emit(events.TypeRequested, req)
	return req.Clone(), nil
}

// AcceptRide claims a pending request for a driver. The transition succeeds
// only if the request is still pending; a second driver arriving late gets
// models.ErrConflict and should re-list.
func (s *Service) AcceptRide(ctx context.Context, riderID, driverID, driverName, driverVehicle string) (*models.RideRequest, error) {
	if strings.TrimSpace(driverID) == "" || strings.TrimSpace(driverName) == "" || strings.TrimSpace(driverVehicle) == "" {
		return nil, fmt.Errorf("%w: driverId, driverName and driverVehicle are required", models.ErrInvalidArgument)
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now := time.Now().UTC()
	pending := models.StatusPending
	accepted := models.StatusAccepted
	req, err := s.Store.Update(ctx, riderID, storage.Change{
		ExpectStatus:  &pending,
		Status:        &accepted,
		DriverID:      &driverID,
		DriverName:    &driverName,
		DriverVehicle: &driverVehicle,
		AcceptedAt:    &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.TransitionConflictsTotal.WithLabelValues("accept").Inc()
		}
		return nil, s.storeErr("update", err)
	}
	observability.RidesAcceptedTotal.Inc()
	s.emit(events.TypeAccepted, req)
	return req, nil
}

// CompleteRide finishes an accepted ride. Completing a request that was
// never accepted is a conflict, not a shortcut.
func (s *Service) CompleteRide(ctx context.Context, riderID string) (*models.RideRequest, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now := time.Now().UTC()
	accepted := models.StatusAccepted
	completed := models.StatusCompleted
	req, err := s.Store.Update(ctx, riderID, storage.Change{
		ExpectStatus: &accepted,
		Status:       &completed,
		CompletedAt:  &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.TransitionConflictsTotal.WithLabelValues("complete").Inc()
		}
		return nil, s.storeErr("update", err)
	}
	observability.RidesCompletedTotal.Inc()
	s.emit(events.TypeCompleted, req)
	return req, nil
}

// CancelRide withdraws a pending request. Once a driver accepted, the ride
// can only run to completion.
func (s *Service) CancelRide(ctx context.Context, riderID string) (*models.RideRequest, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now := time.Now().UTC()
	pending := models.StatusPending
	cancelled := models.StatusCancelled
	req, err := s.Store.Update(ctx, riderID, storage.Change{
		ExpectStatus: &pending,
		Status:       &cancelled,
		CancelledAt:  &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			observability.TransitionConflictsTotal.WithLabelValues("cancel").Inc()
		}
		return nil, s.storeErr("update", err)
	}
	observability.RidesCancelledTotal.Inc()
	s.emit(events.TypeCancelled, req)
	return req, nil
}

// GetRide returns the rider's current request.
func (s *Service) GetRide(ctx context.Context, riderID string) (*models.RideRequest, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	req, err := s.Store.Get(ctx, riderID)
	if err != nil {
		return nil, s.storeErr("get", err)
	}
	return req, nil
}

// ListPending returns a snapshot of requests no driver has claimed yet.
func (s *Service) ListPending(ctx context.Context) ([]*models.RideRequest, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	reqs, err := s.Store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, s.storeErr("list", err)
	}
	return reqs, nil
}

// Watch subscribes fn to the rider's record. See storage.RideStore.Subscribe
// for the delivery contract.
func (s *Service) Watch(riderID string, fn func(*models.RideRequest)) (cancel func()) {
	return s.Store.Subscribe(riderID, fn)
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.OpTimeout)
}

// storeErr keeps domain errors intact and maps everything else onto the
// store error kinds so callers can tell a timeout from an outage.
func (s *Service) storeErr(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrConflict),
		errors.Is(err, models.ErrInvalidArgument):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, models.ErrTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", op, err, models.ErrStoreUnavailable)
	}
}

func (s *Service) emit(t events.Type, req *models.RideRequest) {
	if s.Events == nil {
		return
	}
	ev := events.New(t, req.Clone())
	// Fire-and-forget: the transition already happened, a sink hiccup only
	// delays observers.
	if err := s.Events.Publish(context.Background(), ev); err != nil {
		observability.EventPublishErrorsTotal.Inc()
		if s.Logger != nil {
			s.Logger.Warn("event publish failed", "type", string(t), "rider_id", req.RiderID, "error", err)
		}
		return
	}
	observability.EventsPublishedTotal.Inc()
}
