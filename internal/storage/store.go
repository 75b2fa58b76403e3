package storage

import (
	"context"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// Change is a partial update merged into an existing record. Nil fields are
// left untouched. When ExpectStatus is set the update becomes a
// compare-and-swap: it fails with models.ErrConflict unless the record's
// current status equals the expectation, and the check and write are atomic
// with respect to other updates on the same key.
type Change struct {
	ExpectStatus *models.Status

	Status        *models.Status
	DriverID      *string
	DriverName    *string
	DriverVehicle *string
	AcceptedAt    *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
}

// RideStore defines persistence operations for ride requests, keyed by
// rider identity.
type RideStore interface {
	// Put inserts or fully replaces the record for req.RiderID.
	Put(ctx context.Context, req *models.RideRequest) error
	// PutUnlessStatus inserts or fully replaces the record for req.RiderID,
	// unless a record already exists with the blocked status, in which case
	// it fails with models.ErrConflict. The check and write are atomic with
	// respect to other writes on the same key.
	PutUnlessStatus(ctx context.Context, req *models.RideRequest, blocked models.Status) error
	// Get returns the record for riderID or models.ErrNotFound.
	Get(ctx context.Context, riderID string) (*models.RideRequest, error)
	// ListByStatus returns a point-in-time snapshot of all records with the
	// given status. Order is unspecified.
	ListByStatus(ctx context.Context, status models.Status) ([]*models.RideRequest, error)
	// Update merges ch into the record for riderID and returns the result.
	// models.ErrNotFound if absent, models.ErrConflict on a failed CAS.
	Update(ctx context.Context, riderID string, ch Change) (*models.RideRequest, error)
	// Subscribe registers fn for the given key. fn fires once promptly with
	// the current record (nil when absent) and again after every Put or
	// Update to that key. Delivery is at-least-once and conflating: a slow
	// subscriber observes the latest value, never blocks writers, and
	// receives no further callbacks once the returned cancel func returns.
	Subscribe(riderID string, fn func(*models.RideRequest)) (cancel func())
}

func (c Change) apply(r *models.RideRequest) {
	if c.Status != nil {
		r.Status = *c.Status
	}
	if c.DriverID != nil {
		r.DriverID = *c.DriverID
	}
	if c.DriverName != nil {
		r.DriverName = *c.DriverName
	}
	if c.DriverVehicle != nil {
		r.DriverVehicle = *c.DriverVehicle
	}
	if c.AcceptedAt != nil {
		t := *c.AcceptedAt
		r.AcceptedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		r.CompletedAt = &t
	}
	if c.CancelledAt != nil {
		t := *c.CancelledAt
		r.CancelledAt = &t
	}
}
