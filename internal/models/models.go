package models

import "time"

// Status tracks a ride request through its lifecycle.
// Valid transitions: pending -> accepted -> completed, pending -> cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// RideRequest is the unit of work tracking one rider's transportation need.
// There is at most one record per rider; the rider identity is the store key.
type RideRequest struct {
	RiderID         string     `json:"riderId"`
	PickupLatitude  float64    `json:"pickupLatitude"`
	PickupLongitude float64    `json:"pickupLongitude"`
	Destination     string     `json:"destination"`
	Status          Status     `json:"status"`
	RiderEmail      string     `json:"riderEmail,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	DriverID        string     `json:"driverId,omitempty"`
	DriverName      string     `json:"driverName,omitempty"`
	DriverVehicle   string     `json:"driverVehicle,omitempty"`
	AcceptedAt      *time.Time `json:"acceptedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	CancelledAt     *time.Time `json:"cancelledAt,omitempty"`
}

// Clone returns a deep copy so records can be handed across goroutines
// without sharing the timestamp pointers.
func (r *RideRequest) Clone() *RideRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.AcceptedAt = copyTime(r.AcceptedAt)
	cp.CompletedAt = copyTime(r.CompletedAt)
	cp.CancelledAt = copyTime(r.CancelledAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
