package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/models"
)

type Type string

const (
	TypeRequested Type = "ride.requested"
	TypeAccepted  Type = "ride.accepted"
	TypeCompleted Type = "ride.completed"
	TypeCancelled Type = "ride.cancelled"
)

// Event is the envelope published after every successful lifecycle
// transition. Request carries the full record as of the transition.
type Event struct {
	ID         string              `json:"id"`
	Type       Type                `json:"type"`
	OccurredAt time.Time           `json:"occurredAt"`
	Request    *models.RideRequest `json:"request"`
}

func New(t Type, req *models.RideRequest) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Request:    req,
	}
}

// Sink receives lifecycle events. Publishing is best-effort: the lifecycle
// service logs sink errors but never fails an operation over them.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Sinks fans an event out to every sink and joins the errors.
type Sinks []Sink

func (s Sinks) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s {
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
