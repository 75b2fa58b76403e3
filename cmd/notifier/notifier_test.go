package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/events"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/notify"
)

// fakePublisher implements UpdatePublisher for tests
type fakePublisher struct {
	fail     int // number of times to fail before succeeding
	calls    int
	channels []string
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("publish fail")
	}
	f.channels = append(f.channels, channel)
	return nil
}

func testEvent() *events.Event {
	ev := events.New(events.TypeAccepted, &models.RideRequest{RiderID: "rider1", Status: models.StatusAccepted})
	return &ev
}

func TestPublishWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakePublisher{fail: 2}
	start := time.Now()
	if err := publishWithRetry(context.Background(), f, testEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.calls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if len(f.channels) != 1 || f.channels[0] != notify.Channel("rider1") {
		t.Fatalf("published to wrong channel: %v", f.channels)
	}
}

func TestPublishWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakePublisher{fail: 5}
	if err := publishWithRetry(context.Background(), f, testEvent(), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
