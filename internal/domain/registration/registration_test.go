package registration

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusWaitlisted, StatusCancelled}

	allowed := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:    true,
		{StatusPending, StatusWaitlisted}:   true,
		{StatusWaitlisted, StatusPending}:   true,
		{StatusPending, StatusCancelled}:    true,
		{StatusConfirmed, StatusCancelled}:  true,
		{StatusWaitlisted, StatusCancelled}: true,
		{StatusCancelled, StatusPending}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r := New("ev", "u1", "u1@example.com", t0)

	if r.Status != StatusPending || r.Attempt != 1 {
		t.Fatalf("unexpected new registration: %+v", r)
	}

	t1 := t0.Add(time.Minute)
	if err := r.Transition(StatusConfirmed, t1); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if r.ConfirmedAt == nil || !r.ConfirmedAt.Equal(t1) {
		t.Fatalf("confirmedAt not stamped: %+v", r.ConfirmedAt)
	}

	t2 := t1.Add(time.Minute)
	if err := r.Transition(StatusCancelled, t2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if r.CancelledAt == nil || !r.UpdatedAt.Equal(t2) {
		t.Fatalf("cancel not stamped: %+v", r)
	}

	t3 := t2.Add(time.Minute)
	if err := r.Transition(StatusPending, t3); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if r.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", r.Attempt)
	}
	if r.CancelledAt != nil || r.ConfirmedAt != nil {
		t.Fatalf("stale timestamps kept after re-registration: %+v", r)
	}
	if !r.CreatedAt.Equal(t3) {
		t.Fatalf("createdAt = %v, want %v", r.CreatedAt, t3)
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	r := New("ev", "u1", "u1@example.com", time.Now())
	_ = r.Transition(StatusConfirmed, time.Now())

	err := r.Transition(StatusWaitlisted, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if r.Status != StatusConfirmed {
		t.Fatalf("status changed on rejected transition: %s", r.Status)
	}
}

func TestNotificationTriggerChangesPerAttempt(t *testing.T) {
	r := New("ev", "u1", "u1@example.com", time.Now())
	first := r.NotificationTrigger()

	_ = r.Transition(StatusCancelled, time.Now())
	_ = r.Transition(StatusPending, time.Now())

	if first == r.NotificationTrigger() {
		t.Fatalf("trigger did not change across attempts: %s", first)
	}
}
