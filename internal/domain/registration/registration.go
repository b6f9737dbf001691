package registration

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusWaitlisted Status = "waitlisted"
	StatusCancelled  Status = "cancelled"
)

// HoldsSeat reports whether a registration in this status counts against capacity.
func (s Status) HoldsSeat() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Registration struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	UserID      string     `json:"userId"`
	Email       string     `json:"email"`
	Status      Status     `json:"status"`
	Attempt     int        `json:"attempt"`
	Seq         int64      `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

var (
	ErrNotFound          = errors.New("registration not found")
	ErrInvalidTransition = errors.New("invalid registration status transition")
	ErrCapacityExhausted = errors.New("event is at capacity and has no waitlist")
	ErrNotInvited        = errors.New("event is private and requires an invitation")
	ErrEventClosed       = errors.New("event is not accepting registrations")
	ErrForbidden         = errors.New("not allowed to act on this registration")
	// ErrConflict is returned by stores when a concurrent writer changed the row first.
	ErrConflict = errors.New("registration modified concurrently")
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusWaitlisted, StatusCancelled},
	StatusWaitlisted: {StatusPending, StatusCancelled},
	StatusConfirmed:  {StatusCancelled},
	StatusCancelled:  {StatusPending},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// New builds a fresh pending registration.
func New(eventID, userID, email string, now time.Time) Registration {
	return Registration{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		Email:     email,
		Status:    StatusPending,
		Attempt:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the registration to the given status and stamps the
// matching timestamps.
func (r *Registration) Transition(to Status, now time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	switch to {
	case StatusConfirmed:
		r.ConfirmedAt = &now
	case StatusCancelled:
		r.CancelledAt = &now
	case StatusPending:
		if r.Status == StatusCancelled {
			// re-registration starts a new attempt and rejoins the back of any queue
			r.Attempt++
			r.CreatedAt = now
			r.ConfirmedAt = nil
			r.CancelledAt = nil
		}
	}

	r.Status = to
	r.UpdatedAt = now
	return nil
}

// NotificationTrigger identifies the attempt a notification belongs to, so a
// re-registration after a cancel is notified again while retries are not.
func (r Registration) NotificationTrigger() string {
	return fmt.Sprintf("registration:%s:%d", r.ID, r.Attempt)
}

// Attendee is a confirmed registration joined with the event fields a
// reminder needs.
type Attendee struct {
	RegistrationID string
	UserID         string
	EventID        string
	EventTitle     string
	StartsAt       time.Time
	Email          string
}
