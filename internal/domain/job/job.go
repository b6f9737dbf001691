package job

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindInvite   Kind = "invite"
	KindReminder Kind = "reminder"
)

type Status string

const (
	StatusQueued          Status = "queued"
	StatusInflight        Status = "inflight"
	StatusDelivered       Status = "delivered"
	StatusFailedPermanent Status = "failed_permanent"
)

const DefaultMaxAttempts = 5

var (
	ErrNotFound  = errors.New("job not found")
	ErrNotFailed = errors.New("job is not failed_permanent")
	// ErrLeaseLost means another worker (or the reaper) took the job back.
	ErrLeaseLost = errors.New("job lease lost")
)

// Payload is everything a worker needs to render and address one message.
type Payload struct {
	EventID   string            `json:"eventId"`
	Recipient string            `json:"recipient"`
	UserID    string            `json:"userId,omitempty"` // set when the message also goes to the user's inbox
	Template  string            `json:"template"`
	Data      map[string]string `json:"data,omitempty"`
}

type Job struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	DedupKey     string     `json:"dedupKey"`
	Payload      Payload    `json:"payload"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"maxAttempts"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	LockedAt     *time.Time `json:"lockedAt,omitempty"`
	LockedBy     *string    `json:"lockedBy,omitempty"`
	LastError    *string    `json:"lastError,omitempty"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// EnqueueRequest describes a notification to schedule. Trigger names the
// entity that caused it; together with Kind it forms the idempotency key.
type EnqueueRequest struct {
	Kind         Kind
	Trigger      string
	Payload      Payload
	ScheduledFor time.Time
	MaxAttempts  int
}

func DedupKey(kind Kind, trigger string) string {
	return string(kind) + ":" + trigger
}

func New(req EnqueueRequest, now time.Time) Job {
	maxA := req.MaxAttempts
	if maxA <= 0 {
		maxA = DefaultMaxAttempts
	}

	runAt := req.ScheduledFor
	if runAt.IsZero() || runAt.Before(now) {
		runAt = now
	}

	return Job{
		ID:           uuid.NewString(),
		Kind:         req.Kind,
		DedupKey:     DedupKey(req.Kind, req.Trigger),
		Payload:      req.Payload,
		Status:       StatusQueued,
		MaxAttempts:  maxA,
		ScheduledFor: runAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// DedupPolicy decides how long a delivered job suppresses a new one with the
// same key. Queued and inflight jobs always suppress duplicates.
type DedupPolicy struct {
	ReminderWindow time.Duration
}

func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{ReminderWindow: 24 * time.Hour}
}

// Window returns the suppression window for kind; zero means forever.
func (p DedupPolicy) Window(kind Kind) time.Duration {
	if kind == KindReminder {
		return p.ReminderWindow
	}
	return 0
}

// Suppresses reports whether existing blocks enqueueing another job with the
// same key at now.
func (p DedupPolicy) Suppresses(existing Job, now time.Time) bool {
	switch existing.Status {
	case StatusQueued, StatusInflight:
		return true
	case StatusDelivered:
		w := p.Window(existing.Kind)
		if w <= 0 || existing.DeliveredAt == nil {
			return true
		}
		return now.Sub(*existing.DeliveredAt) < w
	default:
		return false
	}
}
