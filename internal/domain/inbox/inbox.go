// Package inbox holds the in-app notifications a user sees next to the
// emails sent for the same job.
package inbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Item is one in-app notification. JobID ties it to the notification job
// that produced it; a job records at most one item.
type Item struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	EventID   string     `json:"eventId"`
	JobID     string     `json:"-"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

func New(userID, eventID, jobID, kind, message string, now time.Time) Item {
	return Item{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventID:   eventID,
		JobID:     jobID,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
	}
}

// ClampLimit maps a requested page size onto [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}
