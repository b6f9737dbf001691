package event

import (
	"errors"
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Event is owned by the event catalogue. The registration engine only reads it.
type Event struct {
	ID               string     `json:"id"`
	OrganizerID      string     `json:"organizerId"`
	Title            string     `json:"title"`
	Capacity         *uint32    `json:"capacity,omitempty"` // nil means unlimited
	Visibility       Visibility `json:"visibility"`
	Status           Status     `json:"status"`
	WaitlistEnabled  bool       `json:"waitlistEnabled"`
	RequiresApproval bool       `json:"requiresApproval"`
	StartsAt         time.Time  `json:"startsAt"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

var ErrNotFound = errors.New("event not found")

func (e Event) IsPrivate() bool {
	return e.Visibility == VisibilityPrivate
}

// AcceptsRegistrations reports whether new registrations or invitations may be created.
func (e Event) AcceptsRegistrations() bool {
	return e.Status == StatusUpcoming || e.Status == StatusActive
}

// HasRoom reports whether another seat fits given the number already reserved.
func (e Event) HasRoom(reserved uint32) bool {
	if e.Capacity == nil {
		return true
	}
	return reserved < *e.Capacity
}

// CanManage reports whether the user may act as organizer for this event.
func (e Event) CanManage(userID, role string) bool {
	return role == "admin" || (userID != "" && e.OrganizerID == userID)
}
