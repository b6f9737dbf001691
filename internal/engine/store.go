package engine

import (
	"context"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

// Tx is the view of one event's state inside its critical section. Writes are
// visible to later reads in the same Tx and become durable together, notification
// jobs included, only if the callback returns nil.
type Tx interface {
	capacity.Store

	GetEvent(ctx context.Context, eventID string) (event.Event, error)

	GetRegistration(ctx context.Context, eventID, userID string) (registration.Registration, error)
	// InsertRegistration returns registration.ErrConflict if (event, user) exists.
	InsertRegistration(ctx context.Context, r registration.Registration) error
	// UpdateRegistration returns registration.ErrConflict unless the stored row
	// is still in status from.
	UpdateRegistration(ctx context.Context, r registration.Registration, from registration.Status) error
	// NextWaitlisted returns the oldest waitlisted registration or registration.ErrNotFound.
	NextWaitlisted(ctx context.Context, eventID string) (registration.Registration, error)

	InsertInvitation(ctx context.Context, t invitation.Token) error
	// LockInvitation loads the token for update.
	LockInvitation(ctx context.Context, tokenHash string) (invitation.Token, error)
	UpdateInvitation(ctx context.Context, t invitation.Token) error

	// Enqueue schedules a notification unless an equivalent one is suppressed
	// by the dedup policy. created is false for a dedup hit.
	Enqueue(ctx context.Context, req job.EnqueueRequest) (j job.Job, created bool, err error)
}

type Store interface {
	// WithinEvent runs fn as one transaction over eventID's state and commits
	// its writes atomically when fn returns nil. A concurrent writer that got
	// there first surfaces as capacity.ErrConflict or registration.ErrConflict.
	WithinEvent(ctx context.Context, eventID string, fn func(tx Tx) error) error

	GetEvent(ctx context.Context, eventID string) (event.Event, error)
	GetRegistration(ctx context.Context, eventID, userID string) (registration.Registration, error)
	// ListRegistrations returns every registration of the event, oldest first.
	ListRegistrations(ctx context.Context, eventID string) ([]registration.Registration, error)
	InvitationByHash(ctx context.Context, tokenHash string) (invitation.Token, error)
	ListInvitations(ctx context.Context, eventID string) ([]invitation.Token, error)
}

// Waker is poked after a commit that enqueued notifications.
type Waker interface {
	Wake(ctx context.Context)
}

type TokenIssuer interface {
	Generate() (raw string, hash string, err error)
	Hash(raw string) string
}
