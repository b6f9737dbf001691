package engine

import (
	"context"
	"errors"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

// Code maps an engine error to a stable machine-readable code.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict), errors.Is(err, capacity.ErrConflict), errors.Is(err, registration.ErrConflict):
		return "conflict"
	case errors.Is(err, event.ErrNotFound):
		return "event_not_found"
	case errors.Is(err, registration.ErrNotFound):
		return "registration_not_found"
	case errors.Is(err, invitation.ErrNotFound):
		return "invitation_not_found"
	case errors.Is(err, registration.ErrForbidden):
		return "forbidden"
	case errors.Is(err, invitation.ErrEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, registration.ErrNotInvited):
		return "not_invited"
	case errors.Is(err, registration.ErrEventClosed):
		return "event_closed"
	case errors.Is(err, registration.ErrCapacityExhausted):
		return "capacity_exhausted"
	case errors.Is(err, registration.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, invitation.ErrExpired):
		return "invitation_expired"
	case errors.Is(err, invitation.ErrAlreadyRedeemed):
		return "invitation_already_redeemed"
	case errors.Is(err, invitation.ErrRevoked):
		return "invitation_revoked"
	case errors.Is(err, invitation.ErrInvalidState):
		return "invitation_invalid_state"
	case errors.Is(err, invitation.ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}
