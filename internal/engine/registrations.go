package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

const (
	templateConfirmed  = "registration_confirmed"
	templatePending    = "registration_pending"
	templateWaitlisted = "registration_waitlisted"
	templatePromoted   = "registration_promoted"
)

// Register creates or revives the actor's registration for a public event.
// Repeating it while a registration is active returns that registration
// unchanged and schedules nothing.
func (e *Engine) Register(ctx context.Context, actor Actor, eventID string) (registration.Registration, error) {
	ctx, span := e.startSpan(ctx, "engine.Register", attribute.String("event.id", eventID))

	var out registration.Registration
	err := e.requireIdentity(actor)
	if err == nil {
		err = e.run(ctx, eventID, func(tx Tx) error {
			r, err := e.register(ctx, tx, actor, eventID, false)
			out = r
			return err
		})
	}

	endSpan(span, err)
	e.recordRegistration("register", out, err)
	if err != nil {
		return registration.Registration{}, err
	}
	return out, nil
}

// register runs the state machine and ledger for actor. invited bypasses the
// private-visibility check and is only set by invitation redemption.
func (e *Engine) register(ctx context.Context, tx Tx, actor Actor, eventID string, invited bool) (registration.Registration, error) {
	now := e.now()

	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return registration.Registration{}, err
	}
	if !ev.AcceptsRegistrations() {
		return registration.Registration{}, registration.ErrEventClosed
	}

	existing, err := tx.GetRegistration(ctx, eventID, actor.UserID)
	fresh := errors.Is(err, registration.ErrNotFound)
	if err != nil && !fresh {
		return registration.Registration{}, err
	}

	if !fresh && existing.Status != registration.StatusCancelled {
		e.log.DebugContext(ctx, "registration already active",
			"event_id", eventID, "registration_id", existing.ID, "status", existing.Status)
		return existing, nil
	}

	if ev.IsPrivate() && !invited {
		return registration.Registration{}, registration.ErrNotInvited
	}

	reg := existing
	if fresh {
		reg = registration.New(ev.ID, actor.UserID, actor.Email, now)
	} else {
		if actor.Email != "" {
			reg.Email = actor.Email
		}
		if err := reg.Transition(registration.StatusPending, now); err != nil {
			return registration.Registration{}, err
		}
	}

	outcome, err := capacity.NewLedger(tx).TryReserve(ctx, ev)
	if err != nil {
		return registration.Registration{}, err
	}

	switch outcome {
	case capacity.Waitlisted:
		if !ev.WaitlistEnabled {
			return registration.Registration{}, registration.ErrCapacityExhausted
		}
		err = reg.Transition(registration.StatusWaitlisted, now)
	case capacity.Granted:
		if !ev.RequiresApproval {
			err = reg.Transition(registration.StatusConfirmed, now)
		}
	}
	if err != nil {
		return registration.Registration{}, err
	}

	if fresh {
		err = tx.InsertRegistration(ctx, reg)
	} else {
		err = tx.UpdateRegistration(ctx, reg, registration.StatusCancelled)
	}
	if err != nil {
		return registration.Registration{}, err
	}

	if err := e.notifyRegistration(ctx, tx, ev, reg, templateFor(reg.Status), ""); err != nil {
		return registration.Registration{}, err
	}

	e.log.InfoContext(ctx, "registration created",
		"event_id", ev.ID, "registration_id", reg.ID, "status", reg.Status, "attempt", reg.Attempt)
	return reg, nil
}

// Cancel moves a registration to cancelled. If it held a seat, the seat is
// released and the oldest waitlisted registration is promoted into it.
func (e *Engine) Cancel(ctx context.Context, actor Actor, eventID, userID string) (registration.Registration, error) {
	ctx, span := e.startSpan(ctx, "engine.Cancel", attribute.String("event.id", eventID))

	var out registration.Registration
	err := e.run(ctx, eventID, func(tx Tx) error {
		now := e.now()

		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if actor.UserID != userID && !ev.CanManage(actor.UserID, actor.Role) {
			return registration.ErrForbidden
		}

		reg, err := tx.GetRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}

		from := reg.Status
		if err := reg.Transition(registration.StatusCancelled, now); err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, reg, from); err != nil {
			return err
		}

		if from.HoldsSeat() {
			if err := capacity.NewLedger(tx).Release(ctx, ev.ID); err != nil {
				return err
			}
			if err := e.promote(ctx, tx, ev); err != nil {
				return err
			}
		}

		out = reg
		return nil
	})

	endSpan(span, err)
	e.recordRegistration("cancel", out, err)
	if err != nil {
		return registration.Registration{}, err
	}

	e.log.InfoContext(ctx, "registration cancelled", "event_id", eventID, "registration_id", out.ID)
	return out, nil
}

// promote moves the oldest waitlisted registration into a freed seat.
func (e *Engine) promote(ctx context.Context, tx Tx, ev event.Event) error {
	if !ev.AcceptsRegistrations() {
		return nil
	}

	next, err := tx.NextWaitlisted(ctx, ev.ID)
	if errors.Is(err, registration.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	outcome, err := capacity.NewLedger(tx).TryReserve(ctx, ev)
	if err != nil {
		return err
	}
	if outcome != capacity.Granted {
		return nil
	}

	now := e.now()
	if err := next.Transition(registration.StatusPending, now); err != nil {
		return err
	}
	if !ev.RequiresApproval {
		if err := next.Transition(registration.StatusConfirmed, now); err != nil {
			return err
		}
	}
	if err := tx.UpdateRegistration(ctx, next, registration.StatusWaitlisted); err != nil {
		return err
	}

	e.log.InfoContext(ctx, "waitlisted registration promoted",
		"event_id", ev.ID, "registration_id", next.ID, "status", next.Status)

	return e.notifyRegistration(ctx, tx, ev, next, templatePromoted, ":promoted")
}

// Approve confirms a pending registration on an event that requires approval.
func (e *Engine) Approve(ctx context.Context, actor Actor, eventID, userID string) (registration.Registration, error) {
	ctx, span := e.startSpan(ctx, "engine.Approve", attribute.String("event.id", eventID))

	var out registration.Registration
	err := e.run(ctx, eventID, func(tx Tx) error {
		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.CanManage(actor.UserID, actor.Role) {
			return registration.ErrForbidden
		}

		reg, err := tx.GetRegistration(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if reg.Status != registration.StatusPending {
			return registration.ErrInvalidTransition
		}
		if err := reg.Transition(registration.StatusConfirmed, e.now()); err != nil {
			return err
		}
		if err := tx.UpdateRegistration(ctx, reg, registration.StatusPending); err != nil {
			return err
		}

		out = reg
		return e.notifyRegistration(ctx, tx, ev, reg, templateConfirmed, ":approved")
	})

	endSpan(span, err)
	e.recordRegistration("approve", out, err)
	if err != nil {
		return registration.Registration{}, err
	}
	return out, nil
}

// GetRegistration returns userID's registration to the user or the organizer.
func (e *Engine) GetRegistration(ctx context.Context, actor Actor, eventID, userID string) (registration.Registration, error) {
	if actor.UserID != userID {
		ev, err := e.store.GetEvent(ctx, eventID)
		if err != nil {
			return registration.Registration{}, err
		}
		if !ev.CanManage(actor.UserID, actor.Role) {
			return registration.Registration{}, registration.ErrForbidden
		}
	}
	return e.store.GetRegistration(ctx, eventID, userID)
}

// ListRegistrations returns the event's registrations in queue order, oldest
// first, optionally narrowed to one status. Only the organizer or an admin
// may list them.
func (e *Engine) ListRegistrations(ctx context.Context, actor Actor, eventID string, status registration.Status) ([]registration.Registration, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.CanManage(actor.UserID, actor.Role) {
		return nil, registration.ErrForbidden
	}

	regs, err := e.store.ListRegistrations(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return regs, nil
	}

	out := make([]registration.Registration, 0, len(regs))
	for _, r := range regs {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (e *Engine) notifyRegistration(ctx context.Context, tx Tx, ev event.Event, reg registration.Registration, template, suffix string) error {
	if reg.Email == "" {
		e.log.WarnContext(ctx, "registration has no recipient, notification skipped", "registration_id", reg.ID)
		return nil
	}

	_, _, err := tx.Enqueue(ctx, job.EnqueueRequest{
		Kind:    job.KindInvite,
		Trigger: reg.NotificationTrigger() + suffix,
		Payload: job.Payload{
			EventID:   ev.ID,
			Recipient: reg.Email,
			Template:  template,
			Data: map[string]string{
				"eventTitle":     ev.Title,
				"eventStartsAt":  ev.StartsAt.UTC().Format(time.RFC1123),
				"registrationId": reg.ID,
				"status":         string(reg.Status),
			},
		},
		ScheduledFor: e.now(),
		MaxAttempts:  e.cfg.MaxAttempts,
	})
	return err
}

func templateFor(s registration.Status) string {
	switch s {
	case registration.StatusWaitlisted:
		return templateWaitlisted
	case registration.StatusPending:
		return templatePending
	default:
		return templateConfirmed
	}
}

func (e *Engine) requireIdentity(actor Actor) error {
	if actor.UserID == "" {
		return registration.ErrForbidden
	}
	return nil
}

func (e *Engine) recordRegistration(op string, reg registration.Registration, err error) {
	if err != nil {
		e.prom.CountRegistration(op, Code(err))
		return
	}
	e.prom.CountRegistration(op, string(reg.Status))
}
