package engine

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

// IssuedInvitation carries the raw token. It is returned exactly once.
type IssuedInvitation struct {
	Token invitation.Token
	Raw   string
}

// IssueInvitation mints a single-use token for email on a private event and
// schedules the invitation email. ttl <= 0 uses the configured default.
func (e *Engine) IssueInvitation(ctx context.Context, actor Actor, eventID, email string, ttl time.Duration) (IssuedInvitation, error) {
	ctx, span := e.startSpan(ctx, "engine.IssueInvitation", attribute.String("event.id", eventID))

	if ttl <= 0 {
		ttl = e.cfg.DefaultInviteTTL
	}

	var out IssuedInvitation
	err := e.run(ctx, eventID, func(tx Tx) error {
		now := e.now()

		ev, err := tx.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.CanManage(actor.UserID, actor.Role) {
			return registration.ErrForbidden
		}
		if !ev.IsPrivate() {
			return invitation.ErrInvalidEvent
		}
		if !ev.AcceptsRegistrations() {
			return registration.ErrEventClosed
		}

		raw, hash, err := e.tokens.Generate()
		if err != nil {
			return err
		}

		tok := invitation.New(ev.ID, email, actor.UserID, hash, now, ttl)
		if err := tx.InsertInvitation(ctx, tok); err != nil {
			return err
		}

		_, _, err = tx.Enqueue(ctx, job.EnqueueRequest{
			Kind:    job.KindInvite,
			Trigger: "token:" + tok.ID,
			Payload: job.Payload{
				EventID:   ev.ID,
				Recipient: tok.InvitedEmail,
				Template:  "invitation",
				Data: map[string]string{
					"eventTitle":    ev.Title,
					"eventStartsAt": ev.StartsAt.UTC().Format(time.RFC1123),
					"link":          e.invitationLink(raw),
					"expiresAt":     tok.ExpiresAt.UTC().Format(time.RFC1123),
				},
			},
			ScheduledFor: now,
			MaxAttempts:  e.cfg.MaxAttempts,
		})
		if err != nil {
			return err
		}

		out = IssuedInvitation{Token: tok, Raw: raw}
		return nil
	})

	endSpan(span, err)
	e.recordInvitation("issue", err)
	if err != nil {
		return IssuedInvitation{}, err
	}

	e.log.InfoContext(ctx, "invitation issued", "event_id", eventID, "invitation_id", out.Token.ID)
	return out, nil
}

// RedeemInvitation consumes the token and registers the actor for its event,
// bypassing the private-visibility check. If registration fails the token is
// left unredeemed.
func (e *Engine) RedeemInvitation(ctx context.Context, actor Actor, raw string) (registration.Registration, error) {
	ctx, span := e.startSpan(ctx, "engine.RedeemInvitation")

	var out registration.Registration
	err := e.requireIdentity(actor)

	var tok invitation.Token
	if err == nil {
		tok, err = e.store.InvitationByHash(ctx, e.tokens.Hash(raw))
	}

	if err == nil {
		span.SetAttributes(attribute.String("event.id", tok.EventID))

		err = e.run(ctx, tok.EventID, func(tx Tx) error {
			t, err := tx.LockInvitation(ctx, tok.TokenHash)
			if err != nil {
				return err
			}
			if !t.MatchesEmail(actor.Email) {
				return invitation.ErrEmailMismatch
			}
			if err := t.Redeem(actor.UserID, e.now()); err != nil {
				return err
			}
			if err := tx.UpdateInvitation(ctx, t); err != nil {
				return err
			}

			// any failure below rolls the redemption back with the transaction
			reg, err := e.register(ctx, tx, actor, t.EventID, true)
			if err != nil {
				return err
			}
			out = reg
			return nil
		})
	}

	endSpan(span, err)
	e.recordInvitation("redeem", err)
	if err != nil {
		return registration.Registration{}, err
	}

	e.log.InfoContext(ctx, "invitation redeemed",
		"event_id", tok.EventID, "invitation_id", tok.ID, "registration_id", out.ID)
	return out, nil
}

// RevokeInvitation cancels an issued token. Only the organizer may revoke.
func (e *Engine) RevokeInvitation(ctx context.Context, actor Actor, raw string) error {
	ctx, span := e.startSpan(ctx, "engine.RevokeInvitation")

	tok, err := e.store.InvitationByHash(ctx, e.tokens.Hash(raw))
	if err == nil {
		err = e.run(ctx, tok.EventID, func(tx Tx) error {
			ev, err := tx.GetEvent(ctx, tok.EventID)
			if err != nil {
				return err
			}
			if !ev.CanManage(actor.UserID, actor.Role) {
				return registration.ErrForbidden
			}

			t, err := tx.LockInvitation(ctx, tok.TokenHash)
			if err != nil {
				return err
			}
			if err := t.Revoke(e.now()); err != nil {
				return err
			}
			return tx.UpdateInvitation(ctx, t)
		})
	}

	endSpan(span, err)
	e.recordInvitation("revoke", err)
	if err == nil {
		e.log.InfoContext(ctx, "invitation revoked", "event_id", tok.EventID, "invitation_id", tok.ID)
	}
	return err
}

// ListInvitations returns the event's tokens with expiry applied to their status.
func (e *Engine) ListInvitations(ctx context.Context, actor Actor, eventID string) ([]invitation.Token, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.CanManage(actor.UserID, actor.Role) {
		return nil, registration.ErrForbidden
	}

	toks, err := e.store.ListInvitations(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	for i := range toks {
		toks[i].Status = toks[i].EffectiveStatus(now)
	}
	return toks, nil
}

func (e *Engine) invitationLink(raw string) string {
	return strings.TrimRight(e.cfg.InviteBaseURL, "/") + "/invitations/" + url.PathEscape(raw)
}

func (e *Engine) recordInvitation(op string, err error) {
	result := "ok"
	if err != nil {
		result = Code(err)
	}
	e.prom.CountInvitation(op, result)
}
