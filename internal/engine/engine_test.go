package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/repo/memory"
	"github.com/geocoder89/eventhub-registrations/internal/security"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type countingWaker struct{ n atomic.Int32 }

func (w *countingWaker) Wake(context.Context) { w.n.Add(1) }

type harness struct {
	eng   *engine.Engine
	store *memory.Store
	clock *fakeClock
	waker *countingWaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := &fakeClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore(memory.WithClock(clk.Now))
	tokens, err := security.NewInviteTokens("test-invite-secret")
	require.NoError(t, err)

	w := &countingWaker{}
	eng := engine.New(store, tokens, engine.Config{
		InviteBaseURL:    "https://eventhub.test",
		DefaultInviteTTL: 48 * time.Hour,
	}, engine.WithClock(clk.Now), engine.WithWaker(w))

	return &harness{eng: eng, store: store, clock: clk, waker: w}
}

func capOf(n uint32) *uint32 { return &n }

const organizerID = "org-1"

var organizer = engine.Actor{UserID: organizerID, Email: "org@x.com", Role: "user"}

func user(name string) engine.Actor {
	return engine.Actor{UserID: "user-" + name, Email: name + "@x.com", Role: "user"}
}

func (h *harness) putEvent(id string, mutate func(e *event.Event)) event.Event {
	e := event.Event{
		ID:              id,
		OrganizerID:     organizerID,
		Title:           "GopherCon " + id,
		Visibility:      event.VisibilityPublic,
		Status:          event.StatusUpcoming,
		WaitlistEnabled: true,
		StartsAt:        h.clock.Now().Add(72 * time.Hour),
	}
	if mutate != nil {
		mutate(&e)
	}
	h.store.PutEvent(e)
	return e
}

func jobsWithTemplate(jobs []job.Job, template string) []job.Job {
	out := make([]job.Job, 0)
	for _, j := range jobs {
		if j.Payload.Template == template {
			out = append(out, j)
		}
	}
	return out
}

func TestCapacityStorm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const capacityN, attendees = 10, 60
	ev := h.putEvent("storm", func(e *event.Event) { e.Capacity = capOf(capacityN) })

	var wg sync.WaitGroup
	errs := make(chan error, attendees)

	for i := 0; i < attendees; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := h.eng.Register(ctx, user(fmt.Sprintf("u%d", i)), ev.ID); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("register failed: %v", err)
	}

	regs, err := h.store.ListRegistrations(ctx, ev.ID)
	require.NoError(t, err)

	var confirmed, waitlisted int
	for _, r := range regs {
		switch r.Status {
		case registration.StatusConfirmed:
			confirmed++
		case registration.StatusWaitlisted:
			waitlisted++
		}
	}

	require.Equal(t, capacityN, confirmed)
	require.Equal(t, attendees-capacityN, waitlisted)
	require.EqualValues(t, capacityN, h.store.Counter(ev.ID).Reserved)
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("idem", nil)

	first, err := h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)
	second, err := h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, registration.StatusConfirmed, second.Status)
	require.EqualValues(t, 1, h.store.Counter(ev.ID).Reserved)
	require.Len(t, h.store.Jobs(), 1, "repeat registration must not notify twice")
}

func TestReRegistrationAfterCancelNotifiesAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("again", nil)
	a := user("a")

	_, err := h.eng.Register(ctx, a, ev.ID)
	require.NoError(t, err)
	_, err = h.eng.Cancel(ctx, a, ev.ID, a.UserID)
	require.NoError(t, err)

	reg, err := h.eng.Register(ctx, a, ev.ID)
	require.NoError(t, err)
	require.Equal(t, registration.StatusConfirmed, reg.Status)
	require.Equal(t, 2, reg.Attempt)

	confirmations := jobsWithTemplate(h.store.Jobs(), "registration_confirmed")
	require.Len(t, confirmations, 2)
	require.NotEqual(t, confirmations[0].DedupKey, confirmations[1].DedupKey)
}

func TestFIFOPromotion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("fifo", func(e *event.Event) { e.Capacity = capOf(1) })

	holder := user("holder")
	_, err := h.eng.Register(ctx, holder, ev.ID)
	require.NoError(t, err)

	waiting := []engine.Actor{user("w1"), user("w2"), user("w3")}
	for _, a := range waiting {
		r, err := h.eng.Register(ctx, a, ev.ID)
		require.NoError(t, err)
		require.Equal(t, registration.StatusWaitlisted, r.Status)
	}

	_, err = h.eng.Cancel(ctx, holder, ev.ID, holder.UserID)
	require.NoError(t, err)

	w1, _ := h.store.GetRegistration(ctx, ev.ID, waiting[0].UserID)
	w2, _ := h.store.GetRegistration(ctx, ev.ID, waiting[1].UserID)
	require.Equal(t, registration.StatusConfirmed, w1.Status, "earliest waitlisted is promoted")
	require.Equal(t, registration.StatusWaitlisted, w2.Status)
	require.EqualValues(t, 1, h.store.Counter(ev.ID).Reserved)

	_, err = h.eng.Cancel(ctx, waiting[0], ev.ID, waiting[0].UserID)
	require.NoError(t, err)
	w2, _ = h.store.GetRegistration(ctx, ev.ID, waiting[1].UserID)
	require.Equal(t, registration.StatusConfirmed, w2.Status)
}

func TestCancelWaitlistedDoesNotPromote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("cw", func(e *event.Event) { e.Capacity = capOf(1) })

	_, err := h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)
	_, err = h.eng.Register(ctx, user("b"), ev.ID)
	require.NoError(t, err)
	_, err = h.eng.Register(ctx, user("c"), ev.ID)
	require.NoError(t, err)

	_, err = h.eng.Cancel(ctx, user("b"), ev.ID, user("b").UserID)
	require.NoError(t, err)

	c, _ := h.store.GetRegistration(ctx, ev.ID, user("c").UserID)
	require.Equal(t, registration.StatusWaitlisted, c.Status)
	require.EqualValues(t, 1, h.store.Counter(ev.ID).Reserved)
}

func TestCapacityTwoScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("cap2", func(e *event.Event) { e.Capacity = capOf(2) })

	a, b, c := user("a"), user("b"), user("c")

	ra, err := h.eng.Register(ctx, a, ev.ID)
	require.NoError(t, err)
	rb, err := h.eng.Register(ctx, b, ev.ID)
	require.NoError(t, err)
	rc, err := h.eng.Register(ctx, c, ev.ID)
	require.NoError(t, err)

	require.Equal(t, registration.StatusConfirmed, ra.Status)
	require.Equal(t, registration.StatusConfirmed, rb.Status)
	require.Equal(t, registration.StatusWaitlisted, rc.Status)

	_, err = h.eng.Cancel(ctx, a, ev.ID, a.UserID)
	require.NoError(t, err)

	rc, _ = h.store.GetRegistration(ctx, ev.ID, c.UserID)
	require.Equal(t, registration.StatusConfirmed, rc.Status)

	jobs := h.store.Jobs()
	require.Len(t, jobsWithTemplate(jobs, "registration_confirmed"), 2)
	require.Len(t, jobsWithTemplate(jobs, "registration_waitlisted"), 1)
	promoted := jobsWithTemplate(jobs, "registration_promoted")
	require.Len(t, promoted, 1)
	require.Equal(t, c.Email, promoted[0].Payload.Recipient)
	for _, j := range jobs {
		require.Equal(t, job.KindInvite, j.Kind)
	}
}

func TestWaitlistDisabledRejectsWhenFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("nowait", func(e *event.Event) {
		e.Capacity = capOf(1)
		e.WaitlistEnabled = false
	})

	_, err := h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)

	_, err = h.eng.Register(ctx, user("b"), ev.ID)
	require.ErrorIs(t, err, registration.ErrCapacityExhausted)

	_, err = h.store.GetRegistration(ctx, ev.ID, user("b").UserID)
	require.ErrorIs(t, err, registration.ErrNotFound, "rejected registration must not persist")
	require.Len(t, h.store.Jobs(), 1)
}

func TestUnlimitedCapacity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("open", nil)

	for i := 0; i < 25; i++ {
		r, err := h.eng.Register(ctx, user(fmt.Sprintf("u%d", i)), ev.ID)
		require.NoError(t, err)
		require.Equal(t, registration.StatusConfirmed, r.Status)
	}
}

func TestRegisterRejectsClosedAndMissingEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	closed := h.putEvent("closed", func(e *event.Event) { e.Status = event.StatusCancelled })
	_, err := h.eng.Register(ctx, user("a"), closed.ID)
	require.ErrorIs(t, err, registration.ErrEventClosed)

	_, err = h.eng.Register(ctx, user("a"), "missing")
	require.ErrorIs(t, err, event.ErrNotFound)
	require.Equal(t, "event_not_found", engine.Code(err))
}

func TestCancelAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("auth", nil)

	a := user("a")
	_, err := h.eng.Register(ctx, a, ev.ID)
	require.NoError(t, err)

	_, err = h.eng.Cancel(ctx, user("mallory"), ev.ID, a.UserID)
	require.ErrorIs(t, err, registration.ErrForbidden)

	reg, err := h.eng.Cancel(ctx, organizer, ev.ID, a.UserID)
	require.NoError(t, err)
	require.Equal(t, registration.StatusCancelled, reg.Status)

	_, err = h.eng.Cancel(ctx, a, ev.ID, a.UserID)
	require.ErrorIs(t, err, registration.ErrInvalidTransition)

	_, err = h.eng.Cancel(ctx, a, ev.ID, "nobody")
	require.ErrorIs(t, err, registration.ErrForbidden)
}

func TestApprovalFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("approval", func(e *event.Event) {
		e.Capacity = capOf(1)
		e.RequiresApproval = true
	})

	a, b := user("a"), user("b")

	ra, err := h.eng.Register(ctx, a, ev.ID)
	require.NoError(t, err)
	require.Equal(t, registration.StatusPending, ra.Status)
	require.EqualValues(t, 1, h.store.Counter(ev.ID).Reserved, "pending holds a seat")

	rb, err := h.eng.Register(ctx, b, ev.ID)
	require.NoError(t, err)
	require.Equal(t, registration.StatusWaitlisted, rb.Status)

	_, err = h.eng.Approve(ctx, a, ev.ID, a.UserID)
	require.ErrorIs(t, err, registration.ErrForbidden)

	ra, err = h.eng.Approve(ctx, organizer, ev.ID, a.UserID)
	require.NoError(t, err)
	require.Equal(t, registration.StatusConfirmed, ra.Status)

	_, err = h.eng.Approve(ctx, organizer, ev.ID, a.UserID)
	require.ErrorIs(t, err, registration.ErrInvalidTransition)

	_, err = h.eng.Cancel(ctx, a, ev.ID, a.UserID)
	require.NoError(t, err)

	rb, _ = h.store.GetRegistration(ctx, ev.ID, b.UserID)
	require.Equal(t, registration.StatusPending, rb.Status, "promotion waits for approval")

	require.Len(t, jobsWithTemplate(h.store.Jobs(), "registration_pending"), 1)
}

func TestPrivateEventScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("private", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })

	bob := user("bob")
	_, err := h.eng.Register(ctx, bob, ev.ID)
	require.ErrorIs(t, err, registration.ErrNotInvited)

	issued, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", 0)
	require.NoError(t, err)
	require.Equal(t, h.clock.Now().Add(48*time.Hour), issued.Token.ExpiresAt)

	invites := jobsWithTemplate(h.store.Jobs(), "invitation")
	require.Len(t, invites, 1)
	require.Equal(t, "alice@x.com", invites[0].Payload.Recipient)
	require.Contains(t, invites[0].Payload.Data["link"], issued.Raw)
	require.Equal(t, "invite:token:"+issued.Token.ID, invites[0].DedupKey)

	alice := engine.Actor{UserID: "user-alice", Email: "Alice@X.com"}
	reg, err := h.eng.RedeemInvitation(ctx, alice, issued.Raw)
	require.NoError(t, err)
	require.Equal(t, registration.StatusConfirmed, reg.Status)

	_, err = h.eng.RedeemInvitation(ctx, alice, issued.Raw)
	require.ErrorIs(t, err, invitation.ErrAlreadyRedeemed)

	tok, err := h.store.InvitationByHash(ctx, issued.Token.TokenHash)
	require.NoError(t, err)
	require.Equal(t, invitation.StatusRedeemed, tok.Status)
	require.Equal(t, alice.UserID, *tok.RedeemedBy)
}

func TestRedeemEmailMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("mismatch", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })

	issued, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", time.Hour)
	require.NoError(t, err)

	_, err = h.eng.RedeemInvitation(ctx, user("bob"), issued.Raw)
	require.ErrorIs(t, err, invitation.ErrEmailMismatch)

	tok, _ := h.store.InvitationByHash(ctx, issued.Token.TokenHash)
	require.Equal(t, invitation.StatusIssued, tok.Status)
}

func TestDoubleRedemptionRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("race", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })

	issued, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", time.Hour)
	require.NoError(t, err)

	alice := user("alice")
	const racers = 8

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		redeemed  atomic.Int32
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.eng.RedeemInvitation(ctx, alice, issued.Raw)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, invitation.ErrAlreadyRedeemed):
				redeemed.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, successes.Load())
	require.EqualValues(t, racers-1, redeemed.Load())
}

func TestRedeemExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("expiry", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })

	issued, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", time.Hour)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)

	_, err = h.eng.RedeemInvitation(ctx, user("alice"), issued.Raw)
	require.ErrorIs(t, err, invitation.ErrExpired)

	_, err = h.store.GetRegistration(ctx, ev.ID, user("alice").UserID)
	require.ErrorIs(t, err, registration.ErrNotFound)

	list, err := h.eng.ListInvitations(ctx, organizer, ev.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, invitation.StatusExpired, list[0].Status)
}

func TestRedeemRollsBackWhenRegistrationFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("rollback", func(e *event.Event) {
		e.Visibility = event.VisibilityPrivate
		e.Capacity = capOf(1)
		e.WaitlistEnabled = false
	})

	first, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", time.Hour)
	require.NoError(t, err)
	second, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "bob@x.com", time.Hour)
	require.NoError(t, err)

	_, err = h.eng.RedeemInvitation(ctx, user("alice"), first.Raw)
	require.NoError(t, err)

	_, err = h.eng.RedeemInvitation(ctx, user("bob"), second.Raw)
	require.ErrorIs(t, err, registration.ErrCapacityExhausted)

	tok, _ := h.store.InvitationByHash(ctx, second.Token.TokenHash)
	require.Equal(t, invitation.StatusIssued, tok.Status, "failed registration must leave the token redeemable")
	require.Nil(t, tok.RedeemedAt)

	_, err = h.eng.Cancel(ctx, user("alice"), ev.ID, user("alice").UserID)
	require.NoError(t, err)

	reg, err := h.eng.RedeemInvitation(ctx, user("bob"), second.Raw)
	require.NoError(t, err)
	require.Equal(t, registration.StatusConfirmed, reg.Status)
}

func TestIssueInvitationRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	public := h.putEvent("public", nil)
	_, err := h.eng.IssueInvitation(ctx, organizer, public.ID, "a@x.com", time.Hour)
	require.ErrorIs(t, err, invitation.ErrInvalidEvent)

	private := h.putEvent("private", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })
	_, err = h.eng.IssueInvitation(ctx, user("mallory"), private.ID, "a@x.com", time.Hour)
	require.ErrorIs(t, err, registration.ErrForbidden)

	admin := engine.Actor{UserID: "root", Role: "admin"}
	a, err := h.eng.IssueInvitation(ctx, admin, private.ID, "a@x.com", time.Hour)
	require.NoError(t, err)
	b, err := h.eng.IssueInvitation(ctx, admin, private.ID, "a@x.com", time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, a.Raw, b.Raw, "multiple outstanding tokens per email are allowed")
	require.Len(t, jobsWithTemplate(h.store.Jobs(), "invitation"), 2)
}

func TestRevokeInvitation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("revoke", func(e *event.Event) { e.Visibility = event.VisibilityPrivate })

	issued, err := h.eng.IssueInvitation(ctx, organizer, ev.ID, "alice@x.com", time.Hour)
	require.NoError(t, err)

	err = h.eng.RevokeInvitation(ctx, user("alice"), issued.Raw)
	require.ErrorIs(t, err, registration.ErrForbidden)

	require.NoError(t, h.eng.RevokeInvitation(ctx, organizer, issued.Raw))

	_, err = h.eng.RedeemInvitation(ctx, user("alice"), issued.Raw)
	require.ErrorIs(t, err, invitation.ErrRevoked)

	err = h.eng.RevokeInvitation(ctx, organizer, issued.Raw)
	require.ErrorIs(t, err, invitation.ErrInvalidState)

	err = h.eng.RevokeInvitation(ctx, organizer, "no-such-token")
	require.ErrorIs(t, err, invitation.ErrNotFound)
}

func TestWakerFiresOnlyWhenJobsCreated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := h.putEvent("wake", nil)

	_, err := h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.waker.n.Load())

	_, err = h.eng.Register(ctx, user("a"), ev.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.waker.n.Load())
}

// flakyStore injects optimistic conflicts before delegating.
type flakyStore struct {
	engine.Store
	conflicts atomic.Int32
	calls     atomic.Int32
}

func (s *flakyStore) WithinEvent(ctx context.Context, eventID string, fn func(tx engine.Tx) error) error {
	s.calls.Add(1)
	if s.conflicts.Add(-1) >= 0 {
		return fmt.Errorf("swap seat counter: %w", capacity.ErrConflict)
	}
	return s.Store.WithinEvent(ctx, eventID, fn)
}

func TestConflictsAreRetried(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	mem.PutEvent(event.Event{ID: "ev", OrganizerID: organizerID, Status: event.StatusUpcoming, WaitlistEnabled: true})
	tokens, _ := security.NewInviteTokens("secret")

	flaky := &flakyStore{Store: mem}
	flaky.conflicts.Store(3)

	eng := engine.New(flaky, tokens, engine.Config{MaxConflictRetries: 5})
	reg, err := eng.Register(ctx, user("a"), "ev")
	require.NoError(t, err)
	require.Equal(t, registration.StatusConfirmed, reg.Status)
	require.EqualValues(t, 4, flaky.calls.Load())
}

func TestConflictBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	mem.PutEvent(event.Event{ID: "ev", OrganizerID: organizerID, Status: event.StatusUpcoming})
	tokens, _ := security.NewInviteTokens("secret")

	flaky := &flakyStore{Store: mem}
	flaky.conflicts.Store(100)

	eng := engine.New(flaky, tokens, engine.Config{MaxConflictRetries: 2})
	_, err := eng.Register(ctx, user("a"), "ev")
	require.ErrorIs(t, err, engine.ErrConflict)
	require.Equal(t, "conflict", engine.Code(err))
	require.EqualValues(t, 3, flaky.calls.Load())
}
