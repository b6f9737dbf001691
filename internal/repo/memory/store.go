// Package memory is a process-local store with the same semantics as the
// postgres repositories. Writers of one event are serialized by a per-event
// mutex; staged writes are applied atomically on commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/delivery"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
)

type Store struct {
	mu         sync.Mutex // guards everything below
	events     map[string]event.Event
	regs       map[string]registration.Registration // key: eventID/userID
	tokens     map[string]invitation.Token          // key: token hash
	counters   map[string]capacity.Counter
	jobs       map[string]job.Job
	deliveries map[string]delivery.Record
	inbox      map[string]inbox.Item // key: job id
	seq        int64

	locksMu    sync.Mutex
	eventLocks map[string]*sync.Mutex

	policy job.DedupPolicy
	now    func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithDedupPolicy(p job.DedupPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		events:     make(map[string]event.Event),
		regs:       make(map[string]registration.Registration),
		tokens:     make(map[string]invitation.Token),
		counters:   make(map[string]capacity.Counter),
		jobs:       make(map[string]job.Job),
		deliveries: make(map[string]delivery.Record),
		inbox:      make(map[string]inbox.Item),
		eventLocks: make(map[string]*sync.Mutex),
		policy:     job.DefaultDedupPolicy(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func regKey(eventID, userID string) string {
	return eventID + "/" + userID
}

// PutEvent stores or replaces an event record.
func (s *Store) PutEvent(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

func (s *Store) eventLock(eventID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.eventLocks[eventID]
	if !ok {
		l = &sync.Mutex{}
		s.eventLocks[eventID] = l
	}
	return l
}

func (s *Store) WithinEvent(ctx context.Context, eventID string, fn func(tx engine.Tx) error) error {
	l := s.eventLock(eventID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(s, eventID)
	if err := fn(tx); err != nil {
		return err
	}

	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range tx.regs {
		s.regs[k] = r
	}
	for h, t := range tx.tokens {
		s.tokens[h] = t
	}
	for id, c := range tx.counters {
		s.counters[id] = c
	}
	for _, j := range tx.jobs {
		// another writer may have enqueued the same key since it was staged
		if _, dup := s.findSuppressingLocked(j.DedupKey); dup {
			continue
		}
		s.jobs[j.ID] = j
	}
}

func (s *Store) GetEvent(_ context.Context, eventID string) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetRegistration(_ context.Context, eventID, userID string) (registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.regs[regKey(eventID, userID)]
	if !ok {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, nil
}

// ListRegistrations returns an event's registrations in FIFO order.
func (s *Store) ListRegistrations(_ context.Context, eventID string) ([]registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]registration.Registration, 0)
	for _, r := range s.regs {
		if r.EventID == eventID {
			out = append(out, r)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (s *Store) InvitationByHash(_ context.Context, tokenHash string) (invitation.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenHash]
	if !ok {
		return invitation.Token{}, invitation.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListInvitations(_ context.Context, eventID string) ([]invitation.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]invitation.Token, 0)
	for _, t := range s.tokens {
		if t.EventID == eventID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out, nil
}

// Counter reports the committed seat counter for an event.
func (s *Store) Counter(eventID string) capacity.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[eventID]
	if !ok {
		return capacity.Counter{EventID: eventID}
	}
	return c
}

// ListRemindable returns confirmed registrations of open events starting in (from, to].
func (s *Store) ListRemindable(_ context.Context, from, to time.Time) ([]registration.Attendee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]registration.Attendee, 0)
	for _, r := range s.regs {
		if r.Status != registration.StatusConfirmed {
			continue
		}
		e, ok := s.events[r.EventID]
		if !ok || !e.AcceptsRegistrations() {
			continue
		}
		if !e.StartsAt.After(from) || e.StartsAt.After(to) {
			continue
		}
		out = append(out, registration.Attendee{
			RegistrationID: r.ID,
			UserID:         r.UserID,
			EventID:        e.ID,
			EventTitle:     e.Title,
			StartsAt:       e.StartsAt,
			Email:          r.Email,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistrationID < out[j].RegistrationID })
	return out, nil
}

func sortFIFO(regs []registration.Registration) {
	sort.Slice(regs, func(i, j int) bool {
		if regs[i].CreatedAt.Equal(regs[j].CreatedAt) {
			return regs[i].Seq < regs[j].Seq
		}
		return regs[i].CreatedAt.Before(regs[j].CreatedAt)
	})
}
