package memory

import (
	"context"
	"maps"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

// memTx stages writes for one event. Reads see staged values first.
type memTx struct {
	s        *Store
	eventID  string
	regs     map[string]registration.Registration
	tokens   map[string]invitation.Token
	counters map[string]capacity.Counter
	jobs     []job.Job
}

func newTx(s *Store, eventID string) *memTx {
	return &memTx{
		s:        s,
		eventID:  eventID,
		regs:     make(map[string]registration.Registration),
		tokens:   make(map[string]invitation.Token),
		counters: make(map[string]capacity.Counter),
	}
}

func (tx *memTx) GetEvent(ctx context.Context, eventID string) (event.Event, error) {
	return tx.s.GetEvent(ctx, eventID)
}

func (tx *memTx) LoadCounter(_ context.Context, eventID string) (capacity.Counter, error) {
	if c, ok := tx.counters[eventID]; ok {
		return c, nil
	}
	return tx.s.Counter(eventID), nil
}

func (tx *memTx) CompareAndSwapCounter(ctx context.Context, c capacity.Counter, reserved uint32) error {
	cur, err := tx.LoadCounter(ctx, c.EventID)
	if err != nil {
		return err
	}
	if cur.Version != c.Version {
		return capacity.ErrConflict
	}
	tx.counters[c.EventID] = capacity.Counter{EventID: c.EventID, Reserved: reserved, Version: c.Version + 1}
	return nil
}

func (tx *memTx) GetRegistration(ctx context.Context, eventID, userID string) (registration.Registration, error) {
	if r, ok := tx.regs[regKey(eventID, userID)]; ok {
		return r, nil
	}
	return tx.s.GetRegistration(ctx, eventID, userID)
}

func (tx *memTx) InsertRegistration(ctx context.Context, r registration.Registration) error {
	if _, err := tx.GetRegistration(ctx, r.EventID, r.UserID); err == nil {
		return registration.ErrConflict
	}
	r.Seq = tx.s.nextSeq()
	tx.regs[regKey(r.EventID, r.UserID)] = r
	return nil
}

func (tx *memTx) UpdateRegistration(ctx context.Context, r registration.Registration, from registration.Status) error {
	cur, err := tx.GetRegistration(ctx, r.EventID, r.UserID)
	if err != nil {
		return err
	}
	if cur.Status != from || cur.ID != r.ID {
		return registration.ErrConflict
	}
	if from == registration.StatusCancelled {
		r.Seq = tx.s.nextSeq()
	}
	tx.regs[regKey(r.EventID, r.UserID)] = r
	return nil
}

func (tx *memTx) NextWaitlisted(_ context.Context, eventID string) (registration.Registration, error) {
	merged := make(map[string]registration.Registration)

	tx.s.mu.Lock()
	for k, r := range tx.s.regs {
		if r.EventID == eventID {
			merged[k] = r
		}
	}
	tx.s.mu.Unlock()

	maps.Copy(merged, tx.regs)

	waiting := make([]registration.Registration, 0)
	for _, r := range merged {
		if r.EventID == eventID && r.Status == registration.StatusWaitlisted {
			waiting = append(waiting, r)
		}
	}
	if len(waiting) == 0 {
		return registration.Registration{}, registration.ErrNotFound
	}

	sortFIFO(waiting)
	return waiting[0], nil
}

func (tx *memTx) InsertInvitation(_ context.Context, t invitation.Token) error {
	tx.tokens[t.TokenHash] = t
	return nil
}

func (tx *memTx) LockInvitation(ctx context.Context, tokenHash string) (invitation.Token, error) {
	if t, ok := tx.tokens[tokenHash]; ok {
		return t, nil
	}
	return tx.s.InvitationByHash(ctx, tokenHash)
}

func (tx *memTx) UpdateInvitation(ctx context.Context, t invitation.Token) error {
	if _, err := tx.LockInvitation(ctx, t.TokenHash); err != nil {
		return err
	}
	tx.tokens[t.TokenHash] = t
	return nil
}

func (tx *memTx) Enqueue(_ context.Context, req job.EnqueueRequest) (job.Job, bool, error) {
	key := job.DedupKey(req.Kind, req.Trigger)

	for _, staged := range tx.jobs {
		if staged.DedupKey == key {
			return staged, false, nil
		}
	}

	tx.s.mu.Lock()
	existing, dup := tx.s.findSuppressingLocked(key)
	now := tx.s.now()
	tx.s.mu.Unlock()

	if dup {
		return existing, false, nil
	}

	j := job.New(req, now)
	tx.jobs = append(tx.jobs, j)
	return j, true, nil
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}
