package memory

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/geocoder89/eventhub-registrations/internal/domain/delivery"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/utils"
)

// findSuppressingLocked returns a job that blocks a new one with key. Caller holds s.mu.
func (s *Store) findSuppressingLocked(key string) (job.Job, bool) {
	now := s.now()
	for _, j := range s.jobs {
		if j.DedupKey == key && s.policy.Suppresses(j, now) {
			return j, true
		}
	}
	return job.Job{}, false
}

func (s *Store) Enqueue(_ context.Context, req job.EnqueueRequest) (job.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, dup := s.findSuppressingLocked(job.DedupKey(req.Kind, req.Trigger)); dup {
		return existing, false, nil
	}

	j := job.New(req, s.now())
	s.jobs[j.ID] = j
	return j, true, nil
}

func (s *Store) ClaimNext(_ context.Context, workerID string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	var (
		next  job.Job
		found bool
	)
	for _, j := range s.jobs {
		if j.Status != job.StatusQueued || j.ScheduledFor.After(now) {
			continue
		}
		if !found || j.ScheduledFor.Before(next.ScheduledFor) ||
			(j.ScheduledFor.Equal(next.ScheduledFor) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
			found = true
		}
	}
	if !found {
		return job.Job{}, job.ErrNotFound
	}

	next.Status = job.StatusInflight
	next.LockedAt = &now
	next.LockedBy = &workerID
	next.UpdatedAt = now
	s.jobs[next.ID] = next
	return next, nil
}

// leasedLocked returns the job if workerID still holds its lease. Caller holds s.mu.
func (s *Store) leasedLocked(id, workerID string) (job.Job, error) {
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	if j.Status != job.StatusInflight || j.LockedBy == nil || *j.LockedBy != workerID {
		return job.Job{}, job.ErrLeaseLost
	}
	return j, nil
}

func (s *Store) MarkDelivered(_ context.Context, id, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leasedLocked(id, workerID)
	if err != nil {
		return err
	}

	now := s.now()
	j.Status = job.StatusDelivered
	j.DeliveredAt = &now
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = nil
	j.UpdatedAt = now
	if j.Payload.Data != nil {
		// the invitation link embeds the raw token; it is not kept past delivery
		data := maps.Clone(j.Payload.Data)
		delete(data, "link")
		j.Payload.Data = data
	}
	s.jobs[id] = j
	return nil
}

func (s *Store) Reschedule(_ context.Context, id, workerID string, runAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leasedLocked(id, workerID)
	if err != nil {
		return err
	}

	j.Status = job.StatusQueued
	j.Attempts++
	j.ScheduledFor = runAt
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = &errMsg
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id, workerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.leasedLocked(id, workerID)
	if err != nil {
		return err
	}

	j.Status = job.StatusFailedPermanent
	j.Attempts++
	j.LockedAt = nil
	j.LockedBy = nil
	j.LastError = &errMsg
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return nil
}

func (s *Store) RequeueStale(_ context.Context, lease time.Duration) (requeued, failed int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-lease)
	msg := "lease expired"

	for id, j := range s.jobs {
		if j.Status != job.StatusInflight || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}

		j.Attempts++
		j.LockedAt = nil
		j.LockedBy = nil
		j.LastError = &msg
		j.UpdatedAt = now
		if j.Attempts >= j.MaxAttempts {
			j.Status = job.StatusFailedPermanent
			failed++
		} else {
			j.Status = job.StatusQueued
			j.ScheduledFor = now
			requeued++
		}
		s.jobs[id] = j
	}
	return requeued, failed, nil
}

func (s *Store) GetByID(_ context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}
	return j, nil
}

// Jobs returns every job, oldest first.
func (s *Store) Jobs() []job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func (s *Store) ListCursor(
	_ context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	s.mu.Lock()
	all := make([]job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status != nil && string(j.Status) != *status {
			continue
		}
		if j.UpdatedAt.After(afterUpdatedAt) || (j.UpdatedAt.Equal(afterUpdatedAt) && j.ID >= afterID) {
			continue
		}
		all = append(all, j)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].UpdatedAt.Equal(all[k].UpdatedAt) {
			return all[i].ID > all[k].ID
		}
		return all[i].UpdatedAt.After(all[k].UpdatedAt)
	})

	if len(all) > limit {
		hasMore = true
		all = all[:limit]
		last := all[len(all)-1]
		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}
	return all, nextCursor, hasMore, nil
}

func (s *Store) Requeue(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.ErrNotFound
	}
	if j.Status != job.StatusFailedPermanent {
		return job.ErrNotFailed
	}
	s.jobs[id] = requeued(j, s.now())
	return nil
}

func (s *Store) RequeueManyFailed(_ context.Context, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := s.now()
	for id, j := range s.jobs {
		if n >= int64(limit) {
			break
		}
		if j.Status == job.StatusFailedPermanent {
			s.jobs[id] = requeued(j, now)
			n++
		}
	}
	return n, nil
}

func requeued(j job.Job, now time.Time) job.Job {
	j.Status = job.StatusQueued
	j.Attempts = 0
	j.ScheduledFor = now
	j.LastError = nil
	j.UpdatedAt = now
	return j
}

func (s *Store) TryStart(_ context.Context, jobID, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	d, ok := s.deliveries[jobID]
	if ok && d.Status == delivery.StatusSent {
		return delivery.ErrAlreadySent
	}
	if !ok {
		d = delivery.Record{JobID: jobID, CreatedAt: now}
	}
	d.Recipient = recipient
	d.Status = delivery.StatusSending
	d.LastError = nil
	d.UpdatedAt = now
	s.deliveries[jobID] = d
	return nil
}

func (s *Store) MarkSent(_ context.Context, jobID, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	d := s.deliveries[jobID]
	d.JobID = jobID
	d.Status = delivery.StatusSent
	d.SentAt = &now
	d.UpdatedAt = now
	if providerMessageID != "" {
		d.ProviderMessageID = &providerMessageID
	}
	s.deliveries[jobID] = d
	return nil
}

func (s *Store) MarkSendFailed(_ context.Context, jobID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deliveries[jobID]
	d.JobID = jobID
	d.Status = delivery.StatusFailed
	d.LastError = &errMsg
	d.UpdatedAt = s.now()
	s.deliveries[jobID] = d
	return nil
}

// Delivery returns the delivery guard for a job.
func (s *Store) Delivery(jobID string) (delivery.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[jobID]
	return d, ok
}
