package memory

import (
	"context"
	"sort"
	"time"

	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
)

func (s *Store) Record(_ context.Context, item inbox.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbox[item.JobID]; !ok {
		s.inbox[item.JobID] = item
	}
	return nil
}

func (s *Store) ListForUser(_ context.Context, userID string, limit int) ([]inbox.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]inbox.Item, 0)
	for _, it := range s.inbox {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if n := inbox.ClampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Store) MarkRead(_ context.Context, userID, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, it := range s.inbox {
		if it.ID != id || it.UserID != userID {
			continue
		}
		if it.ReadAt == nil {
			it.ReadAt = &now
			s.inbox[key] = it
		}
		return nil
	}
	return inbox.ErrNotFound
}
