// Package capacity tracks reserved seats per event with a version-stamped
// counter updated by compare-and-swap.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
)

type Outcome string

const (
	Granted    Outcome = "granted"
	Waitlisted Outcome = "waitlisted"
)

// ErrConflict means the counter moved between load and swap.
var ErrConflict = errors.New("capacity counter modified concurrently")

// Counter is the number of seats held by pending and confirmed registrations.
// Version is zero for an event that has never reserved a seat.
type Counter struct {
	EventID  string
	Reserved uint32
	Version  int64
}

type Store interface {
	LoadCounter(ctx context.Context, eventID string) (Counter, error)
	// CompareAndSwapCounter writes reserved if the stored version still equals
	// c.Version and bumps the version. It returns ErrConflict otherwise.
	CompareAndSwapCounter(ctx context.Context, c Counter, reserved uint32) error
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) Ledger {
	return Ledger{store: store}
}

// TryReserve takes a seat if the event has room. Otherwise it reports
// Waitlisted and swaps the same reserved count in, so the version still moves
// and a release committed after the load surfaces as ErrConflict.
func (l Ledger) TryReserve(ctx context.Context, ev event.Event) (Outcome, error) {
	c, err := l.store.LoadCounter(ctx, ev.ID)
	if err != nil {
		return "", fmt.Errorf("load counter: %w", err)
	}

	if !ev.HasRoom(c.Reserved) {
		if err := l.store.CompareAndSwapCounter(ctx, c, c.Reserved); err != nil {
			return "", err
		}
		return Waitlisted, nil
	}

	if err := l.store.CompareAndSwapCounter(ctx, c, c.Reserved+1); err != nil {
		return "", err
	}
	return Granted, nil
}

// Release frees one seat. It never drops below zero.
func (l Ledger) Release(ctx context.Context, eventID string) error {
	c, err := l.store.LoadCounter(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load counter: %w", err)
	}

	if c.Reserved == 0 {
		return nil
	}
	return l.store.CompareAndSwapCounter(ctx, c, c.Reserved-1)
}
