package redisclient

import (
	"context"
	"log/slog"
	"time"
)

// Waker publishes a wake signal after notification jobs are committed so idle
// workers poll right away. Losing a signal only costs one poll interval.
type Waker struct {
	client  *Client
	channel string
	log     *slog.Logger
}

func NewWaker(c *Client, channel string, log *slog.Logger) *Waker {
	if log == nil {
		log = slog.Default()
	}
	return &Waker{client: c, channel: channel, log: log}
}

func (w *Waker) Wake(ctx context.Context) {
	// the request may already be finishing; the publish should not inherit its deadline
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
	defer cancel()

	if err := w.client.redisdb.Publish(pctx, w.channel, "1").Err(); err != nil {
		w.log.WarnContext(ctx, "wake publish failed", "channel", w.channel, "err", err)
	}
}

// Subscribe forwards wake signals on channel until ctx is done. Bursts are
// coalesced: the returned channel holds at most one pending signal.
func (c *Client) Subscribe(ctx context.Context, channel string) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := c.redisdb.Subscribe(ctx, channel)

	go func() {
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}
