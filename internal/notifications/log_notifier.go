package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LogNotifier writes messages to the log instead of sending them. Delay and
// Fail simulate a slow or broken provider in local runs.
type LogNotifier struct {
	log   *slog.Logger
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if n.Fail {
		return "", errors.New("provider down (simulated)")
	}

	id := "log-" + uuid.NewString()
	n.log.InfoContext(ctx, "notification sent",
		"provider", "log",
		"to", msg.To,
		"subject", msg.Subject,
		"message_id", id,
	)
	return id, nil
}
