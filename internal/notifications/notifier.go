package notifications

import (
	"context"
	"errors"
)

// ErrRejected marks a message the provider will never accept, such as an
// invalid recipient. Callers should not retry it.
var ErrRejected = errors.New("message rejected by provider")

type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Notifier hands a rendered message to a provider and returns the
// provider's message id, if it has one.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}
