package delivery

import (
	"errors"
	"time"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ErrAlreadySent means the provider accepted this job's message before, so
// a reclaimed job must not send it again.
var ErrAlreadySent = errors.New("notification already sent")

var ErrNotFound = errors.New("delivery not found")

// Record is the per-job guard written around the provider call.
type Record struct {
	JobID             string     `json:"jobId"`
	Recipient         string     `json:"recipient"`
	Status            Status     `json:"status"`
	ProviderMessageID *string    `json:"providerMessageId,omitempty"`
	LastError         *string    `json:"lastError,omitempty"`
	SentAt            *time.Time `json:"sentAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
