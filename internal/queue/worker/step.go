package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/geocoder89/eventhub-registrations/internal/domain/delivery"
	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/notifications"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// ProcessOne claims and handles a single due job. It reports whether a job
// was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.queue.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("claim: %w", err)
	}

	ctx = observability.WithLogAttrs(ctx, slog.String("job_id", j.ID), slog.String("event_id", j.Payload.EventID))

	w.stats.IncClaimed()
	done := w.prom.DeliveryStarted()
	defer done()

	start := w.now()
	log := w.log.With("kind", j.Kind, "attempt", j.Attempts+1, "worker_id", w.cfg.WorkerID)

	msg, skipped, err := w.execute(ctx, j)
	if err == nil {
		err = w.recordInbox(ctx, j, msg)
	}
	elapsed := w.now().Sub(start)
	w.stats.ObserveDuration(elapsed)

	if err != nil {
		result := w.handleFailure(ctx, j, err)
		w.prom.ObserveDelivery(string(j.Kind), result, elapsed)
		return true, nil
	}

	if err := w.queue.MarkDelivered(ctx, j.ID, w.cfg.WorkerID); err != nil {
		if errors.Is(err, job.ErrLeaseLost) {
			log.WarnContext(ctx, "lease lost after delivery")
			return true, nil
		}
		return true, fmt.Errorf("mark delivered: %w", err)
	}

	result := "delivered"
	if skipped {
		result = "skipped"
		w.stats.IncSkipped()
		log.InfoContext(ctx, "job already sent, marked delivered")
	} else {
		w.stats.IncDelivered()
		log.InfoContext(ctx, "job delivered", "duration_ms", elapsed.Milliseconds())
	}
	w.prom.ObserveDelivery(string(j.Kind), result, elapsed)
	return true, nil
}

// execute renders and sends j. skipped is true when an earlier attempt
// already reached the provider.
func (w *Worker) execute(ctx context.Context, j job.Job) (msg notifications.Message, skipped bool, err error) {
	msg, err = w.renderer.Render(j.Payload.Template, j.Payload.Recipient, j.Payload.Data)
	if err != nil {
		return msg, false, backoff.Permanent(err)
	}

	if err := w.deliveries.TryStart(ctx, j.ID, j.Payload.Recipient); err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			return msg, true, nil
		}
		return msg, false, fmt.Errorf("start delivery: %w", err)
	}

	providerID, err := w.notifier.Send(ctx, msg)
	if err != nil {
		if markErr := w.deliveries.MarkSendFailed(ctx, j.ID, err.Error()); markErr != nil {
			w.log.ErrorContext(ctx, "record send failure", "err", markErr)
		}
		if errors.Is(err, notifications.ErrRejected) {
			return msg, false, backoff.Permanent(err)
		}
		return msg, false, err
	}

	if err := w.deliveries.MarkSent(ctx, j.ID, providerID); err != nil {
		// the provider accepted it; a retry would send a duplicate
		w.log.ErrorContext(ctx, "record sent delivery", "err", err)
	}
	return msg, false, nil
}

// recordInbox stores the in-app copy of a sent message. It also runs for a
// skipped send, so a retry after a failed record still lands in the inbox.
func (w *Worker) recordInbox(ctx context.Context, j job.Job, msg notifications.Message) error {
	if w.inbox == nil || j.Payload.UserID == "" {
		return nil
	}

	item := inbox.New(j.Payload.UserID, j.Payload.EventID, j.ID, string(j.Kind), msg.Subject, w.now())
	if err := w.inbox.Record(ctx, item); err != nil {
		return fmt.Errorf("record inbox item: %w", err)
	}
	return nil
}

// handleFailure reschedules j with backoff, or fails it for good when the
// error is permanent or the attempts are used up. It returns the metric result.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) string {
	attempt := j.Attempts + 1
	msg := cause.Error()
	log := w.log.With("kind", j.Kind, "attempt", attempt, "max_attempts", j.MaxAttempts)

	var permanent *backoff.PermanentError
	if errors.As(cause, &permanent) || attempt >= j.MaxAttempts {
		if err := w.queue.MarkFailed(ctx, j.ID, w.cfg.WorkerID, msg); err != nil {
			log.ErrorContext(ctx, "mark failed", "err", err)
		}
		w.stats.IncFailedPermanent()
		log.ErrorContext(ctx, "job failed permanently", "err", cause)
		return "failed_permanent"
	}

	runAt := w.now().Add(w.cfg.Backoff.Delay(attempt))
	if err := w.queue.Reschedule(ctx, j.ID, w.cfg.WorkerID, runAt, msg); err != nil {
		log.ErrorContext(ctx, "reschedule", "err", err)
	}
	w.stats.IncRetried()
	log.WarnContext(ctx, "job failed, retry scheduled", "err", cause, "run_at", runAt)
	return "retry"
}
