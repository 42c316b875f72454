package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/types"
)

// scheduleRetryOrDeadLetter re-enqueues a failed job at its next backoff
// delay, or writes a dead-letter entry once the ladder is exhausted
// (§4.C4 retry ladder, §4.C7 step 6).
func (p *Pool) scheduleRetryOrDeadLetter(ctx context.Context, job types.DeliveryJob, delivery *types.Delivery, signal *types.Signal, attemptErr error) {
	delay, ok := queue.DelayForNextAttempt(job.Attempt)
	if ok {
		if rerr := p.queue.RequeueStandalone(ctx, job, delay); rerr != nil {
			p.logger.Warn().Err(rerr).Str("signal_id", job.SignalID).Str("subscription_id", job.SubscriptionID).
				Msg("failed to requeue job after delivery failure")
		}
		return
	}

	metrics.DeadLettersTotal.Inc()

	entry := &types.DeadLetterEntry{
		ID:             types.NewID("dlq"),
		DeliveryID:     delivery.ID,
		SignalID:       job.SignalID,
		SubscriptionID: job.SubscriptionID,
		CreatedAt:      time.Now().UTC(),
	}

	if payload, err := json.Marshal(signal); err != nil {
		p.logger.Warn().Err(err).Str("signal_id", job.SignalID).Msg("failed to freeze signal payload for dead letter")
	} else {
		entry.Payload = payload
	}

	attempts, err := p.store.DeliveriesForSignalSubscription(ctx, job.SignalID, job.SubscriptionID)
	if err != nil {
		p.logger.Warn().Err(err).Str("signal_id", job.SignalID).Str("subscription_id", job.SubscriptionID).
			Msg("failed to load delivery history for dead letter")
	}
	entry.ErrorHistory = buildErrorHistory(attempts, attemptErr)

	if err := p.store.InsertDeadLetter(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("signal_id", job.SignalID).Msg("failed to write dead letter entry")
	}
}

// buildErrorHistory turns the harvested Delivery rows for a (signal,
// subscription) pair into the ordered §3 error_history array, one entry per
// failed attempt. Falls back to a single entry built from the final
// in-flight error if the history couldn't be loaded, so a dead letter is
// never written with an empty history.
func buildErrorHistory(attempts []types.Delivery, lastErr error) []types.DeadLetterError {
	if len(attempts) == 0 {
		return []types.DeadLetterError{{
			Timestamp: time.Now().UTC(),
			Code:      "delivery_failed",
			Message:   errString(lastErr),
		}}
	}

	history := make([]types.DeadLetterError, 0, len(attempts))
	for _, d := range attempts {
		ts := d.CreatedAt
		if d.CompletedAt != nil {
			ts = *d.CompletedAt
		}
		var msg string
		if d.Error != nil {
			msg = *d.Error
		}
		history = append(history, types.DeadLetterError{
			Timestamp: ts,
			Code:      "delivery_failed",
			Message:   msg,
		})
	}
	return history
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
