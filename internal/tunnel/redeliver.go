package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/types"
)

// RedeliveryStore is the subset of internal/store.Store the tunnel server
// needs to downgrade a negatively-acked delivery back onto the retry ladder
// (§4.C6, §4.C7 step 6).
type RedeliveryStore interface {
	GetDelivery(ctx context.Context, id string) (*types.Delivery, error)
	GetSignal(ctx context.Context, id string) (*types.Signal, error)
	CompleteDelivery(ctx context.Context, id string, status types.DeliveryStatus, httpStatus *int, deliveryErr *string, latencyMS int64) error
	IncrementSignalCounters(ctx context.Context, signalID string, delivered, failed bool) error
	DeliveriesForSignalSubscription(ctx context.Context, signalID, subscriptionID string) ([]types.Delivery, error)
	InsertDeadLetter(ctx context.Context, entry *types.DeadLetterEntry) error
}

// Requeuer is the subset of internal/queue.Queue the tunnel server needs to
// re-enqueue a job after a negative ack.
type Requeuer interface {
	RequeueStandalone(ctx context.Context, job types.DeliveryJob, retryDelay time.Duration) error
}

// downgradeAndRetry loads the delivery an agent just nacked, marks it
// failed, and either re-enqueues the next attempt or writes a dead-letter
// entry if the retry ladder is already exhausted. A negative ack is treated
// exactly like a failed webhook attempt (§4.C6: "a negative ack SHOULD
// cause the worker to mark that delivery as failed and enter the retry
// ladder").
func (s *Server) downgradeAndRetry(ctx context.Context, deliveryID, negativeErr string) {
	if s.store == nil || s.queue == nil {
		return
	}

	delivery, err := s.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		s.logger.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to load delivery for negative ack")
		return
	}
	if delivery.Status == types.DeliveryFailed {
		// already failed: the worker recorded that failure and scheduled its retry
		return
	}

	msg := negativeErr
	if msg == "" {
		msg = "agent returned a negative acknowledgement"
	}

	if err := s.store.CompleteDelivery(ctx, deliveryID, types.DeliveryFailed, nil, &msg, 0); err != nil {
		s.logger.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to mark delivery failed after negative ack")
	}
	if err := s.store.IncrementSignalCounters(ctx, delivery.SignalID, false, true); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", delivery.SignalID).Msg("failed to update signal counters after negative ack")
	}
	metrics.DeliveriesTotal.WithLabelValues(string(delivery.Mode), "failed").Inc()

	signal, err := s.store.GetSignal(ctx, delivery.SignalID)
	if err != nil {
		s.logger.Warn().Err(err).Str("signal_id", delivery.SignalID).Msg("failed to load signal for negative ack retry")
		return
	}

	job := types.DeliveryJob{
		SignalID:       delivery.SignalID,
		SubscriptionID: delivery.SubscriptionID,
		WebhookID:      delivery.WebhookID,
		Lane:           signal.Urgency.Lane(),
		Attempt:        delivery.Attempt,
	}

	delay, ok := queue.DelayForNextAttempt(job.Attempt)
	if ok {
		if rerr := s.queue.RequeueStandalone(ctx, job, delay); rerr != nil {
			s.logger.Warn().Err(rerr).Str("signal_id", job.SignalID).Str("subscription_id", job.SubscriptionID).
				Msg("failed to requeue job after negative ack")
		}
		return
	}

	metrics.DeadLettersTotal.Inc()

	entry := &types.DeadLetterEntry{
		ID:             types.NewID("dlq"),
		DeliveryID:     delivery.ID,
		SignalID:       delivery.SignalID,
		SubscriptionID: delivery.SubscriptionID,
		CreatedAt:      time.Now().UTC(),
	}
	if payload, merr := json.Marshal(signal); merr != nil {
		s.logger.Warn().Err(merr).Str("signal_id", delivery.SignalID).Msg("failed to freeze signal payload for dead letter")
	} else {
		entry.Payload = payload
	}

	attempts, herr := s.store.DeliveriesForSignalSubscription(ctx, delivery.SignalID, delivery.SubscriptionID)
	if herr != nil {
		s.logger.Warn().Err(herr).Str("signal_id", delivery.SignalID).Str("subscription_id", delivery.SubscriptionID).
			Msg("failed to load delivery history for dead letter")
	}
	entry.ErrorHistory = buildErrorHistory(attempts, errors.New(msg))

	if err := s.store.InsertDeadLetter(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("signal_id", delivery.SignalID).Msg("failed to write dead letter entry")
	}
}

// buildErrorHistory turns the harvested Delivery rows for a (signal,
// subscription) pair into the ordered §3 error_history array, one entry per
// failed attempt. Falls back to a single entry built from the final error if
// the history couldn't be loaded, so a dead letter is never written empty.
func buildErrorHistory(attempts []types.Delivery, lastErr error) []types.DeadLetterError {
	if len(attempts) == 0 {
		return []types.DeadLetterError{{
			Timestamp: time.Now().UTC(),
			Code:      "delivery_failed",
			Message:   lastErr.Error(),
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
