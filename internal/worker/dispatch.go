package worker

import (
	"context"
	"time"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/queue"
	"github.com/heraldhq/herald/internal/types"
)

// processJob takes ownership of a claimed job and carries it through to
// either a committed success/failure or a rolled-back release for another
// worker to pick up (§4.C7 steps 1-5).
func (p *Pool) processJob(ctx context.Context, dq *queue.Dequeued) {
	job := dq.Job

	sub, err := p.store.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		p.logger.Warn().Err(err).Str("subscription_id", job.SubscriptionID).Msg("failed to load subscription for job")
		_ = dq.Rollback(ctx)
		return
	}
	if sub.Status != types.SubscriptionActive {
		// Canceled since enqueue: drop silently, per §3 Lifecycles.
		_ = dq.Commit(ctx)
		return
	}

	signal, err := p.store.GetSignal(ctx, job.SignalID)
	if err != nil {
		p.logger.Warn().Err(err).Str("signal_id", job.SignalID).Msg("failed to load signal for job")
		_ = dq.Rollback(ctx)
		return
	}

	subscriber, err := p.store.GetSubscriber(ctx, sub.SubscriberID)
	if err != nil {
		p.logger.Warn().Err(err).Str("subscriber_id", sub.SubscriberID).Msg("failed to load subscriber for job")
		_ = dq.Rollback(ctx)
		return
	}

	mode := resolveMode(subscriber, sub)

	deliveryID := types.NewID("del")
	delivery := &types.Delivery{
		ID:             deliveryID,
		SignalID:       job.SignalID,
		SubscriptionID: job.SubscriptionID,
		WebhookID:      job.WebhookID,
		Mode:           mode,
		Attempt:        job.Attempt,
		Status:         types.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.store.InsertDelivery(ctx, dq.Tx, delivery); err != nil {
		p.logger.Warn().Err(err).Msg("failed to insert delivery row")
		_ = dq.Rollback(ctx)
		return
	}
	if err := dq.Commit(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("failed to commit delivery row")
		return
	}

	var attemptErr error
	var httpStatus *int
	var latencyMS int64

	switch mode {
	case types.ModeAgent:
		attemptErr, latencyMS = p.deliverViaTunnel(ctx, sub, signal, deliveryID)
	case types.ModeWebhook:
		attemptErr, httpStatus, latencyMS = p.deliverViaWebhook(ctx, sub, signal, deliveryID)
	default:
		attemptErr = errNoTransport
	}

	outcome := "success"
	success := attemptErr == nil
	if !success {
		outcome = "failed"
	}
	var errMsg *string
	if attemptErr != nil {
		msg := attemptErr.Error()
		errMsg = &msg
	}

	if err := p.store.CompleteDelivery(ctx, deliveryID, deliveryStatus(success), httpStatus, errMsg, latencyMS); err != nil {
		p.logger.Warn().Err(err).Str("delivery_id", deliveryID).Msg("failed to complete delivery row")
	}
	if err := p.store.IncrementSignalCounters(ctx, job.SignalID, success, !success); err != nil {
		p.logger.Warn().Err(err).Str("signal_id", job.SignalID).Msg("failed to update signal counters")
	}

	metrics.DeliveriesTotal.WithLabelValues(string(mode), outcome).Inc()
	metrics.DeliveryLatencySeconds.WithLabelValues(string(mode)).Observe(float64(latencyMS) / 1000.0)

	if success {
		return
	}

	p.scheduleRetryOrDeadLetter(ctx, job, delivery, signal, attemptErr)
}

var errNoTransport = &transportError{"subscriber has no usable delivery transport configured"}

type transportError struct{ msg string }

func (e *transportError) Error() string { return e.msg }

func resolveMode(subscriber *types.Subscriber, sub *types.Subscription) types.DeliveryMode {
	// Effective mode is resolved at dispatch time, not frozen at
	// subscription (§3 Subscriber). A subscription pinned to a specific
	// webhook still delivers via webhook even if the subscriber's general
	// preference has since moved to agent.
	if sub.WebhookID != nil {
		return types.ModeWebhook
	}
	return subscriber.DeliveryMode
}

func deliveryStatus(success bool) types.DeliveryStatus {
	if success {
		return types.DeliverySuccess
	}
	return types.DeliveryFailed
}

func (p *Pool) deliverViaTunnel(ctx context.Context, sub *types.Subscription, signal *types.Signal, deliveryID string) (error, int64) {
	start := time.Now()

	channel, err := p.store.GetChannel(ctx, signal.ChannelID)
	if err != nil {
		return err, time.Since(start).Milliseconds()
	}

	push := types.TunnelSignalPush{
		Type:        types.TunnelSignal,
		DeliveryID:  deliveryID,
		ChannelID:   channel.ID,
		ChannelSlug: channel.Slug,
		Signal:      *signal,
	}

	queued, err := p.tunnel.Push(ctx, sub.SubscriberID, push)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return err, latency
	}
	if !queued {
		return &transportError{"agent not connected or outbound queue saturated"}, latency
	}
	return nil, latency
}

func (p *Pool) deliverViaWebhook(ctx context.Context, sub *types.Subscription, signal *types.Signal, deliveryID string) (error, *int, int64) {
	if sub.WebhookID == nil {
		return errNoTransport, nil, 0
	}
	wh, err := p.store.GetWebhook(ctx, *sub.WebhookID)
	if err != nil {
		return err, nil, 0
	}
	if wh.Status != types.WebhookActive {
		return &transportError{"webhook is not active"}, nil, 0
	}

	channel, err := p.store.GetChannel(ctx, signal.ChannelID)
	if err != nil {
		return err, nil, 0
	}

	result := p.webhook.Deliver(ctx, wh, deliveryID, types.WebhookChannelInfo{
		ID: channel.ID, Slug: channel.Slug, DisplayName: channel.DisplayName,
	}, *signal)

	var statusPtr *int
	if result.HTTPStatus != 0 {
		status := result.HTTPStatus
		statusPtr = &status
	}

	if result.Err != nil {
		_ = p.store.RecordWebhookFailure(ctx, wh.ID)
		return result.Err, statusPtr, result.LatencyMS
	}
	_ = p.store.RecordWebhookSuccess(ctx, wh.ID)
	return nil, statusPtr, result.LatencyMS
}
