package tunnel

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/types"
)

type fakeRedeliveryStore struct {
	deliveries map[string]*types.Delivery
	signals    map[string]*types.Signal

	completedStatus types.DeliveryStatus
	completedErr    *string
	deadLetters     []*types.DeadLetterEntry
	history         []types.Delivery
}

func (f *fakeRedeliveryStore) GetDelivery(ctx context.Context, id string) (*types.Delivery, error) {
	return f.deliveries[id], nil
}

func (f *fakeRedeliveryStore) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	return f.signals[id], nil
}

func (f *fakeRedeliveryStore) CompleteDelivery(ctx context.Context, id string, status types.DeliveryStatus, httpStatus *int, deliveryErr *string, latencyMS int64) error {
	f.completedStatus = status
	f.completedErr = deliveryErr
	if d, ok := f.deliveries[id]; ok {
		d.Status = status
	}
	return nil
}

func (f *fakeRedeliveryStore) IncrementSignalCounters(ctx context.Context, signalID string, delivered, failed bool) error {
	return nil
}

func (f *fakeRedeliveryStore) DeliveriesForSignalSubscription(ctx context.Context, signalID, subscriptionID string) ([]types.Delivery, error) {
	return f.history, nil
}

func (f *fakeRedeliveryStore) InsertDeadLetter(ctx context.Context, entry *types.DeadLetterEntry) error {
	f.deadLetters = append(f.deadLetters, entry)
	return nil
}

type fakeRequeuer struct {
	jobs  []types.DeliveryJob
	delay time.Duration
}

func (f *fakeRequeuer) RequeueStandalone(ctx context.Context, job types.DeliveryJob, retryDelay time.Duration) error {
	f.jobs = append(f.jobs, job)
	f.delay = retryDelay
	return nil
}

func TestDowngradeAndRetryRequeuesWhenAttemptsRemain(t *testing.T) {
	store := &fakeRedeliveryStore{
		deliveries: map[string]*types.Delivery{
			"del_1": {ID: "del_1", SignalID: "sig_1", SubscriptionID: "sub_1", Status: types.DeliveryPending, Attempt: 2, Mode: types.ModeAgent},
		},
		signals: map[string]*types.Signal{
			"sig_1": {ID: "sig_1", Urgency: types.UrgencyHigh},
		},
	}
	q := &fakeRequeuer{}
	s := &Server{store: store, queue: q, logger: zerolog.Nop()}

	s.downgradeAndRetry(context.Background(), "del_1", "agent rejected the signal")

	if store.completedStatus != types.DeliveryFailed {
		t.Fatalf("completedStatus = %v, want failed", store.completedStatus)
	}
	if len(q.jobs) != 1 {
		t.Fatalf("expected one requeued job, got %d", len(q.jobs))
	}
	if q.jobs[0].Lane != types.LaneHigh {
		t.Fatalf("job lane = %v, want high (derived from signal urgency)", q.jobs[0].Lane)
	}
	if len(store.deadLetters) != 0 {
		t.Fatalf("expected no dead letter written while attempts remain")
	}
}

func TestDowngradeAndRetryDeadLettersWhenLadderExhausted(t *testing.T) {
	store := &fakeRedeliveryStore{
		deliveries: map[string]*types.Delivery{
			"del_1": {ID: "del_1", SignalID: "sig_1", SubscriptionID: "sub_1", Status: types.DeliveryPending, Attempt: 6, Mode: types.ModeAgent},
		},
		signals: map[string]*types.Signal{
			"sig_1": {ID: "sig_1", Title: "disk usage high", Urgency: types.UrgencyCritical},
		},
		history: []types.Delivery{
			{Attempt: 1}, {Attempt: 2}, {Attempt: 3}, {Attempt: 4}, {Attempt: 5}, {Attempt: 6},
		},
	}
	q := &fakeRequeuer{}
	s := &Server{store: store, queue: q, logger: zerolog.Nop()}

	s.downgradeAndRetry(context.Background(), "del_1", "agent rejected the signal")

	if len(q.jobs) != 0 {
		t.Fatalf("expected no requeue once the retry ladder is exhausted")
	}
	if len(store.deadLetters) != 1 {
		t.Fatalf("expected exactly one dead letter entry, got %d", len(store.deadLetters))
	}
	entry := store.deadLetters[0]
	if entry.DeliveryID != "del_1" || entry.SignalID != "sig_1" || entry.SubscriptionID != "sub_1" {
		t.Fatalf("dead letter references wrong delivery/signal/subscription: %+v", entry)
	}
	if len(entry.Payload) == 0 {
		t.Fatalf("expected dead letter payload to be set from the frozen signal")
	}
	if len(entry.ErrorHistory) != 6 {
		t.Fatalf("len(ErrorHistory) = %d, want 6", len(entry.ErrorHistory))
	}
}

func TestDowngradeAndRetrySkipsAlreadyFailedDelivery(t *testing.T) {
	store := &fakeRedeliveryStore{
		deliveries: map[string]*types.Delivery{
			"del_1": {ID: "del_1", SignalID: "sig_1", SubscriptionID: "sub_1", Status: types.DeliveryFailed, Attempt: 1},
		},
	}
	q := &fakeRequeuer{}
	s := &Server{store: store, queue: q, logger: zerolog.Nop()}

	s.downgradeAndRetry(context.Background(), "del_1", "late nack")

	if len(q.jobs) != 0 || len(store.deadLetters) != 0 {
		t.Fatalf("expected no action for a delivery that already failed")
	}
}
