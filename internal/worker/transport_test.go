package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/types"
	"github.com/heraldhq/herald/internal/webhook"
)

type fakeWorkerStore struct {
	subscriptions map[string]*types.Subscription
	webhooks      map[string]*types.Webhook
	subscribers   map[string]*types.Subscriber
	signals       map[string]*types.Signal
	channels      map[string]*types.Channel

	webhookSuccesses []string
	webhookFailures  []string
}

func (f *fakeWorkerStore) GetSubscription(ctx context.Context, id string) (*types.Subscription, error) {
	return f.subscriptions[id], nil
}
func (f *fakeWorkerStore) GetWebhook(ctx context.Context, id string) (*types.Webhook, error) {
	return f.webhooks[id], nil
}
func (f *fakeWorkerStore) GetSubscriber(ctx context.Context, id string) (*types.Subscriber, error) {
	return f.subscribers[id], nil
}
func (f *fakeWorkerStore) GetSignal(ctx context.Context, id string) (*types.Signal, error) {
	return f.signals[id], nil
}
func (f *fakeWorkerStore) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	return f.channels[id], nil
}
func (f *fakeWorkerStore) InsertDelivery(ctx context.Context, q store.Querier, d *types.Delivery) error {
	return nil
}
func (f *fakeWorkerStore) CompleteDelivery(ctx context.Context, id string, status types.DeliveryStatus, httpStatus *int, deliveryErr *string, latencyMS int64) error {
	return nil
}
func (f *fakeWorkerStore) IncrementSignalCounters(ctx context.Context, signalID string, delivered, failed bool) error {
	return nil
}
func (f *fakeWorkerStore) InsertDeadLetter(ctx context.Context, entry *types.DeadLetterEntry) error {
	return nil
}
func (f *fakeWorkerStore) DeliveriesForSignalSubscription(ctx context.Context, signalID, subscriptionID string) ([]types.Delivery, error) {
	return nil, nil
}
func (f *fakeWorkerStore) RecordWebhookSuccess(ctx context.Context, id string) error {
	f.webhookSuccesses = append(f.webhookSuccesses, id)
	return nil
}
func (f *fakeWorkerStore) RecordWebhookFailure(ctx context.Context, id string) error {
	f.webhookFailures = append(f.webhookFailures, id)
	return nil
}

type fakeTunnelPusher struct {
	queued bool
	err    error
}

func (f *fakeTunnelPusher) Push(ctx context.Context, subscriberID string, msg types.TunnelSignalPush) (bool, error) {
	return f.queued, f.err
}

func TestDeliverViaWebhookSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhookID := "wh_1"
	fs := &fakeWorkerStore{
		webhooks: map[string]*types.Webhook{webhookID: {ID: webhookID, URL: server.URL, Status: types.WebhookActive}},
		channels: map[string]*types.Channel{"chan_1": {ID: "chan_1", Slug: "alerts"}},
	}
	p := &Pool{store: fs, webhook: webhook.NewClient(time.Second, "secret"), logger: zerolog.Nop()}

	sub := &types.Subscription{WebhookID: &webhookID}
	signal := &types.Signal{ID: "sig_1", ChannelID: "chan_1", CreatedAt: time.Now()}

	err, status, _ := p.deliverViaWebhook(context.Background(), sub, signal, "del_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status == nil || *status != http.StatusOK {
		t.Fatalf("status = %v, want 200", status)
	}
	if len(fs.webhookSuccesses) != 1 {
		t.Fatalf("expected one recorded webhook success")
	}
}

func TestDeliverViaWebhookFailureRecordsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhookID := "wh_1"
	fs := &fakeWorkerStore{
		webhooks: map[string]*types.Webhook{webhookID: {ID: webhookID, URL: server.URL, Status: types.WebhookActive}},
		channels: map[string]*types.Channel{"chan_1": {ID: "chan_1"}},
	}
	p := &Pool{store: fs, webhook: webhook.NewClient(time.Second, "secret"), logger: zerolog.Nop()}

	sub := &types.Subscription{WebhookID: &webhookID}
	signal := &types.Signal{ID: "sig_1", ChannelID: "chan_1", CreatedAt: time.Now()}

	err, _, _ := p.deliverViaWebhook(context.Background(), sub, signal, "del_1")
	if err == nil {
		t.Fatalf("expected delivery error for 500 response")
	}
	if len(fs.webhookFailures) != 1 {
		t.Fatalf("expected one recorded webhook failure")
	}
}

func TestDeliverViaWebhookRejectsInactiveWebhook(t *testing.T) {
	webhookID := "wh_1"
	fs := &fakeWorkerStore{
		webhooks: map[string]*types.Webhook{webhookID: {ID: webhookID, Status: types.WebhookDisabled}},
	}
	p := &Pool{store: fs, webhook: webhook.NewClient(time.Second, "secret"), logger: zerolog.Nop()}

	sub := &types.Subscription{WebhookID: &webhookID}
	signal := &types.Signal{ID: "sig_1", ChannelID: "chan_1", CreatedAt: time.Now()}

	err, _, _ := p.deliverViaWebhook(context.Background(), sub, signal, "del_1")
	if err == nil {
		t.Fatalf("expected error for inactive webhook")
	}
}

func TestDeliverViaTunnelNotConnected(t *testing.T) {
	fs := &fakeWorkerStore{channels: map[string]*types.Channel{"chan_1": {ID: "chan_1"}}}
	p := &Pool{store: fs, tunnel: &fakeTunnelPusher{queued: false}, logger: zerolog.Nop()}

	sub := &types.Subscription{SubscriberID: "sub_1"}
	signal := &types.Signal{ID: "sig_1", ChannelID: "chan_1", CreatedAt: time.Now()}

	err, _ := p.deliverViaTunnel(context.Background(), sub, signal, "del_1")
	if err == nil {
		t.Fatalf("expected error when tunnel push is not queued")
	}
}

func TestDeliverViaTunnelSuccess(t *testing.T) {
	fs := &fakeWorkerStore{channels: map[string]*types.Channel{"chan_1": {ID: "chan_1"}}}
	p := &Pool{store: fs, tunnel: &fakeTunnelPusher{queued: true}, logger: zerolog.Nop()}

	sub := &types.Subscription{SubscriberID: "sub_1"}
	signal := &types.Signal{ID: "sig_1", ChannelID: "chan_1", CreatedAt: time.Now()}

	err, _ := p.deliverViaTunnel(context.Background(), sub, signal, "del_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
