package worker

import (
	"testing"

	"github.com/heraldhq/herald/internal/types"
)

func TestResolveModeWebhookPinnedSubscription(t *testing.T) {
	webhookID := "wh_1"
	sub := &types.Subscription{WebhookID: &webhookID}
	subscriber := &types.Subscriber{DeliveryMode: types.ModeAgent}

	if got := resolveMode(subscriber, sub); got != types.ModeWebhook {
		t.Fatalf("resolveMode = %v, want %v (subscription webhook pin overrides subscriber preference)", got, types.ModeWebhook)
	}
}

func TestResolveModeFallsBackToSubscriberPreference(t *testing.T) {
	sub := &types.Subscription{WebhookID: nil}
	subscriber := &types.Subscriber{DeliveryMode: types.ModeAgent}

	if got := resolveMode(subscriber, sub); got != types.ModeAgent {
		t.Fatalf("resolveMode = %v, want %v", got, types.ModeAgent)
	}
}

func TestDeliveryStatus(t *testing.T) {
	if got := deliveryStatus(true); got != types.DeliverySuccess {
		t.Fatalf("deliveryStatus(true) = %v, want %v", got, types.DeliverySuccess)
	}
	if got := deliveryStatus(false); got != types.DeliveryFailed {
		t.Fatalf("deliveryStatus(false) = %v, want %v", got, types.DeliveryFailed)
	}
}
