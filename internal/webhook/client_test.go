package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/types"
)

func TestDeliverSignsWithWebhookSecret(t *testing.T) {
	var gotBody []byte
	var gotSig, gotTS, gotBearer, gotDeliveryID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Herald-Signature")
		gotTS = r.Header.Get("X-Herald-Timestamp")
		gotBearer = r.Header.Get("Authorization")
		gotDeliveryID = r.Header.Get("X-Herald-Delivery-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "process-wide-secret")
	wh := &types.Webhook{URL: server.URL, Secret: "wh_secret", BearerToken: "tok_abc"}
	sig := types.Signal{ID: "sig_1", Title: "t", Body: "b", Urgency: types.UrgencyNormal, CreatedAt: time.Now()}
	channel := types.WebhookChannelInfo{ID: "chan_1", Slug: "alerts", DisplayName: "Alerts"}

	result := client.Deliver(context.Background(), wh, "dlv_1", channel, sig)
	if result.Err != nil {
		t.Fatalf("unexpected delivery error: %v", result.Err)
	}
	if result.HTTPStatus != http.StatusOK {
		t.Fatalf("HTTPStatus = %d, want 200", result.HTTPStatus)
	}
	if gotDeliveryID != "dlv_1" {
		t.Fatalf("X-Herald-Delivery-Id = %q, want dlv_1", gotDeliveryID)
	}
	if gotBearer != "Bearer tok_abc" {
		t.Fatalf("Authorization = %q, want Bearer tok_abc", gotBearer)
	}

	ts, err := strconv.ParseInt(gotTS, 10, 64)
	if err != nil {
		t.Fatalf("timestamp header not an int: %v", err)
	}
	wantSig := identity.SignPayload("wh_secret", ts, gotBody)
	if gotSig != wantSig {
		t.Fatalf("signature = %q, want %q (signed with webhook secret, not process secret)", gotSig, wantSig)
	}
}

func TestDeliverFallsBackToProcessSecretWhenWebhookHasNone(t *testing.T) {
	var gotBody []byte
	var gotSig, gotTS string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Herald-Signature")
		gotTS = r.Header.Get("X-Herald-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "process-wide-secret")
	wh := &types.Webhook{URL: server.URL}
	sig := types.Signal{ID: "sig_2", CreatedAt: time.Now()}

	result := client.Deliver(context.Background(), wh, "dlv_2", types.WebhookChannelInfo{}, sig)
	if result.Err != nil {
		t.Fatalf("unexpected delivery error: %v", result.Err)
	}

	ts, _ := strconv.ParseInt(gotTS, 10, 64)
	wantSig := identity.SignPayload("process-wide-secret", ts, gotBody)
	if gotSig != wantSig {
		t.Fatalf("signature = %q, want %q (should fall back to process secret)", gotSig, wantSig)
	}
}

func TestDeliverReportsErrorOnNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(5*time.Second, "secret")
	wh := &types.Webhook{URL: server.URL}
	sig := types.Signal{ID: "sig_3", CreatedAt: time.Now()}

	result := client.Deliver(context.Background(), wh, "dlv_3", types.WebhookChannelInfo{}, sig)
	if result.Err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if result.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus = %d, want 500", result.HTTPStatus)
	}
}
