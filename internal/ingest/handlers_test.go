package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/store"
	"github.com/heraldhq/herald/internal/types"
)

// fakeStore is an in-memory stand-in for internal/store.Store, scoped to the
// handlers this file exercises.
type fakeStore struct {
	channel         *types.Channel
	subs            []types.Subscription
	insertedSignals []types.Signal
}

func (f *fakeStore) GetChannel(ctx context.Context, id string) (*types.Channel, error) {
	if f.channel == nil || f.channel.ID != id {
		return nil, pgx.ErrNoRows
	}
	return f.channel, nil
}

func (f *fakeStore) ActiveSubscriptionsForChannel(ctx context.Context, channelID string) ([]types.Subscription, error) {
	return f.subs, nil
}

func (f *fakeStore) ListSignals(ctx context.Context, channelID string, limit int) ([]types.Signal, error) {
	return nil, nil
}

func (f *fakeStore) ChannelStats(ctx context.Context, channelID string) (*store.ChannelStats, error) {
	return &store.ChannelStats{}, nil
}

func (f *fakeStore) DeliveriesForWebhook(ctx context.Context, webhookID string, limit int) ([]types.Delivery, error) {
	return nil, nil
}

func (f *fakeStore) ListDeadLetters(ctx context.Context, limit int) ([]types.DeadLetterEntry, error) {
	return nil, nil
}

func (f *fakeStore) GetDeadLetter(ctx context.Context, id string) (*types.DeadLetterEntry, error) {
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) ResolveDeadLetter(ctx context.Context, id string) error { return nil }

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func (f *fakeStore) InsertSignalTx(ctx context.Context, tx pgx.Tx, sig *types.Signal) error {
	f.insertedSignals = append(f.insertedSignals, *sig)
	return nil
}

type fakeQueuer struct {
	fanoutCalls int
}

func (f *fakeQueuer) EnqueueFanout(ctx context.Context, tx pgx.Tx, signalID string, subs []types.Subscription, lane types.Lane) error {
	f.fanoutCalls++
	return nil
}

func newTestServer(t *testing.T, fs *fakeStore, fq *fakeQueuer) *Server {
	t.Helper()
	return &Server{
		store:  fs,
		queue:  fq,
		logger: zerolog.Nop(),
	}
}

// requestWithAuthAndParam builds a request carrying both the chi URL param
// and the auth-middleware context value handlers read directly, since these
// tests call handlers without running the router chain.
func requestWithAuthAndParam(method, target string, body []byte, paramKey, paramVal string, auth *identity.AuthResult) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))

	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(paramKey, paramVal)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if auth != nil {
		ctx = context.WithValue(ctx, authResultKey, auth)
	}
	return req.WithContext(ctx)
}

func TestHandlePublishSignalRejectsEmptyTitle(t *testing.T) {
	fs := &fakeStore{channel: &types.Channel{ID: "chan_1", PublisherID: "pub_1", Status: "active"}}
	fq := &fakeQueuer{}
	s := newTestServer(t, fs, fq)

	body, _ := json.Marshal(publishSignalRequest{Title: "", Urgency: types.UrgencyNormal})
	auth := &identity.AuthResult{KeyID: "key_1", OwnerID: "pub_1"}
	req := requestWithAuthAndParam(http.MethodPost, "/v1/channels/chan_1/signals", body, "channelID", "chan_1", auth)

	rec := httptest.NewRecorder()
	s.handlePublishSignal(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(fs.insertedSignals) != 0 {
		t.Fatalf("expected no signal to be inserted")
	}
}

func TestHandlePublishSignalRejectsForeignChannel(t *testing.T) {
	fs := &fakeStore{channel: &types.Channel{ID: "chan_1", PublisherID: "pub_owner", Status: "active"}}
	fq := &fakeQueuer{}
	s := newTestServer(t, fs, fq)

	body, _ := json.Marshal(publishSignalRequest{Title: "hello", Urgency: types.UrgencyNormal})
	auth := &identity.AuthResult{KeyID: "key_1", OwnerID: "someone_else"}
	req := requestWithAuthAndParam(http.MethodPost, "/v1/channels/chan_1/signals", body, "channelID", "chan_1", auth)

	rec := httptest.NewRecorder()
	s.handlePublishSignal(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHandlePublishSignalSucceedsAndFansOut(t *testing.T) {
	fs := &fakeStore{
		channel: &types.Channel{ID: "chan_1", PublisherID: "pub_1", Status: "active"},
		subs:    []types.Subscription{{ID: "sub_1"}},
	}
	fq := &fakeQueuer{}
	s := newTestServer(t, fs, fq)

	body, _ := json.Marshal(publishSignalRequest{Title: "hello", Body: "world", Urgency: types.UrgencyHigh})
	auth := &identity.AuthResult{KeyID: "key_1", OwnerID: "pub_1"}
	req := requestWithAuthAndParam(http.MethodPost, "/v1/channels/chan_1/signals", body, "channelID", "chan_1", auth)

	rec := httptest.NewRecorder()
	s.handlePublishSignal(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	if len(fs.insertedSignals) != 1 {
		t.Fatalf("expected exactly one signal inserted, got %d", len(fs.insertedSignals))
	}
	if fq.fanoutCalls != 1 {
		t.Fatalf("expected fanout to be invoked once, got %d", fq.fanoutCalls)
	}

	var resp publishSignalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "accepted" {
		t.Fatalf("response status = %q, want accepted", resp.Status)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, &fakeStore{}, &fakeQueuer{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
