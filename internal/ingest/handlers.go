package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/heraldhq/herald/internal/herrors"
	"github.com/heraldhq/herald/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": "1"})
}

type publishSignalRequest struct {
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Urgency  types.Urgency   `json:"urgency"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type publishSignalResponse struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// handlePublishSignal implements POST /v1/channels/{id}/signals (§4.C5).
func (s *Server) handlePublishSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	channelID := chi.URLParam(r, "channelID")

	auth := authFromContext(ctx)

	var req publishSignalRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInvalidRequest, "malformed request body", err))
		return
	}
	if req.Title == "" {
		herrors.WriteJSON(w, reqID, herrors.New(herrors.CodeInvalidRequest, "title is required"))
		return
	}
	if !req.Urgency.IsValid() {
		herrors.WriteJSON(w, reqID, herrors.New(herrors.CodeInvalidRequest, "urgency must be one of low, normal, high, critical"))
		return
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeNotFound, "channel not found", err))
		return
	}
	if channel.Status != "active" {
		herrors.WriteJSON(w, reqID, herrors.New(herrors.CodeForbidden, "channel is not active"))
		return
	}
	if auth == nil || channel.PublisherID != auth.OwnerID {
		herrors.WriteJSON(w, reqID, herrors.New(herrors.CodeForbidden, "channel does not belong to this publisher"))
		return
	}

	subs, err := s.store.ActiveSubscriptionsForChannel(ctx, channelID)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to list subscriptions", err))
		return
	}

	sig := &types.Signal{
		ID:        types.NewID("sig"),
		ChannelID: channelID,
		Title:     req.Title,
		Body:      req.Body,
		Urgency:   req.Urgency,
		Metadata:  req.Metadata,
		Status:    types.SignalActive,
		CreatedAt: time.Now().UTC(),
	}

	lane := req.Urgency.Lane()

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.store.InsertSignalTx(ctx, tx, sig); err != nil {
			return err
		}
		if len(subs) > 0 {
			if err := s.queue.EnqueueFanout(ctx, tx, sig.ID, subs, lane); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to record signal", err))
		return
	}

	writeJSON(w, http.StatusOK, publishSignalResponse{
		ID:        sig.ID,
		ChannelID: sig.ChannelID,
		Status:    "accepted",
		CreatedAt: sig.CreatedAt,
	})
}

type listSignalsResponse struct {
	Items      []types.Signal `json:"items"`
	NextCursor *string        `json:"nextCursor"`
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	channelID := chi.URLParam(r, "channelID")

	signals, err := s.store.ListSignals(ctx, channelID, defaultListLimit)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to list signals", err))
		return
	}
	writeJSON(w, http.StatusOK, listSignalsResponse{Items: signals})
}

type channelStatsResponse struct {
	SignalCount         int64   `json:"signalCount"`
	SubscriberCount     int64   `json:"subscriberCount"`
	DeliverySuccessRate float64 `json:"deliverySuccessRate"`
}

func (s *Server) handleChannelStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	channelID := chi.URLParam(r, "channelID")

	stats, err := s.store.ChannelStats(ctx, channelID)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeNotFound, "channel not found", err))
		return
	}

	var rate float64
	if stats.TotalAttempts > 0 {
		rate = float64(stats.DeliveredCount) / float64(stats.TotalAttempts)
	}

	writeJSON(w, http.StatusOK, channelStatsResponse{
		SignalCount:         stats.SignalCount,
		SubscriberCount:     stats.SubscriberCount,
		DeliverySuccessRate: rate,
	})
}

type listDeliveriesResponse struct {
	Items      []types.Delivery `json:"items"`
	NextCursor *string          `json:"nextCursor"`
}

func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	webhookID := chi.URLParam(r, "webhookID")

	deliveries, err := s.store.DeliveriesForWebhook(ctx, webhookID, defaultListLimit)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to list deliveries", err))
		return
	}
	writeJSON(w, http.StatusOK, listDeliveriesResponse{Items: deliveries})
}

type listDLQResponse struct {
	Items []types.DeadLetterEntry `json:"items"`
}

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)

	entries, err := s.store.ListDeadLetters(ctx, 200)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to list dlq", err))
		return
	}
	writeJSON(w, http.StatusOK, listDLQResponse{Items: entries})
}

func (s *Server) handleRetryDLQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := requestID(ctx)
	entryID := chi.URLParam(r, "entryID")

	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeNotFound, "dlq entry not found", err))
		return
	}

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, execErr := tx.Exec(ctx, `
			INSERT INTO delivery_jobs (signal_id, subscription_id, webhook_id, lane, attempt, not_before)
			VALUES ($1, $2, (SELECT webhook_id FROM subscriptions WHERE id = $2), 'delivery-normal', 1, now())`,
			entry.SignalID, entry.SubscriptionID)
		return execErr
	})
	if err != nil {
		herrors.WriteJSON(w, reqID, herrors.Wrap(herrors.CodeInternal, "failed to requeue dlq entry", err))
		return
	}

	if err := s.store.ResolveDeadLetter(ctx, entryID); err != nil {
		s.logger.Warn().Err(err).Str("dlq_id", entryID).Msg("failed to mark dlq entry resolved after manual retry")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
