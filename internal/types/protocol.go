package types

import "encoding/json"

// TunnelMessageType discriminates the JSON frames exchanged over the tunnel
// WebSocket (§4.C6, §6.3).
type TunnelMessageType string

const (
	TunnelAuth      TunnelMessageType = "auth"
	TunnelAuthOK    TunnelMessageType = "auth_ok"
	TunnelAuthError TunnelMessageType = "auth_error"
	TunnelAck       TunnelMessageType = "ack"
	TunnelSignal    TunnelMessageType = "signal"
	TunnelPing      TunnelMessageType = "ping"
	TunnelPong      TunnelMessageType = "pong"
)

// TunnelEnvelope is used only to sniff the `type` discriminator of an
// incoming frame before unmarshaling it again into the concrete message
// struct that type implies.
type TunnelEnvelope struct {
	Type TunnelMessageType `json:"type"`
}

// TunnelAuthMsg is the client->server handshake frame.
type TunnelAuthMsg struct {
	Type  TunnelMessageType `json:"type"`
	Token string            `json:"token"`
}

// TunnelAuthOKMsg is the server->client handshake success frame.
type TunnelAuthOKMsg struct {
	Type         TunnelMessageType `json:"type"`
	ConnectionID string            `json:"connection_id"`
	SubscriberID string            `json:"subscriber_id"`
}

// TunnelAuthErrorMsg is the server->client handshake failure frame.
type TunnelAuthErrorMsg struct {
	Type    TunnelMessageType `json:"type"`
	Message string            `json:"message"`
}

// TunnelAckMsg is the client->server delivery acknowledgement. A non-empty
// Error converts it into a negative ack (§4.C6).
type TunnelAckMsg struct {
	Type       TunnelMessageType `json:"type"`
	DeliveryID string            `json:"delivery_id"`
	Error      string            `json:"error,omitempty"`
}

// TunnelSignalPush is the server->client payload carrying one signal to forward.
type TunnelSignalPush struct {
	Type        TunnelMessageType `json:"type"`
	DeliveryID  string            `json:"delivery_id"`
	ChannelID   string            `json:"channel_id"`
	ChannelSlug string            `json:"channel_slug"`
	Signal      Signal            `json:"signal"`
}

// TunnelPingMsg / TunnelPongMsg are the heartbeat frames.
type TunnelPingMsg struct {
	Type TunnelMessageType `json:"type"`
}

type TunnelPongMsg struct {
	Type TunnelMessageType `json:"type"`
}

// WebhookChannelInfo is the nested "channel" object of the webhook envelope (§6.2).
type WebhookChannelInfo struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
}

// WebhookSignalInfo is the nested "signal" object of the webhook envelope (§6.2).
type WebhookSignalInfo struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Urgency   Urgency         `json:"urgency"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// WebhookEnvelope is the JSON body POSTed to a subscriber's webhook URL (§6.2).
type WebhookEnvelope struct {
	Event   string             `json:"event"`
	Channel WebhookChannelInfo `json:"channel"`
	Signal  WebhookSignalInfo  `json:"signal"`
}
