// Package types holds the entity and wire-message shapes shared across
// Herald's components, grounded in the data model of spec §3.
package types

import (
	"encoding/json"
	"time"
)

// Urgency is a signal's priority classification; it determines both the
// fan-out queue lane (§4.C4) and, indirectly, how quickly it drains.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// IsValid reports whether u is one of the four allowed urgency values.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Lane returns the priority queue an urgency dispatches to (§4.C4).
func (u Urgency) Lane() Lane {
	switch u {
	case UrgencyHigh, UrgencyCritical:
		return LaneHigh
	default:
		return LaneNormal
	}
}

// Lane names one of the two logical delivery job queues.
type Lane string

const (
	LaneHigh   Lane = "delivery-high"
	LaneNormal Lane = "delivery-normal"
)

// SignalStatus is the lifecycle state of a Signal row.
type SignalStatus string

const (
	SignalActive  SignalStatus = "active"
	SignalDeleted SignalStatus = "deleted"
)

// Signal is an immutable event produced on one channel (§3).
type Signal struct {
	ID             string          `json:"id"`
	ChannelID      string          `json:"channelId"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Urgency        Urgency         `json:"urgency"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	TotalAttempts  int64           `json:"totalAttempts"`
	DeliveredCount int64           `json:"deliveredCount"`
	FailedCount    int64           `json:"failedCount"`
	Status         SignalStatus    `json:"status"`
}

// SubscriptionStatus is the lifecycle state of a Subscription row.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPaused   SubscriptionStatus = "paused"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription links one subscriber to one channel (§3).
type Subscription struct {
	ID           string             `json:"id"`
	SubscriberID string             `json:"subscriberId"`
	ChannelID    string             `json:"channelId"`
	WebhookID    *string            `json:"webhookId,omitempty"`
	Status       SubscriptionStatus `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// WebhookStatus is the lifecycle state of a Webhook row.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookPaused   WebhookStatus = "paused"
	WebhookDisabled WebhookStatus = "disabled"
)

// Webhook is a subscriber-owned HTTPS delivery endpoint (§3).
type Webhook struct {
	ID            string        `json:"id"`
	SubscriberID  string        `json:"subscriberId"`
	URL           string        `json:"url"`
	BearerToken   string        `json:"-"`
	Secret        string        `json:"-"`
	Status        WebhookStatus `json:"status"`
	FailureCount  int64         `json:"failureCount"`
	LastSuccessAt *time.Time    `json:"lastSuccessAt,omitempty"`
	LastFailureAt *time.Time    `json:"lastFailureAt,omitempty"`
}

// DeliveryMode is a subscriber's delivery preference, resolved at dispatch
// time rather than frozen at subscription (§3 Subscriber).
type DeliveryMode string

const (
	ModeAgent   DeliveryMode = "agent"
	ModeWebhook DeliveryMode = "webhook"
)

// Subscriber is the owner of subscriptions, webhooks, and tunnel agents.
type Subscriber struct {
	ID           string       `json:"id"`
	DeliveryMode DeliveryMode `json:"deliveryMode"`
}

// Channel is a named stream owned by one publisher.
type Channel struct {
	ID          string `json:"id"`
	PublisherID string `json:"publisherId"`
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
}

// DeliveryStatus is the lifecycle state of a Delivery row.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Delivery is one record per delivery attempt (§3).
type Delivery struct {
	ID             string         `json:"id"`
	SignalID       string         `json:"signalId"`
	SubscriptionID string         `json:"subscriptionId"`
	WebhookID      *string        `json:"webhookId,omitempty"`
	Mode           DeliveryMode   `json:"mode"`
	Attempt        int            `json:"attempt"`
	Status         DeliveryStatus `json:"status"`
	HTTPStatus     *int           `json:"httpStatus,omitempty"`
	Error          *string        `json:"error,omitempty"`
	LatencyMS      *int64         `json:"latencyMs,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
}

// ApiKeyOwnerType discriminates which side of the marketplace a key belongs to.
type ApiKeyOwnerType string

const (
	OwnerPublisher  ApiKeyOwnerType = "publisher"
	OwnerSubscriber ApiKeyOwnerType = "subscriber"
)

// ApiKeyStatus is the lifecycle state of an ApiKey row.
type ApiKeyStatus string

const (
	ApiKeyActive  ApiKeyStatus = "active"
	ApiKeyRevoked ApiKeyStatus = "revoked"
	ApiKeyExpired ApiKeyStatus = "expired"
)

// ApiKey is the persisted record backing API-key issuance and validation (§4.C1).
type ApiKey struct {
	ID         string          `json:"id"`
	KeyHash    string          `json:"-"`
	Prefix     string          `json:"prefix"`
	OwnerType  ApiKeyOwnerType `json:"ownerType"`
	OwnerID    string          `json:"ownerId"`
	Status     ApiKeyStatus    `json:"status"`
	LastUsedAt *time.Time      `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// DeadLetterError is one entry in a DeadLetterEntry's error history.
type DeadLetterError struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// DeadLetterEntry is a terminal-failure record (§3).
type DeadLetterEntry struct {
	ID             string            `json:"id"`
	DeliveryID     string            `json:"deliveryId"`
	SignalID       string            `json:"signalId"`
	SubscriptionID string            `json:"subscriptionId"`
	Payload        json.RawMessage   `json:"payload"`
	ErrorHistory   []DeadLetterError `json:"errorHistory"`
	CreatedAt      time.Time         `json:"createdAt"`
	ResolvedAt     *time.Time        `json:"resolvedAt,omitempty"`
}

// AgentConnection is one row per tunnel session (§3).
type AgentConnection struct {
	ID               string     `json:"id"`
	SubscriberID     string     `json:"subscriberId"`
	ServerID         string     `json:"serverId"`
	ConnectedAt      time.Time  `json:"connectedAt"`
	DisconnectedAt   *time.Time `json:"disconnectedAt,omitempty"`
	DisconnectReason *string    `json:"disconnectReason,omitempty"`
	SignalsDelivered int64      `json:"signalsDelivered"`
}

// DeliveryJob is one row in the transactional job queue (§4.C4).
type DeliveryJob struct {
	ID             int64
	SignalID       string
	SubscriptionID string
	WebhookID      *string
	Lane           Lane
	Attempt        int
	NotBefore      time.Time
}
