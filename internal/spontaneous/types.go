// Package spontaneous implements the outbound message pipeline: a
// bounded queue of candidate utterances, content-filtered at enqueue and
// again after formatting, drained on a ticker subject to per-user daily
// caps and cooldown.
package spontaneous

import (
	"context"
	"errors"
	"time"
)

// Queue bounds and delivery policy defaults.
const (
	// MaxQueueSize caps pending messages; at capacity the oldest
	// low-urgency message is evicted to make room.
	MaxQueueSize = 100

	// MaxDelivered caps the delivered audit list.
	MaxDelivered = 500

	// MessageTTL archives messages that sat queued for too long.
	MessageTTL = 24 * time.Hour

	// DefaultDailyCap is the max deliveries per user per calendar day.
	DefaultDailyCap = 3

	// DefaultCooldown is the minimum gap between deliveries to one user.
	DefaultCooldown = 60 * time.Minute

	// FormatSkip is the sentinel a format callback returns to drop a
	// message instead of sending it.
	FormatSkip = "[SKIP]"
)

// Sentinel errors for expected validation failures.
var (
	ErrEmptyContent    = errors.New("empty_content")
	ErrContentRejected = errors.New("content_rejected")
	ErrQueueFull       = errors.New("queue_full")
)

// Urgency orders eviction, not delivery: low-urgency messages are the
// first to go when the queue is full.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// MessageType categorizes the utterance.
type MessageType string

const (
	TypeStatement  MessageType = "statement"
	TypeQuestion   MessageType = "question"
	TypeSuggestion MessageType = "suggestion"
)

// Status is the message lifecycle state. pending is the only
// non-terminal state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusDelivered       Status = "delivered"
	StatusArchived        Status = "archived"
	StatusSkipped         Status = "skipped"
	StatusContentRejected Status = "content_rejected"
)

// Message is a candidate outbound utterance.
type Message struct {
	ID               string      `json:"id"`
	Content          string      `json:"content"`
	FormattedContent string      `json:"formatted_content,omitempty"`
	Reason           string      `json:"reason"`
	Urgency          Urgency     `json:"urgency"`
	MessageType      MessageType `json:"message_type"`
	UserID           string      `json:"user_id,omitempty"` // Empty = broadcast
	WantID           string      `json:"want_id,omitempty"`
	Status           Status      `json:"status"`
	CreatedAt        time.Time   `json:"created_at"`
	DeliveredAt      time.Time   `json:"delivered_at,omitzero"`
}

func (m *Message) clone() *Message {
	cp := *m
	return &cp
}

// DeliveryText is what goes out the wire: the formatted content when a
// formatter ran, the raw content otherwise.
func (m *Message) DeliveryText() string {
	if m.FormattedContent != "" {
		return m.FormattedContent
	}
	return m.Content
}

// EnqueueParams are the explicit parameters for Queue.Enqueue.
type EnqueueParams struct {
	Content     string
	Reason      string
	Urgency     Urgency     // Default low
	MessageType MessageType // Default statement
	UserID      string      // Empty targets all active sessions
	WantID      string
}

// UserPrefs is the per-user delivery state.
type UserPrefs struct {
	Enabled         bool      `json:"enabled"`
	DailyCount      int       `json:"daily_count"`
	LastDeliveredAt time.Time `json:"last_delivered_at,omitzero"`
	LastResetDate   string    `json:"last_reset_date"` // YYYY-MM-DD
}

// FormatCallback rewrites a message for delivery. Returning FormatSkip
// (or an empty string) drops the message as skipped; an error leaves it
// queued for the next tick.
type FormatCallback func(ctx context.Context, msg *Message) (string, error)

// DeliverCallback sends a message. An error leaves the message queued
// for the next tick.
type DeliverCallback func(ctx context.Context, msg *Message) error

// SessionFunc reports the currently active user sessions. A nil func
// treats every target as online.
type SessionFunc func() map[string]bool

// ProcessOptions parameterize one ProcessQueue pass.
type ProcessOptions struct {
	Format   FormatCallback
	Deliver  DeliverCallback
	Sessions SessionFunc
}

// ProcessResult summarizes one ProcessQueue pass.
type ProcessResult struct {
	Delivered int
	Archived  int
	Skipped   int
	Rejected  int
	Deferred  int // Left pending: offline, rate-limited or failed
}

// Metrics provides observability into queue state.
type Metrics struct {
	Pending          int   `json:"pending"`
	Delivered        int   `json:"delivered"`
	TotalQueued      int64 `json:"total_queued"`
	TotalDelivered   int64 `json:"total_delivered"`
	TotalArchived    int64 `json:"total_archived"`
	TotalSkipped     int64 `json:"total_skipped"`
	TotalRejected    int64 `json:"total_rejected"`
	TotalEvicted     int64 `json:"total_evicted"`
	DeliveryFailures int64 `json:"delivery_failures"`
	TickerRunning    bool  `json:"ticker_running"`
}

// State is the serializable snapshot of the queue, consumed by the
// snapshot store.
type State struct {
	Pending   []*Message            `json:"pending"`
	Delivered []*Message            `json:"delivered"`
	Prefs     map[string]*UserPrefs `json:"prefs"`

	TotalQueued      int64 `json:"total_queued"`
	TotalDelivered   int64 `json:"total_delivered"`
	TotalArchived    int64 `json:"total_archived"`
	TotalSkipped     int64 `json:"total_skipped"`
	TotalRejected    int64 `json:"total_rejected"`
	TotalEvicted     int64 `json:"total_evicted"`
	DeliveryFailures int64 `json:"delivery_failures"`
}
