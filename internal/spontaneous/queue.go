package spontaneous

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"volition/internal/logging"
	"volition/internal/safety"
)

// Queue holds pending outbound messages and delivers them on a ticker.
// Messages are processed strictly in insertion order; urgency affects
// only eviction under pressure.
type Queue struct {
	mu sync.Mutex

	pending   []*Message
	delivered []*Message
	prefs     map[string]*UserPrefs

	filter   *safety.ContentFilter
	now      func() time.Time
	dailyCap int
	cooldown time.Duration

	totalQueued      int64
	totalDelivered   int64
	totalArchived    int64
	totalSkipped     int64
	totalRejected    int64
	totalEvicted     int64
	deliveryFailures int64

	// processMu serializes ProcessQueue passes so a slow tick never
	// overlaps the next one.
	processMu sync.Mutex

	tickerMu   sync.Mutex
	tickerStop chan struct{}
	tickerDone chan struct{}
}

// Options configure a Queue. Zero values take package defaults.
type Options struct {
	Filter   *safety.ContentFilter
	DailyCap int
	Cooldown time.Duration

	// Now is the clock used for TTL, cooldown and daily resets.
	// Injectable so tests never sleep on wall-clock timers.
	Now func() time.Time
}

// NewQueue creates an empty spontaneous message queue.
func NewQueue(opts Options) *Queue {
	if opts.Filter == nil {
		opts.Filter = safety.NewContentFilter()
	}
	if opts.DailyCap <= 0 {
		opts.DailyCap = DefaultDailyCap
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		prefs:    make(map[string]*UserPrefs),
		filter:   opts.Filter,
		now:      opts.Now,
		dailyCap: opts.DailyCap,
		cooldown: opts.Cooldown,
	}
}

// =============================================================================
// ENQUEUE
// =============================================================================

// Enqueue runs the content filter and appends a pending message. At
// capacity the oldest low-urgency message is evicted; when nothing is
// evictable the enqueue fails with ErrQueueFull.
func (q *Queue) Enqueue(p EnqueueParams) (*Message, error) {
	verdict := q.filter.CheckSpontaneousContent(p.Content)
	if !verdict.Allowed {
		logging.QueueWarn("enqueue rejected (%s): %.40q", verdict.Reason, p.Content)
		if verdict.Reason == "empty_content" {
			return nil, ErrEmptyContent
		}
		return nil, fmt.Errorf("%w: %s", ErrContentRejected, verdict.Reason)
	}

	if p.Urgency == "" {
		p.Urgency = UrgencyLow
	}
	if p.MessageType == "" {
		p.MessageType = TypeStatement
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= MaxQueueSize {
		if !q.evictLocked() {
			return nil, fmt.Errorf("%w: %d pending", ErrQueueFull, len(q.pending))
		}
	}

	m := &Message{
		ID:          uuid.NewString(),
		Content:     p.Content,
		Reason:      p.Reason,
		Urgency:     p.Urgency,
		MessageType: p.MessageType,
		UserID:      p.UserID,
		WantID:      p.WantID,
		Status:      StatusPending,
		CreatedAt:   q.now(),
	}
	q.pending = append(q.pending, m)
	q.totalQueued++

	logging.Queue("queued %s (%s, user=%q, reason=%s)", m.ID, m.Urgency, m.UserID, m.Reason)
	return m.clone(), nil
}

// evictLocked drops the oldest low-urgency pending message. Returns
// false when every pending message outranks low.
func (q *Queue) evictLocked() bool {
	for i, m := range q.pending {
		if m.Urgency == UrgencyLow {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.totalEvicted++
			logging.Queue("evicted %s to make room", m.ID)
			return true
		}
	}
	return false
}

// =============================================================================
// PROCESSING
// =============================================================================

// ProcessQueue makes one pass over the queue in insertion order:
// archives expired messages, defers messages whose target is offline or
// rate-limited, formats (and re-filters) where a formatter is supplied,
// then delivers. Callback errors leave the message pending for the next
// tick; there is no retry cap and no backoff.
func (q *Queue) ProcessQueue(ctx context.Context, opts ProcessOptions) ProcessResult {
	q.processMu.Lock()
	defer q.processMu.Unlock()

	var result ProcessResult

	q.mu.Lock()
	snapshot := append([]*Message(nil), q.pending...)
	q.mu.Unlock()

	var sessions map[string]bool
	if opts.Sessions != nil {
		sessions = opts.Sessions()
	}

	for _, m := range snapshot {
		if ctx.Err() != nil {
			break
		}

		now := q.now()
		if now.Sub(m.CreatedAt) > MessageTTL {
			q.finishMessage(m, StatusArchived)
			result.Archived++
			continue
		}

		if opts.Sessions != nil && !targetOnline(m.UserID, sessions) {
			result.Deferred++
			continue
		}

		if m.UserID != "" && !q.canDeliver(m.UserID) {
			result.Deferred++
			continue
		}

		if opts.Format != nil && m.FormattedContent == "" {
			formatted, err := opts.Format(ctx, m.clone())
			if err != nil {
				q.recordFailure(m, "format", err)
				result.Deferred++
				continue
			}
			if formatted == "" || formatted == FormatSkip {
				q.finishMessage(m, StatusSkipped)
				result.Skipped++
				continue
			}
			// The formatter may have rewritten the text entirely, so
			// the safety filter runs again before anything goes out.
			if verdict := q.filter.CheckSpontaneousContent(formatted); !verdict.Allowed {
				logging.QueueWarn("formatted content rejected (%s) for %s", verdict.Reason, m.ID)
				q.finishMessage(m, StatusContentRejected)
				result.Rejected++
				continue
			}
			q.mu.Lock()
			m.FormattedContent = formatted
			q.mu.Unlock()
		}

		if opts.Deliver != nil {
			if err := opts.Deliver(ctx, m.clone()); err != nil {
				q.recordFailure(m, "deliver", err)
				result.Deferred++
				continue
			}
		}

		q.markDelivered(m)
		result.Delivered++
	}

	logging.QueueDebug("tick: delivered=%d archived=%d skipped=%d rejected=%d deferred=%d",
		result.Delivered, result.Archived, result.Skipped, result.Rejected, result.Deferred)
	return result
}

// targetOnline reports whether a message's target has an active
// session. Broadcast messages need at least one session.
func targetOnline(userID string, sessions map[string]bool) bool {
	if userID == "" {
		return len(sessions) > 0
	}
	return sessions[userID]
}

// canDeliver applies the per-user gates: user enabled, daily cap not
// reached, cooldown elapsed. The daily counter resets exactly once when
// the calendar date changes.
func (q *Queue) canDeliver(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	prefs := q.prefsLocked(userID)
	if !prefs.Enabled {
		return false
	}

	q.resetIfNewDayLocked(prefs)
	if prefs.DailyCount >= q.dailyCap {
		return false
	}
	if !prefs.LastDeliveredAt.IsZero() && q.now().Sub(prefs.LastDeliveredAt) < q.cooldown {
		return false
	}
	return true
}

func (q *Queue) prefsLocked(userID string) *UserPrefs {
	prefs, ok := q.prefs[userID]
	if !ok {
		prefs = &UserPrefs{Enabled: true}
		q.prefs[userID] = prefs
	}
	return prefs
}

func (q *Queue) resetIfNewDayLocked(prefs *UserPrefs) {
	today := q.now().Format("2006-01-02")
	if prefs.LastResetDate != today {
		prefs.DailyCount = 0
		prefs.LastResetDate = today
	}
}

// finishMessage moves a pending message into a terminal state.
func (q *Queue) finishMessage(m *Message, status Status) {
	q.mu.Lock()
	defer q.mu.Unlock()

	m.Status = status
	q.removeLocked(m.ID)
	switch status {
	case StatusArchived:
		q.totalArchived++
	case StatusSkipped:
		q.totalSkipped++
	case StatusContentRejected:
		q.totalRejected++
	}
	logging.Queue("message %s -> %s", m.ID, status)
}

// markDelivered finalizes a delivery: terminal status, per-user counter
// and cooldown bookkeeping, bounded delivered audit.
func (q *Queue) markDelivered(m *Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	m.Status = StatusDelivered
	m.DeliveredAt = now
	q.removeLocked(m.ID)

	if m.UserID != "" {
		prefs := q.prefsLocked(m.UserID)
		q.resetIfNewDayLocked(prefs)
		prefs.DailyCount++
		prefs.LastDeliveredAt = now
	}

	q.delivered = append(q.delivered, m)
	if len(q.delivered) > MaxDelivered {
		q.delivered = q.delivered[len(q.delivered)-MaxDelivered:]
	}
	q.totalDelivered++
	logging.Queue("delivered %s to %q", m.ID, m.UserID)
}

func (q *Queue) recordFailure(m *Message, stage string, err error) {
	q.mu.Lock()
	q.deliveryFailures++
	q.mu.Unlock()
	logging.QueueWarn("%s failed for %s, will retry next tick: %v", stage, m.ID, err)
}

func (q *Queue) removeLocked(id string) {
	for i, m := range q.pending {
		if m.ID == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// =============================================================================
// PREFERENCES AND QUERIES
// =============================================================================

// SetUserEnabled toggles spontaneous delivery for a user.
func (q *Queue) SetUserEnabled(userID string, enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prefs := q.prefsLocked(userID)
	prefs.Enabled = enabled
	logging.Queue("user %q spontaneous delivery enabled=%v", userID, enabled)
}

// UserPrefs returns a copy of a user's delivery state.
func (q *Queue) UserPrefs(userID string) UserPrefs {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.prefsLocked(userID)
}

// PendingMessages returns copies of queued messages in insertion order.
func (q *Queue) PendingMessages() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Message, 0, len(q.pending))
	for _, m := range q.pending {
		out = append(out, m.clone())
	}
	return out
}

// DeliveredMessages returns copies of the bounded delivered audit.
func (q *Queue) DeliveredMessages() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Message, 0, len(q.delivered))
	for _, m := range q.delivered {
		out = append(out, m.clone())
	}
	return out
}

// Status returns queue-level counters.
func (q *Queue) Status() Metrics {
	q.mu.Lock()
	pending := len(q.pending)
	delivered := len(q.delivered)
	m := Metrics{
		Pending:          pending,
		Delivered:        delivered,
		TotalQueued:      q.totalQueued,
		TotalDelivered:   q.totalDelivered,
		TotalArchived:    q.totalArchived,
		TotalSkipped:     q.totalSkipped,
		TotalRejected:    q.totalRejected,
		TotalEvicted:     q.totalEvicted,
		DeliveryFailures: q.deliveryFailures,
	}
	q.mu.Unlock()

	q.tickerMu.Lock()
	m.TickerRunning = q.tickerStop != nil
	q.tickerMu.Unlock()
	return m
}

// =============================================================================
// SNAPSHOT EXPORT / IMPORT
// =============================================================================

// ExportState returns a deep-copy snapshot for persistence.
func (q *Queue) ExportState() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := State{
		Prefs:            make(map[string]*UserPrefs, len(q.prefs)),
		TotalQueued:      q.totalQueued,
		TotalDelivered:   q.totalDelivered,
		TotalArchived:    q.totalArchived,
		TotalSkipped:     q.totalSkipped,
		TotalRejected:    q.totalRejected,
		TotalEvicted:     q.totalEvicted,
		DeliveryFailures: q.deliveryFailures,
	}
	for _, m := range q.pending {
		st.Pending = append(st.Pending, m.clone())
	}
	for _, m := range q.delivered {
		st.Delivered = append(st.Delivered, m.clone())
	}
	for user, prefs := range q.prefs {
		cp := *prefs
		st.Prefs[user] = &cp
	}
	return st
}

// ImportState replaces queue state with a snapshot. Only pending
// messages re-enter the queue; terminal messages stay in the audit.
func (q *Queue) ImportState(st State) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = nil
	q.delivered = nil
	q.prefs = make(map[string]*UserPrefs)

	for _, m := range st.Pending {
		if m.Status != StatusPending {
			continue
		}
		q.pending = append(q.pending, m.clone())
		if len(q.pending) >= MaxQueueSize {
			break
		}
	}
	for _, m := range st.Delivered {
		q.delivered = append(q.delivered, m.clone())
	}
	if len(q.delivered) > MaxDelivered {
		q.delivered = q.delivered[len(q.delivered)-MaxDelivered:]
	}
	for user, prefs := range st.Prefs {
		cp := *prefs
		q.prefs[user] = &cp
	}

	q.totalQueued = st.TotalQueued
	q.totalDelivered = st.TotalDelivered
	q.totalArchived = st.TotalArchived
	q.totalSkipped = st.TotalSkipped
	q.totalRejected = st.TotalRejected
	q.totalEvicted = st.TotalEvicted
	q.deliveryFailures = st.DeliveryFailures
}
