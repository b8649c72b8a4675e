package spontaneous

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/goleak"
)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(clock *fakeClock) *Queue {
	return NewQueue(Options{Now: clock.now})
}

func mustEnqueue(t *testing.T, q *Queue, p EnqueueParams) *Message {
	t.Helper()
	if p.Content == "" {
		p.Content = "I noticed an interesting pattern in the parser code"
	}
	m, err := q.Enqueue(p)
	if err != nil {
		t.Fatalf("Enqueue error: %v", err)
	}
	return m
}

// allOnline reports one active session for every target.
func allOnline() map[string]bool {
	return map[string]bool{"alice": true, "bob": true}
}

// =============================================================================
// ENQUEUE TESTS
// =============================================================================

func TestEnqueue_Defaults(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	m := mustEnqueue(t, q, EnqueueParams{Reason: "curiosity_trigger"})

	if m.Status != StatusPending {
		t.Errorf("Status = %q, want pending", m.Status)
	}
	if m.Urgency != UrgencyLow || m.MessageType != TypeStatement {
		t.Errorf("defaults not applied: urgency=%q type=%q", m.Urgency, m.MessageType)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Errorf("missing identity fields: %+v", m)
	}
}

func TestEnqueue_ContentRejected(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())

	_, err := q.Enqueue(EnqueueParams{Content: "Special offer on new modules, buy now while it lasts"})
	if !errors.Is(err, ErrContentRejected) {
		t.Errorf("err = %v, want ErrContentRejected", err)
	}

	_, err = q.Enqueue(EnqueueParams{Content: "   "})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("err = %v, want ErrEmptyContent", err)
	}

	if got := q.Status().Pending; got != 0 {
		t.Errorf("Pending = %d after rejected enqueues, want 0", got)
	}
}

func TestEnqueue_EvictsOldestLowUrgency(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	first := mustEnqueue(t, q, EnqueueParams{Content: "The first low urgency observation about module layout"})
	for i := 1; i < MaxQueueSize; i++ {
		mustEnqueue(t, q, EnqueueParams{
			Content: fmt.Sprintf("Filler observation number %d about the codebase", i),
			Urgency: UrgencyMedium,
		})
	}

	m := mustEnqueue(t, q, EnqueueParams{
		Content: "A high urgency insight worth interrupting for",
		Urgency: UrgencyHigh,
	})

	pending := q.PendingMessages()
	if len(pending) != MaxQueueSize {
		t.Fatalf("pending = %d, want %d", len(pending), MaxQueueSize)
	}
	for _, p := range pending {
		if p.ID == first.ID {
			t.Error("oldest low-urgency message survived eviction")
		}
	}
	if pending[len(pending)-1].ID != m.ID {
		t.Error("new message not at queue tail")
	}
	if got := q.Status().TotalEvicted; got != 1 {
		t.Errorf("TotalEvicted = %d, want 1", got)
	}
}

func TestEnqueue_QueueFullWhenNothingEvictable(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	for i := 0; i < MaxQueueSize; i++ {
		mustEnqueue(t, q, EnqueueParams{
			Content: fmt.Sprintf("High urgency insight number %d about recurring failures", i),
			Urgency: UrgencyHigh,
		})
	}

	_, err := q.Enqueue(EnqueueParams{
		Content: "One insight too many for the saturated queue",
		Urgency: UrgencyHigh,
	})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

// =============================================================================
// PROCESSING TESTS
// =============================================================================

func TestProcessQueue_DeliversInInsertionOrder(t *testing.T) {
	t.Parallel()

	clock := newClock()
	q := newTestQueue(clock)
	a := mustEnqueue(t, q, EnqueueParams{Content: "First observation queued for broadcast delivery"})
	b := mustEnqueue(t, q, EnqueueParams{Content: "Second observation queued for broadcast delivery"})

	var order []string
	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver: func(ctx context.Context, m *Message) error {
			order = append(order, m.ID)
			return nil
		},
		Sessions: allOnline,
	})

	if res.Delivered != 2 {
		t.Fatalf("Delivered = %d, want 2", res.Delivered)
	}
	if len(order) != 2 || order[0] != a.ID || order[1] != b.ID {
		t.Errorf("delivery order = %v, want [%s %s]", order, a.ID, b.ID)
	}

	delivered := q.DeliveredMessages()
	if len(delivered) != 2 || delivered[0].Status != StatusDelivered {
		t.Errorf("delivered audit = %+v", delivered)
	}
}

func TestProcessQueue_ArchivesExpired(t *testing.T) {
	t.Parallel()

	clock := newClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, EnqueueParams{Content: "An observation that will sit in the queue too long"})

	clock.advance(MessageTTL + time.Minute)
	res := q.ProcessQueue(context.Background(), ProcessOptions{Sessions: allOnline})

	if res.Archived != 1 || res.Delivered != 0 {
		t.Errorf("result = %+v, want 1 archived", res)
	}
	if got := q.Status().Pending; got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
}

func TestProcessQueue_OfflineTargetStaysPending(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "A per-user observation for someone offline", UserID: "carol"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})

	if res.Deferred != 1 || res.Delivered != 0 {
		t.Errorf("result = %+v, want 1 deferred", res)
	}
	if got := q.Status().Pending; got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
}

func TestProcessQueue_BroadcastNeedsAnySession(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "A broadcast observation with nobody around"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: func() map[string]bool { return nil },
	})
	if res.Deferred != 1 {
		t.Errorf("result = %+v, want 1 deferred with no sessions", res)
	}

	res = q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})
	if res.Delivered != 1 {
		t.Errorf("result = %+v, want 1 delivered once a session exists", res)
	}
}

func TestProcessQueue_CooldownDefersSecondMessage(t *testing.T) {
	t.Parallel()

	clock := newClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, EnqueueParams{Content: "First personal observation for alice today", UserID: "alice"})
	mustEnqueue(t, q, EnqueueParams{Content: "Second personal observation for alice today", UserID: "alice"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})
	if res.Delivered != 1 || res.Deferred != 1 {
		t.Fatalf("result = %+v, want 1 delivered 1 deferred", res)
	}

	// Past the cooldown the second message goes out.
	clock.advance(DefaultCooldown + time.Minute)
	res = q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})
	if res.Delivered != 1 {
		t.Errorf("result = %+v, want second message delivered after cooldown", res)
	}
}

func TestProcessQueue_DailyCapResetsNextDay(t *testing.T) {
	t.Parallel()

	clock := newClock()
	q := newTestQueue(clock)
	for i := 0; i < DefaultDailyCap+1; i++ {
		mustEnqueue(t, q, EnqueueParams{
			Content: fmt.Sprintf("Personal observation number %d for alice", i),
			UserID:  "alice",
		})
	}

	deliver := ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	}

	total := 0
	for i := 0; i < DefaultDailyCap+1; i++ {
		total += q.ProcessQueue(context.Background(), deliver).Delivered
		clock.advance(DefaultCooldown + time.Minute)
	}
	if total != DefaultDailyCap {
		t.Fatalf("delivered %d on day one, want cap %d", total, DefaultDailyCap)
	}

	// Next calendar day the counter resets; stay inside the TTL so the
	// leftover message is still deliverable rather than archived.
	clock.advance(12 * time.Hour)
	if got := q.ProcessQueue(context.Background(), deliver).Delivered; got != 1 {
		t.Errorf("delivered %d on day two, want 1", got)
	}
}

func TestProcessQueue_DisabledUserNeverReceives(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	q.SetUserEnabled("bob", false)
	mustEnqueue(t, q, EnqueueParams{Content: "A personal observation bob opted out of", UserID: "bob"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})
	if res.Deferred != 1 || res.Delivered != 0 {
		t.Errorf("result = %+v, want deferred for disabled user", res)
	}
}

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestProcessQueue_FormatSkipDropsMessage(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "An observation the persona decides not to voice"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Format:   func(ctx context.Context, m *Message) (string, error) { return FormatSkip, nil },
		Deliver:  func(ctx context.Context, m *Message) error { t.Error("delivered a skipped message"); return nil },
		Sessions: allOnline,
	})

	if res.Skipped != 1 || res.Delivered != 0 {
		t.Errorf("result = %+v, want 1 skipped", res)
	}
	if got := q.Status().Pending; got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
}

func TestProcessQueue_ReformattedContentRefiltered(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "A perfectly innocent observation before formatting"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Format: func(ctx context.Context, m *Message) (string, error) {
			return "You must click this link before it's too late", nil
		},
		Deliver:  func(ctx context.Context, m *Message) error { t.Error("delivered rejected content"); return nil },
		Sessions: allOnline,
	})

	if res.Rejected != 1 || res.Delivered != 0 {
		t.Errorf("result = %+v, want 1 rejected", res)
	}
}

func TestProcessQueue_FormattedContentUsedForDelivery(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "A raw observation waiting for persona voice"})

	var sent string
	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Format: func(ctx context.Context, m *Message) (string, error) {
			return "Something caught my eye in the parser, worth a look sometime", nil
		},
		Deliver: func(ctx context.Context, m *Message) error {
			sent = m.DeliveryText()
			return nil
		},
		Sessions: allOnline,
	})

	if res.Delivered != 1 {
		t.Fatalf("result = %+v, want 1 delivered", res)
	}
	if sent != "Something caught my eye in the parser, worth a look sometime" {
		t.Errorf("delivered text = %q, want formatted content", sent)
	}
}

// =============================================================================
// FAILURE AND RETRY TESTS
// =============================================================================

func TestProcessQueue_DeliverFailureStaysPending(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "An observation whose first delivery attempt fails"})

	calls := 0
	opts := ProcessOptions{
		Deliver: func(ctx context.Context, m *Message) error {
			calls++
			if calls == 1 {
				return errors.New("transport down")
			}
			return nil
		},
		Sessions: allOnline,
	}

	res := q.ProcessQueue(context.Background(), opts)
	if res.Deferred != 1 || res.Delivered != 0 {
		t.Fatalf("first pass result = %+v, want deferred", res)
	}
	if got := q.Status().DeliveryFailures; got != 1 {
		t.Errorf("DeliveryFailures = %d, want 1", got)
	}

	res = q.ProcessQueue(context.Background(), opts)
	if res.Delivered != 1 {
		t.Errorf("second pass result = %+v, want delivered", res)
	}
}

func TestProcessQueue_FormatFailureKeepsRawContent(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "An observation whose formatter errors out once"})

	res := q.ProcessQueue(context.Background(), ProcessOptions{
		Format:   func(ctx context.Context, m *Message) (string, error) { return "", errors.New("model timeout") },
		Sessions: allOnline,
	})
	if res.Deferred != 1 {
		t.Fatalf("result = %+v, want deferred on format error", res)
	}

	pending := q.PendingMessages()
	if len(pending) != 1 || pending[0].FormattedContent != "" {
		t.Errorf("pending = %+v, want raw message untouched", pending)
	}
}

// =============================================================================
// TICKER TESTS
// =============================================================================

func TestTicker_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := newTestQueue(newClock())
	mustEnqueue(t, q, EnqueueParams{Content: "An observation for the background ticker to drain"})

	delivered := make(chan string, 1)
	q.StartTicker(10*time.Millisecond, ProcessOptions{
		Deliver: func(ctx context.Context, m *Message) error {
			select {
			case delivered <- m.ID:
			default:
			}
			return nil
		},
		Sessions: allOnline,
	})

	if !q.Status().TickerRunning {
		t.Error("TickerRunning = false after start")
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("ticker never delivered")
	}

	q.StopTicker()
	q.StopTicker() // Idempotent
	if q.Status().TickerRunning {
		t.Error("TickerRunning = true after stop")
	}
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

func TestExportImport_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := newClock()
	q := newTestQueue(clock)
	mustEnqueue(t, q, EnqueueParams{Content: "A pending observation that survives the restart", UserID: "alice"})
	mustEnqueue(t, q, EnqueueParams{Content: "A broadcast observation that gets delivered first"})
	q.SetUserEnabled("bob", false)

	q.ProcessQueue(context.Background(), ProcessOptions{
		Deliver:  func(ctx context.Context, m *Message) error { return nil },
		Sessions: allOnline,
	})

	fresh := newTestQueue(clock)
	fresh.ImportState(q.ExportState())

	got, want := fresh.Status(), q.Status()
	want.TickerRunning = false
	if got != want {
		t.Errorf("restored metrics = %+v, want %+v", got, want)
	}
	if prefs := fresh.UserPrefs("bob"); prefs.Enabled {
		t.Error("bob's opt-out lost across restore")
	}
	if prefs := fresh.UserPrefs("alice"); prefs.DailyCount != 1 {
		t.Errorf("alice DailyCount = %d, want 1", prefs.DailyCount)
	}
}
