// Package personality implements the bounded communication-style
// profile. The profile evolves slowly from observed interaction signals:
// nothing moves during the warmup window, and afterwards no single
// interaction shifts a trait by more than MaxShiftPerInteraction.
package personality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"volition/internal/logging"
)

// Evolution bounds.
const (
	// WarmupInteractions is how many interactions must be recorded
	// before any numeric trait moves.
	WarmupInteractions = 10

	// ShiftDeadZone suppresses shifts for signals within this distance
	// of the current trait value.
	ShiftDeadZone = 0.05

	// ShiftFactor scales the signal/trait difference into a shift.
	ShiftFactor = 0.1

	// MaxShiftPerInteraction caps any single-interaction trait change.
	MaxShiftPerInteraction = 0.02

	// MaxMetaphorDomains bounds the FIFO metaphor domain list.
	MaxMetaphorDomains = 5

	// MaxHistoryEntries bounds the append-only evolution history.
	MaxHistoryEntries = 1000

	// SerializedHistoryEntries is how much history a snapshot carries.
	SerializedHistoryEntries = 200
)

// ErrInvalidStyle rejects unknown humor styles.
var ErrInvalidStyle = errors.New("invalid_style")

// HumorStyles is the closed set of humor styles.
var HumorStyles = map[string]bool{
	"dry":      true,
	"witty":    true,
	"playful":  true,
	"sardonic": true,
}

// Profile is the current communication-style profile. All numeric traits
// live in [0, 1].
type Profile struct {
	HumorStyle               string   `json:"humor_style"`
	PreferredMetaphorDomains []string `json:"preferred_metaphor_domains"`
	VerbosityBaseline        float64  `json:"verbosity_baseline"`
	ConfidenceInOpinions     float64  `json:"confidence_in_opinions"`
	CuriosityExpression      float64  `json:"curiosity_expression"`
	Formality                float64  `json:"formality"`
	InteractionCount         int      `json:"interaction_count"`
}

// DefaultProfile returns the starting profile for a fresh runtime.
func DefaultProfile() Profile {
	return Profile{
		HumorStyle:           "dry",
		VerbosityBaseline:    0.5,
		ConfidenceInOpinions: 0.5,
		CuriosityExpression:  0.5,
		Formality:            0.5,
	}
}

// Signals are the observed measurements from one interaction. Nil fields
// are absent; present fields are expected in [0, 1].
type Signals struct {
	VerbosityUsed         *float64 // Shifts VerbosityBaseline
	QuestionsAsked        *float64 // Shifts CuriosityExpression
	DisagreementExpressed *float64 // Shifts ConfidenceInOpinions
	FormalityLevel        *float64 // Shifts Formality
	MetaphorDomain        string   // Appended to the FIFO domain list
}

// TraitChange records one trait movement inside an evolution event.
type TraitChange struct {
	Trait string  `json:"trait"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

// Evolution is the result of RecordInteraction.
type Evolution struct {
	Evolved       bool          `json:"evolved"`
	Changes       []TraitChange `json:"changes,omitempty"`
	MetaphorAdded string        `json:"metaphor_added,omitempty"`
}

// HistoryEntry is one append-only record of profile change.
type HistoryEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Event     string        `json:"event"` // "evolution", "humor_style_set", "reset"
	Changes   []TraitChange `json:"changes,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Tracker owns one evolving profile per runtime context.
type Tracker struct {
	mu      sync.RWMutex
	profile Profile
	history []HistoryEntry
	now     func() time.Time
}

// NewTracker creates a tracker with the default profile. A nil clock
// uses wall time.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{profile: DefaultProfile(), now: now}
}

// Profile returns a copy of the current profile.
func (t *Tracker) Profile() Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.copyProfileLocked()
}

func (t *Tracker) copyProfileLocked() Profile {
	p := t.profile
	p.PreferredMetaphorDomains = append([]string(nil), t.profile.PreferredMetaphorDomains...)
	return p
}

// RecordInteraction ingests one interaction's signals. The interaction
// count always increments; trait evolution starts only once the count
// reaches the warmup threshold. Each present signal shifts its trait by
// sign(diff) * min(|diff|*ShiftFactor, MaxShiftPerInteraction), clamped
// to [0, 1], with a dead zone for near-matching signals.
func (t *Tracker) RecordInteraction(sig Signals) Evolution {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.profile.InteractionCount++
	if t.profile.InteractionCount < WarmupInteractions {
		return Evolution{}
	}

	var changes []TraitChange
	apply := func(name string, trait *float64, signal *float64) {
		if signal == nil {
			return
		}
		diff := *signal - *trait
		if math.Abs(diff) < ShiftDeadZone {
			return
		}
		shift := math.Copysign(math.Min(math.Abs(diff)*ShiftFactor, MaxShiftPerInteraction), diff)
		from := *trait
		*trait = clamp01(*trait + shift)
		changes = append(changes, TraitChange{Trait: name, From: from, To: *trait})
	}

	apply("verbosity_baseline", &t.profile.VerbosityBaseline, sig.VerbosityUsed)
	apply("curiosity_expression", &t.profile.CuriosityExpression, sig.QuestionsAsked)
	apply("confidence_in_opinions", &t.profile.ConfidenceInOpinions, sig.DisagreementExpressed)
	apply("formality", &t.profile.Formality, sig.FormalityLevel)

	metaphor := sig.MetaphorDomain != ""
	if metaphor {
		t.profile.PreferredMetaphorDomains = append(t.profile.PreferredMetaphorDomains, sig.MetaphorDomain)
		if len(t.profile.PreferredMetaphorDomains) > MaxMetaphorDomains {
			// FIFO: evict the oldest domain
			t.profile.PreferredMetaphorDomains = t.profile.PreferredMetaphorDomains[1:]
		}
	}

	if len(changes) == 0 && !metaphor {
		return Evolution{}
	}

	entry := HistoryEntry{
		Timestamp: t.now(),
		Event:     "evolution",
		Changes:   changes,
	}
	if metaphor {
		entry.Detail = "metaphor_domain+" + sig.MetaphorDomain
	}
	t.appendHistoryLocked(entry)
	logging.Personality("evolved: %d trait changes at interaction %d", len(changes), t.profile.InteractionCount)
	return Evolution{Evolved: true, Changes: changes, MetaphorAdded: sig.MetaphorDomain}
}

// SetHumorStyle is a sovereign override, applied immediately regardless
// of the warmup window.
func (t *Tracker) SetHumorStyle(style string) error {
	if !HumorStyles[style] {
		return fmt.Errorf("%w: %q", ErrInvalidStyle, style)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.profile.HumorStyle
	t.profile.HumorStyle = style
	t.appendHistoryLocked(HistoryEntry{
		Timestamp: t.now(),
		Event:     "humor_style_set",
		Detail:    prev + "->" + style,
	})
	logging.Personality("humor style set: %s -> %s", prev, style)
	return nil
}

// Reset is a sovereign override restoring the default profile. The reset
// itself is logged to history, which survives the reset.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.profile = DefaultProfile()
	t.appendHistoryLocked(HistoryEntry{
		Timestamp: t.now(),
		Event:     "reset",
	})
	logging.Personality("profile reset to defaults")
}

// History returns a copy of the bounded evolution history, oldest first.
func (t *Tracker) History() []HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]HistoryEntry(nil), t.history...)
}

func (t *Tracker) appendHistoryLocked(entry HistoryEntry) {
	t.history = append(t.history, entry)
	if len(t.history) > MaxHistoryEntries {
		t.history = t.history[len(t.history)-MaxHistoryEntries:]
	}
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// snapshot is the wire form of a serialized profile. The profile is kept
// flat so foreign fields can be rejected on restore.
type snapshot struct {
	Profile Profile        `json:"profile"`
	History []HistoryEntry `json:"history,omitempty"`
}

// Serialize returns the JSON snapshot of the current profile plus up to
// SerializedHistoryEntries of recent history.
func (t *Tracker) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := snapshot{Profile: t.copyProfileLocked()}
	hist := t.history
	if len(hist) > SerializedHistoryEntries {
		hist = hist[len(hist)-SerializedHistoryEntries:]
	}
	snap.History = append([]HistoryEntry(nil), hist...)
	return json.Marshal(snap)
}

// Restore replaces tracker state from a Serialize snapshot. Only fields
// known to the default profile are merged; unknown fields in the payload
// are an error rather than silently dropped.
func (t *Tracker) Restore(data []byte) error {
	var raw struct {
		Profile map[string]json.RawMessage `json:"profile"`
		History []HistoryEntry             `json:"history"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse personality snapshot: %w", err)
	}
	if raw.Profile == nil {
		return fmt.Errorf("personality snapshot missing profile")
	}

	known := knownProfileFields()
	for field := range raw.Profile {
		if !known[field] {
			return fmt.Errorf("unknown profile field %q in snapshot", field)
		}
	}

	// Merge onto defaults so absent fields keep their default values.
	profile := DefaultProfile()
	merged, err := json.Marshal(raw.Profile)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(merged, &profile); err != nil {
		return fmt.Errorf("failed to merge profile fields: %w", err)
	}
	if !HumorStyles[profile.HumorStyle] {
		return fmt.Errorf("%w: %q", ErrInvalidStyle, profile.HumorStyle)
	}
	profile.VerbosityBaseline = clamp01(profile.VerbosityBaseline)
	profile.ConfidenceInOpinions = clamp01(profile.ConfidenceInOpinions)
	profile.CuriosityExpression = clamp01(profile.CuriosityExpression)
	profile.Formality = clamp01(profile.Formality)
	if len(profile.PreferredMetaphorDomains) > MaxMetaphorDomains {
		profile.PreferredMetaphorDomains = profile.PreferredMetaphorDomains[len(profile.PreferredMetaphorDomains)-MaxMetaphorDomains:]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.profile = profile
	t.history = raw.History
	if len(t.history) > MaxHistoryEntries {
		t.history = t.history[len(t.history)-MaxHistoryEntries:]
	}
	logging.Personality("profile restored (interactions=%d, history=%d)", profile.InteractionCount, len(t.history))
	return nil
}

// knownProfileFields derives the allowed snapshot fields from the
// Profile json tags, so the allowlist cannot drift from the struct.
func knownProfileFields() map[string]bool {
	data, _ := json.Marshal(DefaultProfile())
	var m map[string]interface{}
	_ = json.Unmarshal(data, &m)
	fields := make(map[string]bool, len(m))
	for k := range m {
		fields[k] = true
	}
	return fields
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
