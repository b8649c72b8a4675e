// Package motivation bridges the want registry to its external
// collaborators: the goal scheduler (priority amplification), the
// subconscious task selector, and the spontaneous-trigger detector.
package motivation

import (
	"math"
	"math/rand"
	"strings"

	"volition/internal/logging"
	"volition/internal/wants"
)

// TriggerThreshold is the intensity at which a want can trigger a
// spontaneous message.
const TriggerThreshold = 0.6

// WildcardDomain matches every goal domain during amplification.
const WildcardDomain = "*"

// Goal is an external goal record from the outside scheduler.
type Goal struct {
	Domain   string  `json:"domain"`
	Priority float64 `json:"priority"`
}

// GapKind classifies a substrate gap signal.
type GapKind string

const (
	GapCoverage GapKind = "coverage" // Missing material -> curiosity
	GapQuality  GapKind = "quality"  // Weak material -> mastery
)

// GapSignal reports a hole found in the knowledge substrate.
type GapSignal struct {
	Domain      string
	Kind        GapKind
	Severity    float64 // [0, 1]
	Description string
}

// InteractionSignal reports repeated user engagement with a domain.
type InteractionSignal struct {
	Domain      string
	Engagement  float64 // [0, 1]; below 0.5 generates nothing
	Repeated    bool    // Repeated engagement escalates curiosity to mastery
	Description string
}

// DreamSignal reports a cross-domain synthesis produced by background
// processing.
type DreamSignal struct {
	Domains     []string
	Description string
}

// PainSignal reports a recurring failure tied to a domain.
type PainSignal struct {
	Domain      string
	Recurrence  int // How many times the failure has repeated
	Description string
}

// TaskSelection is the outcome of subconscious task selection. Want is
// nil when the selection fell back to uniform random.
type TaskSelection struct {
	Task string
	Want *wants.Want
}

// taskForType maps want types to background job classes.
var taskForType = map[wants.Type]string{
	wants.TypeCuriosity:  "autogen",
	wants.TypeMastery:    "evolution",
	wants.TypeConnection: "dream",
	wants.TypeCreation:   "synthesis",
	wants.TypeRepair:     "evolution",
}

// Layer wires the want engine into the rest of the system.
type Layer struct {
	engine *wants.Engine
	rng    *rand.Rand
}

// NewLayer creates an integration layer over the given engine. A nil
// rng seeds from the global source; tests inject a fixed seed.
func NewLayer(engine *wants.Engine, rng *rand.Rand) *Layer {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Layer{engine: engine, rng: rng}
}

// =============================================================================
// GOAL AMPLIFICATION
// =============================================================================

// AmplifyGoalPriority raises a goal's priority in proportion to the
// active wants pulling toward its domain. Each matching want contributes
// intensity*2 to a multiplier; wildcard-domain wants amplify every goal.
// The result is capped at 1.0, and a goal with no matching want passes
// through unmodified.
func (l *Layer) AmplifyGoalPriority(goal Goal) Goal {
	domainMult := 1.0
	wildcardMult := 1.0
	matched := false

	for _, w := range l.engine.ActiveWants() {
		switch w.Domain {
		case goal.Domain:
			domainMult += w.Intensity * 2
			matched = true
		case WildcardDomain:
			wildcardMult += w.Intensity * 2
			matched = true
		}
	}
	if !matched {
		return goal
	}

	amplified := goal
	amplified.Priority = math.Min(goal.Priority*math.Max(domainMult, wildcardMult), 1.0)
	logging.IntegrationDebug("amplified goal %q: %.3f -> %.3f", goal.Domain, goal.Priority, amplified.Priority)
	return amplified
}

// =============================================================================
// WANT GENERATORS
// =============================================================================

// GenerateWantFromGap turns a substrate gap into a want: coverage gaps
// feed curiosity, quality gaps feed mastery. Intensity is
// min(severity*0.6, 0.6).
func (l *Layer) GenerateWantFromGap(sig GapSignal) (*wants.Want, error) {
	wantType := wants.TypeCuriosity
	if sig.Kind == GapQuality {
		wantType = wants.TypeMastery
	}
	return l.engine.CreateWant(wants.CreateParams{
		Type:        wantType,
		Domain:      sig.Domain,
		Description: sig.Description,
		Origin:      wants.OriginSubstrateGap,
		Intensity:   math.Min(sig.Severity*0.6, 0.6),
	})
}

// GenerateWantFromInteraction turns repeated user engagement into a
// want. Engagement below 0.5 generates nothing (nil, nil). Repeated
// engagement becomes mastery, first contact stays curiosity; intensity
// is min(engagement*0.5, 0.5).
func (l *Layer) GenerateWantFromInteraction(sig InteractionSignal) (*wants.Want, error) {
	if sig.Engagement < 0.5 {
		return nil, nil
	}
	wantType := wants.TypeCuriosity
	if sig.Repeated {
		wantType = wants.TypeMastery
	}
	return l.engine.CreateWant(wants.CreateParams{
		Type:        wantType,
		Domain:      sig.Domain,
		Description: sig.Description,
		Origin:      wants.OriginUserInteraction,
		Intensity:   math.Min(sig.Engagement*0.5, 0.5),
	})
}

// GenerateWantFromDream turns a cross-domain synthesis into a connection
// want at fixed intensity 0.4, under the joined domain list.
func (l *Layer) GenerateWantFromDream(sig DreamSignal) (*wants.Want, error) {
	return l.engine.CreateWant(wants.CreateParams{
		Type:        wants.TypeConnection,
		Domain:      strings.Join(sig.Domains, "+"),
		Description: sig.Description,
		Origin:      wants.OriginDreamSynthesis,
		Intensity:   0.4,
	})
}

// GenerateWantFromPain turns a recurring failure into a repair want with
// intensity min(0.3 + recurrence*0.1, 0.8).
func (l *Layer) GenerateWantFromPain(sig PainSignal) (*wants.Want, error) {
	return l.engine.CreateWant(wants.CreateParams{
		Type:        wants.TypeRepair,
		Domain:      sig.Domain,
		Description: sig.Description,
		Origin:      wants.OriginPainEvent,
		Intensity:   math.Min(0.3+float64(sig.Recurrence)*0.1, 0.8),
	})
}

// =============================================================================
// SUBCONSCIOUS TASK SELECTION
// =============================================================================

// SelectSubconsciousTask decides which background job class runs next.
// With no active wants or no available tasks, it falls back to a
// uniformly random task with a nil want. Otherwise every active want
// whose mapped task is available and which is under its processing share
// competes on intensity; ties keep the first in registry order.
func (l *Layer) SelectSubconsciousTask(availableTasks []string, currentDomain string) TaskSelection {
	if len(availableTasks) == 0 {
		return TaskSelection{}
	}

	available := make(map[string]bool, len(availableTasks))
	for _, task := range availableTasks {
		available[task] = true
	}

	var best *wants.Want
	bestTask := ""
	for _, w := range l.engine.ActiveWants() {
		task, ok := taskForType[w.Type]
		if !ok || !available[task] {
			continue
		}
		if !l.engine.CanConsumeProcessing(w.ID) {
			continue
		}
		if best == nil || w.Intensity > best.Intensity {
			best = w
			bestTask = task
		}
	}

	if best == nil {
		// Fallback: uniform random task, not want-driven
		task := availableTasks[l.rng.Intn(len(availableTasks))]
		logging.IntegrationDebug("task selection fallback: %s", task)
		return TaskSelection{Task: task}
	}

	logging.Integration("task %s selected by want %s (%s/%s, intensity=%.2f)",
		bestTask, best.ID, best.Type, best.Domain, best.Intensity)
	return TaskSelection{Task: bestTask, Want: best}
}

// =============================================================================
// SPONTANEOUS TRIGGER
// =============================================================================

// CheckSpontaneousTrigger returns the single highest-intensity active
// want at or above the trigger threshold, or (nil, false) when nothing
// is urgent enough to speak up about.
func (l *Layer) CheckSpontaneousTrigger() (*wants.Want, bool) {
	var best *wants.Want
	for _, w := range l.engine.ActiveWants() {
		if w.Intensity < TriggerThreshold {
			continue
		}
		if best == nil || w.Intensity > best.Intensity {
			best = w
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// =============================================================================
// NETWORK EFFECT
// =============================================================================

// ApplyNetworkEffect boosts every other active want sharing the source
// want's top-level domain segment by boost*0.2. The literal segment
// "general" never propagates.
func (l *Layer) ApplyNetworkEffect(wantID string, boost float64) error {
	source, err := l.engine.Want(wantID)
	if err != nil {
		return err
	}

	segment := firstSegment(source.Domain)
	if segment == "general" {
		return nil
	}

	for _, w := range l.engine.ActiveWants() {
		if w.ID == wantID || firstSegment(w.Domain) != segment {
			continue
		}
		if _, err := l.engine.BoostWant(w.ID, boost*0.2, "network_effect"); err != nil {
			return err
		}
	}
	return nil
}

func firstSegment(domain string) string {
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		return domain[:i]
	}
	return domain
}
