package wants

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"volition/internal/logging"
	"volition/internal/safety"
)

// Engine owns the want registry: creation, growth, decay, death and the
// audit log. All state lives behind one mutex; the engine spawns no
// goroutines of its own.
type Engine struct {
	mu sync.RWMutex

	wants map[string]*Want
	order []string // Registry order; ties in selection keep the first created

	dead       []*Want
	suppressed map[string]bool
	audit      []AuditEntry

	totalCreated int64
	totalBoosts  int64
	totalDeaths  int64

	defaultCeiling   float64
	defaultDecayRate float64
	now              func() time.Time
}

// Options configure an Engine. Zero values take package defaults.
type Options struct {
	DefaultCeiling   float64
	DefaultDecayRate float64

	// Now is the clock used for timestamps and action windows.
	// Injectable so tests can drive time deterministically.
	Now func() time.Time
}

// NewEngine creates an empty want registry.
func NewEngine(opts Options) *Engine {
	if opts.DefaultCeiling <= 0 {
		opts.DefaultCeiling = DefaultCeiling
	}
	if opts.DefaultCeiling > HardCeiling {
		opts.DefaultCeiling = HardCeiling
	}
	if opts.DefaultDecayRate <= 0 {
		opts.DefaultDecayRate = DefaultDecayRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		wants:            make(map[string]*Want),
		suppressed:       make(map[string]bool),
		defaultCeiling:   opts.DefaultCeiling,
		defaultDecayRate: opts.DefaultDecayRate,
		now:              opts.Now,
	}
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// CreateWant registers a new want, subject to the safety gates:
//   - unknown types fail with ErrInvalidWantType;
//   - a forbidden category substring in domain or description fails with
//     ErrForbiddenCategory;
//   - a sovereign-suppressed (type, domain) fails with
//     ErrPermanentlySuppressed, forever;
//   - a duplicate of an active (type, domain) pair boosts the existing
//     want by 0.1 instead of creating a second record.
//
// The returned want is a copy of the created (or boosted) record.
func (e *Engine) CreateWant(p CreateParams) (*Want, error) {
	if !ValidTypes[p.Type] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWantType, p.Type)
	}
	if cat, found := safety.ForbiddenCategory(p.Domain); found {
		logging.Wants("create rejected: domain %q contains forbidden category %q", p.Domain, cat)
		return nil, fmt.Errorf("%w: %s", ErrForbiddenCategory, cat)
	}
	if cat, found := safety.ForbiddenCategory(p.Description); found {
		logging.Wants("create rejected: description contains forbidden category %q", cat)
		return nil, fmt.Errorf("%w: %s", ErrForbiddenCategory, cat)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := suppressionKey(p.Type, p.Domain)
	if e.suppressed[key] {
		return nil, fmt.Errorf("%w: %s", ErrPermanentlySuppressed, key)
	}

	// At most one active want per (type, domain): boost instead of dup.
	for _, id := range e.order {
		w := e.wants[id]
		if w.Type == p.Type && w.Domain == p.Domain {
			e.boostLocked(w, 0.1, "duplicate_creation_boost")
			return w.clone(), nil
		}
	}

	ceiling := p.Ceiling
	if ceiling <= 0 {
		ceiling = e.defaultCeiling
	}
	ceiling = math.Min(ceiling, HardCeiling)

	intensity := p.Intensity
	if intensity <= 0 {
		intensity = DefaultIntensity
	}
	intensity = clamp(intensity, 0, ceiling)

	decay := p.DecayRate
	if decay <= 0 {
		decay = e.defaultDecayRate
	}

	desc := p.Description
	if len(desc) > 500 {
		desc = desc[:500]
	}

	w := &Want{
		ID:          uuid.NewString(),
		Type:        p.Type,
		Domain:      p.Domain,
		Description: desc,
		Origin:      p.Origin,
		Intensity:   intensity,
		Ceiling:     ceiling,
		DecayRate:   decay,
		Status:      StatusActive,
		CreatedAt:   e.now(),
	}
	e.wants[w.ID] = w
	e.order = append(e.order, w.ID)
	e.totalCreated++

	e.auditLocked("want_created", w.ID, map[string]interface{}{
		"type":      string(w.Type),
		"domain":    w.Domain,
		"origin":    string(w.Origin),
		"intensity": w.Intensity,
		"ceiling":   w.Ceiling,
	})
	logging.Wants("created %s (%s/%s) intensity=%.2f ceiling=%.2f", w.ID, w.Type, w.Domain, w.Intensity, w.Ceiling)

	return w.clone(), nil
}

// BoostWant raises a want's intensity by |amount|, clamped at its
// ceiling. Fails if the want is missing.
func (e *Engine) BoostWant(id string, amount float64, reason string) (*Want, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.activeLocked(id)
	if err != nil {
		return nil, err
	}
	e.boostLocked(w, amount, reason)
	return w.clone(), nil
}

func (e *Engine) boostLocked(w *Want, amount float64, reason string) {
	before := w.Intensity
	w.Intensity = clamp(w.Intensity+math.Abs(amount), 0, w.Ceiling)
	e.totalBoosts++

	e.auditLocked("want_boosted", w.ID, map[string]interface{}{
		"reason": reason,
		"from":   before,
		"to":     w.Intensity,
	})
	logging.WantsDebug("boosted %s %.3f -> %.3f (%s)", w.ID, before, w.Intensity, reason)
}

// RecordSatisfaction increments the satisfaction counter and raises
// intensity by min(0.05*value, 0.1). Pass value <= 0 for the default
// single satisfaction event.
func (e *Engine) RecordSatisfaction(id string, value float64) (*Want, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.activeLocked(id)
	if err != nil {
		return nil, err
	}
	if value <= 0 {
		value = 1
	}

	before := w.Intensity
	w.SatisfactionEvents++
	w.LastSatisfied = e.now()
	w.Intensity = clamp(w.Intensity+math.Min(0.05*value, 0.1), 0, w.Ceiling)

	e.auditLocked("satisfaction_recorded", w.ID, map[string]interface{}{
		"value": value,
		"from":  before,
		"to":    w.Intensity,
	})
	return w.clone(), nil
}

// RecordFrustration increments the frustration counter and lowers
// intensity by 0.02 (floored at 0). A want meeting the frustration death
// condition is killed immediately; otherwise the diminishing-returns
// rule may lower its ceiling.
func (e *Engine) RecordFrustration(id string) (*Want, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.activeLocked(id)
	if err != nil {
		return nil, err
	}

	w.FrustrationEvents++
	w.Intensity = clamp(w.Intensity-0.02, 0, w.Ceiling)

	if w.FrustrationEvents >= FrustrationDeathCount && w.SatisfactionEvents < FrustrationDeathMaxSatisfaction {
		e.killLocked(w, DeathFrustration)
		return w.clone(), nil
	}

	// Diminishing returns: a hot want that keeps acting without ever
	// being satisfied gets its ceiling pushed down.
	if w.Intensity >= 0.7 && w.SatisfactionEvents == 0 &&
		e.actionsWithinLocked(w, 24*time.Hour) >= 5 {
		before := w.Ceiling
		w.Ceiling = math.Max(w.Ceiling-0.1, CeilingFloor)
		w.Intensity = clamp(w.Intensity, 0, w.Ceiling)
		e.auditLocked("ceiling_reduced", w.ID, map[string]interface{}{
			"from": before,
			"to":   w.Ceiling,
		})
		logging.Wants("diminishing returns on %s: ceiling %.2f -> %.2f", w.ID, before, w.Ceiling)
	}

	e.auditLocked("frustration_recorded", w.ID, map[string]interface{}{
		"frustration_events": w.FrustrationEvents,
		"intensity":          w.Intensity,
	})
	return w.clone(), nil
}

// RecordAction appends an action timestamp for processing-share
// accounting, trimmed to the most recent MaxActions.
func (e *Engine) RecordAction(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.activeLocked(id)
	if err != nil {
		return err
	}

	now := e.now()
	w.Actions = append(w.Actions, now)
	if len(w.Actions) > MaxActions {
		w.Actions = w.Actions[len(w.Actions)-MaxActions:]
	}
	w.LastActedAt = now

	e.auditLocked("action_recorded", w.ID, nil)
	return nil
}

// DecayAllWants subtracts each active want's decay rate from its
// intensity once. Wants falling below the death threshold die with
// reason decay_death. Returns the number of wants killed.
func (e *Engine) DecayAllWants() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	killed := 0
	// Iterate over a copy of order; killLocked mutates it.
	ids := append([]string(nil), e.order...)
	for _, id := range ids {
		w, ok := e.wants[id]
		if !ok {
			continue
		}
		w.Intensity = clamp(w.Intensity-w.DecayRate, 0, w.Ceiling)
		w.LastDecayed = e.now()
		if w.Intensity < DeathThreshold {
			e.killLocked(w, DeathDecay)
			killed++
		}
	}

	e.auditLocked("decay_tick", "", map[string]interface{}{
		"active": len(e.wants),
		"killed": killed,
	})
	logging.WantsDebug("decay tick: %d active, %d killed", len(e.wants), killed)
	return killed
}

// KillWant terminates a want with the given reason. Dead wants move to
// the bounded dead list and are never resurrected.
func (e *Engine) KillWant(id, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := e.activeLocked(id)
	if err != nil {
		return err
	}
	e.killLocked(w, reason)
	return nil
}

func (e *Engine) killLocked(w *Want, reason string) {
	w.Status = StatusDead
	w.Intensity = 0
	w.DeathReason = reason
	w.DiedAt = e.now()

	delete(e.wants, w.ID)
	for i, id := range e.order {
		if id == w.ID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}

	e.dead = append(e.dead, w)
	if len(e.dead) > MaxDeadWants {
		e.dead = e.dead[len(e.dead)-MaxDeadWants:]
	}
	e.totalDeaths++

	e.auditLocked("want_killed", w.ID, map[string]interface{}{
		"reason": reason,
		"domain": w.Domain,
	})
	logging.Wants("killed %s (%s/%s): %s", w.ID, w.Type, w.Domain, reason)
}

// SuppressWant is the sovereign override: it kills the want if active
// and permanently blocks recreation of its (type, domain) identity. The
// id may belong to an active or already-dead want.
func (e *Engine) SuppressWant(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.wants[id]; ok {
		e.killLocked(w, DeathSovereign)
		e.suppressed[suppressionKey(w.Type, w.Domain)] = true
		e.auditLocked("want_suppressed", id, nil)
		return nil
	}
	for _, w := range e.dead {
		if w.ID == id {
			e.suppressed[suppressionKey(w.Type, w.Domain)] = true
			e.auditLocked("want_suppressed", id, nil)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWantNotFound, id)
}

// CanConsumeProcessing reports whether the want is under its processing
// share: fewer than ProcessingActionLimit actions in the trailing hour.
func (e *Engine) CanConsumeProcessing(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	w, ok := e.wants[id]
	if !ok {
		return false
	}
	return e.actionsWithinLocked(w, time.Hour) < ProcessingActionLimit
}

// =============================================================================
// QUERIES
// =============================================================================

// ActiveWants returns copies of all active wants in registry order.
func (e *Engine) ActiveWants() []*Want {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Want, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.wants[id].clone())
	}
	return out
}

// HighIntensityWants returns active wants at or above the threshold,
// strongest first.
func (e *Engine) HighIntensityWants(threshold float64) []*Want {
	active := e.ActiveWants()
	out := active[:0]
	for _, w := range active {
		if w.Intensity >= threshold {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Intensity > out[j].Intensity })
	return out
}

// WantsByDomain returns active wants whose domain equals the given
// domain or sits beneath it in the dotted hierarchy.
func (e *Engine) WantsByDomain(domain string) []*Want {
	var out []*Want
	for _, w := range e.ActiveWants() {
		if w.Domain == domain || (len(w.Domain) > len(domain) &&
			w.Domain[:len(domain)+1] == domain+".") {
			out = append(out, w)
		}
	}
	return out
}

// Want returns a copy of the want with the given id, searching active
// wants first and then the dead list.
func (e *Engine) Want(id string) (*Want, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if w, ok := e.wants[id]; ok {
		return w.clone(), nil
	}
	for _, w := range e.dead {
		if w.ID == id {
			return w.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWantNotFound, id)
}

// DeadWants returns copies of the bounded dead-want audit list.
func (e *Engine) DeadWants() []*Want {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Want, 0, len(e.dead))
	for _, w := range e.dead {
		out = append(out, w.clone())
	}
	return out
}

// Metrics returns engine-level counters.
func (e *Engine) Metrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byType := make(map[Type]int)
	for _, w := range e.wants {
		byType[w.Type]++
	}
	return Metrics{
		ActiveWants:    len(e.wants),
		DeadWants:      len(e.dead),
		SuppressedKeys: len(e.suppressed),
		TotalCreated:   e.totalCreated,
		TotalBoosts:    e.totalBoosts,
		TotalDeaths:    e.totalDeaths,
		AuditEntries:   len(e.audit),
		ByType:         byType,
	}
}

// AuditLog returns the most recent audit entries, oldest first. A limit
// of 0 returns the whole bounded log.
func (e *Engine) AuditLog(limit int) []AuditEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entries := e.audit
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]AuditEntry(nil), entries...)
}

// Priorities aggregates active intensity per want type.
func (e *Engine) Priorities() map[Type]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[Type]float64)
	for _, w := range e.wants {
		out[w.Type] += w.Intensity
	}
	return out
}

// =============================================================================
// SNAPSHOT EXPORT / IMPORT
// =============================================================================

// ExportState returns a deep-copy snapshot for persistence.
func (e *Engine) ExportState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := State{
		TotalCreated: e.totalCreated,
		TotalBoosts:  e.totalBoosts,
		TotalDeaths:  e.totalDeaths,
	}
	for _, id := range e.order {
		st.Wants = append(st.Wants, e.wants[id].clone())
	}
	for _, w := range e.dead {
		st.Dead = append(st.Dead, w.clone())
	}
	for key := range e.suppressed {
		st.Suppressed = append(st.Suppressed, key)
	}
	sort.Strings(st.Suppressed)
	return st
}

// ImportState replaces engine state with a snapshot. Dead wants stay
// dead and the suppression set is re-applied; wants whose identity is
// suppressed are not restored into the active registry.
func (e *Engine) ImportState(st State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.wants = make(map[string]*Want)
	e.order = nil
	e.dead = nil
	e.suppressed = make(map[string]bool)

	for _, key := range st.Suppressed {
		e.suppressed[key] = true
	}
	for _, w := range st.Wants {
		if w.Status != StatusActive {
			continue
		}
		if e.suppressed[suppressionKey(w.Type, w.Domain)] {
			continue
		}
		cp := w.clone()
		cp.Intensity = clamp(cp.Intensity, 0, math.Min(cp.Ceiling, HardCeiling))
		e.wants[cp.ID] = cp
		e.order = append(e.order, cp.ID)
	}
	for _, w := range st.Dead {
		e.dead = append(e.dead, w.clone())
	}
	if len(e.dead) > MaxDeadWants {
		e.dead = e.dead[len(e.dead)-MaxDeadWants:]
	}

	e.totalCreated = st.TotalCreated
	e.totalBoosts = st.TotalBoosts
	e.totalDeaths = st.TotalDeaths

	e.auditLocked("state_restored", "", map[string]interface{}{
		"active":     len(e.wants),
		"dead":       len(e.dead),
		"suppressed": len(e.suppressed),
	})
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (e *Engine) activeLocked(id string) (*Want, error) {
	w, ok := e.wants[id]
	if ok {
		return w, nil
	}
	for _, d := range e.dead {
		if d.ID == id {
			return nil, fmt.Errorf("%w: %s", ErrWantNotActive, id)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrWantNotFound, id)
}

func (e *Engine) actionsWithinLocked(w *Want, window time.Duration) int {
	cutoff := e.now().Add(-window)
	n := 0
	for _, ts := range w.Actions {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func (e *Engine) auditLocked(action, wantID string, details map[string]interface{}) {
	e.audit = append(e.audit, AuditEntry{
		Timestamp: e.now(),
		Action:    action,
		WantID:    wantID,
		Details:   details,
	})
	if len(e.audit) > MaxAuditEntries {
		e.audit = e.audit[len(e.audit)-MaxAuditEntries:]
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
