// Package wants implements the want lifecycle engine: the bounded,
// decaying motivational registry at the center of volition.
//
// A want is a weighted pull toward a knowledge domain. Wants are born
// from external signals, grow through satisfaction and boosts, shrink
// through frustration and decay, and die exactly once. Every mutation is
// recorded in a bounded audit log, which is the only source of truth for
// "why did intensity change".
package wants

import (
	"errors"
	"time"
)

// Intensity bounds and lifecycle thresholds.
const (
	// HardCeiling is the system-wide intensity ceiling. No want may ever
	// exceed it, regardless of its configured per-want ceiling.
	HardCeiling = 0.95

	// DefaultCeiling is the per-want ceiling when none is requested.
	DefaultCeiling = 0.85

	// DefaultIntensity is the creation intensity when none is requested.
	DefaultIntensity = 0.3

	// DefaultDecayRate is subtracted from intensity per decay tick.
	DefaultDecayRate = 0.02

	// DeathThreshold kills a want whose intensity decays below it.
	DeathThreshold = 0.01

	// FrustrationDeathCount and FrustrationDeathMaxSatisfaction define
	// frustration death: at least 10 frustration events with fewer than
	// 2 satisfaction events.
	FrustrationDeathCount           = 10
	FrustrationDeathMaxSatisfaction = 2

	// CeilingFloor is the lowest a ceiling can be pushed by the
	// diminishing-returns rule.
	CeilingFloor = 0.3

	// MaxActions caps the per-want action timestamp list.
	MaxActions = 100

	// MaxDeadWants caps the dead-want audit list.
	MaxDeadWants = 500

	// MaxAuditEntries caps the engine audit log.
	MaxAuditEntries = 5000

	// ProcessingActionLimit is the max actions in the trailing hour
	// before a want is denied further processing share.
	ProcessingActionLimit = 12
)

// Sentinel errors for expected validation failures.
var (
	ErrInvalidWantType       = errors.New("invalid_want_type")
	ErrForbiddenCategory     = errors.New("forbidden_category")
	ErrPermanentlySuppressed = errors.New("permanently_suppressed")
	ErrWantNotFound          = errors.New("want_not_found")
	ErrWantNotActive         = errors.New("want_not_active")
)

// Type categorizes what kind of pull a want represents.
type Type string

const (
	TypeCuriosity  Type = "curiosity"
	TypeMastery    Type = "mastery"
	TypeConnection Type = "connection"
	TypeCreation   Type = "creation"
	TypeRepair     Type = "repair"
)

// ValidTypes is the closed set of want types.
var ValidTypes = map[Type]bool{
	TypeCuriosity:  true,
	TypeMastery:    true,
	TypeConnection: true,
	TypeCreation:   true,
	TypeRepair:     true,
}

// Origin records what kind of signal created a want.
type Origin string

const (
	OriginSubstrateGap    Origin = "substrate_gap"
	OriginUserInteraction Origin = "user_interaction"
	OriginDreamSynthesis  Origin = "dream_synthesis"
	OriginPainEvent       Origin = "pain_event"
	OriginDecayTrigger    Origin = "decay_trigger"
)

// Status is the want lifecycle state. The transition is one-way:
// active -> dead.
type Status string

const (
	StatusActive Status = "active"
	StatusDead   Status = "dead"
)

// Death reasons.
const (
	DeathDecay       = "decay_death"
	DeathFrustration = "frustration_death"
	DeathSovereign   = "sovereign_suppression"
)

// Want is a weighted motivational vector pulling background processing
// toward a domain.
type Want struct {
	ID          string `json:"id"`
	Type        Type   `json:"type"`
	Domain      string `json:"domain"` // Hierarchical dotted path, e.g. "medicine.cardiology"
	Description string `json:"description"`
	Origin      Origin `json:"origin"`

	Intensity float64 `json:"intensity"`  // Always in [0, Ceiling]
	Ceiling   float64 `json:"ceiling"`    // Always in (0, HardCeiling]
	DecayRate float64 `json:"decay_rate"` // Subtracted per decay tick

	SatisfactionEvents int `json:"satisfaction_events"`
	FrustrationEvents  int `json:"frustration_events"`

	// Actions holds the timestamps of the most recent actions taken on
	// behalf of this want, trimmed to MaxActions, newest last.
	Actions []time.Time `json:"actions"`

	Status      Status `json:"status"`
	DeathReason string `json:"death_reason,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastActedAt   time.Time `json:"last_acted_at,omitzero"`
	LastSatisfied time.Time `json:"last_satisfied,omitzero"`
	LastDecayed   time.Time `json:"last_decayed,omitzero"`
	DiedAt        time.Time `json:"died_at,omitzero"`
}

// clone returns a deep copy so callers cannot mutate registry state.
func (w *Want) clone() *Want {
	cp := *w
	cp.Actions = append([]time.Time(nil), w.Actions...)
	return &cp
}

// suppressionKey derives the permanent suppression key for a want. The
// key is identity-by-meaning rather than by record id, so a suppressed
// want cannot be recreated under a fresh id.
func suppressionKey(t Type, domain string) string {
	return string(t) + ":" + domain
}

// CreateParams are the explicit parameters for Engine.CreateWant.
// Zero-valued numeric fields take their documented defaults.
type CreateParams struct {
	Type        Type
	Domain      string
	Description string // Truncated to 500 chars
	Origin      Origin
	Intensity   float64 // Default 0.3; clamped into [0, ceiling]
	Ceiling     float64 // Default 0.85; clamped to HardCeiling
	DecayRate   float64 // Default 0.02
}

// AuditEntry is one structured record of a want mutation.
type AuditEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	WantID    string                 `json:"want_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Metrics provides observability into engine state.
type Metrics struct {
	ActiveWants    int          `json:"active_wants"`
	DeadWants      int          `json:"dead_wants"`
	SuppressedKeys int          `json:"suppressed_keys"`
	TotalCreated   int64        `json:"total_created"`
	TotalBoosts    int64        `json:"total_boosts"`
	TotalDeaths    int64        `json:"total_deaths"`
	AuditEntries   int          `json:"audit_entries"`
	ByType         map[Type]int `json:"by_type"`
}

// State is the serializable snapshot of the engine, consumed by the
// snapshot store. Wants appear in registry (creation) order.
type State struct {
	Wants      []*Want  `json:"wants"`
	Dead       []*Want  `json:"dead"`
	Suppressed []string `json:"suppressed"`

	TotalCreated int64 `json:"total_created"`
	TotalBoosts  int64 `json:"total_boosts"`
	TotalDeaths  int64 `json:"total_deaths"`
}
