package behaviorsdk

import (
	"time"
)

// ──────────────────────────────────────────────
// Core data model — behavior profiles, triggers, safety
// ──────────────────────────────────────────────

// BehaviorType names a psychological pattern with its own phase table and
// trigger taxonomy. The set is data-defined; these constants cover the
// built-in tables, custom types may be registered via config.
type BehaviorType string

const (
	BehaviorObsessiveAttachment BehaviorType = "obsessive_attachment"
	BehaviorVolatileAffect      BehaviorType = "volatile_affect"
	BehaviorAnxiousAttachment   BehaviorType = "anxious_attachment"
	BehaviorAvoidantAttachment  BehaviorType = "avoidant_attachment"
	BehaviorCodependency        BehaviorType = "codependency"
)

// TriggerType names a detected conversational event class.
type TriggerType string

const (
	TriggerAbandonmentSignal TriggerType = "abandonment_signal"
	TriggerDelayedResponse   TriggerType = "delayed_response"
	TriggerCriticism         TriggerType = "criticism"
	TriggerThirdPartyMention TriggerType = "third_party_mention"
	TriggerBoundaryAssertion TriggerType = "boundary_assertion"
	TriggerReassurance       TriggerType = "reassurance"
	TriggerExplicitRejection TriggerType = "explicit_rejection"
)

// Sentiment is the per-message classification supplied by the chat pipeline.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Message is a single conversation message as seen by the detector.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggerEvent is an append-only record of one detected trigger for one
// behavior type. It never mutates a profile by itself; the phase machine
// consumes it.
type TriggerEvent struct {
	ID           string       `json:"id"`
	AgentID      string       `json:"agent_id"`
	BehaviorType BehaviorType `json:"behavior_type"`
	TriggerType  TriggerType  `json:"trigger_type"`
	Weight       float64      `json:"weight"`     // [-1,1], negative weights de-escalate
	Confidence   float64      `json:"confidence"` // [0.5,1.0]
	DetectedText string       `json:"detected_text"`
	MessageID    string       `json:"message_id"`
	DetectedAt   time.Time    `json:"detected_at"`
}

// PhaseHistoryEntry records one stay in a discrete phase.
// Entries are append-only, time-ordered, and at most one is open
// (ExitedAt == nil) at any time.
type PhaseHistoryEntry struct {
	Phase         int        `json:"phase"`
	EnteredAt     time.Time  `json:"entered_at"`
	ExitedAt      *time.Time `json:"exited_at,omitempty"`
	ExitReason    string     `json:"exit_reason,omitempty"` // escalation|deescalation|reset
	PeakIntensity float64    `json:"peak_intensity"`
}

// BehaviorProfile is the mutable per-(agent, behaviorType) state.
// It is created once at enablement and never deleted; disabling freezes it.
// Mutation happens only through the phase machine's recompute, serialized
// via the store's Version check.
type BehaviorProfile struct {
	AgentID             string              `json:"agent_id"`
	BehaviorType        BehaviorType        `json:"behavior_type"`
	BaseIntensity       float64             `json:"base_intensity"`        // [0,1] configured seed
	CurrentIntensity    float64             `json:"current_intensity"`     // [0,1] derived, always clamped
	CurrentPhase        int                 `json:"current_phase"`         // [1,K], K per phase table
	Volatility          float64             `json:"volatility"`            // [0,1] temperament
	ThresholdForDisplay float64             `json:"threshold_for_display"` // [0,1]
	Enabled             bool                `json:"enabled"`
	Triggers            []TriggerEvent      `json:"triggers"` // bounded recent window
	PhaseStartedAt      time.Time           `json:"phase_started_at"`
	PhaseHistory        []PhaseHistoryEntry `json:"phase_history"`
	LastCalculatedAt    time.Time           `json:"last_calculated_at"`

	// Version is the optimistic-concurrency token managed by the ProfileStore.
	Version int64 `json:"version"`
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// mutable state with the persisted record.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Triggers = make([]TriggerEvent, len(p.Triggers))
	copy(cp.Triggers, p.Triggers)
	cp.PhaseHistory = make([]PhaseHistoryEntry, len(p.PhaseHistory))
	for i, h := range p.PhaseHistory {
		cp.PhaseHistory[i] = h
		if h.ExitedAt != nil {
			t := *h.ExitedAt
			cp.PhaseHistory[i].ExitedAt = &t
		}
	}
	return &cp
}

// OpenHistoryEntry returns the current open phase-history entry, or nil.
func (p *BehaviorProfile) OpenHistoryEntry() *PhaseHistoryEntry {
	for i := len(p.PhaseHistory) - 1; i >= 0; i-- {
		if p.PhaseHistory[i].ExitedAt == nil {
			return &p.PhaseHistory[i]
		}
	}
	return nil
}

// ProgressionState is the per-agent lifetime interaction snapshot.
type ProgressionState struct {
	AgentID              string                   `json:"agent_id"`
	TotalInteractions    int64                    `json:"total_interactions"`
	PositiveInteractions int64                    `json:"positive_interactions"`
	NegativeInteractions int64                    `json:"negative_interactions"`
	CurrentIntensities   map[BehaviorType]float64 `json:"current_intensities"`
	LastCalculatedAt     time.Time                `json:"last_calculated_at"`
}

// SafetyLevel is the clamped, user-facing assessment level.
type SafetyLevel string

const (
	SafetyNormal   SafetyLevel = "NORMAL"
	SafetyWarning  SafetyLevel = "WARNING"
	SafetyCritical SafetyLevel = "CRITICAL"
	SafetyBlocked  SafetyLevel = "BLOCKED"
)

// ActiveBehavior summarizes one behavior inside a SafetyAssessment.
type ActiveBehavior struct {
	BehaviorType BehaviorType `json:"behavior_type"`
	Phase        int          `json:"phase"`
	Intensity    float64      `json:"intensity"`
}

// SafetyAssessment is derived, never persisted.
type SafetyAssessment struct {
	SafetyLevel       SafetyLevel          `json:"safety_level"`
	ActiveBehaviors   []ActiveBehavior     `json:"active_behaviors"`
	EffectivePhaseCap map[BehaviorType]int `json:"effective_phase_cap"`
	Reasons           []string             `json:"reasons"`
}

// CapFor returns the phase cap for a behavior type, or the table max when
// no cap applies.
func (a *SafetyAssessment) CapFor(bt BehaviorType, maxPhase int) int {
	if a == nil || a.EffectivePhaseCap == nil {
		return maxPhase
	}
	if cap, ok := a.EffectivePhaseCap[bt]; ok {
		return cap
	}
	return maxPhase
}

// Directive is the post-clamp, post-threshold output consumed by the
// generation pipeline.
type Directive struct {
	BehaviorType      BehaviorType `json:"behavior_type"`
	Phase             int          `json:"phase"`
	Intensity         float64      `json:"intensity"`
	NarrativeGuidance string       `json:"narrative_guidance"`
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

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
