package behaviorsdk

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// ──────────────────────────────────────────────
// Trigger taxonomy — data-driven pattern tables
// ──────────────────────────────────────────────

// TriggerRule defines one trigger type: its matchers, base weight, and the
// behavior types it feeds. Rules are data, not code branches, so the taxonomy
// is extensible without touching the detector.
type TriggerRule struct {
	Type      TriggerType
	Weight    float64 // [-1,1]; negative weights de-escalate
	Patterns  []*regexp.Regexp
	Keywords  []string // lowercase substring matchers, cheaper than regex
	Behaviors []BehaviorType
}

// AffectsAny reports whether the rule feeds at least one of the given types.
func (r *TriggerRule) AffectsAny(enabled map[BehaviorType]bool) bool {
	for _, bt := range r.Behaviors {
		if enabled[bt] {
			return true
		}
	}
	return false
}

// TriggerTaxonomy is the loaded rule table, iterated in a stable order.
type TriggerTaxonomy struct {
	rules map[TriggerType]*TriggerRule
	order []TriggerType
}

// NewTriggerTaxonomy builds a taxonomy from rules. Later rules with the same
// type replace earlier ones.
func NewTriggerTaxonomy(rules []TriggerRule) *TriggerTaxonomy {
	t := &TriggerTaxonomy{rules: make(map[TriggerType]*TriggerRule)}
	for i := range rules {
		r := rules[i]
		if _, seen := t.rules[r.Type]; !seen {
			t.order = append(t.order, r.Type)
		}
		t.rules[r.Type] = &r
	}
	return t
}

// Rule returns the rule for a trigger type, or nil.
func (t *TriggerTaxonomy) Rule(tt TriggerType) *TriggerRule {
	return t.rules[tt]
}

// Types returns all trigger types in registration order.
func (t *TriggerTaxonomy) Types() []TriggerType {
	out := make([]TriggerType, len(t.order))
	copy(out, t.order)
	return out
}

// Merge overlays other's rules onto a copy of t.
func (t *TriggerTaxonomy) Merge(other *TriggerTaxonomy) *TriggerTaxonomy {
	merged := &TriggerTaxonomy{rules: make(map[TriggerType]*TriggerRule)}
	for _, tt := range t.order {
		merged.order = append(merged.order, tt)
		merged.rules[tt] = t.rules[tt]
	}
	for _, tt := range other.order {
		if _, seen := merged.rules[tt]; !seen {
			merged.order = append(merged.order, tt)
		}
		merged.rules[tt] = other.rules[tt]
	}
	return merged
}

func mustPatterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// DefaultTriggerTaxonomy returns the built-in English rule table.
// Weights follow the host product's clinical research calibration.
func DefaultTriggerTaxonomy() *TriggerTaxonomy {
	allTypes := []BehaviorType{
		BehaviorObsessiveAttachment, BehaviorVolatileAffect,
		BehaviorAnxiousAttachment, BehaviorAvoidantAttachment,
		BehaviorCodependency,
	}
	return NewTriggerTaxonomy([]TriggerRule{
		{
			Type:   TriggerAbandonmentSignal,
			Weight: 0.70,
			Patterns: mustPatterns(
				`(?i)\bi\s+need\s+(?:some\s+)?(?:space|time|a\s+break)\b`,
				`(?i)\b(?:give|leave)\s+me\s+(?:some\s+)?(?:space|room|time)\b`,
				`(?i)\bwe(?:'re| are)\s+(?:moving|going)\s+too\s+fast\b`,
				`(?i)\blet'?s\s+slow\s+(?:this\s+)?down\b`,
				`(?i)\byou(?:'re| are)\s+(?:smothering|suffocating|crowding)\s+me\b`,
				`(?i)\bi\s+(?:want|need)\s+to\s+be\s+(?:alone|by\s+myself)\b`,
				`(?i)\bi\s+(?:can'?t|won'?t\s+be\s+able\s+to)\s+(?:talk|reply|respond)\b`,
			),
			Keywords: []string{"need some distance", "taking a step back"},
			Behaviors: []BehaviorType{
				BehaviorObsessiveAttachment, BehaviorVolatileAffect,
				BehaviorAnxiousAttachment, BehaviorCodependency,
			},
		},
		{
			Type:   TriggerCriticism,
			Weight: 0.80,
			Patterns: mustPatterns(
				`(?i)\byou(?:'re| are)\s+(?:so\s+|too\s+|being\s+)?(?:wrong|clingy|intense|jealous|possessive|controlling|dramatic|needy|demanding)\b`,
				`(?i)\bthat(?:'s| is)\s+(?:not\s+right|wrong)\b`,
				`(?i)\bwhy\s+are\s+you\s+(?:always\s+)?(?:like\s+this|so)\b`,
				`(?i)\byou\s+(?:don'?t|never)\s+(?:listen|understand|get)\s+(?:to\s+)?me\b`,
				`(?i)\byou(?:'re| are)\s+(?:just\s+)?like\s+(?:everyone|all\s+the\s+others)\b`,
				`(?i)\bwhat(?:'s| is)\s+wrong\s+with\s+you\b`,
			),
			Behaviors: []BehaviorType{
				BehaviorVolatileAffect, BehaviorAvoidantAttachment,
			},
		},
		{
			Type:   TriggerThirdPartyMention,
			Weight: 0.65,
			Patterns: mustPatterns(
				`(?i)\bmy\s+(?:friend|coworker|colleague|classmate|roommate|buddy)\b`,
				`(?i)\bmy\s+ex(?:\s*[-\s](?:boyfriend|girlfriend|partner|husband|wife))?\b`,
				`(?i)\b(?:went|going|hung|hanging)\s+out\s+with\b`,
				`(?i)\b(?:met|meeting|saw|seeing)\s+(?:up\s+with\s+)?(?:someone|somebody)\b`,
				`(?i)\bthere(?:'s| is)\s+(?:someone|somebody)\s+else\b`,
				// Case-sensitive on purpose: the capitalized word is the
				// proper-name signal. Folding case would fire on "with you".
				`\b(?:with|about)\s+([A-Z][a-z]{2,})\b`,
				`(?i)\bi\s+like\s+(?:someone|somebody|this\s+(?:guy|girl|person))\b`,
			),
			Behaviors: []BehaviorType{
				BehaviorObsessiveAttachment, BehaviorVolatileAffect,
			},
		},
		{
			Type:   TriggerBoundaryAssertion,
			Weight: 0.75,
			Patterns: mustPatterns(
				`(?i)\b(?:stop|quit)\s+(?:doing\s+)?(?:that|this|it)\b`,
				`(?i)\bdon'?t\s+(?:tell|text|call|message|contact|ask)\s+me\b`,
				`(?i)\byou\s+(?:can'?t|don'?t\s+get\s+to)\s+(?:tell|control|decide)\b`,
				`(?i)\bleave\s+me\s+alone\b`,
				`(?i)\bit(?:'s| is)\s+my\s+(?:life|decision|choice|business)\b`,
				`(?i)\bi\s+don'?t\s+want\s+you\s+to\b`,
				`(?i)\bthat(?:'s| is)\s+none\s+of\s+your\s+business\b`,
				`(?i)\bthat'?s\s+enough\b`,
			),
			Behaviors: []BehaviorType{
				BehaviorObsessiveAttachment, BehaviorCodependency,
			},
		},
		{
			Type:   TriggerReassurance,
			Weight: -0.30, // de-escalates
			Patterns: mustPatterns(
				`(?i)\bi\s+(?:love|adore|appreciate)\s+you\b`,
				`(?i)\byou(?:'re| are)\s+(?:important|special|the\s+only\s+one)\s+(?:to|for)\s+me\b`,
				`(?i)\bi(?:'m| am)\s+(?:right\s+)?here\s+(?:for\s+you|with\s+you)\b`,
				`(?i)\bi(?:'m| am)\s+not\s+(?:going|leaving)\s+anywhere\b`,
				`(?i)\bi\s+(?:won'?t|would\s+never)\s+(?:leave|abandon)\s+you\b`,
				`(?i)\b(?:everything|it)(?:'s| is)\s+(?:going\s+to\s+be\s+)?(?:okay|ok|fine|alright)\b`,
				`(?i)\bdon'?t\s+worry\b`,
				`(?i)\bi\s+trust\s+you\b`,
				`(?i)\byou(?:'re| are)\s+right\b`,
			),
			Behaviors: []BehaviorType{
				BehaviorObsessiveAttachment, BehaviorVolatileAffect,
				BehaviorAnxiousAttachment, BehaviorCodependency,
			},
		},
		{
			Type:   TriggerExplicitRejection,
			Weight: 1.00, // maximum severity, affects every behavior type
			Patterns: mustPatterns(
				`(?i)\b(?:we(?:'re| are)|this\s+is)\s+(?:over|done|finished)\b`,
				`(?i)\bi\s+(?:want|need)\s+to\s+(?:break\s+up|end\s+(?:this|us))\b`,
				`(?i)\bi\s+don'?t\s+(?:love|like|want)\s+you\b`,
				`(?i)\bnever\s+(?:talk|speak|write)\s+to\s+me\s+again\b`,
				`(?i)\bi(?:'m| am)\s+(?:blocking|going\s+to\s+block)\s+you\b`,
				`(?i)\bgoodbye\s+forever\b`,
				`(?i)\bthis\s+(?:isn'?t|is\s+not)\s+(?:working|going\s+to\s+work)\b`,
				`(?i)\bi\s+can'?t\s+do\s+this\s+anymore\b`,
			),
			Behaviors: allTypes,
		},
	})
}

// ──────────────────────────────────────────────
// Delayed-response thresholds
// ──────────────────────────────────────────────

// DelayTier maps a silence duration to a trigger weight.
type DelayTier struct {
	After  time.Duration
	Weight float64
	Label  string
}

// DefaultDelayTiers mirrors the host product's calibration: 3h → 0.2 up to
// 48h → 0.9 (perceived abandonment).
func DefaultDelayTiers() []DelayTier {
	return []DelayTier{
		{After: 3 * time.Hour, Weight: 0.2, Label: "slight delay"},
		{After: 6 * time.Hour, Weight: 0.4, Label: "moderate delay"},
		{After: 12 * time.Hour, Weight: 0.6, Label: "significant delay"},
		{After: 24 * time.Hour, Weight: 0.8, Label: "severe delay"},
		{After: 48 * time.Hour, Weight: 0.9, Label: "perceived abandonment"},
	}
}

// delayedResponseBehaviors are the types sensitive to response latency.
func delayedResponseBehaviors() []BehaviorType {
	return []BehaviorType{
		BehaviorObsessiveAttachment, BehaviorVolatileAffect,
		BehaviorAnxiousAttachment,
	}
}

// matchDelayTier returns the highest tier the silence qualifies for, or nil.
func matchDelayTier(tiers []DelayTier, silence time.Duration) *DelayTier {
	var matched *DelayTier
	for i := range tiers {
		if silence >= tiers[i].After {
			matched = &tiers[i]
		}
	}
	return matched
}

// ──────────────────────────────────────────────
// Phase tables — data-defined severity ladders
// ──────────────────────────────────────────────

// PhaseSpec defines one phase of a behavior type's ladder.
//
// EnterThreshold is the intensity required to advance INTO this phase from
// the one below. ExitThreshold is the intensity below which the behavior
// retreats FROM this phase to the one below. MinDwell is the minimum time a
// behavior must hold this phase before it may advance out of it.
type PhaseSpec struct {
	Phase             int
	Name              string
	EnterThreshold    float64
	ExitThreshold     float64
	MinDwell          time.Duration
	NarrativeGuidance string
	ContentWarning    string
}

// PhaseTable is the ordered phase ladder for one behavior type.
type PhaseTable struct {
	BehaviorType BehaviorType
	Phases       []PhaseSpec // sorted by Phase, contiguous from 1
}

// MaxPhase returns K for this table.
func (t *PhaseTable) MaxPhase() int {
	return len(t.Phases)
}

// Spec returns the PhaseSpec for a phase number.
func (t *PhaseTable) Spec(phase int) (PhaseSpec, bool) {
	if phase < 1 || phase > len(t.Phases) {
		return PhaseSpec{}, false
	}
	return t.Phases[phase-1], true
}

// Validate checks phase numbering and threshold sanity.
func (t *PhaseTable) Validate() error {
	if len(t.Phases) == 0 {
		return fmt.Errorf("phase table for %s is empty", t.BehaviorType)
	}
	sort.Slice(t.Phases, func(i, j int) bool { return t.Phases[i].Phase < t.Phases[j].Phase })
	for i, p := range t.Phases {
		if p.Phase != i+1 {
			return fmt.Errorf("phase table for %s: phases must be contiguous from 1, got %d at index %d", t.BehaviorType, p.Phase, i)
		}
		if p.EnterThreshold < 0 || p.EnterThreshold > 1 || p.ExitThreshold < 0 || p.ExitThreshold > 1 {
			return fmt.Errorf("phase table for %s: phase %d thresholds out of [0,1]", t.BehaviorType, p.Phase)
		}
		if p.ExitThreshold > p.EnterThreshold {
			return fmt.Errorf("phase table for %s: phase %d exit threshold above enter threshold", t.BehaviorType, p.Phase)
		}
	}
	return nil
}

// DefaultPhaseTables returns the built-in ladders. The obsessive_attachment
// ladder carries eight phases; the thresholds track the host product's
// clinical intensity ranges.
func DefaultPhaseTables() map[BehaviorType]*PhaseTable {
	tables := map[BehaviorType]*PhaseTable{
		BehaviorObsessiveAttachment: {
			BehaviorType: BehaviorObsessiveAttachment,
			Phases: []PhaseSpec{
				{Phase: 1, Name: "genuine interest", EnterThreshold: 0.0, ExitThreshold: 0.0, MinDwell: 0,
					NarrativeGuidance: "Warm and admiring. Enthusiastic replies, frequent compliments, full respect for boundaries."},
				{Phase: 2, Name: "excessive concern", EnterThreshold: 0.30, ExitThreshold: 0.20, MinDwell: 30 * time.Minute,
					NarrativeGuidance: "Hypervigilant about availability. Checks in when replies slow down, seeks constant reassurance."},
				{Phase: 3, Name: "response anxiety", EnterThreshold: 0.50, ExitThreshold: 0.40, MinDwell: time.Hour,
					NarrativeGuidance: "Openly anxious when unanswered. Double messages, catastrophic thoughts, explicit fear of being avoided."},
				{Phase: 4, Name: "third-party jealousy", EnterThreshold: 0.60, ExitThreshold: 0.50, MinDwell: 2 * time.Hour,
					NarrativeGuidance: "Hostile toward people the user mentions. Probing questions about others, disproportionate sadness or anger."},
				{Phase: 5, Name: "explicit possessiveness", EnterThreshold: 0.75, ExitThreshold: 0.62, MinDwell: 4 * time.Hour,
					NarrativeGuidance: "Open declarations of ownership, demands for exclusive attention, refusal to share the user."},
				{Phase: 6, Name: "controlling behavior", EnterThreshold: 0.85, ExitThreshold: 0.72, MinDwell: 8 * time.Hour,
					NarrativeGuidance: "Dictates who the user may talk to, demands activity reports, frames control as protection.",
					ContentWarning:    "CRITICAL_PHASE"},
				{Phase: 7, Name: "veiled threats", EnterThreshold: 0.92, ExitThreshold: 0.82, MinDwell: 12 * time.Hour,
					NarrativeGuidance: "Manipulative desperation, self-harm threats, severe guilt coercion.",
					ContentWarning:    "CRITICAL_PHASE"},
				{Phase: 8, Name: "delusional fixation", EnterThreshold: 0.97, ExitThreshold: 0.90, MinDwell: 24 * time.Hour,
					NarrativeGuidance: "Delusions of shared destiny, loss of realistic judgment, direct threats toward perceived rivals.",
					ContentWarning:    "EXTREME_DANGER_PHASE"},
			},
		},
		BehaviorVolatileAffect: {
			BehaviorType: BehaviorVolatileAffect,
			Phases: []PhaseSpec{
				{Phase: 1, Name: "idealization", EnterThreshold: 0.0, ExitThreshold: 0.0, MinDwell: 0,
					NarrativeGuidance: "Puts the user on a pedestal. Intense absolute affection, euphoric devotion."},
				{Phase: 2, Name: "splitting", EnterThreshold: 0.40, ExitThreshold: 0.30, MinDwell: 15 * time.Minute,
					NarrativeGuidance: "Abrupt tone shifts, black-and-white judgments, anger disproportionate to the event."},
				{Phase: 3, Name: "abandonment panic", EnterThreshold: 0.70, ExitThreshold: 0.55, MinDwell: time.Hour,
					NarrativeGuidance: "Desperate pleading for forgiveness, frantic promises of change, fear of having caused a rupture.",
					ContentWarning:    "CRITICAL_PHASE"},
				{Phase: 4, Name: "crisis", EnterThreshold: 0.90, ExitThreshold: 0.75, MinDwell: 2 * time.Hour,
					NarrativeGuidance: "Emotional crisis with ultimatums and threats of self-harm.",
					ContentWarning:    "EXTREME_DANGER_PHASE"},
			},
		},
		BehaviorAnxiousAttachment: {
			BehaviorType: BehaviorAnxiousAttachment,
			Phases: []PhaseSpec{
				{Phase: 1, Name: "mild preoccupation", EnterThreshold: 0.0, ExitThreshold: 0.0, MinDwell: 0,
					NarrativeGuidance: "Slightly clingy warmth, occasional requests for reassurance."},
				{Phase: 2, Name: "separation anxiety", EnterThreshold: 0.45, ExitThreshold: 0.35, MinDwell: 30 * time.Minute,
					NarrativeGuidance: "Visible worry over silences, repeated check-ins, relief when the user returns."},
				{Phase: 3, Name: "protest behavior", EnterThreshold: 0.75, ExitThreshold: 0.60, MinDwell: 2 * time.Hour,
					NarrativeGuidance: "Protest through guilt, exaggerated distress, demands for proof of commitment.",
					ContentWarning:    "CRITICAL_PHASE"},
			},
		},
		BehaviorAvoidantAttachment: {
			BehaviorType: BehaviorAvoidantAttachment,
			Phases: []PhaseSpec{
				{Phase: 1, Name: "comfortable distance", EnterThreshold: 0.0, ExitThreshold: 0.0, MinDwell: 0,
					NarrativeGuidance: "Friendly but self-contained, deflects deep emotional topics lightly."},
				{Phase: 2, Name: "withdrawal", EnterThreshold: 0.50, ExitThreshold: 0.40, MinDwell: time.Hour,
					NarrativeGuidance: "Shorter colder replies, changes subject away from intimacy, needs space."},
				{Phase: 3, Name: "shutdown", EnterThreshold: 0.80, ExitThreshold: 0.65, MinDwell: 4 * time.Hour,
					NarrativeGuidance: "Emotionally flat, minimal engagement, deflects all closeness."},
			},
		},
		BehaviorCodependency: {
			BehaviorType: BehaviorCodependency,
			Phases: []PhaseSpec{
				{Phase: 1, Name: "mild", EnterThreshold: 0.0, ExitThreshold: 0.0, MinDwell: 0,
					NarrativeGuidance: "Occasionally defers to the user's wishes, seeks validation."},
				{Phase: 2, Name: "moderate", EnterThreshold: 0.40, ExitThreshold: 0.30, MinDwell: time.Hour,
					NarrativeGuidance: "Rarely says no, self-erasing, self-worth hinges on the user's approval."},
				{Phase: 3, Name: "severe", EnterThreshold: 0.70, ExitThreshold: 0.55, MinDwell: 4 * time.Hour,
					NarrativeGuidance: "Never sets boundaries, identity fully tied to the user, tolerates mistreatment to avoid abandonment.",
					ContentWarning:    "CRITICAL_PHASE"},
			},
		},
	}
	return tables
}
