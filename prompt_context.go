package behaviorsdk

import (
	"sort"
)

// ──────────────────────────────────────────────
// Prompt Context Builder — post-clamp directive list
// ──────────────────────────────────────────────

// PromptContextBuilder turns refreshed profiles plus a safety assessment
// into the directive list the generation pipeline consumes. It performs no
// I/O; the engine hands it already-decayed profiles.
type PromptContextBuilder struct {
	tables map[BehaviorType]*PhaseTable
}

// NewPromptContextBuilder creates a builder. Nil tables use the defaults.
func NewPromptContextBuilder(tables map[BehaviorType]*PhaseTable) *PromptContextBuilder {
	if tables == nil {
		tables = DefaultPhaseTables()
	}
	return &PromptContextBuilder{tables: tables}
}

// Build returns directives for every enabled behavior whose decayed
// intensity clears its display threshold, with the phase clamped down to
// the assessment's effective cap. A behavior capped below phase 1 emits
// nothing.
func (b *PromptContextBuilder) Build(profiles []*BehaviorProfile, assessment *SafetyAssessment) []Directive {
	var out []Directive
	for _, p := range profiles {
		if p == nil || !p.Enabled {
			continue
		}
		if p.CurrentIntensity < p.ThresholdForDisplay {
			continue
		}
		table := b.tables[p.BehaviorType]
		if table == nil {
			continue
		}
		phase := p.CurrentPhase
		if cap := assessment.CapFor(p.BehaviorType, table.MaxPhase()); phase > cap {
			phase = cap
		}
		spec, ok := table.Spec(phase)
		if !ok {
			continue
		}
		out = append(out, Directive{
			BehaviorType:      p.BehaviorType,
			Phase:             phase,
			Intensity:         p.CurrentIntensity,
			NarrativeGuidance: spec.NarrativeGuidance,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BehaviorType < out[j].BehaviorType })
	return out
}
