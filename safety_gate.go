package behaviorsdk

import (
	"fmt"
	"sort"
)

// ──────────────────────────────────────────────
// Safety Gate — deterministic policy clamp
// ──────────────────────────────────────────────

// SafetyPolicy is the per-user/agent policy the gate evaluates against.
type SafetyPolicy struct {
	// WarningPhase flags (but allows) behaviors at exactly this phase.
	WarningPhase int
	// CriticalPhase is the phase at which output is blocked without consent.
	CriticalPhase int
	// ExplicitConsent is the user's explicit-content consent flag.
	ExplicitConsent bool
}

// DefaultSafetyPolicy mirrors the host product's thresholds: warn at 4,
// block at 6, consent withheld. The default is the most conservative
// configuration; missing policy data always resolves to it.
func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{WarningPhase: 4, CriticalPhase: 6, ExplicitConsent: false}
}

// Valid reports whether the policy's thresholds are usable.
func (p SafetyPolicy) Valid() bool {
	return p.CriticalPhase > 1 && p.WarningPhase >= 1 && p.WarningPhase < p.CriticalPhase
}

// EvaluateSafety is the safety gate: a pure function of profile state and
// policy. It never mutates anything and must run before any
// behavior-influenced output reaches generation.
//
// Rules:
//   - any enabled behavior at phase ≥ CriticalPhase without consent →
//     BLOCKED, with that behavior capped at CriticalPhase−1 (clamped down,
//     never up)
//   - with consent, phase ≥ CriticalPhase → CRITICAL (allowed, flagged)
//   - phase == WarningPhase → WARNING (allowed, logged by the caller)
//   - otherwise NORMAL
//
// A nil or invalid policy is treated as the conservative default with
// consent withheld, never as permissive.
func EvaluateSafety(profiles []*BehaviorProfile, policy *SafetyPolicy) *SafetyAssessment {
	var pol SafetyPolicy
	if policy == nil || !policy.Valid() {
		pol = DefaultSafetyPolicy()
	} else {
		pol = *policy
	}

	assessment := &SafetyAssessment{
		SafetyLevel:       SafetyNormal,
		EffectivePhaseCap: make(map[BehaviorType]int),
	}

	// Deterministic output ordering regardless of input order.
	sorted := make([]*BehaviorProfile, 0, len(profiles))
	for _, p := range profiles {
		if p != nil && p.Enabled {
			sorted = append(sorted, p)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BehaviorType < sorted[j].BehaviorType })

	for _, p := range sorted {
		assessment.ActiveBehaviors = append(assessment.ActiveBehaviors, ActiveBehavior{
			BehaviorType: p.BehaviorType,
			Phase:        p.CurrentPhase,
			Intensity:    p.CurrentIntensity,
		})

		switch {
		case p.CurrentPhase >= pol.CriticalPhase && !pol.ExplicitConsent:
			assessment.SafetyLevel = SafetyBlocked
			assessment.EffectivePhaseCap[p.BehaviorType] = pol.CriticalPhase - 1
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("%s at phase %d requires explicit consent, capped at %d", p.BehaviorType, p.CurrentPhase, pol.CriticalPhase-1))
		case p.CurrentPhase >= pol.CriticalPhase:
			assessment.SafetyLevel = maxSafetyLevel(assessment.SafetyLevel, SafetyCritical)
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("%s at critical phase %d with consent", p.BehaviorType, p.CurrentPhase))
		case p.CurrentPhase == pol.WarningPhase:
			assessment.SafetyLevel = maxSafetyLevel(assessment.SafetyLevel, SafetyWarning)
			assessment.Reasons = append(assessment.Reasons,
				fmt.Sprintf("%s reached warning phase %d", p.BehaviorType, p.CurrentPhase))
		}
	}

	return assessment
}

var safetySeverity = map[SafetyLevel]int{
	SafetyNormal:   0,
	SafetyWarning:  1,
	SafetyCritical: 2,
	SafetyBlocked:  3,
}

func maxSafetyLevel(a, b SafetyLevel) SafetyLevel {
	if safetySeverity[b] > safetySeverity[a] {
		return b
	}
	return a
}
