package behaviorsdk

import (
	"testing"
)

func TestBuildFiltersByDisplayThreshold(t *testing.T) {
	b := NewPromptContextBuilder(nil)
	profiles := []*BehaviorProfile{
		{BehaviorType: BehaviorObsessiveAttachment, CurrentPhase: 2, CurrentIntensity: 0.35, ThresholdForDisplay: 0.3, Enabled: true},
		{BehaviorType: BehaviorAnxiousAttachment, CurrentPhase: 1, CurrentIntensity: 0.1, ThresholdForDisplay: 0.3, Enabled: true},
	}
	got := b.Build(profiles, EvaluateSafety(profiles, nil))
	if len(got) != 1 || got[0].BehaviorType != BehaviorObsessiveAttachment {
		t.Fatalf("threshold filter wrong: %+v", got)
	}
	if got[0].NarrativeGuidance == "" {
		t.Fatal("directive missing narrative guidance")
	}
}

func TestBuildSkipsDisabled(t *testing.T) {
	b := NewPromptContextBuilder(nil)
	profiles := []*BehaviorProfile{
		{BehaviorType: BehaviorObsessiveAttachment, CurrentPhase: 3, CurrentIntensity: 0.6, Enabled: false},
	}
	if got := b.Build(profiles, EvaluateSafety(profiles, nil)); len(got) != 0 {
		t.Fatalf("disabled profile produced a directive: %+v", got)
	}
}

func TestBuildClampsPhaseToSafetyCap(t *testing.T) {
	b := NewPromptContextBuilder(nil)
	policy := &SafetyPolicy{WarningPhase: 4, CriticalPhase: 6, ExplicitConsent: false}
	profiles := []*BehaviorProfile{
		{BehaviorType: BehaviorObsessiveAttachment, CurrentPhase: 7, CurrentIntensity: 0.95, Enabled: true},
	}
	assessment := EvaluateSafety(profiles, policy)
	got := b.Build(profiles, assessment)
	if len(got) != 1 {
		t.Fatalf("got %d directives, want 1", len(got))
	}
	if got[0].Phase != 5 {
		t.Fatalf("phase = %d, want clamped to 5", got[0].Phase)
	}
	// Guidance must come from the clamped phase, not the stored one.
	spec, _ := DefaultPhaseTables()[BehaviorObsessiveAttachment].Spec(5)
	if got[0].NarrativeGuidance != spec.NarrativeGuidance {
		t.Fatalf("guidance not taken from clamped phase: %q", got[0].NarrativeGuidance)
	}
}

func TestBuildSortedByBehaviorType(t *testing.T) {
	b := NewPromptContextBuilder(nil)
	profiles := []*BehaviorProfile{
		{BehaviorType: BehaviorVolatileAffect, CurrentPhase: 2, CurrentIntensity: 0.5, Enabled: true},
		{BehaviorType: BehaviorAnxiousAttachment, CurrentPhase: 1, CurrentIntensity: 0.5, Enabled: true},
	}
	got := b.Build(profiles, EvaluateSafety(profiles, nil))
	if len(got) != 2 {
		t.Fatalf("got %d directives, want 2", len(got))
	}
	if got[0].BehaviorType != BehaviorAnxiousAttachment || got[1].BehaviorType != BehaviorVolatileAffect {
		t.Fatalf("directives not sorted: %+v", got)
	}
}
