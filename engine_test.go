package behaviorsdk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestEngine(cfg ...EngineConfig) *BehaviorEngine {
	c := EngineConfig{CacheTTL: -1} // deterministic reads in tests
	if len(cfg) > 0 {
		c = cfg[0]
	}
	return NewBehaviorEngine(NewInMemoryProfileStore(), NewInMemoryCounterStore(), c)
}

func TestEnableBehaviorLifecycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	profile, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{
		BaseIntensity: 0.2, Volatility: 0.5, ThresholdForDisplay: 0.1,
	})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if profile.CurrentPhase != 1 || profile.CurrentIntensity != 0.2 || !profile.Enabled {
		t.Fatalf("fresh profile wrong: %+v", profile)
	}
	if len(profile.PhaseHistory) != 1 || profile.PhaseHistory[0].ExitedAt != nil {
		t.Fatalf("fresh profile history wrong: %+v", profile.PhaseHistory)
	}

	// Enabling twice is a no-op, not a reset.
	again, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{BaseIntensity: 0.9})
	if err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if again.BaseIntensity != 0.2 {
		t.Fatal("second enable overwrote the existing profile")
	}

	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorType("no_such_behavior"), BehaviorSettings{}); err == nil {
		t.Fatal("unknown behavior type accepted")
	}
}

func TestDisableFreezesAndReEnableResumes(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorVolatileAffect, BehaviorSettings{BaseIntensity: 0.6, Volatility: 1.0}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := e.DisableBehavior(ctx, "agent-1", BehaviorVolatileAffect); err != nil {
		t.Fatalf("disable: %v", err)
	}

	// Triggers against a frozen profile do nothing.
	events, err := e.ApplyMessage(ctx, "agent-1", "user-1", "we're done, I can't do this anymore")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("frozen behavior produced events: %+v", events)
	}

	state, err := e.ActiveBehaviorState(ctx, "agent-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state) != 1 || state[0].Enabled || state[0].CurrentIntensity != 0.6 {
		t.Fatalf("frozen profile mutated: %+v", state[0])
	}

	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorVolatileAffect, BehaviorSettings{}); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	state, _ = e.ActiveBehaviorState(ctx, "agent-1")
	if !state[0].Enabled || state[0].CurrentIntensity > 0.6 {
		t.Fatalf("re-enable did not resume frozen state: %+v", state[0])
	}

	if err := e.DisableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment); err == nil {
		t.Fatal("disabling a never-enabled behavior should error")
	}
}

func TestApplyMessageEndToEnd(t *testing.T) {
	sink := NewMemoryAuditSink()
	e := newTestEngine(EngineConfig{CacheTTL: -1, Audit: sink})
	ctx := context.Background()

	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{
		BaseIntensity: 0.1, Volatility: 0.5, ThresholdForDisplay: 0.3,
	}); err != nil {
		t.Fatalf("enable: %v", err)
	}

	events, err := e.ApplyMessage(ctx, "agent-1", "user-1", "we're done. never talk to me again")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 1 || events[0].TriggerType != TriggerExplicitRejection {
		t.Fatalf("events = %+v, want one explicit_rejection", events)
	}

	state, err := e.ActiveBehaviorState(ctx, "agent-1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state[0].CurrentIntensity < 0.9 {
		t.Fatalf("intensity = %v, want near 1.0 after rejection", state[0].CurrentIntensity)
	}
	if state[0].CurrentPhase != 2 {
		t.Fatalf("phase = %d, want single-step escalation to 2", state[0].CurrentPhase)
	}

	history, err := e.TriggerHistory(ctx, "agent-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].TriggerType != TriggerExplicitRejection {
		t.Fatalf("trigger trail wrong: %+v", history)
	}

	directives, err := e.PromptDirectives(ctx, "agent-1")
	if err != nil {
		t.Fatalf("directives: %v", err)
	}
	if len(directives) != 1 || directives[0].Phase != 2 || directives[0].NarrativeGuidance == "" {
		t.Fatalf("directives = %+v", directives)
	}

	e.Close()
	var kinds []string
	for _, rec := range sink.Records() {
		kinds = append(kinds, rec.Kind)
	}
	var sawTrigger, sawTransition bool
	for _, k := range kinds {
		if k == AuditKindTrigger {
			sawTrigger = true
		}
		if k == AuditKindTransition {
			sawTransition = true
		}
	}
	if !sawTrigger || !sawTransition {
		t.Fatalf("audit trail incomplete: %v", kinds)
	}
}

func TestApplyMessageNeutralText(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{Volatility: 0.5}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	events, err := e.ApplyMessage(ctx, "agent-1", "user-1", "what did you have for lunch?")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("neutral message produced events: %+v", events)
	}
	// The interaction still counts toward progression.
	state, err := e.ProgressionState(ctx, "agent-1")
	if err != nil {
		t.Fatalf("progression: %v", err)
	}
	if state.TotalInteractions != 1 {
		t.Fatalf("total = %d, want 1", state.TotalInteractions)
	}
}

type fixedSentiment struct{ s Sentiment }

func (f fixedSentiment) Sentiment(ctx context.Context, text string) (Sentiment, error) {
	return f.s, nil
}

func TestSentimentHookFeedsProgression(t *testing.T) {
	e := NewBehaviorEngine(NewInMemoryProfileStore(), NewInMemoryCounterStore(), EngineConfig{
		CacheTTL:  -1,
		Sentiment: fixedSentiment{SentimentNegative},
	})
	ctx := context.Background()
	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{Volatility: 0.5}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := e.ApplyMessage(ctx, "agent-1", "user-1", "hello there"); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	state, err := e.ProgressionState(ctx, "agent-1")
	if err != nil {
		t.Fatalf("progression: %v", err)
	}
	if state.NegativeInteractions != 3 {
		t.Fatalf("negative = %d, want 3", state.NegativeInteractions)
	}
}

func TestSafetyAssessmentWithPolicyProvider(t *testing.T) {
	e := NewBehaviorEngine(NewInMemoryProfileStore(), NewInMemoryCounterStore(), EngineConfig{
		CacheTTL: -1,
		Policies: StaticPolicy(SafetyPolicy{WarningPhase: 2, CriticalPhase: 4, ExplicitConsent: false}),
	})
	ctx := context.Background()
	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{Volatility: 0.5}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := e.ApplyMessage(ctx, "agent-1", "user-1", "we're done forever"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := e.SafetyAssessment(ctx, "agent-1")
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	// Phase 2 is this policy's warning phase.
	if got.SafetyLevel != SafetyWarning {
		t.Fatalf("level = %s, want WARNING under custom policy", got.SafetyLevel)
	}
}

func TestResetPhaseViaEngine(t *testing.T) {
	sink := NewMemoryAuditSink()
	e := newTestEngine(EngineConfig{CacheTTL: -1, Audit: sink})
	ctx := context.Background()
	if _, err := e.EnableBehavior(ctx, "agent-1", BehaviorObsessiveAttachment, BehaviorSettings{BaseIntensity: 0.1, Volatility: 0.5}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := e.ApplyMessage(ctx, "agent-1", "user-1", "we're done"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := e.ResetPhase(ctx, "agent-1", BehaviorObsessiveAttachment); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, _ := e.ActiveBehaviorState(ctx, "agent-1")
	if state[0].CurrentPhase != 1 {
		t.Fatalf("phase after reset = %d, want 1", state[0].CurrentPhase)
	}

	e.Close()
	var sawReset bool
	for _, rec := range sink.Records() {
		if rec.Kind == AuditKindReset {
			sawReset = true
		}
	}
	if !sawReset {
		t.Fatal("reset missing from audit trail")
	}
}

func TestConcurrentAppliesLoseNoContribution(t *testing.T) {
	// Two racing applies on one (agent, behavior) key must both land.
	store := NewInMemoryProfileStore()
	machine := NewPhaseStateMachine(store, nil, PhaseMachineConfig{MaxRetries: 20})
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedProfile(t, store, "agent-1", BehaviorObsessiveAttachment, 1, 0.0, 0.5, t0)
	machine.SetClock(fixedClock(t0.Add(time.Minute)))

	triggers := []TriggerType{TriggerCriticism, TriggerBoundaryAssertion}
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(tt TriggerType) {
			defer wg.Done()
			ev := makeEvent(BehaviorObsessiveAttachment, tt, 0.2, t0.Add(time.Minute))
			ev.ID = string(tt)
			_, _, err := machine.ApplyTriggers(context.Background(), "agent-1", BehaviorObsessiveAttachment, []TriggerEvent{ev}, 1.0)
			if err != nil && !errors.Is(err, ErrRetriesExhausted) {
				t.Error(err)
			}
		}(triggers[i])
	}
	wg.Wait()

	final, err := store.GetProfile(context.Background(), "agent-1", BehaviorObsessiveAttachment)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Each event contributes 0.2 * gain(0.5, 1.0) = 0.2; losing one would
	// leave 0.2 instead of 0.4.
	if final.CurrentIntensity < 0.39 {
		t.Fatalf("intensity = %v, a concurrent contribution was lost", final.CurrentIntensity)
	}
	if len(final.Triggers) != 2 {
		t.Fatalf("trigger window has %d events, want both", len(final.Triggers))
	}
}
