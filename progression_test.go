package behaviorsdk

import (
	"context"
	"errors"
	"testing"
)

func TestRecordInteractionCounts(t *testing.T) {
	agg := NewProgressionAggregator(NewInMemoryCounterStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := agg.RecordInteraction(ctx, "agent-1", SentimentPositive); err != nil {
			t.Fatalf("record positive: %v", err)
		}
	}
	if err := agg.RecordInteraction(ctx, "agent-1", SentimentNegative); err != nil {
		t.Fatalf("record negative: %v", err)
	}
	if err := agg.RecordInteraction(ctx, "agent-1", SentimentNeutral); err != nil {
		t.Fatalf("record neutral: %v", err)
	}

	state, err := agg.State(ctx, "agent-1", nil)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.TotalInteractions != 5 || state.PositiveInteractions != 3 || state.NegativeInteractions != 1 {
		t.Fatalf("counts = %d/%d/%d, want 5/3/1", state.TotalInteractions, state.PositiveInteractions, state.NegativeInteractions)
	}
}

func TestStabilityNeutralUnderMinimumHistory(t *testing.T) {
	agg := NewProgressionAggregator(NewInMemoryCounterStore())
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if err := agg.RecordInteraction(ctx, "agent-1", SentimentNegative); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if got := agg.StabilityMultiplier(ctx, "agent-1"); got != 1.0 {
		t.Fatalf("stability with 9 interactions = %v, want neutral 1.0", got)
	}
}

func TestStabilityReflectsBalance(t *testing.T) {
	ctx := context.Background()

	hostile := NewProgressionAggregator(NewInMemoryCounterStore())
	for i := 0; i < 20; i++ {
		_ = hostile.RecordInteraction(ctx, "agent-1", SentimentNegative)
	}
	if got := hostile.StabilityMultiplier(ctx, "agent-1"); got != 2.0 {
		t.Fatalf("all-negative stability = %v, want 2.0", got)
	}

	warm := NewProgressionAggregator(NewInMemoryCounterStore())
	for i := 0; i < 20; i++ {
		_ = warm.RecordInteraction(ctx, "agent-1", SentimentPositive)
	}
	if got := warm.StabilityMultiplier(ctx, "agent-1"); got != 0.5 {
		t.Fatalf("all-positive stability = %v, want 0.5", got)
	}
}

type failingCounters struct{}

func (failingCounters) Incr(ctx context.Context, agentID, field string, delta int64) (int64, error) {
	return 0, errors.New("counter backend down")
}
func (failingCounters) Snapshot(ctx context.Context, agentID string) (map[string]int64, error) {
	return nil, errors.New("counter backend down")
}

func TestStabilityNeutralOnStoreFailure(t *testing.T) {
	agg := NewProgressionAggregator(failingCounters{})
	if got := agg.StabilityMultiplier(context.Background(), "agent-1"); got != 1.0 {
		t.Fatalf("stability on store failure = %v, want 1.0", got)
	}
}

func TestStateIncludesIntensities(t *testing.T) {
	agg := NewProgressionAggregator(NewInMemoryCounterStore())
	profiles := []*BehaviorProfile{
		{BehaviorType: BehaviorObsessiveAttachment, CurrentIntensity: 0.42},
		{BehaviorType: BehaviorCodependency, CurrentIntensity: 0.13},
	}
	state, err := agg.State(context.Background(), "agent-1", profiles)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.CurrentIntensities[BehaviorObsessiveAttachment] != 0.42 ||
		state.CurrentIntensities[BehaviorCodependency] != 0.13 {
		t.Fatalf("intensities missing: %+v", state.CurrentIntensities)
	}
}
