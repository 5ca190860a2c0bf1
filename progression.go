package behaviorsdk

import (
	"context"
	"fmt"
	"time"
)

// ──────────────────────────────────────────────
// Progression Aggregator — lifetime interaction counters
// ──────────────────────────────────────────────

// ProgressionAggregator maintains per-agent lifetime interaction counters
// and derives the stability multiplier the phase machine feeds into
// escalation gain. Counters are monotonic and live behind an atomic
// upsert-increment CounterStore.
type ProgressionAggregator struct {
	counters CounterStore
}

// NewProgressionAggregator creates an aggregator over a counter store.
func NewProgressionAggregator(counters CounterStore) *ProgressionAggregator {
	return &ProgressionAggregator{counters: counters}
}

// RecordInteraction bumps the total counter and the counter matching the
// sentiment classification supplied by the chat pipeline.
func (a *ProgressionAggregator) RecordInteraction(ctx context.Context, agentID string, sentiment Sentiment) error {
	if _, err := a.counters.Incr(ctx, agentID, counterTotal, 1); err != nil {
		return fmt.Errorf("increment total: %w", err)
	}
	switch sentiment {
	case SentimentPositive:
		if _, err := a.counters.Incr(ctx, agentID, counterPositive, 1); err != nil {
			return fmt.Errorf("increment positive: %w", err)
		}
	case SentimentNegative:
		if _, err := a.counters.Incr(ctx, agentID, counterNegative, 1); err != nil {
			return fmt.Errorf("increment negative: %w", err)
		}
	}
	return nil
}

// StabilityMultiplier returns a value in [0.5, 2.0]. A friction-heavy
// history (negative outweighing positive) pushes above 1 and reinforces
// conflict-type escalation; a positive history dampens it below 1.
// Agents with little history sit at the neutral 1.0.
func (a *ProgressionAggregator) StabilityMultiplier(ctx context.Context, agentID string) float64 {
	snap, err := a.counters.Snapshot(ctx, agentID)
	if err != nil {
		// Counter store trouble must not block message processing.
		return 1.0
	}
	total := snap[counterTotal]
	if total < 10 {
		return 1.0
	}
	pos := snap[counterPositive]
	neg := snap[counterNegative]
	balance := float64(neg-pos) / float64(total)
	return clampRange(1.0+balance, 0.5, 2.0)
}

// State returns the progression snapshot for an agent, with current
// intensities filled in from the given profiles.
func (a *ProgressionAggregator) State(ctx context.Context, agentID string, profiles []*BehaviorProfile) (*ProgressionState, error) {
	snap, err := a.counters.Snapshot(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	state := &ProgressionState{
		AgentID:              agentID,
		TotalInteractions:    snap[counterTotal],
		PositiveInteractions: snap[counterPositive],
		NegativeInteractions: snap[counterNegative],
		CurrentIntensities:   make(map[BehaviorType]float64, len(profiles)),
		LastCalculatedAt:     time.Now(),
	}
	for _, p := range profiles {
		if p != nil {
			state.CurrentIntensities[p.BehaviorType] = p.CurrentIntensity
		}
	}
	return state, nil
}
