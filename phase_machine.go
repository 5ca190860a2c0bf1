package behaviorsdk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ──────────────────────────────────────────────
// Phase State Machine — decay, trigger accumulation, ±1 transitions
// ──────────────────────────────────────────────

// ErrRetriesExhausted is returned when optimistic commits kept conflicting.
// Trigger application is best-effort relative to core chat: callers log and
// move on, they never fail the user-facing reply over this.
var ErrRetriesExhausted = errors.New("behavior recompute retries exhausted")

// PhaseTransition describes one discrete phase change.
type PhaseTransition struct {
	AgentID      string       `json:"agent_id"`
	BehaviorType BehaviorType `json:"behavior_type"`
	FromPhase    int          `json:"from_phase"`
	ToPhase      int          `json:"to_phase"`
	Intensity    float64      `json:"intensity"`
	Reason       string       `json:"reason"` // escalation|deescalation|reset
	At           time.Time    `json:"at"`
}

// PhaseMachineConfig tunes the machine.
type PhaseMachineConfig struct {
	BaseHalfLife  time.Duration // half-life at volatility 1.0, default DefaultBaseHalfLife
	MaxRetries    int           // optimistic commit attempts, default 3
	TriggerWindow int           // recent triggers kept on the profile, default 50
}

// PhaseStateMachine owns every mutation of BehaviorProfiles. Recompute is
// atomic per (agentID, behaviorType): it reads fresh state, derives the new
// intensity and phase on a copy, and commits with an optimistic version
// check. Two concurrent applies can never silently lose a trigger's
// contribution.
type PhaseStateMachine struct {
	store  ProfileStore
	tables map[BehaviorType]*PhaseTable
	cfg    PhaseMachineConfig
	now    func() time.Time
}

// NewPhaseStateMachine creates a machine over a profile store and phase
// tables. Nil tables use the built-in defaults.
func NewPhaseStateMachine(store ProfileStore, tables map[BehaviorType]*PhaseTable, config ...PhaseMachineConfig) *PhaseStateMachine {
	if tables == nil {
		tables = DefaultPhaseTables()
	}
	cfg := PhaseMachineConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.BaseHalfLife <= 0 {
		cfg.BaseHalfLife = DefaultBaseHalfLife
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.TriggerWindow <= 0 {
		cfg.TriggerWindow = 50
	}
	return &PhaseStateMachine{store: store, tables: tables, cfg: cfg, now: time.Now}
}

// SetClock overrides the machine's clock. Intended for tests.
func (m *PhaseStateMachine) SetClock(now func() time.Time) {
	m.now = now
}

// Table returns the phase table for a behavior type, or nil.
func (m *PhaseStateMachine) Table(bt BehaviorType) *PhaseTable {
	return m.tables[bt]
}

// ApplyTriggers folds new trigger events into the profile for one
// (agentID, behaviorType) key and recomputes intensity and phase. The
// stability multiplier comes from the progression aggregator and only
// amplifies escalating (positive-weight) triggers.
//
// The commit is all-or-nothing: a cancelled context or a lost optimistic
// race leaves the stored profile untouched.
func (m *PhaseStateMachine) ApplyTriggers(ctx context.Context, agentID string, bt BehaviorType, events []TriggerEvent, stability float64) (*BehaviorProfile, *PhaseTransition, error) {
	return m.recomputeAndCommit(ctx, agentID, bt, events, stability)
}

// Refresh recomputes a profile lazily with no new triggers: wall-clock decay
// plus a possible single-step phase retreat. Reads that observe intensity
// must go through here so stale profiles never leak out.
func (m *PhaseStateMachine) Refresh(ctx context.Context, agentID string, bt BehaviorType) (*BehaviorProfile, *PhaseTransition, error) {
	return m.recomputeAndCommit(ctx, agentID, bt, nil, 1.0)
}

func (m *PhaseStateMachine) recomputeAndCommit(ctx context.Context, agentID string, bt BehaviorType, events []TriggerEvent, stability float64) (*BehaviorProfile, *PhaseTransition, error) {
	table := m.tables[bt]
	if table == nil {
		return nil, nil, fmt.Errorf("no phase table for behavior type %q", bt)
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		profile, err := m.store.GetProfile(ctx, agentID, bt)
		if err != nil {
			return nil, nil, fmt.Errorf("read profile: %w", err)
		}
		if profile == nil {
			return nil, nil, nil // behavior never enabled for this agent
		}
		if !profile.Enabled {
			// Disabled profiles are frozen: no decay, no triggers.
			return profile, nil, nil
		}

		transition := m.recompute(profile, table, events, stability)

		// All-or-nothing: do not commit a partial mutation after an abort.
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		err = m.store.PutProfile(ctx, profile)
		if err == nil {
			return profile, transition, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, nil, fmt.Errorf("commit profile: %w", err)
		}
		lastErr = err
	}

	log.Printf("[PhaseStateMachine] Optimistic commit kept conflicting, skipping trigger application | agent=%s behavior=%s events=%d", agentID, bt, len(events))
	return nil, nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// recompute mutates the given (already cloned) profile in place and returns
// the phase transition, if any. Pure with respect to the machine: the only
// inputs are profile state, table, events, stability, and the clock.
func (m *PhaseStateMachine) recompute(p *BehaviorProfile, table *PhaseTable, events []TriggerEvent, stability float64) *PhaseTransition {
	now := m.now()

	// 1-2. Decay prior intensity over elapsed wall-clock time.
	intensity := p.CurrentIntensity
	if !p.LastCalculatedAt.IsZero() {
		intensity *= DecayFactor(p.Volatility, now.Sub(p.LastCalculatedAt), m.cfg.BaseHalfLife)
	}

	// 3. Accumulate new triggers. Escalating triggers ride the stability
	// multiplier; de-escalating (negative) ones apply at neutral gain so a
	// conflict-heavy history cannot turn reassurance into a penalty.
	for _, ev := range events {
		if ev.Weight >= 0 {
			intensity += ev.Weight * EscalationGain(p.Volatility, stability)
		} else {
			intensity += ev.Weight * EscalationGain(p.Volatility, 1.0)
		}
	}
	intensity = clamp01(intensity)

	// 4-5. At most one phase step per recompute, in either direction.
	// Transitions additionally require that wall-clock time actually moved
	// since the phase was entered, which keeps back-to-back recomputes at
	// the same instant idempotent.
	var transition *PhaseTransition
	if now.After(p.PhaseStartedAt) {
		if next, ok := table.Spec(p.CurrentPhase + 1); ok {
			cur, _ := table.Spec(p.CurrentPhase)
			if intensity >= next.EnterThreshold && now.Sub(p.PhaseStartedAt) >= cur.MinDwell {
				transition = m.stepPhase(p, p.CurrentPhase+1, intensity, "escalation", now)
			}
		}
		if transition == nil && p.CurrentPhase > 1 {
			cur, _ := table.Spec(p.CurrentPhase)
			if intensity < cur.ExitThreshold {
				transition = m.stepPhase(p, p.CurrentPhase-1, intensity, "deescalation", now)
			}
		}
	}

	// 6. Persist-ready bookkeeping.
	p.CurrentIntensity = intensity
	p.LastCalculatedAt = now
	if open := p.OpenHistoryEntry(); open != nil && intensity > open.PeakIntensity {
		open.PeakIntensity = intensity
	}
	if len(events) > 0 {
		p.Triggers = append(p.Triggers, events...)
		if len(p.Triggers) > m.cfg.TriggerWindow {
			p.Triggers = p.Triggers[len(p.Triggers)-m.cfg.TriggerWindow:]
		}
	}
	return transition
}

// stepPhase moves the profile exactly one level and keeps the phase history
// invariant: the open entry is closed, a new one opened.
func (m *PhaseStateMachine) stepPhase(p *BehaviorProfile, to int, intensity float64, reason string, now time.Time) *PhaseTransition {
	from := p.CurrentPhase
	if open := p.OpenHistoryEntry(); open != nil {
		exited := now
		open.ExitedAt = &exited
		open.ExitReason = reason
		if intensity > open.PeakIntensity {
			open.PeakIntensity = intensity
		}
	}
	p.PhaseHistory = append(p.PhaseHistory, PhaseHistoryEntry{
		Phase:         to,
		EnteredAt:     now,
		PeakIntensity: intensity,
	})
	p.CurrentPhase = to
	p.PhaseStartedAt = now
	return &PhaseTransition{
		AgentID:      p.AgentID,
		BehaviorType: p.BehaviorType,
		FromPhase:    from,
		ToPhase:      to,
		Intensity:    intensity,
		Reason:       reason,
		At:           now,
	}
}

// ResetPhase forces a profile back to phase 1 at its base intensity, with
// full history bookkeeping. Used by moderation tooling.
func (m *PhaseStateMachine) ResetPhase(ctx context.Context, agentID string, bt BehaviorType) (*BehaviorProfile, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		profile, err := m.store.GetProfile(ctx, agentID, bt)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		if profile == nil {
			return nil, fmt.Errorf("behavior %s not enabled for agent %s", bt, agentID)
		}

		now := m.now()
		if open := profile.OpenHistoryEntry(); open != nil {
			exited := now
			open.ExitedAt = &exited
			open.ExitReason = "reset"
		}
		profile.PhaseHistory = append(profile.PhaseHistory, PhaseHistoryEntry{
			Phase:         1,
			EnteredAt:     now,
			PeakIntensity: profile.BaseIntensity,
		})
		profile.CurrentPhase = 1
		profile.CurrentIntensity = profile.BaseIntensity
		profile.PhaseStartedAt = now
		profile.LastCalculatedAt = now

		err = m.store.PutProfile(ctx, profile)
		if err == nil {
			log.Printf("[PhaseStateMachine] Phase reset | agent=%s behavior=%s", agentID, bt)
			return profile, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("commit reset: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}
