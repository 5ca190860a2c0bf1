package behaviorsdk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────
// Behavior Engine — facade over detector, machine, gate, builder
// ──────────────────────────────────────────────

// PolicyProvider resolves the safety policy in effect for an agent's
// conversation. Errors resolve to the conservative default policy.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, agentID string) (*SafetyPolicy, error)
}

// StaticPolicy is a PolicyProvider that always returns the same policy.
type StaticPolicy SafetyPolicy

func (p StaticPolicy) PolicyFor(ctx context.Context, agentID string) (*SafetyPolicy, error) {
	pol := SafetyPolicy(p)
	return &pol, nil
}

// SentimentClassifier labels a user message for the progression counters.
// Nil means every interaction counts as neutral.
type SentimentClassifier interface {
	Sentiment(ctx context.Context, text string) (Sentiment, error)
}

// BehaviorSettings seeds a profile at enablement.
type BehaviorSettings struct {
	BaseIntensity       float64 // [0,1] starting intensity, a seed not a floor
	Volatility          float64 // [0,1] temperament, scales decay and gain
	ThresholdForDisplay float64 // [0,1] minimum intensity for prompt output
}

// EngineConfig wires the engine's optional collaborators.
type EngineConfig struct {
	Taxonomy   *TriggerTaxonomy
	Tables     map[BehaviorType]*PhaseTable
	Classifier SemanticClassifier  // semantic trigger fallback, optional
	Sentiment  SentimentClassifier // per-message sentiment hook, optional
	Policies   PolicyProvider      // nil = DefaultSafetyPolicy for everyone
	Audit      AuditSink           // nil = no audit trail
	Detector   TriggerDetectorConfig
	Machine    PhaseMachineConfig

	RecentWindow int           // messages kept per agent for delay detection, default 20
	CacheTTL     time.Duration // derived-view cache, 0 = 5s, <0 = disabled
}

// BehaviorEngine is the single entry point the chat pipeline talks to. It
// owns the full message path: detect triggers, record progression, apply
// them through the phase machine, and serve the derived safety and prompt
// views.
type BehaviorEngine struct {
	profiles   ProfileStore
	detector   *TriggerDetector
	machine    *PhaseStateMachine
	aggregator *ProgressionAggregator
	builder    *PromptContextBuilder
	tables     map[BehaviorType]*PhaseTable
	policies   PolicyProvider
	sentiment  SentimentClassifier
	cache      Cache
	audit      *AsyncAuditLog

	mu     sync.Mutex
	recent map[string][]Message
	window int
}

// NewBehaviorEngine creates an engine over the given stores.
func NewBehaviorEngine(profiles ProfileStore, counters CounterStore, config ...EngineConfig) *BehaviorEngine {
	cfg := EngineConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Tables == nil {
		cfg.Tables = DefaultPhaseTables()
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}

	var cache Cache = nopCache{}
	if cfg.CacheTTL >= 0 {
		cache = NewTTLCache(cfg.CacheTTL)
	}
	var audit *AsyncAuditLog
	if cfg.Audit != nil {
		audit = NewAsyncAuditLog(cfg.Audit)
	}

	return &BehaviorEngine{
		profiles:   profiles,
		detector:   NewTriggerDetector(cfg.Taxonomy, cfg.Classifier, cfg.Detector),
		machine:    NewPhaseStateMachine(profiles, cfg.Tables, cfg.Machine),
		aggregator: NewProgressionAggregator(counters),
		builder:    NewPromptContextBuilder(cfg.Tables),
		tables:     cfg.Tables,
		policies:   cfg.Policies,
		sentiment:  cfg.Sentiment,
		cache:      cache,
		audit:      audit,
		recent:     make(map[string][]Message),
		window:     cfg.RecentWindow,
	}
}

// Close drains the async audit trail. Call once at shutdown.
func (e *BehaviorEngine) Close() {
	if e.audit != nil {
		e.audit.Stop()
	}
}

// ──────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────

// EnableBehavior turns a behavior type on for an agent. The first call
// creates the profile at phase 1 with intensity equal to the configured
// base; later calls re-enable the existing frozen profile and leave its
// accumulated state untouched.
func (e *BehaviorEngine) EnableBehavior(ctx context.Context, agentID string, bt BehaviorType, settings BehaviorSettings) (*BehaviorProfile, error) {
	table := e.tables[bt]
	if table == nil {
		return nil, fmt.Errorf("unknown behavior type %q", bt)
	}

	for attempt := 0; attempt < 3; attempt++ {
		existing, err := e.profiles.GetProfile(ctx, agentID, bt)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		if existing != nil {
			if existing.Enabled {
				return existing, nil
			}
			existing.Enabled = true
			// A re-enabled profile resumes from where it froze; decay
			// restarts from now rather than charging the frozen gap.
			existing.LastCalculatedAt = time.Now()
			err = e.profiles.PutProfile(ctx, existing)
			if err == nil {
				e.invalidateViews(agentID)
				log.Printf("[BehaviorEngine] Behavior re-enabled | agent=%s behavior=%s phase=%d", agentID, bt, existing.CurrentPhase)
				return existing, nil
			}
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return nil, fmt.Errorf("re-enable behavior: %w", err)
		}

		now := time.Now()
		profile := &BehaviorProfile{
			AgentID:             agentID,
			BehaviorType:        bt,
			BaseIntensity:       clamp01(settings.BaseIntensity),
			CurrentIntensity:    clamp01(settings.BaseIntensity),
			CurrentPhase:        1,
			Volatility:          clamp01(settings.Volatility),
			ThresholdForDisplay: clamp01(settings.ThresholdForDisplay),
			Enabled:             true,
			PhaseStartedAt:      now,
			LastCalculatedAt:    now,
			PhaseHistory: []PhaseHistoryEntry{{
				Phase:         1,
				EnteredAt:     now,
				PeakIntensity: clamp01(settings.BaseIntensity),
			}},
		}
		err = e.profiles.PutProfile(ctx, profile)
		if err == nil {
			e.invalidateViews(agentID)
			log.Printf("[BehaviorEngine] Behavior enabled | agent=%s behavior=%s base=%.2f volatility=%.2f", agentID, bt, profile.BaseIntensity, profile.Volatility)
			return profile, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			continue // raced with a concurrent enable, re-read
		}
		return nil, fmt.Errorf("create profile: %w", err)
	}
	return nil, ErrRetriesExhausted
}

// DisableBehavior freezes a behavior's profile: no decay, no triggers, no
// prompt output. The record and its history are kept.
func (e *BehaviorEngine) DisableBehavior(ctx context.Context, agentID string, bt BehaviorType) error {
	for attempt := 0; attempt < 3; attempt++ {
		profile, err := e.profiles.GetProfile(ctx, agentID, bt)
		if err != nil {
			return fmt.Errorf("read profile: %w", err)
		}
		if profile == nil {
			return fmt.Errorf("behavior %s not enabled for agent %s", bt, agentID)
		}
		if !profile.Enabled {
			return nil
		}
		profile.Enabled = false
		err = e.profiles.PutProfile(ctx, profile)
		if err == nil {
			e.invalidateViews(agentID)
			log.Printf("[BehaviorEngine] Behavior disabled | agent=%s behavior=%s phase=%d intensity=%.3f", agentID, bt, profile.CurrentPhase, profile.CurrentIntensity)
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("disable behavior: %w", err)
		}
	}
	return ErrRetriesExhausted
}

// ResetPhase forces a behavior back to phase 1, for moderation tooling.
func (e *BehaviorEngine) ResetPhase(ctx context.Context, agentID string, bt BehaviorType) error {
	profile, err := e.machine.ResetPhase(ctx, agentID, bt)
	if err != nil {
		return err
	}
	e.invalidateViews(agentID)
	e.submitAudit(AuditRecord{
		Kind:         AuditKindReset,
		AgentID:      agentID,
		BehaviorType: bt,
		ToPhase:      1,
		Intensity:    profile.CurrentIntensity,
		At:           time.Now(),
	})
	return nil
}

// ──────────────────────────────────────────────
// Message path
// ──────────────────────────────────────────────

// ApplyMessage runs the full pipeline for one inbound user message: trigger
// detection against the agent's enabled behaviors, progression counting, and
// phase-machine application per affected behavior type.
//
// Trigger application is best-effort relative to the chat reply. A behavior
// whose optimistic commit keeps conflicting is skipped with a log line; the
// detected events are still returned and logged to the trigger trail.
func (e *BehaviorEngine) ApplyMessage(ctx context.Context, agentID, userID, text string) ([]TriggerEvent, error) {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   text,
		CreatedAt: time.Now(),
	}

	profiles, err := e.profiles.ListProfiles(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	recent := e.recentWindow(agentID)
	events := e.detector.Detect(ctx, agentID, msg, recent, profiles)
	e.pushRecent(agentID, msg)

	sentiment := SentimentNeutral
	if e.sentiment != nil {
		if s, err := e.sentiment.Sentiment(ctx, text); err == nil {
			sentiment = s
		} else {
			log.Printf("[BehaviorEngine] Sentiment classifier unavailable, counting neutral | agent=%s err=%v", agentID, err)
		}
	}
	if err := e.aggregator.RecordInteraction(ctx, agentID, sentiment); err != nil {
		// Counters are advisory; a miss skews stability slightly, nothing more.
		log.Printf("[BehaviorEngine] Progression counter update failed | agent=%s err=%v", agentID, err)
	}

	if len(events) == 0 {
		return nil, nil
	}

	stability := e.aggregator.StabilityMultiplier(ctx, agentID)
	byType := make(map[BehaviorType][]TriggerEvent)
	var order []BehaviorType
	for _, ev := range events {
		if _, seen := byType[ev.BehaviorType]; !seen {
			order = append(order, ev.BehaviorType)
		}
		byType[ev.BehaviorType] = append(byType[ev.BehaviorType], ev)
	}

	for _, bt := range order {
		_, transition, err := e.machine.ApplyTriggers(ctx, agentID, bt, byType[bt], stability)
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				continue // already logged by the machine
			}
			return events, fmt.Errorf("apply triggers for %s: %w", bt, err)
		}
		if transition != nil {
			log.Printf("[BehaviorEngine] Phase transition | agent=%s behavior=%s %d->%d reason=%s intensity=%.3f",
				agentID, bt, transition.FromPhase, transition.ToPhase, transition.Reason, transition.Intensity)
			e.submitAudit(AuditRecord{
				Kind:         AuditKindTransition,
				AgentID:      agentID,
				BehaviorType: bt,
				FromPhase:    transition.FromPhase,
				ToPhase:      transition.ToPhase,
				Intensity:    transition.Intensity,
				Detail:       transition.Reason,
				At:           transition.At,
			})
		}
	}

	for _, ev := range events {
		if err := e.profiles.AppendTriggerLog(ctx, ev); err != nil {
			log.Printf("[BehaviorEngine] Trigger log append failed | agent=%s trigger=%s err=%v", agentID, ev.TriggerType, err)
		}
		e.submitAudit(AuditRecord{
			Kind:         AuditKindTrigger,
			AgentID:      agentID,
			BehaviorType: ev.BehaviorType,
			TriggerType:  ev.TriggerType,
			Intensity:    ev.Weight,
			Detail:       ev.DetectedText,
			At:           ev.DetectedAt,
		})
	}

	e.invalidateViews(agentID)
	return events, nil
}

// ──────────────────────────────────────────────
// Derived views
// ──────────────────────────────────────────────

// ActiveBehaviorState returns the agent's profiles after a lazy refresh, so
// intensities reflect decay up to now.
func (e *BehaviorEngine) ActiveBehaviorState(ctx context.Context, agentID string) ([]*BehaviorProfile, error) {
	return e.refreshedProfiles(ctx, agentID)
}

// SafetyAssessment evaluates the safety gate over fresh profile state.
func (e *BehaviorEngine) SafetyAssessment(ctx context.Context, agentID string) (*SafetyAssessment, error) {
	if v, ok := e.cache.Get(cacheKey(agentID, "assessment")); ok {
		return v.(*SafetyAssessment), nil
	}
	profiles, err := e.refreshedProfiles(ctx, agentID)
	if err != nil {
		return nil, err
	}
	assessment := EvaluateSafety(profiles, e.policyFor(ctx, agentID))
	if assessment.SafetyLevel != SafetyNormal {
		log.Printf("[BehaviorEngine] Safety gate | agent=%s level=%s reasons=%d", agentID, assessment.SafetyLevel, len(assessment.Reasons))
	}
	e.cache.Set(cacheKey(agentID, "assessment"), assessment)
	return assessment, nil
}

// PromptDirectives returns the post-gate prompt directives for the agent's
// next generation call.
func (e *BehaviorEngine) PromptDirectives(ctx context.Context, agentID string) ([]Directive, error) {
	if v, ok := e.cache.Get(cacheKey(agentID, "directives")); ok {
		return v.([]Directive), nil
	}
	profiles, err := e.refreshedProfiles(ctx, agentID)
	if err != nil {
		return nil, err
	}
	assessment := EvaluateSafety(profiles, e.policyFor(ctx, agentID))
	directives := e.builder.Build(profiles, assessment)
	e.cache.Set(cacheKey(agentID, "directives"), directives)
	return directives, nil
}

// ProgressionState returns the agent's lifetime interaction snapshot.
func (e *BehaviorEngine) ProgressionState(ctx context.Context, agentID string) (*ProgressionState, error) {
	profiles, err := e.refreshedProfiles(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return e.aggregator.State(ctx, agentID, profiles)
}

// TriggerHistory returns up to limit recent entries from the agent's
// append-only trigger trail (0 = all).
func (e *BehaviorEngine) TriggerHistory(ctx context.Context, agentID string, limit int) ([]TriggerEvent, error) {
	return e.profiles.TriggerLog(ctx, agentID, limit)
}

// refreshedProfiles lists an agent's profiles and runs each enabled one
// through the machine's lazy recompute, so stale intensity never leaks out
// of a read path.
func (e *BehaviorEngine) refreshedProfiles(ctx context.Context, agentID string) ([]*BehaviorProfile, error) {
	profiles, err := e.profiles.ListProfiles(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]*BehaviorProfile, 0, len(profiles))
	for _, p := range profiles {
		if !p.Enabled {
			out = append(out, p)
			continue
		}
		fresh, transition, err := e.machine.Refresh(ctx, agentID, p.BehaviorType)
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				out = append(out, p) // concurrent writer won, its state is fresher anyway
				continue
			}
			return nil, err
		}
		if transition != nil {
			e.submitAudit(AuditRecord{
				Kind:         AuditKindTransition,
				AgentID:      agentID,
				BehaviorType: p.BehaviorType,
				FromPhase:    transition.FromPhase,
				ToPhase:      transition.ToPhase,
				Intensity:    transition.Intensity,
				Detail:       transition.Reason,
				At:           transition.At,
			})
		}
		if fresh != nil {
			out = append(out, fresh)
		}
	}
	return out, nil
}

func (e *BehaviorEngine) policyFor(ctx context.Context, agentID string) *SafetyPolicy {
	if e.policies == nil {
		return nil
	}
	pol, err := e.policies.PolicyFor(ctx, agentID)
	if err != nil {
		log.Printf("[BehaviorEngine] Policy lookup failed, using conservative default | agent=%s err=%v", agentID, err)
		return nil
	}
	return pol
}

func (e *BehaviorEngine) submitAudit(record AuditRecord) {
	if e.audit != nil {
		e.audit.Submit(record)
	}
}

func (e *BehaviorEngine) recentWindow(agentID string) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := e.recent[agentID]
	out := make([]Message, len(window))
	copy(out, window)
	return out
}

func (e *BehaviorEngine) pushRecent(agentID string, msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := append(e.recent[agentID], msg)
	if len(window) > e.window {
		window = window[len(window)-e.window:]
	}
	e.recent[agentID] = window
}

func (e *BehaviorEngine) invalidateViews(agentID string) {
	e.cache.Invalidate(cacheKey(agentID, "assessment"))
	e.cache.Invalidate(cacheKey(agentID, "directives"))
}

func cacheKey(agentID, view string) string {
	return agentID + ":" + view
}
