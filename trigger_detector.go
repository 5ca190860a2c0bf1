package behaviorsdk

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────
// Trigger Detector — pattern matching + optional semantic fallback
// ──────────────────────────────────────────────

// SemanticMatch is one classification result from an external semantic
// classifier.
type SemanticMatch struct {
	Type       TriggerType
	Confidence float64 // [0,1]
	Excerpt    string
}

// SemanticClassifier is the optional ML-backed collaborator. It is always
// called with a bounded timeout; any failure degrades detection to
// pattern-only matching, never to an error.
type SemanticClassifier interface {
	Classify(ctx context.Context, text string, types []TriggerType) ([]SemanticMatch, error)
}

// TriggerDetectorConfig tunes the detector.
type TriggerDetectorConfig struct {
	Cooldown          time.Duration // per (agent, triggerType) duplicate suppression, default 30s
	ClassifierTimeout time.Duration // semantic classifier budget, default 300ms
	DelayTiers        []DelayTier   // nil = DefaultDelayTiers()
}

// TriggerDetector classifies inbound messages into weighted trigger events.
// It is stateless with respect to profiles; the only internal state is the
// per-(agent, triggerType) cooldown table.
type TriggerDetector struct {
	taxonomy   *TriggerTaxonomy
	classifier SemanticClassifier
	cfg        TriggerDetectorConfig

	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewTriggerDetector creates a detector over a taxonomy. A nil taxonomy uses
// the built-in default table; a nil classifier means pattern-only detection.
func NewTriggerDetector(taxonomy *TriggerTaxonomy, classifier SemanticClassifier, config ...TriggerDetectorConfig) *TriggerDetector {
	if taxonomy == nil {
		taxonomy = DefaultTriggerTaxonomy()
	}
	cfg := TriggerDetectorConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 300 * time.Millisecond
	}
	if cfg.DelayTiers == nil {
		cfg.DelayTiers = DefaultDelayTiers()
	}
	return &TriggerDetector{
		taxonomy:   taxonomy,
		classifier: classifier,
		cfg:        cfg,
		lastFired:  make(map[string]time.Time),
	}
}

// Detect analyzes one user message (plus a short recent-message window) and
// returns zero or more trigger events for the agent's enabled behavior
// types. An empty result is success, not an error.
func (d *TriggerDetector) Detect(ctx context.Context, agentID string, msg Message, recent []Message, profiles []*BehaviorProfile) []TriggerEvent {
	enabled := make(map[BehaviorType]bool, len(profiles))
	for _, p := range profiles {
		if p != nil && p.Enabled {
			enabled[p.BehaviorType] = true
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	now := msg.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	var events []TriggerEvent
	matched := make(map[TriggerType]bool)

	// 1. Pattern rules, one hit per trigger type per message.
	for _, tt := range d.taxonomy.Types() {
		rule := d.taxonomy.Rule(tt)
		if rule == nil || !rule.AffectsAny(enabled) {
			continue
		}
		hit, ok := matchRule(rule, msg.Content)
		if !ok {
			continue
		}
		if !d.passCooldown(agentID, tt, now) {
			continue
		}
		matched[tt] = true
		conf := matchConfidence(hit, msg.Content)
		events = append(events, d.fanOut(agentID, rule.Behaviors, enabled, TriggerEvent{
			TriggerType:  tt,
			Weight:       rule.Weight,
			Confidence:   conf,
			DetectedText: hit,
			MessageID:    msg.ID,
			DetectedAt:   now,
		})...)
	}

	// 2. Delayed response, derived from the recent-message window.
	if ev, ok := d.detectDelay(agentID, recent, enabled, msg.ID, now); ok {
		matched[TriggerDelayedResponse] = true
		events = append(events, ev...)
	}

	// 3. Semantic fallback for anything the patterns missed.
	if d.classifier != nil {
		events = append(events, d.semanticPass(ctx, agentID, msg, enabled, matched, now)...)
	}

	return events
}

// fanOut emits one event per enabled behavior type the rule feeds.
func (d *TriggerDetector) fanOut(agentID string, behaviors []BehaviorType, enabled map[BehaviorType]bool, base TriggerEvent) []TriggerEvent {
	var out []TriggerEvent
	for _, bt := range behaviors {
		if !enabled[bt] {
			continue
		}
		ev := base
		ev.ID = uuid.NewString()
		ev.AgentID = agentID
		ev.BehaviorType = bt
		out = append(out, ev)
	}
	return out
}

func (d *TriggerDetector) detectDelay(agentID string, recent []Message, enabled map[BehaviorType]bool, messageID string, now time.Time) ([]TriggerEvent, bool) {
	var last time.Time
	for _, m := range recent {
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	if last.IsZero() {
		return nil, false
	}
	tier := matchDelayTier(d.cfg.DelayTiers, now.Sub(last))
	if tier == nil {
		return nil, false
	}
	// Check a receiver exists before consuming the cooldown; a tier match
	// with no delay-sensitive behavior enabled must not suppress a later
	// legitimate firing.
	receiver := false
	for _, bt := range delayedResponseBehaviors() {
		if enabled[bt] {
			receiver = true
			break
		}
	}
	if !receiver {
		return nil, false
	}
	if !d.passCooldown(agentID, TriggerDelayedResponse, now) {
		return nil, false
	}
	events := d.fanOut(agentID, delayedResponseBehaviors(), enabled, TriggerEvent{
		TriggerType:  TriggerDelayedResponse,
		Weight:       tier.Weight,
		Confidence:   1.0, // temporal signal, no ambiguity
		DetectedText: fmt.Sprintf("%s (%.1fh silence)", tier.Label, now.Sub(last).Hours()),
		MessageID:    messageID,
		DetectedAt:   now,
	})
	return events, len(events) > 0
}

func (d *TriggerDetector) semanticPass(ctx context.Context, agentID string, msg Message, enabled map[BehaviorType]bool, matched map[TriggerType]bool, now time.Time) []TriggerEvent {
	var want []TriggerType
	for _, tt := range d.taxonomy.Types() {
		if !matched[tt] {
			want = append(want, tt)
		}
	}
	if len(want) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.ClassifierTimeout)
	defer cancel()
	results, err := d.classifier.Classify(cctx, msg.Content, want)
	if err != nil {
		// Fallback, not a failure: pattern results already stand.
		log.Printf("[TriggerDetector] Semantic classifier unavailable, pattern-only detection | agent=%s err=%v", agentID, err)
		return nil
	}

	var events []TriggerEvent
	for _, r := range results {
		rule := d.taxonomy.Rule(r.Type)
		if rule == nil {
			log.Printf("[TriggerDetector] Dropping unknown trigger type from classifier | agent=%s type=%s", agentID, r.Type)
			continue
		}
		if matched[r.Type] || !rule.AffectsAny(enabled) {
			continue
		}
		if !d.passCooldown(agentID, r.Type, now) {
			continue
		}
		matched[r.Type] = true
		events = append(events, d.fanOut(agentID, rule.Behaviors, enabled, TriggerEvent{
			TriggerType:  r.Type,
			Weight:       rule.Weight,
			Confidence:   clampRange(r.Confidence, 0.5, 1.0),
			DetectedText: r.Excerpt,
			MessageID:    msg.ID,
			DetectedAt:   now,
		})...)
	}
	return events
}

// passCooldown reports whether the trigger may fire, and records the firing.
// Overlapping patterns in one phrase must not be counted twice.
func (d *TriggerDetector) passCooldown(agentID string, tt TriggerType, now time.Time) bool {
	key := agentID + ":" + string(tt)
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastFired[key]; ok && now.Sub(last) < d.cfg.Cooldown {
		return false
	}
	d.lastFired[key] = now
	return true
}

// matchRule returns the first matching excerpt from the rule's regex
// patterns, then its keyword list.
func matchRule(rule *TriggerRule, text string) (string, bool) {
	for _, re := range rule.Patterns {
		if m := re.FindString(text); m != "" {
			return m, true
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range rule.Keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}

// matchConfidence scores a match in [0.5, 1.0]: longer matches relative to
// the message and matches at the start of the message score higher.
func matchConfidence(matchedText, fullMessage string) float64 {
	confidence := 0.7
	if len(fullMessage) > 0 {
		ratio := float64(len(matchedText)) / float64(len(fullMessage))
		if ratio > 0.5 {
			confidence += 0.2
		} else if ratio > 0.3 {
			confidence += 0.1
		}
	}
	if strings.HasPrefix(strings.TrimSpace(fullMessage), strings.TrimSpace(matchedText)) {
		confidence += 0.1
	}
	return clampRange(confidence, 0.5, 1.0)
}
