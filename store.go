package behaviorsdk

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"
)

// ──────────────────────────────────────────────
// Storage abstractions — profiles, counters, trigger log
// ──────────────────────────────────────────────

// ErrVersionConflict is returned by PutProfile when the stored record moved
// underneath the caller. Callers re-read and retry.
var ErrVersionConflict = errors.New("behavior profile version conflict")

// ProfileStore is the pluggable record store for behavior profiles.
//
// Records are keyed by (agentID, behaviorType). PutProfile performs an
// optimistic compare-and-swap on Profile.Version: the write succeeds only if
// the stored version equals the caller's, and the stored version is bumped.
// A missing profile reads as (nil, nil); absence is not an error.
type ProfileStore interface {
	GetProfile(ctx context.Context, agentID string, bt BehaviorType) (*BehaviorProfile, error)
	ListProfiles(ctx context.Context, agentID string) ([]*BehaviorProfile, error)
	PutProfile(ctx context.Context, profile *BehaviorProfile) error

	// AppendTriggerLog appends to the per-agent append-only trigger trail.
	AppendTriggerLog(ctx context.Context, event TriggerEvent) error
	// TriggerLog returns up to limit most recent entries (0 = all).
	TriggerLog(ctx context.Context, agentID string, limit int) ([]TriggerEvent, error)
}

// CounterStore provides atomic upsert-increment counters, keyed by agent and
// field name. Backs the progression aggregator.
type CounterStore interface {
	Incr(ctx context.Context, agentID, field string, delta int64) (int64, error)
	Snapshot(ctx context.Context, agentID string) (map[string]int64, error)
}

// Counter field names used by the progression aggregator.
const (
	counterTotal    = "total"
	counterPositive = "positive"
	counterNegative = "negative"
)

// ──────────────────────────────────────────────
// In-memory implementations
// ──────────────────────────────────────────────

// InMemoryProfileStore is a thread-safe ProfileStore for development and
// tests. Data is lost on restart.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]map[BehaviorType]*BehaviorProfile
	logs     map[string][]TriggerEvent
	maxLog   int
}

// NewInMemoryProfileStore creates an empty in-memory store. The trigger log
// keeps at most maxLog entries per agent (0 = default 500).
func NewInMemoryProfileStore(maxLog ...int) *InMemoryProfileStore {
	limit := 500
	if len(maxLog) > 0 && maxLog[0] > 0 {
		limit = maxLog[0]
	}
	return &InMemoryProfileStore{
		profiles: make(map[string]map[BehaviorType]*BehaviorProfile),
		logs:     make(map[string][]TriggerEvent),
		maxLog:   limit,
	}
}

func (s *InMemoryProfileStore) GetProfile(ctx context.Context, agentID string, bt BehaviorType) (*BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byType, ok := s.profiles[agentID]; ok {
		if p, ok := byType[bt]; ok {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (s *InMemoryProfileStore) ListProfiles(ctx context.Context, agentID string) ([]*BehaviorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byType := s.profiles[agentID]
	out := make([]*BehaviorProfile, 0, len(byType))
	for _, p := range byType {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *InMemoryProfileStore) PutProfile(ctx context.Context, profile *BehaviorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType := s.profiles[profile.AgentID]
	if byType == nil {
		byType = make(map[BehaviorType]*BehaviorProfile)
		s.profiles[profile.AgentID] = byType
	}
	stored, exists := byType[profile.BehaviorType]
	if exists {
		if stored.Version != profile.Version {
			return ErrVersionConflict
		}
	} else if profile.Version != 0 {
		return ErrVersionConflict
	}
	cp := profile.Clone()
	cp.Version++
	byType[profile.BehaviorType] = cp
	profile.Version = cp.Version
	return nil
}

func (s *InMemoryProfileStore) AppendTriggerLog(ctx context.Context, event TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.logs[event.AgentID], event)
	if len(log) > s.maxLog {
		log = log[len(log)-s.maxLog:]
	}
	s.logs[event.AgentID] = log
	return nil
}

func (s *InMemoryProfileStore) TriggerLog(ctx context.Context, agentID string, limit int) ([]TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[agentID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]TriggerEvent, len(log))
	copy(out, log)
	return out, nil
}

// InMemoryCounterStore is a thread-safe CounterStore backed by atomic
// integers.
type InMemoryCounterStore struct {
	mu       sync.RWMutex
	counters map[string]map[string]*atomic.Int64
}

// NewInMemoryCounterStore creates an empty counter store.
func NewInMemoryCounterStore() *InMemoryCounterStore {
	return &InMemoryCounterStore{counters: make(map[string]map[string]*atomic.Int64)}
}

func (s *InMemoryCounterStore) counter(agentID, field string) *atomic.Int64 {
	s.mu.RLock()
	if fields, ok := s.counters[agentID]; ok {
		if c, ok := fields[field]; ok {
			s.mu.RUnlock()
			return c
		}
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	fields := s.counters[agentID]
	if fields == nil {
		fields = make(map[string]*atomic.Int64)
		s.counters[agentID] = fields
	}
	c, ok := fields[field]
	if !ok {
		c = atomic.NewInt64(0)
		fields[field] = c
	}
	return c
}

func (s *InMemoryCounterStore) Incr(ctx context.Context, agentID, field string, delta int64) (int64, error) {
	return s.counter(agentID, field).Add(delta), nil
}

func (s *InMemoryCounterStore) Snapshot(ctx context.Context, agentID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for field, c := range s.counters[agentID] {
		out[field] = c.Load()
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ ProfileStore = (*InMemoryProfileStore)(nil)
	_ CounterStore = (*InMemoryCounterStore)(nil)
)
