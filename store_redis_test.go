package behaviorsdk

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisProfileStore, *RedisCounterStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisProfileStore(client), NewRedisCounterStore(client)
}

func TestRedisProfileRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	if p, err := store.GetProfile(ctx, "agent-1", BehaviorObsessiveAttachment); err != nil || p != nil {
		t.Fatalf("missing profile should read (nil, nil), got %v %v", p, err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := &BehaviorProfile{
		AgentID:          "agent-1",
		BehaviorType:     BehaviorObsessiveAttachment,
		BaseIntensity:    0.1,
		CurrentIntensity: 0.42,
		CurrentPhase:     3,
		Volatility:       0.6,
		Enabled:          true,
		PhaseStartedAt:   at,
		LastCalculatedAt: at,
		PhaseHistory:     []PhaseHistoryEntry{{Phase: 3, EnteredAt: at, PeakIntensity: 0.5}},
	}
	if err := store.PutProfile(ctx, profile); err != nil {
		t.Fatalf("create: %v", err)
	}
	if profile.Version != 1 {
		t.Fatalf("version after create = %d, want 1", profile.Version)
	}

	got, err := store.GetProfile(ctx, "agent-1", BehaviorObsessiveAttachment)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentIntensity != 0.42 || got.CurrentPhase != 3 || got.Version != 1 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if len(got.PhaseHistory) != 1 || !got.PhaseHistory[0].EnteredAt.Equal(at) {
		t.Fatalf("history lost in round trip: %+v", got.PhaseHistory)
	}
}

func TestRedisPutVersionConflict(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	profile := &BehaviorProfile{AgentID: "agent-1", BehaviorType: BehaviorVolatileAffect, Enabled: true}
	if err := store.PutProfile(ctx, profile); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := profile.Clone()
	stale.Version = 0
	if err := store.PutProfile(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale write: got %v, want ErrVersionConflict", err)
	}

	profile.CurrentIntensity = 0.3
	if err := store.PutProfile(ctx, profile); err != nil {
		t.Fatalf("fresh write: %v", err)
	}
	if profile.Version != 2 {
		t.Fatalf("version = %d, want 2", profile.Version)
	}
}

func TestRedisListProfiles(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	for _, bt := range []BehaviorType{BehaviorObsessiveAttachment, BehaviorAnxiousAttachment} {
		if err := store.PutProfile(ctx, &BehaviorProfile{AgentID: "agent-1", BehaviorType: bt, Enabled: true}); err != nil {
			t.Fatalf("create %s: %v", bt, err)
		}
	}
	got, err := store.ListProfiles(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d profiles, want 2", len(got))
	}
}

func TestRedisTriggerLogTrimmed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisProfileStore(client, RedisStoreConfig{MaxLog: 5})
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		ev := TriggerEvent{
			ID:          strconv.Itoa(i),
			AgentID:     "agent-1",
			TriggerType: TriggerCriticism,
			Weight:      0.8,
			DetectedAt:  at.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendTriggerLog(ctx, ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	log, err := store.TriggerLog(ctx, "agent-1", 0)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(log) != 5 {
		t.Fatalf("log length = %d, want trimmed to 5", len(log))
	}
	if log[0].ID != "7" || log[4].ID != "11" {
		t.Fatalf("log should keep the most recent entries, got %s..%s", log[0].ID, log[4].ID)
	}

	limited, _ := store.TriggerLog(ctx, "agent-1", 2)
	if len(limited) != 2 || limited[1].ID != "11" {
		t.Fatalf("limited read wrong: %+v", limited)
	}
}

func TestRedisCounters(t *testing.T) {
	_, counters := newTestRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := counters.Incr(ctx, "agent-1", counterTotal, 1); err != nil {
			t.Fatalf("incr: %v", err)
		}
	}
	if _, err := counters.Incr(ctx, "agent-1", counterNegative, 1); err != nil {
		t.Fatalf("incr: %v", err)
	}

	snap, err := counters.Snapshot(ctx, "agent-1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap[counterTotal] != 4 || snap[counterNegative] != 1 {
		t.Fatalf("snapshot = %+v, want total 4 negative 1", snap)
	}

	if empty, err := counters.Snapshot(ctx, "agent-2"); err != nil || len(empty) != 0 {
		t.Fatalf("empty agent snapshot: %v %v", empty, err)
	}
}

func TestRedisMachineIntegration(t *testing.T) {
	store, _ := newTestRedisStore(t)
	machine := NewPhaseStateMachine(store, nil)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedProfile(t, store, "agent-1", BehaviorObsessiveAttachment, 1, 0.1, 0.5, t0)

	now := t0.Add(time.Minute)
	machine.SetClock(fixedClock(now))
	ev := makeEvent(BehaviorObsessiveAttachment, TriggerExplicitRejection, 0.9, now)
	profile, transition, err := machine.ApplyTriggers(context.Background(), "agent-1", BehaviorObsessiveAttachment, []TriggerEvent{ev}, 1.0)
	if err != nil {
		t.Fatalf("ApplyTriggers over Redis: %v", err)
	}
	if profile.CurrentPhase != 2 || transition == nil {
		t.Fatalf("expected escalation to 2, got phase=%d tr=%+v", profile.CurrentPhase, transition)
	}

	stored, err := store.GetProfile(context.Background(), "agent-1", BehaviorObsessiveAttachment)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CurrentPhase != 2 || len(stored.Triggers) != 1 {
		t.Fatalf("persisted state wrong: %+v", stored)
	}
}
