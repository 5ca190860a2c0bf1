package behaviorsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ──────────────────────────────────────────────
// Redis-backed stores
// ──────────────────────────────────────────────

// RedisStoreConfig configures key layout and retention.
type RedisStoreConfig struct {
	Prefix     string        // key prefix, default "behavior"
	TTL        time.Duration // TTL for profile records, 0 = no expiry
	MaxLog     int           // trigger log retention per agent, default 500
	MaxCASTrys int           // WATCH retries inside a single Put, default 3
}

// RedisProfileStore implements ProfileStore on Redis.
//
// Layout:
//
//	{prefix}:profile:{agentID}:{behaviorType} → JSON BehaviorProfile
//	{prefix}:types:{agentID}                  → SET of enabled behavior types
//	{prefix}:triggers:{agentID}               → LIST of JSON TriggerEvents
//
// Optimistic concurrency rides on Profile.Version plus a WATCH/MULTI
// transaction, so two concurrent writers can never silently drop an update.
type RedisProfileStore struct {
	client redis.UniversalClient
	cfg    RedisStoreConfig
}

// NewRedisProfileStore creates a ProfileStore backed by Redis.
func NewRedisProfileStore(client redis.UniversalClient, config ...RedisStoreConfig) *RedisProfileStore {
	cfg := RedisStoreConfig{Prefix: "behavior", MaxLog: 500, MaxCASTrys: 3}
	if len(config) > 0 {
		if config[0].Prefix != "" {
			cfg.Prefix = config[0].Prefix
		}
		if config[0].TTL > 0 {
			cfg.TTL = config[0].TTL
		}
		if config[0].MaxLog > 0 {
			cfg.MaxLog = config[0].MaxLog
		}
		if config[0].MaxCASTrys > 0 {
			cfg.MaxCASTrys = config[0].MaxCASTrys
		}
	}
	return &RedisProfileStore{client: client, cfg: cfg}
}

func (s *RedisProfileStore) profileKey(agentID string, bt BehaviorType) string {
	return fmt.Sprintf("%s:profile:%s:%s", s.cfg.Prefix, agentID, bt)
}

func (s *RedisProfileStore) typesKey(agentID string) string {
	return fmt.Sprintf("%s:types:%s", s.cfg.Prefix, agentID)
}

func (s *RedisProfileStore) triggersKey(agentID string) string {
	return fmt.Sprintf("%s:triggers:%s", s.cfg.Prefix, agentID)
}

func (s *RedisProfileStore) GetProfile(ctx context.Context, agentID string, bt BehaviorType) (*BehaviorProfile, error) {
	raw, err := s.client.Get(ctx, s.profileKey(agentID, bt)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var p BehaviorProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (s *RedisProfileStore) ListProfiles(ctx context.Context, agentID string) ([]*BehaviorProfile, error) {
	types, err := s.client.SMembers(ctx, s.typesKey(agentID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list types: %w", err)
	}
	out := make([]*BehaviorProfile, 0, len(types))
	for _, t := range types {
		p, err := s.GetProfile(ctx, agentID, BehaviorType(t))
		if err != nil {
			return nil, err
		}
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *RedisProfileStore) PutProfile(ctx context.Context, profile *BehaviorProfile) error {
	key := s.profileKey(profile.AgentID, profile.BehaviorType)

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if profile.Version != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("read current: %w", err)
		default:
			var stored BehaviorProfile
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return fmt.Errorf("decode current: %w", err)
			}
			if stored.Version != profile.Version {
				return ErrVersionConflict
			}
		}

		next := profile.Clone()
		next.Version++
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.cfg.TTL)
			pipe.SAdd(ctx, s.typesKey(profile.AgentID), string(profile.BehaviorType))
			return nil
		})
		if err != nil {
			return err
		}
		profile.Version = next.Version
		return nil
	}

	var err error
	for i := 0; i < s.cfg.MaxCASTrys; i++ {
		err = s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			// Key moved between WATCH and EXEC. Surface as a version
			// conflict so the caller re-reads fresh state.
			err = ErrVersionConflict
			continue
		}
		return err
	}
	return err
}

func (s *RedisProfileStore) AppendTriggerLog(ctx context.Context, event TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode trigger event: %w", err)
	}
	key := s.triggersKey(event.AgentID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.cfg.MaxLog), -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisProfileStore) TriggerLog(ctx context.Context, agentID string, limit int) ([]TriggerEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	items, err := s.client.LRange(ctx, s.triggersKey(agentID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read trigger log: %w", err)
	}
	out := make([]TriggerEvent, 0, len(items))
	for _, raw := range items {
		var ev TriggerEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue // a corrupt log entry never fails a read
		}
		out = append(out, ev)
	}
	return out, nil
}

// RedisCounterStore implements CounterStore with HINCRBY, the atomic
// upsert-increment the progression aggregator requires.
//
// Layout: {prefix}:progress:{agentID} → HASH {field: count}
type RedisCounterStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounterStore creates a CounterStore backed by Redis.
func NewRedisCounterStore(client redis.UniversalClient, prefix ...string) *RedisCounterStore {
	p := "behavior"
	if len(prefix) > 0 && prefix[0] != "" {
		p = prefix[0]
	}
	return &RedisCounterStore{client: client, prefix: p}
}

func (s *RedisCounterStore) key(agentID string) string {
	return fmt.Sprintf("%s:progress:%s", s.prefix, agentID)
}

func (s *RedisCounterStore) Incr(ctx context.Context, agentID, field string, delta int64) (int64, error) {
	return s.client.HIncrBy(ctx, s.key(agentID), field, delta).Result()
}

func (s *RedisCounterStore) Snapshot(ctx context.Context, agentID string) (map[string]int64, error) {
	fields, err := s.client.HGetAll(ctx, s.key(agentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	out := make(map[string]int64, len(fields))
	for field, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ ProfileStore = (*RedisProfileStore)(nil)
	_ CounterStore = (*RedisCounterStore)(nil)
)
