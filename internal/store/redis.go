package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis hash: field = prefix, value = the
// JSON-encoded Record. Grounded on the teacher's RedisMitigator, which
// marshals small structs to JSON and keys them under a fixed namespace
// (internal/rl/mitigation.go), generalized here into a full Store.
type Redis struct {
	rdb     *redis.Client
	hashKey string
}

// NewRedis wraps an existing client. hashKey defaults to "dynaproxy:routes".
func NewRedis(rdb *redis.Client, hashKey string) *Redis {
	if hashKey == "" {
		hashKey = "dynaproxy:routes"
	}
	return &Redis{rdb: rdb, hashKey: hashKey}
}

type redisRecord struct {
	Target       string          `json:"target"`
	LastActivity int64           `json:"last_activity"`
	Data         json.RawMessage `json:"data,omitempty"`
}

func toRedisRecord(r Record) redisRecord {
	return redisRecord{Target: r.Target, LastActivity: r.LastActivity.UnixMilli(), Data: r.Data}
}

func (rr redisRecord) toRecord(prefix string) Record {
	return Record{
		Prefix:       prefix,
		Target:       rr.Target,
		LastActivity: time.UnixMilli(rr.LastActivity).UTC(),
		Data:         rr.Data,
	}
}

func (s *Redis) GetTarget(ctx context.Context, path string) (Record, error) {
	norm, err := Normalize(path)
	if err != nil {
		return Record{}, err
	}
	all, err := s.GetAll(ctx)
	if err != nil {
		return Record{}, err
	}
	prefix, rec, ok := LongestMatch(all, norm)
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Prefix = prefix
	return rec, nil
}

func (s *Redis) Get(ctx context.Context, prefix string) (Record, error) {
	norm, err := Normalize(prefix)
	if err != nil {
		return Record{}, err
	}
	raw, err := s.rdb.HGet(ctx, s.hashKey, norm).Bytes()
	if err == redis.Nil {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: redis get %q: %w", norm, err)
	}
	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Record{}, fmt.Errorf("store: redis decode %q: %w", norm, err)
	}
	return rr.toRecord(norm), nil
}

func (s *Redis) GetAll(ctx context.Context) (map[string]Record, error) {
	all, err := s.rdb.HGetAll(ctx, s.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis get_all: %w", err)
	}
	out := make(map[string]Record, len(all))
	for prefix, raw := range all {
		var rr redisRecord
		if err := json.Unmarshal([]byte(raw), &rr); err != nil {
			continue // drop corrupt entries, as the teacher's GetOverride does
		}
		out[prefix] = rr.toRecord(prefix)
	}
	return out, nil
}

func (s *Redis) Add(ctx context.Context, prefix string, rec Record) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	existing, err := s.Get(ctx, norm)
	if err == nil {
		merged, err := MergeData(existing.Data, rec.Data)
		if err != nil {
			return err
		}
		rec.Data = merged
	} else if err != ErrNotFound {
		return err
	}
	j, err := json.Marshal(toRedisRecord(rec))
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.hashKey, norm, j).Err(); err != nil {
		return fmt.Errorf("store: redis add %q: %w", norm, err)
	}
	return nil
}

func (s *Redis) Update(ctx context.Context, prefix string, p Patch) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	rec, err := s.Get(ctx, norm)
	if err != nil {
		return err
	}
	if p.Target != nil {
		rec.Target = *p.Target
	}
	if p.LastActivity != nil {
		rec.LastActivity = *p.LastActivity
	}
	if len(p.Data) > 0 {
		merged, err := MergeData(rec.Data, p.Data)
		if err != nil {
			return err
		}
		rec.Data = merged
	}
	j, err := json.Marshal(toRedisRecord(rec))
	if err != nil {
		return err
	}
	if err := s.rdb.HSet(ctx, s.hashKey, norm, j).Err(); err != nil {
		return fmt.Errorf("store: redis update %q: %w", norm, err)
	}
	return nil
}

func (s *Redis) Remove(ctx context.Context, prefix string) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	if err := s.rdb.HDel(ctx, s.hashKey, norm).Err(); err != nil {
		return fmt.Errorf("store: redis remove %q: %w", norm, err)
	}
	return nil
}

func (s *Redis) Close() error { return s.rdb.Close() }
