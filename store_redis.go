package syncq

import (
	"context"
	"errors"
	"fmt"
	"slices"

	ikeys "github.com/UniQw/syncq/internal/keys"
	"github.com/redis/go-redis/v9"
)

// DefaultNamespace is the collection name used when none is configured.
const DefaultNamespace = "offlineQueue"

// maxTxRetries bounds optimistic-transaction retries when the items hash
// changes between WATCH and EXEC.
const maxTxRetries = 16

// RedisStore keeps queue records in Redis.
//
// Records live in one HASH (id -> JSON) and each stored status has a ZSET
// index scored by CreatedAt in milliseconds. All keys share a hash tag so the
// store works against Redis Cluster.
type RedisStore struct {
	rdb     redis.UniversalClient
	keys    ikeys.Queue
	encoder Encoder
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// RedisNamespace sets the namespace embedded in every key.
func RedisNamespace(ns string) RedisStoreOption {
	return func(s *RedisStore) {
		if ns != "" {
			s.keys = ikeys.For(ns)
		}
	}
}

// NewRedisStore creates a store on top of rdb. The caller keeps ownership of rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		keys:    ikeys.For(DefaultNamespace),
		encoder: &JSONEncoder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// addScript inserts a record only if its id is unused and indexes it.
// It returns 1 on insert and 0 when the id already exists.
var addScript = redis.NewScript(`
local items = KEYS[1]
local idx   = KEYS[2]
if redis.call('HSETNX', items, ARGV[1], ARGV[2]) == 0 then return 0 end
redis.call('ZADD', idx, ARGV[3], ARGV[1])
return 1
`)

func score(it QueueItem) float64 { return float64(it.CreatedAt.UnixMilli()) }

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, item QueueItem) (QueueItem, error) {
	idx := s.keys.Index(string(item.Status))
	if idx == "" {
		return QueueItem{}, ErrUnknownStatus
	}
	seq, err := s.rdb.Incr(ctx, s.keys.Seq).Result()
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: allocate seq: %w", err)
	}
	item.Seq = seq

	raw, err := s.encoder.Encode(item)
	if err != nil {
		return QueueItem{}, err
	}
	n, err := addScript.Run(ctx, s.rdb, []string{s.keys.Items, idx}, item.ID, raw, score(item)).Int()
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: add %s: %w", item.ID, err)
	}
	if n == 0 {
		return QueueItem{}, ErrDuplicateItem
	}
	return item, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (QueueItem, error) {
	raw, err := s.rdb.HGet(ctx, s.keys.Items, id).Bytes()
	if err == redis.Nil {
		return QueueItem{}, ErrItemNotFound
	}
	if err != nil {
		return QueueItem{}, fmt.Errorf("syncq: get %s: %w", id, err)
	}
	var it QueueItem
	if err := s.encoder.Decode(raw, &it); err != nil {
		return QueueItem{}, fmt.Errorf("syncq: decode %s: %w", id, err)
	}
	return it, nil
}

// Update implements Store. It runs as an optimistic transaction watching the
// items hash, so fn may be invoked more than once when writers race.
func (s *RedisStore) Update(ctx context.Context, id string, fn func(*QueueItem)) error {
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.keys.Items, id).Bytes()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var cur QueueItem
		if err := s.encoder.Decode(raw, &cur); err != nil {
			return fmt.Errorf("syncq: decode %s: %w", id, err)
		}
		next := cur
		fn(&next)
		pinImmutable(&next, cur)

		newIdx := s.keys.Index(string(next.Status))
		if newIdx == "" {
			return ErrUnknownStatus
		}
		newRaw, err := s.encoder.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.keys.Items, id, newRaw)
			if next.Status != cur.Status {
				if oldIdx := s.keys.Index(string(cur.Status)); oldIdx != "" {
					p.ZRem(ctx, oldIdx, id)
				}
				p.ZAdd(ctx, newIdx, redis.Z{Score: score(next), Member: id})
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, s.keys.Items)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownStatus) {
			return fmt.Errorf("syncq: update %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("syncq: update %s: %w", id, redis.TxFailedErr)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HDel(ctx, s.keys.Items, id)
		for _, idx := range s.keys.Indexes() {
			p.ZRem(ctx, idx, id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("syncq: delete %s: %w", id, err)
	}
	return nil
}

// List implements Store. With no statuses it lists every stored status.
func (s *RedisStore) List(ctx context.Context, statuses ...Status) ([]QueueItem, error) {
	idxKeys, err := s.indexKeys(statuses)
	if err != nil {
		return nil, err
	}

	// MULTI/EXEC so an item moving between indexes is seen in exactly one
	cmds := make([]*redis.StringSliceCmd, 0, len(idxKeys))
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range idxKeys {
			cmds = append(cmds, p.ZRange(ctx, k, 0, -1))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("syncq: list index: %w", err)
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, c := range cmds {
		for _, id := range c.Val() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.rdb.HMGet(ctx, s.keys.Items, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("syncq: list records: %w", err)
	}
	out := make([]QueueItem, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry whose record was deleted concurrently
			continue
		}
		var it QueueItem
		if err := s.encoder.Decode([]byte(str), &it); err != nil {
			return nil, fmt.Errorf("syncq: decode %s: %w", ids[i], err)
		}
		out = append(out, it)
	}
	slices.SortStableFunc(out, compareItems)
	return out, nil
}

// Count implements Store. It only reads index cardinalities.
func (s *RedisStore) Count(ctx context.Context, statuses ...Status) (int, error) {
	idxKeys, err := s.indexKeys(statuses)
	if err != nil {
		return 0, err
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(idxKeys))
	for _, k := range idxKeys {
		cmds = append(cmds, pipe.ZCard(ctx, k))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("syncq: count: %w", err)
	}
	total := 0
	for _, c := range cmds {
		total += int(c.Val())
	}
	return total, nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := append([]string{s.keys.Items}, s.keys.Indexes()...)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("syncq: clear: %w", err)
	}
	return nil
}

// GetState implements Store.
func (s *RedisStore) GetState(ctx context.Context, key, def string) (string, error) {
	v, err := s.rdb.HGet(ctx, s.keys.State, key).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("syncq: get state %s: %w", key, err)
	}
	return v, nil
}

// SetState implements Store.
func (s *RedisStore) SetState(ctx context.Context, key, val string) error {
	if err := s.rdb.HSet(ctx, s.keys.State, key, val).Err(); err != nil {
		return fmt.Errorf("syncq: set state %s: %w", key, err)
	}
	return nil
}

// Close implements Store. The Redis client belongs to the caller and is left open.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) indexKeys(statuses []Status) ([]string, error) {
	if len(statuses) == 0 {
		return s.keys.Indexes(), nil
	}
	if err := validStatuses(statuses); err != nil {
		return nil, err
	}
	uniq := slices.Clone(statuses)
	slices.Sort(uniq)
	out := make([]string, 0, len(uniq))
	for _, st := range slices.Compact(uniq) {
		out = append(out, s.keys.Index(string(st)))
	}
	return out, nil
}
