package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/klejdi94/promptlib/core"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrompt   = "prompt:%s"
	redisKeyVersion  = "version:%s"
	redisKeyVersions = "versions:%s"
	redisKeyName     = "name:%s"
	redisKeyUpdated  = "index:updated"

	redisScanBatch = 256

	redisInsertAttempts = 3
)

// RedisStore stores prompts in Redis. Keys: prompt:id (JSON), version:id (JSON),
// versions:prompt_id (ZSET by version number), name:name (prompt id),
// index:updated (ZSET of prompt ids scored by UpdatedAt in microseconds).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using the given Redis client. Optional key prefix (e.g. "promptlib:").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(format string, a ...interface{}) string {
	return r.prefix + fmt.Sprintf(format, a...)
}

// Kind implements Store.
func (r *RedisStore) Kind() string { return "redis" }

func redisScore(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Insert implements Store. The name claim and both records are written in one
// MULTI block guarded by WATCH on the name, prompt and version keys, so a
// crash cannot leave a claimed name without its prompt.
func (r *RedisStore) Insert(ctx context.Context, p *core.Prompt, v *core.PromptVersion) error {
	if err := validateInsert(p, v); err != nil {
		return err
	}
	stored := p.Copy()
	stored.CurrentVersion = nil
	pdata, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("redis registry encode: %w", err)
	}
	vdata, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis registry encode: %w", err)
	}
	nameKey := r.key(redisKeyName, p.Name)
	promptKey := r.key(redisKeyPrompt, p.ID)
	versionKey := r.key(redisKeyVersion, v.ID)

	insert := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, nameKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return core.ErrDuplicateName
		}
		n, err = tx.Exists(ctx, promptKey, versionKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return core.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, nameKey, p.ID, 0)
			pipe.Set(ctx, promptKey, pdata, 0)
			pipe.Set(ctx, versionKey, vdata, 0)
			pipe.ZAdd(ctx, r.key(redisKeyVersions, p.ID), redis.Z{Score: float64(v.VersionNumber), Member: v.ID})
			pipe.ZAdd(ctx, r.key(redisKeyUpdated), redis.Z{Score: redisScore(p.UpdatedAt), Member: p.ID})
			return nil
		})
		return err
	}
	// A failed transaction means a concurrent writer touched one of the keys;
	// the next attempt observes its result.
	for attempt := 0; attempt < redisInsertAttempts; attempt++ {
		err = r.client.Watch(ctx, insert, nameKey, promptKey, versionKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return core.Unavailable("redis insert", err)
		}
	}
	return core.ErrConflict
}

func (r *RedisStore) getRecord(ctx context.Context, c redis.Cmdable, id string) (*core.Prompt, error) {
	data, err := c.Get(ctx, r.key(redisKeyPrompt, id)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Unavailable("redis get prompt", err)
	}
	var p core.Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("redis registry decode: %w", err)
	}
	return &p, nil
}

func (r *RedisStore) getVersion(ctx context.Context, c redis.Cmdable, id string) (*core.PromptVersion, error) {
	data, err := c.Get(ctx, r.key(redisKeyVersion, id)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Unavailable("redis get version", err)
	}
	var v core.PromptVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("redis registry decode: %w", err)
	}
	return &v, nil
}

// GetPrompt implements Store.
func (r *RedisStore) GetPrompt(ctx context.Context, id string) (*core.Prompt, error) {
	p, err := r.getRecord(ctx, r.client, id)
	if err != nil {
		return nil, err
	}
	if p.CurrentVersionID != "" {
		v, err := r.getVersion(ctx, r.client, p.CurrentVersionID)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		p.CurrentVersion = v
	}
	return p, nil
}

// GetPromptByName implements Store.
func (r *RedisStore) GetPromptByName(ctx context.Context, name string) (*core.Prompt, error) {
	id, err := r.client.Get(ctx, r.key(redisKeyName, name)).Result()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Unavailable("redis get prompt by name", err)
	}
	return r.GetPrompt(ctx, id)
}

// QueryPrompts implements Store. The time bounds are resolved by the sorted
// index; the remaining filters are applied while scanning it in batches.
func (r *RedisStore) QueryPrompts(ctx context.Context, q Query) ([]*core.Prompt, error) {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf", Count: redisScanBatch}
	if !q.UpdatedAfter.IsZero() {
		by.Min = "(" + strconv.FormatInt(q.UpdatedAfter.UnixMicro(), 10)
	}
	if !q.UpdatedAtOrBefore.IsZero() {
		by.Max = strconv.FormatInt(q.UpdatedAtOrBefore.UnixMicro(), 10)
	}
	var out []*core.Prompt
	for offset := int64(0); ; offset += redisScanBatch {
		by.Offset = offset
		ids, err := r.client.ZRevRangeByScore(ctx, r.key(redisKeyUpdated), by).Result()
		if err != nil {
			return nil, core.Unavailable("redis query prompts", err)
		}
		batch, err := r.loadPrompts(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, p := range batch {
			if !q.matches(p) {
				continue
			}
			out = append(out, p)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
		if len(ids) < redisScanBatch {
			return out, nil
		}
	}
}

// loadPrompts fetches prompts and their current versions for ids, preserving order.
func (r *RedisStore) loadPrompts(ctx context.Context, ids []string) ([]*core.Prompt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(redisKeyPrompt, id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.Unavailable("redis load prompts", err)
	}
	prompts := make([]*core.Prompt, 0, len(vals))
	var versionKeys []string
	for _, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		var p core.Prompt
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("redis registry decode: %w", err)
		}
		prompts = append(prompts, &p)
		if p.CurrentVersionID != "" {
			versionKeys = append(versionKeys, r.key(redisKeyVersion, p.CurrentVersionID))
		}
	}
	if len(versionKeys) == 0 {
		return prompts, nil
	}
	vvals, err := r.client.MGet(ctx, versionKeys...).Result()
	if err != nil {
		return nil, core.Unavailable("redis load versions", err)
	}
	versions := make(map[string]*core.PromptVersion, len(vvals))
	for _, val := range vvals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		var v core.PromptVersion
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("redis registry decode: %w", err)
		}
		versions[v.ID] = &v
	}
	for _, p := range prompts {
		p.CurrentVersion = versions[p.CurrentVersionID]
	}
	return prompts, nil
}

// ListVersions implements Store.
func (r *RedisStore) ListVersions(ctx context.Context, promptID string) ([]*core.PromptVersion, error) {
	ids, err := r.client.ZRange(ctx, r.key(redisKeyVersions, promptID), 0, -1).Result()
	if err != nil {
		return nil, core.Unavailable("redis list versions", err)
	}
	if len(ids) == 0 {
		return nil, core.ErrNotFound
	}
	out := make([]*core.PromptVersion, 0, len(ids))
	for _, id := range ids {
		v, err := r.getVersion(ctx, r.client, id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// AppendVersion implements Store. A concurrent append to the same prompt
// aborts the transaction and surfaces as ErrConflict.
func (r *RedisStore) AppendVersion(ctx context.Context, v *core.PromptVersion) error {
	if v == nil || v.ID == "" {
		return &core.ValidationError{Field: "id", Message: "version id is required"}
	}
	versionsKey := r.key(redisKeyVersions, v.PromptID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		last, err := tx.ZRevRangeWithScores(ctx, versionsKey, 0, 0).Result()
		if err != nil {
			return core.Unavailable("redis append version", err)
		}
		if len(last) == 0 {
			return core.ErrNotFound
		}
		next := *v
		next.VersionNumber = int(last[0].Score) + 1
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("redis registry encode: %w", err)
		}
		n, err := tx.Exists(ctx, r.key(redisKeyVersion, v.ID)).Result()
		if err != nil {
			return core.Unavailable("redis append version", err)
		}
		if n > 0 {
			return core.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key(redisKeyVersion, v.ID), data, 0)
			pipe.ZAdd(ctx, versionsKey, redis.Z{Score: float64(next.VersionNumber), Member: v.ID})
			return nil
		})
		if err != nil {
			return err
		}
		v.VersionNumber = next.VersionNumber
		return nil
	}, versionsKey)
	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	return core.Unavailable("redis append version", err)
}

// UpdateVersion implements Store.
func (r *RedisStore) UpdateVersion(ctx context.Context, v *core.PromptVersion, makeCurrent bool, at time.Time) error {
	versionKey := r.key(redisKeyVersion, v.ID)
	promptKey := r.key(redisKeyPrompt, v.PromptID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.getVersion(ctx, tx, v.ID)
		if err != nil {
			return err
		}
		if stored.PromptID != v.PromptID {
			return core.ErrNotFound
		}
		stored.Status = v.Status
		stored.ApprovedBy = v.ApprovedBy
		stored.ApprovedAt = v.ApprovedAt
		stored.UpdatedAt = v.UpdatedAt
		vdata, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("redis registry encode: %w", err)
		}
		var pdata []byte
		if makeCurrent {
			p, err := r.getRecord(ctx, tx, v.PromptID)
			if err != nil {
				return err
			}
			p.CurrentVersionID = v.ID
			p.UpdatedAt = at
			if pdata, err = json.Marshal(p); err != nil {
				return fmt.Errorf("redis registry encode: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, versionKey, vdata, 0)
			if pdata != nil {
				pipe.Set(ctx, promptKey, pdata, 0)
				pipe.ZAdd(ctx, r.key(redisKeyUpdated), redis.Z{Score: redisScore(at), Member: v.PromptID})
			}
			return nil
		})
		return err
	}, versionKey, promptKey)
	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	return core.Unavailable("redis update version", err)
}

// UpdatePrompt implements Store.
func (r *RedisStore) UpdatePrompt(ctx context.Context, p *core.Prompt) error {
	promptKey := r.key(redisKeyPrompt, p.ID)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.getRecord(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		stored.DisplayName = p.DisplayName
		stored.Description = p.Description
		stored.ItemType = p.ItemType
		stored.Tags = append([]string(nil), p.Tags...)
		stored.Status = p.Status
		stored.UpdatedAt = p.UpdatedAt
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("redis registry encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, promptKey, data, 0)
			pipe.ZAdd(ctx, r.key(redisKeyUpdated), redis.Z{Score: redisScore(p.UpdatedAt), Member: p.ID})
			return nil
		})
		return err
	}, promptKey)
	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	return core.Unavailable("redis update prompt", err)
}

// DeletePrompt implements Store.
func (r *RedisStore) DeletePrompt(ctx context.Context, id string) error {
	promptKey := r.key(redisKeyPrompt, id)
	versionsKey := r.key(redisKeyVersions, id)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.getRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		vids, err := tx.ZRange(ctx, versionsKey, 0, -1).Result()
		if err != nil {
			return err
		}
		keys := []string{promptKey, versionsKey, r.key(redisKeyName, stored.Name)}
		for _, vid := range vids {
			keys = append(keys, r.key(redisKeyVersion, vid))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, r.key(redisKeyUpdated), id)
			return nil
		})
		return err
	}, promptKey, versionsKey)
	if errors.Is(err, redis.TxFailedErr) {
		return core.ErrConflict
	}
	return core.Unavailable("redis delete prompt", err)
}

// Count implements Store.
func (r *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key(redisKeyUpdated)).Result()
	if err != nil {
		return 0, core.Unavailable("redis count", err)
	}
	return int(n), nil
}
