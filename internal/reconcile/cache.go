package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const runCacheVersionKey = "reconcile:run:version"

// RunCache keeps run review snapshots in Redis behind a version counter, so
// polling reviewers do not hammer the run store. Invalidation bumps the
// version and stale keys simply age out with their TTL. Concurrent misses for
// the same run collapse into one store read.
type RunCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRunCache instantiates the cache helper. A nil client degrades to
// loader-only behavior.
func NewRunCache(client *redis.Client, ttl time.Duration) *RunCache {
	return &RunCache{client: client, ttl: ttl}
}

// Run returns the cached snapshot for runID, falling back to loader on a
// miss. Loader errors are returned as-is and never cached.
func (c *RunCache) Run(ctx context.Context, runID string, loader func(context.Context) (Run, error)) (Run, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.buildKey(ctx, runID)
	if err != nil {
		return Run{}, err
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var run Run
		if err := json.Unmarshal(payload, &run); err == nil {
			return run, nil
		}
		// A corrupt entry is treated as a miss.
	} else if err != redis.Nil {
		return Run{}, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		run, err := loader(ctx)
		if err != nil {
			return Run{}, err
		}
		raw, err := json.Marshal(run)
		if err != nil {
			return Run{}, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return Run{}, err
		}
		return run, nil
	})
	if err != nil {
		return Run{}, err
	}
	return v.(Run), nil
}

// Invalidate bumps the cache version, orphaning every cached snapshot.
func (c *RunCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, runCacheVersionKey).Err()
}

func (c *RunCache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, runCacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, runCacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *RunCache) buildKey(ctx context.Context, runID string) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reconcile:run:%s:%d", runID, ver), nil
}
