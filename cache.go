package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache memoizes resolved role and permission sets in Redis. It never
// invents data: every entry is derived from the store, and a lost or
// flushed cache only costs recomputation. Backend failures are logged and
// treated as misses so that resolution stays correct without Redis.
type Cache struct {
	client *redis.Client
	opts   CacheOptions
	log    *zap.Logger
}

// NewCache wraps a Redis client. A nil client disables memoization
// entirely.
func NewCache(client *redis.Client, opts CacheOptions, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{client: client, opts: opts, log: log}
}

// Enabled reports whether any caching happens at all.
func (c *Cache) Enabled() bool {
	return c.opts.Enabled && c.client != nil
}

// RoleCacheEnabled reports whether resolved role sets are memoized.
func (c *Cache) RoleCacheEnabled() bool {
	return c.Enabled() && c.opts.CacheRoles
}

// PermissionCacheEnabled reports whether resolved permission sets are
// memoized.
func (c *Cache) PermissionCacheEnabled() bool {
	return c.Enabled() && c.opts.CachePermissions
}

func (c *Cache) key(k string) string {
	return c.opts.KeyPrefix + "." + k
}

// tagKey names the Redis set tracking every key this subsystem wrote,
// enabling tag-scoped flushes on a shared backend.
func (c *Cache) tagKey() string {
	return c.opts.KeyPrefix + ".tag.permissions"
}

// UserRolesKey is the cache key for a principal's active role slug set.
func (c *Cache) UserRolesKey(p Principal) string {
	return fmt.Sprintf("user_roles_%s_%s", p.PrincipalType(), p.PrincipalID())
}

// UserPermissionsKey is the cache key for a principal's effective
// permission slug set (direct grants plus role permissions, as one unit).
func (c *Cache) UserPermissionsKey(p Principal) string {
	return fmt.Sprintf("user_permissions_%s_%s", p.PrincipalType(), p.PrincipalID())
}

// UserPermissionIDsKey is the secondary key storing the effective
// permission id set, so entity hydration can be deferred.
func (c *Cache) UserPermissionIDsKey(p Principal) string {
	return c.UserPermissionsKey(p) + "_ids"
}

// RolePermissionsKey is the cache key for one role's permission slug set.
func (c *Cache) RolePermissionsKey(roleID uint) string {
	return fmt.Sprintf("role_permissions_%d", roleID)
}

// remember returns the cached value under key, computing and storing it on
// a miss. With caching disabled it always computes without storing.
func remember[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, error) {
	if !c.Enabled() {
		return compute()
	}

	full := c.key(key)
	raw, err := c.client.Get(ctx, full).Bytes()
	if err == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		// Undecodable entries are treated as misses and overwritten.
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("cache read failed, recomputing from store", zap.String("key", full), zap.Error(err))
	}

	v, err := compute()
	if err != nil {
		return v, err
	}
	c.store(ctx, full, v)
	return v, nil
}

// store writes a computed value with TTL and registers the key in the tag
// set. Failures are logged, never surfaced.
func (c *Cache) store(ctx context.Context, fullKey string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("key", fullKey), zap.Error(err))
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, fullKey, raw, c.opts.TTL)
	if c.opts.UseTags {
		pipe.SAdd(ctx, c.tagKey(), fullKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("cache write failed", zap.String("key", fullKey), zap.Error(err))
	}
}

// Forget removes individual entries. Backend failures are logged only:
// the underlying mutation already happened and must not be overturned.
func (c *Cache) Forget(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	pipe := c.client.Pipeline()
	pipe.Del(ctx, full...)
	if c.opts.UseTags {
		members := make([]interface{}, len(full))
		for i, k := range full {
			members[i] = k
		}
		pipe.SRem(ctx, c.tagKey(), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("cache invalidation failed", zap.Strings("keys", full), zap.Error(err))
	}
}

// Flush evicts everything this subsystem cached. With tags enabled it
// deletes exactly the tracked key set. Otherwise it degrades per the
// configured fallback: scanning this prefix, or clearing the whole cache
// database, an intentionally blunt tradeoff.
func (c *Cache) Flush(ctx context.Context) {
	if !c.Enabled() {
		return
	}

	if c.opts.UseTags {
		keys, err := c.client.SMembers(ctx, c.tagKey()).Result()
		if err != nil {
			c.log.Warn("cache flush failed reading tag set", zap.Error(err))
			return
		}
		keys = append(keys, c.tagKey())
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.log.Warn("cache flush failed", zap.Error(err))
		}
		return
	}

	if c.opts.FlushFallback == FlushFallbackStore {
		if err := c.client.FlushDB(ctx).Err(); err != nil {
			c.log.Warn("cache flush failed", zap.Error(err))
		}
		return
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.opts.KeyPrefix+".*", 100).Result()
		if err != nil {
			c.log.Warn("cache flush scan failed", zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.log.Warn("cache flush failed", zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// ClearPrincipal forgets every entry derived from one principal's grants.
func (c *Cache) ClearPrincipal(ctx context.Context, p Principal) {
	c.Forget(ctx,
		c.UserRolesKey(p),
		c.UserPermissionsKey(p),
		c.UserPermissionIDsKey(p),
	)
}

// ClearRole forgets one role's cached permission set.
func (c *Cache) ClearRole(ctx context.Context, roleID uint) {
	c.Forget(ctx, c.RolePermissionsKey(roleID))
}
