// Package cache implements core.RoleCache on top of Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RoleCache is the read-through/write-through cache of spec.md §5. Keys are
// namespaced "rolecache:{tenant}:{user}" (for invalidation) and
// "rolecache:{tenant}:{user}:{service}" (for the resolved-role payload).
type RoleCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRoleCache(client *redis.Client, log zerolog.Logger) *RoleCache {
	return &RoleCache{client: client, log: log}
}

func serviceKey(tenantID, userID, serviceID string) string {
	return fmt.Sprintf("rolecache:%s:%s:%s", tenantID, userID, serviceID)
}

func indexKey(tenantID, userID string) string {
	return fmt.Sprintf("rolecache:%s:%s", tenantID, userID)
}

// Get returns the cached resolved roles, if present and unexpired.
func (c *RoleCache) Get(ctx context.Context, tenantID, userID, serviceID string) ([]core.ResolvedRole, bool) {
	data, err := c.client.Get(ctx, serviceKey(tenantID, userID, serviceID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("role cache get failed")
		}
		return nil, false
	}

	var roles []core.ResolvedRole
	if err := json.Unmarshal(data, &roles); err != nil {
		c.log.Warn().Err(err).Msg("role cache payload corrupt")
		return nil, false
	}
	return roles, true
}

// Set stores the resolved roles with ttl, and registers the key under the
// per-user index set so Invalidate can find every service-scoped entry.
func (c *RoleCache) Set(ctx context.Context, tenantID, userID, serviceID string, roles []core.ResolvedRole, ttl time.Duration) error {
	data, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("marshal resolved roles: %w", err)
	}

	key := serviceKey(tenantID, userID, serviceID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, ttl)
	pipe.SAdd(ctx, indexKey(tenantID, userID), key)
	pipe.Expire(ctx, indexKey(tenantID, userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("role cache set: %w", err)
	}
	return nil
}

// Invalidate drops every cached service-scoped entry for a user in a tenant.
// Role/permission changes call this; a stale read afterward is a cache miss,
// never a stale hit.
func (c *RoleCache) Invalidate(ctx context.Context, tenantID, userID string) error {
	members, err := c.client.SMembers(ctx, indexKey(tenantID, userID)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("role cache invalidate: list index: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	keys := append(members, indexKey(tenantID, userID))
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("role cache invalidate: del: %w", err)
	}
	return nil
}
