package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/auth9/auth9core/core"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoleCache(t *testing.T) *RoleCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRoleCache(client, zerolog.Nop())
}

func TestRoleCache_MissThenSetThenHit(t *testing.T) {
	c := newTestRoleCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "tenant-1", "user-1", "service-1")
	assert.False(t, ok)

	roles := []core.ResolvedRole{{RoleID: "r1", RoleName: "admin", ServiceID: "service-1", Permissions: []string{"orders:read"}}}
	require.NoError(t, c.Set(ctx, "tenant-1", "user-1", "service-1", roles, time.Minute))

	got, ok := c.Get(ctx, "tenant-1", "user-1", "service-1")
	require.True(t, ok)
	assert.Equal(t, roles, got)
}

func TestRoleCache_Invalidate(t *testing.T) {
	c := newTestRoleCache(t)
	ctx := context.Background()

	roles := []core.ResolvedRole{{RoleID: "r1", RoleName: "admin", ServiceID: "service-1"}}
	require.NoError(t, c.Set(ctx, "tenant-1", "user-1", "service-1", roles, time.Minute))
	require.NoError(t, c.Set(ctx, "tenant-1", "user-1", "service-2", roles, time.Minute))

	require.NoError(t, c.Invalidate(ctx, "tenant-1", "user-1"))

	_, ok1 := c.Get(ctx, "tenant-1", "user-1", "service-1")
	_, ok2 := c.Get(ctx, "tenant-1", "user-1", "service-2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestRoleCache_InvalidateEmptyIsNoop(t *testing.T) {
	c := newTestRoleCache(t)
	require.NoError(t, c.Invalidate(context.Background(), "tenant-none", "user-none"))
}
