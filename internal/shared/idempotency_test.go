package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreClaimsKeyOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CheckAndInsert(ctx, "bulk-2026-08-30-001", "payments"))

	err := store.CheckAndInsert(ctx, "bulk-2026-08-30-001", "payments")
	require.ErrorIs(t, err, ErrIdempotencyConflict)

	// Same key under another module is independent.
	require.NoError(t, store.CheckAndInsert(ctx, "bulk-2026-08-30-001", "invoicing"))

	// Releasing the key allows a retry.
	require.NoError(t, store.Delete(ctx, "bulk-2026-08-30-001", "payments"))
	require.NoError(t, store.CheckAndInsert(ctx, "bulk-2026-08-30-001", "payments"))
}

func TestIdempotencyStoreValidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewIdempotencyStore(client, time.Hour)

	require.Error(t, store.CheckAndInsert(context.Background(), "", "payments"))
	require.Error(t, store.CheckAndInsert(context.Background(), "key", ""))
}
