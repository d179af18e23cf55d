package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyStoreClaimsOnce(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewIdempotencyStore(client, time.Hour)

	ctx := context.Background()
	require.NoError(t, store.CheckAndInsert(ctx, "abc-123", "invoices"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "abc-123", "invoices"), ErrIdempotencyConflict)

	// Same key in a different module is a distinct claim.
	require.NoError(t, store.CheckAndInsert(ctx, "abc-123", "bills"))

	require.NoError(t, store.Delete(ctx, "abc-123", "invoices"))
	require.NoError(t, store.CheckAndInsert(ctx, "abc-123", "invoices"))
}

func TestIdempotencyStoreRequiresKey(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewIdempotencyStore(client, time.Hour)

	require.Error(t, store.CheckAndInsert(context.Background(), "", "invoices"))
	require.Error(t, store.CheckAndInsert(context.Background(), "abc", ""))
}
