package wallet

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerIdempotent(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()
	pro := uuid.New()

	require.NoError(t, ledger.Credit(ctx, pro, 4200, "escrow-1"))
	require.NoError(t, ledger.Credit(ctx, pro, 4200, "escrow-1"))
	require.NoError(t, ledger.Credit(ctx, pro, 800, "escrow-2"))

	balance, err := ledger.Balance(ctx, pro)
	require.NoError(t, err)
	require.Equal(t, int64(5000), balance)

	require.Error(t, ledger.Credit(ctx, pro, 0, "escrow-3"))
}

// Для проверки на настоящем Redis: REDIS_TEST_ADDR=localhost:6379
func TestRedisLedgerIdempotent(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ledger := NewRedisLedger(client)
	ctx := context.Background()
	pro := uuid.New()
	ref := "escrow-" + uuid.NewString()

	require.NoError(t, ledger.Credit(ctx, pro, 4200, ref))
	require.NoError(t, ledger.Credit(ctx, pro, 4200, ref))

	balance, err := ledger.Balance(ctx, pro)
	require.NoError(t, err)
	require.Equal(t, int64(4200), balance)
}
