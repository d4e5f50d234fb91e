// Package wallet зачисляет выплаты специалистам. Зачисление идемпотентно по
// ссылке: повтор с той же ссылкой не меняет баланс.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Crediter зачисляет amount центов специалисту proID
type Crediter interface {
	Credit(ctx context.Context, proID uuid.UUID, amount int64, ref string) error
}

const balancesKey = "wallet:balances"

// creditScript атомарно помечает ссылку и увеличивает баланс
var creditScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[2], 'NX') then
  return redis.call('HINCRBY', KEYS[2], ARGV[1], ARGV[2])
end
return tonumber(redis.call('HGET', KEYS[2], ARGV[1]) or '0')
`)

// RedisLedger хранит балансы в хеше wallet:balances
type RedisLedger struct {
	client redis.UniversalClient
}

func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Credit(ctx context.Context, proID uuid.UUID, amount int64, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("credit: non-positive amount %d", amount)
	}
	keys := []string{"wallet:credit:" + ref, balancesKey}
	if err := creditScript.Run(ctx, l.client, keys, proID.String(), amount).Err(); err != nil {
		return fmt.Errorf("credit %s: %w", proID, err)
	}
	return nil
}

// Balance возвращает баланс специалиста в центах
func (l *RedisLedger) Balance(ctx context.Context, proID uuid.UUID) (int64, error) {
	v, err := l.client.HGet(ctx, balancesKey, proID.String()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", proID, err)
	}
	return v, nil
}

// MemoryLedger хранит кошельки в памяти процесса, когда Redis не настроен
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	refs     map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[uuid.UUID]int64),
		refs:     make(map[string]struct{}),
	}
}

func (l *MemoryLedger) Credit(_ context.Context, proID uuid.UUID, amount int64, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("credit: non-positive amount %d", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.refs[ref]; seen {
		return nil
	}
	l.refs[ref] = struct{}{}
	l.balances[proID] += amount
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, proID uuid.UUID) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[proID], nil
}
