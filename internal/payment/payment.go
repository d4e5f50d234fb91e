// Package payment описывает списание средств клиента. Настоящий процессинг
// подключается реализацией Charger; в поставке есть только мок.
package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Outcome (результат списания)
type Outcome struct {
	Success   bool
	Reference string
}

// Charger списывает сумму в центах и возвращает ссылку на платёж
type Charger interface {
	Charge(ctx context.Context, amount int64) (Outcome, error)
}

// Voider отменяет списание, которое не удалось записать в журнал
type Voider interface {
	Void(ctx context.Context, reference string) error
}

// MockProvider имитирует платёжный шлюз: задержка, затем успешное списание
type MockProvider struct {
	Latency time.Duration
	// Decline заставляет провайдер отклонять платежи
	Decline atomic.Bool

	calls  atomic.Int64
	voided sync.Map
}

func NewMockProvider(latency time.Duration) *MockProvider {
	return &MockProvider{Latency: latency}
}

func (p *MockProvider) Charge(ctx context.Context, amount int64) (Outcome, error) {
	p.calls.Add(1)
	if amount <= 0 {
		return Outcome{}, fmt.Errorf("charge: non-positive amount %d", amount)
	}
	if p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Outcome{}, fmt.Errorf("charge: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if p.Decline.Load() {
		return Outcome{Success: false}, nil
	}
	ref := fmt.Sprintf("pi_mock_%d_%s", time.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:9])
	return Outcome{Success: true, Reference: ref}, nil
}

// Calls возвращает, сколько раз вызывался Charge
func (p *MockProvider) Calls() int64 {
	return p.calls.Load()
}

func (p *MockProvider) Void(_ context.Context, reference string) error {
	if !strings.HasPrefix(reference, "pi_mock_") {
		return fmt.Errorf("void: unknown payment %q", reference)
	}
	p.voided.Store(reference, struct{}{})
	return nil
}

// Voided сообщает, отменено ли списание
func (p *MockProvider) Voided(reference string) bool {
	_, ok := p.voided.Load(reference)
	return ok
}

// WithTimeout ограничивает время одного списания
func WithTimeout(ctx context.Context, c Charger, amount int64, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		return c.Charge(ctx, amount)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Charge(ctx, amount)
}
