package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// MockProvider — конфигурируемая заглушка платёжного провайдера для локальных
// запусков и тестов.
type MockProvider struct {
	mu sync.Mutex

	ChargeErr error
	Latency   time.Duration

	ChargeCalls int
}

// NewMockProvider возвращает провайдера с успешным сценарием по умолчанию.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Charge возвращает заранее настроенный результат, уважая ctx при эмуляции
// задержки, и считает вызовы.
func (m *MockProvider) Charge(ctx context.Context, orderID string, amountMinor int64, currency string) (string, error) {
	m.mu.Lock()
	m.ChargeCalls++
	latency := m.Latency
	chargeErr := m.ChargeErr
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(latency):
		}
	}
	if chargeErr != nil {
		return "", chargeErr
	}
	return uuid.NewString(), nil
}

var _ domain.ChargeProvider = (*MockProvider)(nil)
