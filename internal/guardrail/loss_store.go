package guardrail

import (
	"context"
	"sync"
	"time"
)

// LossRepo tracks the realized daily loss per bot instance. Keys roll over
// at UTC midnight, so a new window always starts from zero.
type LossRepo interface {
	GetDailyLoss(ctx context.Context, botInstanceID string) (float64, error)
	AddDailyLoss(ctx context.Context, botInstanceID string, loss float64) error
}

// MemoryLossStore 内存实现，适用于单实例部署；生产环境请用 Redis 或 Postgres
type MemoryLossStore struct {
	mu        sync.RWMutex
	dailyLoss map[string]float64 // Key: BotInstanceID:YYYY-MM-DD
	now       func() time.Time
}

func NewMemoryLossStore() *MemoryLossStore {
	return &MemoryLossStore{
		dailyLoss: make(map[string]float64),
		now:       time.Now,
	}
}

func (s *MemoryLossStore) GetDailyLoss(ctx context.Context, botInstanceID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dailyLoss[s.makeKey(botInstanceID)], nil
}

func (s *MemoryLossStore) AddDailyLoss(ctx context.Context, botInstanceID string, loss float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyLoss[s.makeKey(botInstanceID)] += loss
	return nil
}

func (s *MemoryLossStore) makeKey(botInstanceID string) string {
	// 按 UTC 日期分割
	return botInstanceID + ":" + s.now().UTC().Format("2006-01-02")
}
