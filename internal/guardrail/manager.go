package guardrail

import (
	"sync"

	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/model"
	"golang.org/x/time/rate"
)

// Manager 管理 bot 实例、对应的密钥与每实例限流器
type Manager struct {
	mu       sync.RWMutex
	bots     map[string]*model.BotInstance // Key: BotInstanceID
	limiters map[string]*rate.Limiter      // Key: BotInstanceID
	config   *config.Config
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		bots:     make(map[string]*model.BotInstance),
		limiters: make(map[string]*rate.Limiter),
		config:   cfg,
	}

	for _, botCfg := range cfg.Bots {
		bot := &model.BotInstance{
			ID:          botCfg.ID,
			WorkspaceID: botCfg.WorkspaceID,
			Secret:      botCfg.Secret,
			Guardrail: model.GuardrailPolicy{
				DailyLossCap: chooseFloat(cfg.Guardrail.DailyLossCap, botCfg.Guardrail.DailyLossCap),
			},
			Rate: model.RateLimitPolicy{
				QPS:   chooseFloat(cfg.Guardrail.RateQPS, botCfg.Guardrail.RateQPS),
				Burst: chooseInt(cfg.Guardrail.RateBurst, botCfg.Guardrail.RateBurst),
			},
		}
		m.Register(bot)
	}

	return m
}

func (m *Manager) Register(b *model.BotInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b == nil {
		return
	}
	m.bots[b.ID] = b

	// 限流器按实例初始化；QPS 为 0 表示不限流
	limit := rate.Limit(b.Rate.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := b.Rate.Burst
	if burst == 0 {
		burst = 1
	}
	m.limiters[b.ID] = rate.NewLimiter(limit, burst)
}

func (m *Manager) Replace(b *model.BotInstance) {
	m.Remove(b.ID)
	m.Register(b)
}

func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bots, id)
	delete(m.limiters, id)
}

func (m *Manager) Get(id string) (*model.BotInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	return b, ok
}

func (m *Manager) List() []*model.BotInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]*model.BotInstance, 0, len(m.bots))
	for _, b := range m.bots {
		results = append(results, b)
	}
	return results
}

// LimiterFor 获取实例的限流器
func (m *Manager) LimiterFor(id string) *rate.Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[id]
}

func chooseFloat(base, override float64) float64 {
	if override > 0 {
		return override
	}
	return base
}

func chooseInt(base, override int) int {
	if override > 0 {
		return override
	}
	return base
}
