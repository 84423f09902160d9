package model

// GuardrailPolicy 定义单个 bot 实例的风控规则
type GuardrailPolicy struct {
	DailyLossCap float64 `json:"daily_loss_cap"` // 当日累计亏损上限，0 表示不限制
}

// RateLimitPolicy 定义 bot 实例的限流规则
type RateLimitPolicy struct {
	QPS   float64 `json:"qps"`   // 每秒允许的告警数
	Burst int     `json:"burst"` // 突发桶大小
}

// BotInstance 代表一个受风控约束的自动化交易单元
type BotInstance struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Secret      string          `json:"-"` // 告警签名密钥，绝不出现在响应中
	Guardrail   GuardrailPolicy `json:"guardrail"`
	Rate        RateLimitPolicy `json:"rate_limit"`
}
