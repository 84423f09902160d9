package model

import "time"

type GuardrailEventType string

const (
	EventSignatureOK        GuardrailEventType = "signature_ok"
	EventSignatureFail      GuardrailEventType = "signature_fail"
	EventRateLimit          GuardrailEventType = "rate_limit"
	EventGuardrailViolation GuardrailEventType = "guardrail_violation"
	EventLossCap            GuardrailEventType = "loss_cap"
)

// GuardrailEvent 代表一次风控检查的审计记录，只追加，永不修改
type GuardrailEvent struct {
	ID            string                 `json:"id"`
	BotInstanceID string                 `json:"bot_instance_id"`
	Type          GuardrailEventType     `json:"type"`
	Detail        map[string]interface{} `json:"detail"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AdminAction 记录管理面的批量操作（如一键停用全部 webhook）
type AdminAction struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	WorkspaceID string    `json:"workspace_id" gorm:"index"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
	Affected    int       `json:"affected"`
	CreatedAt   time.Time `json:"created_at"`
}
