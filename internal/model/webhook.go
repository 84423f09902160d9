package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventList is stored as a JSON array in a text column.
type EventList []string

func (l EventList) Value() (driver.Value, error) {
	if l == nil {
		l = EventList{}
	}
	return json.Marshal(l)
}

func (l *EventList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = EventList{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported event list type %T", src)
	}
}

// Contains reports whether the list subscribes to eventType, honoring the
// "*" wildcard.
func (l EventList) Contains(eventType string) bool {
	for _, e := range l {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// Webhook 代表一个出站投递目标
type Webhook struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	WorkspaceID   string    `json:"workspace_id" gorm:"index"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Method        string    `json:"method"`
	Active        bool      `json:"active"`
	SigningSecret string    `json:"-"` // 出站签名密钥，不出现在响应中
	Events        EventList `json:"events" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
