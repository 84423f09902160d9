package model

import "time"

type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery 代表一次出站投递尝试，落库后不可变；重试与重放都会产生新行
type Delivery struct {
	ID             string         `json:"id"`
	WebhookID      string         `json:"webhook_id"`
	CorrelationID  string         `json:"correlation_id"` // 同一逻辑事件的所有尝试共享
	EventType      string         `json:"event_type"`
	Status         DeliveryStatus `json:"status"`
	ResponseCode   int            `json:"response_code"`
	ResponseTimeMs int64          `json:"response_time_ms"`
	Attempt        int            `json:"attempt"`
	Payload        string         `json:"payload"`
	ResponseBody   string         `json:"response_body"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// DeliveryQuery describes the ledger's filterable, sortable, paginated read.
type DeliveryQuery struct {
	WebhookID string
	Status    DeliveryStatus
	CodeMin   int
	CodeMax   int
	TimeMinMs int64
	TimeMaxMs int64
	Search    string // free text over last_error and response_body
	From      *time.Time
	To        *time.Time
	SortBy    string // created_at | response_time_ms | response_code
	SortDesc  bool
	Limit     int
	Offset    int
}

// DeliveryStats is the on-demand aggregate over one webhook and time window.
type DeliveryStats struct {
	Count       int            `json:"count"`
	FailedCount int            `json:"failed_count"`
	P50Ms       int64          `json:"p50_ms"`
	P95Ms       int64          `json:"p95_ms"`
	Histogram   map[string]int `json:"histogram"` // 2xx/3xx/4xx/5xx/other
	Series      []StatsBucket  `json:"series"`
}

type StatsBucket struct {
	Start       time.Time `json:"start"`
	Count       int       `json:"count"`
	P50Ms       int64     `json:"p50_ms"`
	P95Ms       int64     `json:"p95_ms"`
	SuccessRate float64   `json:"success_rate"`
}
