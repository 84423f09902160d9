package model

import "github.com/shopspring/decimal"

// AlertRequest is the inbound trading-alert payload from the edge intake
// (e.g. a TradingView-style webhook).
type AlertRequest struct {
	BotInstanceID string  `json:"bot_instance_id" binding:"required"`
	VenueID       string  `json:"venue_id"`
	Symbol        string  `json:"symbol"`
	Signal        string  `json:"signal"` // buy, sell, close
	Price         float64 `json:"price"`
	Qty           float64 `json:"qty"`
	Risk          float64 `json:"risk"` // implied risk for the loss-cap look-ahead
	Secret        string  `json:"secret"`
}

// Decision is the synchronous outcome of a guardrail evaluation.
type Decision struct {
	Accepted        bool               `json:"accepted"`
	Reason          GuardrailEventType `json:"reason,omitempty"`
	NormalizedPrice decimal.Decimal    `json:"normalized_price"`
	NormalizedQty   decimal.Decimal    `json:"normalized_qty"`
}

// LossReport feeds realized losses back into the daily accumulator.
type LossReport struct {
	BotInstanceID string  `json:"bot_instance_id" binding:"required"`
	Loss          float64 `json:"loss"`
}

// AlertEvent is the normalized, guardrail-approved payload fanned out to
// webhooks. It never carries the raw pre-normalization values.
type AlertEvent struct {
	BotInstanceID string `json:"bot_instance_id"`
	WorkspaceID   string `json:"workspace_id"`
	VenueID       string `json:"venue_id"`
	Symbol        string `json:"symbol"`
	Signal        string `json:"signal"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	Notional      string `json:"notional"`
	OccurredAt    string `json:"occurred_at"`
}
