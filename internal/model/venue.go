package model

import "github.com/shopspring/decimal"

// VenueMeta holds the immutable trading constraints of one venue.
// Every field is optional: nil means "no constraint", which is different
// from an explicit zero value coming out of the venue catalog.
type VenueMeta struct {
	PriceTick   *decimal.Decimal `json:"price_tick,omitempty"`
	QtyStep     *decimal.Decimal `json:"qty_step,omitempty"`
	MinNotional *decimal.Decimal `json:"min_notional,omitempty"`
	MaxOrderQty *decimal.Decimal `json:"max_order_qty,omitempty"`
}

// Unconstrained reports whether no venue constraint is set at all.
func (m VenueMeta) Unconstrained() bool {
	return m.PriceTick == nil && m.QtyStep == nil && m.MinNotional == nil && m.MaxOrderQty == nil
}
