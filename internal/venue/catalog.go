package venue

import (
	"github.com/shopspring/decimal"
	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/model"
)

// Catalog is a read-only lookup of per-venue trading constraints.
// Lookup never fails: an unknown venue yields a fully unconstrained meta
// and downstream checks treat every field as "no constraint".
type Catalog struct {
	venues map[string]model.VenueMeta
}

func NewCatalog(cfgs []config.VenueConfig) *Catalog {
	c := &Catalog{venues: make(map[string]model.VenueMeta, len(cfgs))}
	for _, v := range cfgs {
		if v.ID == "" {
			continue
		}
		c.venues[v.ID] = model.VenueMeta{
			PriceTick:   toDecimal(v.PriceTick),
			QtyStep:     toDecimal(v.QtyStep),
			MinNotional: toDecimal(v.MinNotional),
			MaxOrderQty: toDecimal(v.MaxOrderQty),
		}
	}
	return c
}

// Meta returns the constraints for venueID, or an unconstrained meta when
// the venue is not in the catalog.
func (c *Catalog) Meta(venueID string) model.VenueMeta {
	if meta, ok := c.venues[venueID]; ok {
		return meta
	}
	return model.VenueMeta{}
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
