package guardrail

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
	"github.com/tradehook/hookgate/internal/pkg/metrics"
	"github.com/tradehook/hookgate/internal/venue"
)

// AuditSink receives one record per guardrail check performed. Audit write
// failures are the sink's own failure class and never influence the
// accept/reject decision here.
type AuditSink interface {
	Record(botInstanceID string, typ model.GuardrailEventType, detail map[string]interface{})
}

// Evaluator 按固定顺序执行风控检查：签名 → 限流 → 场所约束 → 当日亏损上限。
// 任何一项失败即短路，事件被拒绝且绝不自动重试。
type Evaluator struct {
	bots   *Manager
	venues *venue.Catalog
	losses LossRepo
	audit  AuditSink
	locks  sync.Map // Key: BotInstanceID, Value: *sync.Mutex
}

func NewEvaluator(bots *Manager, venues *venue.Catalog, losses LossRepo, audit AuditSink) *Evaluator {
	return &Evaluator{
		bots:   bots,
		venues: venues,
		losses: losses,
		audit:  audit,
	}
}

// Evaluate runs the ordered guardrail checks for one inbound alert.
// Rejections come back as an accepted=false Decision with the reason; a
// non-nil error means an infrastructure failure, not a policy rejection.
// Evaluations for the same bot instance are serialized so the rate counter
// and loss accumulator never race and events keep their arrival order.
func (e *Evaluator) Evaluate(ctx context.Context, req model.AlertRequest) (model.Decision, error) {
	lock := e.lockFor(req.BotInstanceID)
	lock.Lock()
	defer lock.Unlock()

	// 1. 签名检查（失败即关闭，不再执行后续检查）
	bot, ok := e.bots.Get(req.BotInstanceID)
	if !ok || !secretMatches(req.Secret, bot.Secret) {
		detail := map[string]interface{}{"venue_id": req.VenueID}
		if !ok {
			detail["error"] = "unknown bot instance"
		}
		e.audit.Record(req.BotInstanceID, model.EventSignatureFail, detail)
		return e.reject(model.EventSignatureFail), nil
	}

	// 场所元数据是纯查找，提前解析以便写入签名审计详情
	meta := e.venues.Meta(req.VenueID)
	okDetail := map[string]interface{}{"venue_id": req.VenueID}
	if meta.Unconstrained() {
		okDetail["venue_policy"] = "unconstrained venue"
	}
	e.audit.Record(req.BotInstanceID, model.EventSignatureOK, okDetail)

	// 2. 限流检查
	limiter := e.bots.LimiterFor(bot.ID)
	if limiter != nil && !limiter.Allow() {
		e.audit.Record(bot.ID, model.EventRateLimit, map[string]interface{}{
			"qps":   bot.Rate.QPS,
			"burst": bot.Rate.Burst,
		})
		return e.reject(model.EventRateLimit), nil
	}

	// 3. 场所约束检查（归一化价格与数量）
	price, qty, violation := normalize(meta, req.Price, req.Qty)
	if violation != "" {
		e.audit.Record(bot.ID, model.EventGuardrailViolation, map[string]interface{}{
			"violation":        violation,
			"normalized_price": price.String(),
			"normalized_qty":   qty.String(),
			"notional":         price.Mul(qty).String(),
		})
		return e.reject(model.EventGuardrailViolation), nil
	}

	// 4. 当日亏损上限检查（只读预判，不在此处累加）
	if lossCap := bot.Guardrail.DailyLossCap; lossCap > 0 {
		current, err := e.losses.GetDailyLoss(ctx, bot.ID)
		if err != nil {
			return model.Decision{}, apperrors.New(apperrors.ErrInfraFailure,
				fmt.Sprintf("loss accumulator unavailable for bot %s", bot.ID), err)
		}
		if current+req.Risk > lossCap {
			e.audit.Record(bot.ID, model.EventLossCap, map[string]interface{}{
				"accumulated": current,
				"risk":        req.Risk,
				"cap":         lossCap,
			})
			return e.reject(model.EventLossCap), nil
		}
	}

	metrics.AlertsTotal.WithLabelValues("accepted").Inc()
	return model.Decision{
		Accepted:        true,
		NormalizedPrice: price,
		NormalizedQty:   qty,
	}, nil
}

// AddRealizedLoss is the only path that increments the accumulator. Called
// by trade execution when a loss is realized; non-positive reports are
// ignored so the accumulator stays monotonic within a window.
func (e *Evaluator) AddRealizedLoss(ctx context.Context, botInstanceID string, loss float64) error {
	if loss <= 0 {
		return nil
	}
	lock := e.lockFor(botInstanceID)
	lock.Lock()
	defer lock.Unlock()
	if err := e.losses.AddDailyLoss(ctx, botInstanceID, loss); err != nil {
		return apperrors.New(apperrors.ErrInfraFailure,
			fmt.Sprintf("loss accumulator unavailable for bot %s", botInstanceID), err)
	}
	return nil
}

func (e *Evaluator) reject(reason model.GuardrailEventType) model.Decision {
	metrics.AlertsTotal.WithLabelValues("rejected").Inc()
	metrics.GuardrailRejects.WithLabelValues(string(reason)).Inc()
	return model.Decision{Accepted: false, Reason: reason}
}

func (e *Evaluator) lockFor(botInstanceID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(botInstanceID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// normalize floors price and qty to the venue's increments and validates
// notional / max-qty constraints. Flooring never rounds up, so a normalized
// price can never cross a venue increment upward.
func normalize(meta model.VenueMeta, rawPrice, rawQty float64) (price, qty decimal.Decimal, violation string) {
	price = decimal.NewFromFloat(rawPrice)
	qty = decimal.NewFromFloat(rawQty)

	if meta.PriceTick != nil && meta.PriceTick.IsPositive() {
		price = floorToStep(price, *meta.PriceTick)
	}
	if meta.QtyStep != nil && meta.QtyStep.IsPositive() {
		qty = floorToStep(qty, *meta.QtyStep)
	}

	if meta.MinNotional != nil && price.Mul(qty).LessThan(*meta.MinNotional) {
		return price, qty, "notional below minimum"
	}
	if meta.MaxOrderQty != nil && qty.GreaterThan(*meta.MaxOrderQty) {
		return price, qty, "quantity above maximum"
	}
	return price, qty, ""
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}
