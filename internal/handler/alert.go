package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradehook/hookgate/internal/dispatch"
	"github.com/tradehook/hookgate/internal/guardrail"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
	"github.com/tradehook/hookgate/internal/pkg/logger"
)

// AlertHandler is the inbound edge of the pipeline: evaluate the guardrails
// synchronously, then hand accepted events to the dispatch engine.
type AlertHandler struct {
	evaluator  *guardrail.Evaluator
	bots       *guardrail.Manager
	dispatcher *dispatch.Engine
}

func NewAlertHandler(evaluator *guardrail.Evaluator, bots *guardrail.Manager, dispatcher *dispatch.Engine) *AlertHandler {
	return &AlertHandler{evaluator: evaluator, bots: bots, dispatcher: dispatcher}
}

func (h *AlertHandler) HandleAlert(c *gin.Context) {
	var req model.AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.evaluator.Evaluate(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	if !decision.Accepted {
		c.JSON(rejectionStatus(decision.Reason), decision)
		return
	}

	// 转发归一化后的值，绝不转发原始输入
	bot, ok := h.bots.Get(req.BotInstanceID)
	if !ok {
		// 评估通过后实例被并发移除
		c.Error(apperrors.New(apperrors.ErrAuthFailed, "bot instance no longer registered", nil))
		return
	}
	event := model.AlertEvent{
		BotInstanceID: req.BotInstanceID,
		WorkspaceID:   bot.WorkspaceID,
		VenueID:       req.VenueID,
		Symbol:        req.Symbol,
		Signal:        req.Signal,
		Price:         decision.NormalizedPrice.String(),
		Qty:           decision.NormalizedQty.String(),
		Notional:      decision.NormalizedPrice.Mul(decision.NormalizedQty).String(),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}

	enqueued, err := h.dispatcher.Dispatch(c.Request.Context(), bot.WorkspaceID, "alert", event)
	if err != nil {
		// 扇出失败不改变已做出的接受决定，但必须可见
		logger.Error("dispatch fan-out failed", "bot_instance_id", req.BotInstanceID, "error", err)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":            true,
		"normalized_price":    decision.NormalizedPrice.String(),
		"normalized_qty":      decision.NormalizedQty.String(),
		"deliveries_enqueued": enqueued,
	})
}

// ReportLoss feeds realized losses from trade execution back into the
// daily accumulator.
func (h *AlertHandler) ReportLoss(c *gin.Context) {
	var req model.LossReport
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.evaluator.AddRealizedLoss(c.Request.Context(), req.BotInstanceID, req.Loss); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func rejectionStatus(reason model.GuardrailEventType) int {
	switch reason {
	case model.EventSignatureFail:
		return http.StatusUnauthorized
	case model.EventRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
