package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradehook/hookgate/internal/guardrail"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
)

// BotHandler 管理面的 bot 实例运行时增删改
type BotHandler struct {
	bots *guardrail.Manager
}

func NewBotHandler(bots *guardrail.Manager) *BotHandler {
	return &BotHandler{bots: bots}
}

type botUpsertRequest struct {
	WorkspaceID  string  `json:"workspace_id" binding:"required"`
	Secret       string  `json:"secret" binding:"required"`
	DailyLossCap float64 `json:"daily_loss_cap"`
	RateQPS      float64 `json:"rate_qps"`
	RateBurst    int     `json:"rate_burst"`
}

func (h *BotHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"bots": h.bots.List()})
}

// Upsert registers or replaces one bot instance; replacing resets its
// rate limiter.
func (h *BotHandler) Upsert(c *gin.Context) {
	var req botUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	bot := &model.BotInstance{
		ID:          c.Param("id"),
		WorkspaceID: req.WorkspaceID,
		Secret:      req.Secret,
		Guardrail:   model.GuardrailPolicy{DailyLossCap: req.DailyLossCap},
		Rate:        model.RateLimitPolicy{QPS: req.RateQPS, Burst: req.RateBurst},
	}
	h.bots.Replace(bot)
	c.JSON(http.StatusOK, bot)
}

func (h *BotHandler) Remove(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.bots.Get(id); !ok {
		c.Error(apperrors.NewNotFound("bot instance not found"))
		return
	}
	h.bots.Remove(id)
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
