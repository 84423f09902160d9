package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradehook/hookgate/internal/dispatch"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
)

type DeliveryHandler struct {
	svc        *ledger.Service
	dispatcher *dispatch.Engine
}

func NewDeliveryHandler(svc *ledger.Service, dispatcher *dispatch.Engine) *DeliveryHandler {
	return &DeliveryHandler{svc: svc, dispatcher: dispatcher}
}

func (h *DeliveryHandler) List(c *gin.Context) {
	q := model.DeliveryQuery{
		WebhookID: c.Param("id"),
		Status:    model.DeliveryStatus(c.Query("status")),
		CodeMin:   parseIntDefault(c.Query("code_min"), 0),
		CodeMax:   parseIntDefault(c.Query("code_max"), 0),
		TimeMinMs: int64(parseIntDefault(c.Query("time_min_ms"), 0)),
		TimeMaxMs: int64(parseIntDefault(c.Query("time_max_ms"), 0)),
		Search:    c.Query("q"),
		SortBy:    c.Query("sort"),
		SortDesc:  c.DefaultQuery("order", "desc") == "desc",
		Limit:     parseIntDefault(c.Query("limit"), 50),
		Offset:    parseIntDefault(c.Query("offset"), 0),
	}
	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		q.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest(err.Error()))
			return
		}
		q.To = &t
	}

	rows, total, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deliveries": rows,
		"total":      total,
		"limit":      q.Limit,
		"offset":     q.Offset,
	})
}

func (h *DeliveryHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.Error(apperrors.NewNotFound("delivery not found"))
			return
		}
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, d)
}

// Stats serves the aggregate view with 1h/6h/24h/7d presets.
func (h *DeliveryHandler) Stats(c *gin.Context) {
	window, bucket, err := statsWindow(c.DefaultQuery("window", "24h"))
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	to := time.Now().UTC()
	from := to.Add(-window)

	stats, err := h.svc.Stats(c.Request.Context(), c.Param("id"), from, to, bucket)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":  from,
		"to":    to,
		"stats": stats,
	})
}

// Replay re-sends one delivery's payload immediately and returns the new row.
func (h *DeliveryHandler) Replay(c *gin.Context) {
	d, err := h.dispatcher.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.Error(apperrors.NewNotFound("delivery not found"))
			return
		}
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, d)
}

// RetryFailed re-enqueues every dead delivery chain of the webhook.
func (h *DeliveryHandler) RetryFailed(c *gin.Context) {
	count, err := h.dispatcher.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"re_enqueued": count})
}

func statsWindow(preset string) (window, bucket time.Duration, err error) {
	switch preset {
	case "1h":
		return time.Hour, 5 * time.Minute, nil
	case "6h":
		return 6 * time.Hour, 15 * time.Minute, nil
	case "24h":
		return 24 * time.Hour, time.Hour, nil
	case "7d":
		return 7 * 24 * time.Hour, 6 * time.Hour, nil
	default:
		return 0, 0, errors.New("window must be one of 1h, 6h, 24h, 7d")
	}
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
