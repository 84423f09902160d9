package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tradehook/hookgate/internal/dispatch"
	"github.com/tradehook/hookgate/internal/pkg/apperrors"
	"github.com/tradehook/hookgate/internal/registry"
	"github.com/tradehook/hookgate/internal/repository"
)

type WebhookHandler struct {
	svc        *registry.Service
	dispatcher *dispatch.Engine
}

func NewWebhookHandler(svc *registry.Service, dispatcher *dispatch.Engine) *WebhookHandler {
	return &WebhookHandler{svc: svc, dispatcher: dispatcher}
}

func (h *WebhookHandler) List(c *gin.Context) {
	hooks, err := h.svc.List(c.Request.Context(), c.Param("ws"))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": hooks})
}

func (h *WebhookHandler) Create(c *gin.Context) {
	var req registry.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	hook, err := h.svc.Create(c.Request.Context(), c.Param("ws"), req)
	if err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, hook)
}

func (h *WebhookHandler) Update(c *gin.Context) {
	var req registry.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	hook, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.webhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (h *WebhookHandler) Toggle(c *gin.Context) {
	hook, err := h.svc.Toggle(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.webhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, hook)
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.webhookError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type bulkRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

// Bulk enables or disables every webhook in the workspace; the operator's
// reason lands in the admin action log.
func (h *WebhookHandler) Bulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	affected, err := h.svc.BulkSetActive(c.Request.Context(), c.Param("ws"), req.Active, req.Reason)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"affected": affected, "active": req.Active})
}

// Test fires a synthetic event at every active webhook of the workspace.
func (h *WebhookHandler) Test(c *gin.Context) {
	enqueued, err := h.dispatcher.SendTestEvent(c.Request.Context(), c.Param("ws"))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"deliveries_enqueued": enqueued})
}

func (h *WebhookHandler) AdminActions(c *gin.Context) {
	actions, err := h.svc.AdminActions(c.Request.Context(), c.Param("ws"), parseIntDefault(c.Query("limit"), 100))
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (h *WebhookHandler) webhookError(c *gin.Context, err error) {
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, repository.ErrWebhookNotFound) {
		c.Error(apperrors.NewNotFound("webhook not found"))
		return
	}
	c.Error(apperrors.Wrap(err))
}
