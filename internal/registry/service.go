package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/logger"
)

var ErrNotFound = errors.New("webhook not found")

// Store is the persistence contract behind the registry. The gorm-backed
// repository and the in-memory fallback both satisfy it.
type Store interface {
	List(ctx context.Context, workspaceID string) ([]*model.Webhook, error)
	Get(ctx context.Context, id string) (*model.Webhook, error)
	Create(ctx context.Context, hook *model.Webhook) error
	Update(ctx context.Context, hook *model.Webhook) error
	Delete(ctx context.Context, id string) error
	ActiveForEvent(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error)
	SetActiveAll(ctx context.Context, workspaceID string, active bool) (int64, error)
	RecordAdminAction(ctx context.Context, action *model.AdminAction) error
	ListAdminActions(ctx context.Context, workspaceID string, limit int) ([]*model.AdminAction, error)
}

type CreateRequest struct {
	Name          string   `json:"name" binding:"required"`
	URL           string   `json:"url" binding:"required"`
	Method        string   `json:"method"`
	SigningSecret string   `json:"signing_secret"`
	Events        []string `json:"events"`
	Active        *bool    `json:"active"`
}

type UpdateRequest struct {
	Name          *string  `json:"name"`
	URL           *string  `json:"url"`
	Method        *string  `json:"method"`
	SigningSecret *string  `json:"signing_secret"`
	Events        []string `json:"events"`
	Active        *bool    `json:"active"`
}

// Service 负责 webhook 的增删改查与批量启停；
// 调度引擎只读取它的 ActiveWebhooksFor 视图。
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) List(ctx context.Context, workspaceID string) ([]*model.Webhook, error) {
	return s.store.List(ctx, workspaceID)
}

func (s *Service) Get(ctx context.Context, id string) (*model.Webhook, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, workspaceID string, req CreateRequest) (*model.Webhook, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = "POST"
	}
	if method != "POST" && method != "PUT" {
		return nil, fmt.Errorf("unsupported method %q", req.Method)
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return nil, fmt.Errorf("url must be http or https")
	}

	events := req.Events
	if len(events) == 0 {
		events = []string{"*"}
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	hook := &model.Webhook{
		ID:            uuid.New().String(),
		WorkspaceID:   workspaceID,
		Name:          req.Name,
		URL:           req.URL,
		Method:        method,
		Active:        active,
		SigningSecret: req.SigningSecret,
		Events:        events,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*model.Webhook, error) {
	hook, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		hook.Name = *req.Name
	}
	if req.URL != nil {
		if !strings.HasPrefix(*req.URL, "http://") && !strings.HasPrefix(*req.URL, "https://") {
			return nil, fmt.Errorf("url must be http or https")
		}
		hook.URL = *req.URL
	}
	if req.Method != nil {
		hook.Method = strings.ToUpper(strings.TrimSpace(*req.Method))
	}
	if req.SigningSecret != nil {
		hook.SigningSecret = *req.SigningSecret
	}
	if req.Events != nil {
		hook.Events = req.Events
	}
	if req.Active != nil {
		hook.Active = *req.Active
	}
	hook.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// Toggle flips the active flag and returns the new state.
func (s *Service) Toggle(ctx context.Context, id string) (*model.Webhook, error) {
	hook, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	hook.Active = !hook.Active
	hook.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// ActiveWebhooksFor is the dispatch engine's only read: active hooks of the
// workspace whose subscriptions cover eventType (or "*").
func (s *Service) ActiveWebhooksFor(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error) {
	return s.store.ActiveForEvent(ctx, workspaceID, eventType)
}

// BulkSetActive enables or disables every webhook in a workspace and
// records one audited admin action carrying the operator's reason.
func (s *Service) BulkSetActive(ctx context.Context, workspaceID string, active bool, reason string) (int64, error) {
	affected, err := s.store.SetActiveAll(ctx, workspaceID, active)
	if err != nil {
		return 0, err
	}
	actionName := "bulk_disable"
	if active {
		actionName = "bulk_enable"
	}
	action := &model.AdminAction{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Action:      actionName,
		Reason:      reason,
		Affected:    int(affected),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.RecordAdminAction(ctx, action); err != nil {
		// 审计写失败是基础设施故障，批量操作本身已生效
		logger.Error("failed to record admin action", "workspace_id", workspaceID, "error", err)
	}
	return affected, nil
}

func (s *Service) AdminActions(ctx context.Context, workspaceID string, limit int) ([]*model.AdminAction, error) {
	return s.store.ListAdminActions(ctx, workspaceID, limit)
}
