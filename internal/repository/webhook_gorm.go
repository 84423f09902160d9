package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tradehook/hookgate/internal/model"
	"gorm.io/gorm"
)

var ErrWebhookNotFound = errors.New("webhook not found")

// GormWebhookRepo persists the webhook registry and its admin action log.
type GormWebhookRepo struct {
	db *gorm.DB
}

func NewGormWebhookRepo(db *gorm.DB) (*GormWebhookRepo, error) {
	if err := db.AutoMigrate(&model.Webhook{}, &model.AdminAction{}); err != nil {
		return nil, err
	}
	return &GormWebhookRepo{db: db}, nil
}

func (r *GormWebhookRepo) List(ctx context.Context, workspaceID string) ([]*model.Webhook, error) {
	var hooks []*model.Webhook
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&hooks).Error
	return hooks, err
}

func (r *GormWebhookRepo) Get(ctx context.Context, id string) (*model.Webhook, error) {
	var hook model.Webhook
	err := r.db.WithContext(ctx).First(&hook, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, err
	}
	return &hook, nil
}

func (r *GormWebhookRepo) Create(ctx context.Context, hook *model.Webhook) error {
	return r.db.WithContext(ctx).Create(hook).Error
}

func (r *GormWebhookRepo) Update(ctx context.Context, hook *model.Webhook) error {
	res := r.db.WithContext(ctx).Model(&model.Webhook{}).
		Where("id = ?", hook.ID).
		Select("name", "url", "method", "active", "signing_secret", "events", "updated_at").
		Updates(hook)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (r *GormWebhookRepo) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&model.Webhook{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

// ActiveForEvent returns the active webhooks of a workspace subscribed to
// eventType. Event subscription lives in a JSON text column, so the
// wildcard match happens in memory.
func (r *GormWebhookRepo) ActiveForEvent(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error) {
	var hooks []*model.Webhook
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND active = ?", workspaceID, true).
		Find(&hooks).Error
	if err != nil {
		return nil, err
	}
	matched := hooks[:0]
	for _, h := range hooks {
		if h.Events.Contains(eventType) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

func (r *GormWebhookRepo) SetActiveAll(ctx context.Context, workspaceID string, active bool) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Webhook{}).
		Where("workspace_id = ? AND active = ?", workspaceID, !active).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *GormWebhookRepo) RecordAdminAction(ctx context.Context, action *model.AdminAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *GormWebhookRepo) ListAdminActions(ctx context.Context, workspaceID string, limit int) ([]*model.AdminAction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var actions []*model.AdminAction
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&actions).Error
	return actions, err
}
