package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tradehook/hookgate/internal/model"
)

// MemoryStore 内存实现，未配置数据库时使用；重启即丢失
type MemoryStore struct {
	mu      sync.RWMutex
	hooks   map[string]*model.Webhook
	actions []*model.AdminAction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hooks: make(map[string]*model.Webhook)}
}

func (s *MemoryStore) List(ctx context.Context, workspaceID string) ([]*model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*model.Webhook
	for _, h := range s.hooks {
		if h.WorkspaceID == workspaceID {
			clone := *h
			results = append(results, &clone)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *h
	return &clone, nil
}

func (s *MemoryStore) Create(ctx context.Context, hook *model.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *hook
	s.hooks[hook.ID] = &clone
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, hook *model.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[hook.ID]; !ok {
		return ErrNotFound
	}
	clone := *hook
	s.hooks[hook.ID] = &clone
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[id]; !ok {
		return ErrNotFound
	}
	delete(s.hooks, id)
	return nil
}

func (s *MemoryStore) ActiveForEvent(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*model.Webhook
	for _, h := range s.hooks {
		if h.WorkspaceID == workspaceID && h.Active && h.Events.Contains(eventType) {
			clone := *h
			results = append(results, &clone)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func (s *MemoryStore) SetActiveAll(ctx context.Context, workspaceID string, active bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	now := time.Now().UTC()
	for _, h := range s.hooks {
		if h.WorkspaceID == workspaceID && h.Active != active {
			h.Active = active
			h.UpdatedAt = now
			affected++
		}
	}
	return affected, nil
}

func (s *MemoryStore) RecordAdminAction(ctx context.Context, action *model.AdminAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *action
	s.actions = append(s.actions, &clone)
	return nil
}

func (s *MemoryStore) ListAdminActions(ctx context.Context, workspaceID string, limit int) ([]*model.AdminAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var results []*model.AdminAction
	for i := len(s.actions) - 1; i >= 0 && len(results) < limit; i-- {
		if s.actions[i].WorkspaceID == workspaceID {
			clone := *s.actions[i]
			results = append(results, &clone)
		}
	}
	return results, nil
}
