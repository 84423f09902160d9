package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tradehook/hookgate/internal/model"
)

var ErrNotFound = errors.New("delivery not found")

// MemoryStore 内存台账，未配置数据库时使用
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*model.Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, d *model.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.rows = append(s.rows, &clone)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.rows {
		if d.ID == id {
			clone := *d
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) List(ctx context.Context, q model.DeliveryQuery) ([]*model.Delivery, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Delivery
	for _, d := range s.rows {
		if !matches(d, q) {
			continue
		}
		clone := *d
		matched = append(matched, &clone)
	}

	sortRows(matched, q.SortBy, q.SortDesc)
	total := int64(len(matched))

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListWindow(ctx context.Context, webhookID string, from, to time.Time) ([]*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []*model.Delivery
	for _, d := range s.rows {
		if d.WebhookID != webhookID || d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		clone := *d
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func (s *MemoryStore) FailedChains(ctx context.Context, webhookID string) ([]*model.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]*model.Delivery)
	succeeded := make(map[string]bool)
	for _, d := range s.rows {
		if d.WebhookID != webhookID {
			continue
		}
		if d.Status == model.DeliverySent {
			succeeded[d.CorrelationID] = true
		}
		if cur, ok := latest[d.CorrelationID]; !ok || d.Attempt > cur.Attempt {
			latest[d.CorrelationID] = d
		}
	}

	var results []*model.Delivery
	for corrID, d := range latest {
		if succeeded[corrID] {
			continue
		}
		clone := *d
		results = append(results, &clone)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.Before(results[j].CreatedAt) })
	return results, nil
}

func matches(d *model.Delivery, q model.DeliveryQuery) bool {
	if d.WebhookID != q.WebhookID {
		return false
	}
	if q.Status != "" && d.Status != q.Status {
		return false
	}
	if q.CodeMin > 0 && d.ResponseCode < q.CodeMin {
		return false
	}
	if q.CodeMax > 0 && d.ResponseCode > q.CodeMax {
		return false
	}
	if q.TimeMinMs > 0 && d.ResponseTimeMs < q.TimeMinMs {
		return false
	}
	if q.TimeMaxMs > 0 && d.ResponseTimeMs > q.TimeMaxMs {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(d.LastError), needle) &&
			!strings.Contains(strings.ToLower(d.ResponseBody), needle) {
			return false
		}
	}
	if q.From != nil && d.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && d.CreatedAt.After(*q.To) {
		return false
	}
	return true
}

func sortRows(rows []*model.Delivery, sortBy string, desc bool) {
	less := func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) }
	switch sortBy {
	case "response_time_ms":
		less = func(i, j int) bool { return rows[i].ResponseTimeMs < rows[j].ResponseTimeMs }
	case "response_code":
		less = func(i, j int) bool { return rows[i].ResponseCode < rows[j].ResponseCode }
	case "attempt":
		less = func(i, j int) bool { return rows[i].Attempt < rows[j].Attempt }
	}
	if desc {
		inner := less
		less = func(i, j int) bool { return inner(j, i) }
	}
	sort.SliceStable(rows, less)
}
