package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehook/hookgate/internal/model"
)

func TestPercentile(t *testing.T) {
	assert.Equal(t, int64(0), Percentile(nil, 50))
	assert.Equal(t, int64(7), Percentile([]int64{7}, 50))

	sorted := []int64{10, 20, 30, 40, 50}
	assert.Equal(t, int64(30), Percentile(sorted, 50))
	assert.Equal(t, int64(50), Percentile(sorted, 95))
	assert.Equal(t, int64(10), Percentile(sorted, 1))
	assert.Equal(t, int64(50), Percentile(sorted, 100))
}

func seedRow(t *testing.T, store *MemoryStore, id string, status model.DeliveryStatus, code int, ms int64, at time.Time) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &model.Delivery{
		ID:             id,
		WebhookID:      "wh-1",
		CorrelationID:  "corr-" + id,
		EventType:      "alert",
		Status:         status,
		ResponseCode:   code,
		ResponseTimeMs: ms,
		Attempt:        1,
		CreatedAt:      at,
	}))
}

func TestStatsHistogramAndSeries(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	seedRow(t, store, "d1", model.DeliverySent, 200, 10, base.Add(5*time.Minute))
	seedRow(t, store, "d2", model.DeliverySent, 204, 20, base.Add(10*time.Minute))
	seedRow(t, store, "d3", model.DeliveryFailed, 500, 30, base.Add(15*time.Minute))
	seedRow(t, store, "d4", model.DeliveryFailed, 404, 40, base.Add(70*time.Minute))
	seedRow(t, store, "d5", model.DeliveryFailed, 0, 50, base.Add(80*time.Minute))

	svc := NewService(store)
	stats, err := svc.Stats(context.Background(), "wh-1", base, base.Add(2*time.Hour), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, 3, stats.FailedCount)
	assert.Equal(t, 2, stats.Histogram["2xx"])
	assert.Equal(t, 1, stats.Histogram["4xx"])
	assert.Equal(t, 1, stats.Histogram["5xx"])
	assert.Equal(t, 1, stats.Histogram["other"])
	assert.Equal(t, int64(30), stats.P50Ms)
	assert.Equal(t, int64(50), stats.P95Ms)

	require.Len(t, stats.Series, 2)
	first, second := stats.Series[0], stats.Series[1]
	assert.Equal(t, 3, first.Count)
	assert.InDelta(t, 2.0/3.0, first.SuccessRate, 1e-9)
	assert.Equal(t, int64(20), first.P50Ms)
	assert.Equal(t, 2, second.Count)
	assert.Equal(t, float64(0), second.SuccessRate)
}

func TestStatsEmptyWindow(t *testing.T) {
	svc := NewService(NewMemoryStore())
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	stats, err := svc.Stats(context.Background(), "wh-1", from, from.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, int64(0), stats.P50Ms)
	assert.Empty(t, stats.Series)
}

func TestMemoryStoreListFiltersAndPagination(t *testing.T) {
	store := NewMemoryStore()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		status := model.DeliverySent
		code := 200
		lastErr := ""
		if i%2 == 1 {
			status = model.DeliveryFailed
			code = 500
			lastErr = "HTTP 500"
		}
		require.NoError(t, store.Insert(context.Background(), &model.Delivery{
			ID:             fmt.Sprintf("d%d", i),
			WebhookID:      "wh-1",
			CorrelationID:  fmt.Sprintf("c%d", i),
			Status:         status,
			ResponseCode:   code,
			ResponseTimeMs: int64(i * 10),
			LastError:      lastErr,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rows, total, err := store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		Status:    model.DeliveryFailed,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, rows, 5)

	// 搜索命中 last_error
	rows, total, err = store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		Search:    "http 500",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	// 分页与排序
	rows, total, err = store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		SortBy:    "response_time_ms",
		SortDesc:  true,
		Limit:     3,
		Offset:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(80), rows[0].ResponseTimeMs)
}

func TestMemoryStoreFailedChains(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now().UTC()

	// 链 A：两次失败，无成功，应返回最后一次尝试
	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, store.Insert(context.Background(), &model.Delivery{
			ID:            fmt.Sprintf("a%d", attempt),
			WebhookID:     "wh-1",
			CorrelationID: "chain-a",
			Status:        model.DeliveryFailed,
			Attempt:       attempt,
			CreatedAt:     now.Add(time.Duration(attempt) * time.Second),
		}))
	}
	// 链 B：失败后成功，不应出现
	require.NoError(t, store.Insert(context.Background(), &model.Delivery{
		ID: "b1", WebhookID: "wh-1", CorrelationID: "chain-b",
		Status: model.DeliveryFailed, Attempt: 1, CreatedAt: now,
	}))
	require.NoError(t, store.Insert(context.Background(), &model.Delivery{
		ID: "b2", WebhookID: "wh-1", CorrelationID: "chain-b",
		Status: model.DeliverySent, Attempt: 2, CreatedAt: now.Add(time.Second),
	}))

	dead, err := store.FailedChains(context.Background(), "wh-1")
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "chain-a", dead[0].CorrelationID)
	assert.Equal(t, 2, dead[0].Attempt)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
