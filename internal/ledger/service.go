package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/tradehook/hookgate/internal/model"
)

// Repo is the durable store for delivery attempt rows. Rows are immutable
// once written; retries and replays append new rows.
type Repo interface {
	Insert(ctx context.Context, d *model.Delivery) error
	Get(ctx context.Context, id string) (*model.Delivery, error)
	List(ctx context.Context, q model.DeliveryQuery) ([]*model.Delivery, int64, error)
	ListWindow(ctx context.Context, webhookID string, from, to time.Time) ([]*model.Delivery, error)
	FailedChains(ctx context.Context, webhookID string) ([]*model.Delivery, error)
}

// Service 提供投递台账的查询与聚合视图
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, id string) (*model.Delivery, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, q model.DeliveryQuery) ([]*model.Delivery, int64, error) {
	return s.repo.List(ctx, q)
}

// Stats aggregates one webhook's attempts over [from, to): counts,
// nearest-rank p50/p95 latency, response-code histogram and a time-bucketed
// series of {p50, p95, success rate} for charting.
func (s *Service) Stats(ctx context.Context, webhookID string, from, to time.Time, bucket time.Duration) (*model.DeliveryStats, error) {
	rows, err := s.repo.ListWindow(ctx, webhookID, from, to)
	if err != nil {
		return nil, err
	}

	stats := &model.DeliveryStats{
		Histogram: map[string]int{"2xx": 0, "3xx": 0, "4xx": 0, "5xx": 0, "other": 0},
	}

	times := make([]int64, 0, len(rows))
	for _, d := range rows {
		stats.Count++
		if d.Status == model.DeliveryFailed {
			stats.FailedCount++
		}
		stats.Histogram[codeBucket(d.ResponseCode)]++
		times = append(times, d.ResponseTimeMs)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	stats.P50Ms = Percentile(times, 50)
	stats.P95Ms = Percentile(times, 95)

	if bucket > 0 {
		stats.Series = buildSeries(rows, from, to, bucket)
	}
	return stats, nil
}

// Percentile computes the nearest-rank percentile over an ascending-sorted
// slice: the value at index ceil(p/100*N)-1. For [10,20,30,40,50] p50 is 30.
func Percentile(sorted []int64, p int) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := (p*n + 99) / 100 // ceil(p*n/100)
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

func buildSeries(rows []*model.Delivery, from, to time.Time, bucket time.Duration) []model.StatsBucket {
	var series []model.StatsBucket
	for start := from; start.Before(to); start = start.Add(bucket) {
		end := start.Add(bucket)
		var times []int64
		var count, sent int
		for _, d := range rows {
			if d.CreatedAt.Before(start) || !d.CreatedAt.Before(end) {
				continue
			}
			count++
			if d.Status == model.DeliverySent {
				sent++
			}
			times = append(times, d.ResponseTimeMs)
		}
		b := model.StatsBucket{Start: start, Count: count}
		if count > 0 {
			sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
			b.P50Ms = Percentile(times, 50)
			b.P95Ms = Percentile(times, 95)
			b.SuccessRate = float64(sent) / float64(count)
		}
		series = append(series, b)
	}
	return series
}

func codeBucket(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
