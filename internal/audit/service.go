package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/logger"
	"github.com/tradehook/hookgate/internal/pkg/metrics"
)

// Repo is the durable store behind the trail. Records are append-only:
// no update or delete path exists besides retention cleanup.
type Repo interface {
	Insert(ctx context.Context, event *model.GuardrailEvent) error
	List(ctx context.Context, botInstanceID string, limit int, from, to *time.Time) ([]*model.GuardrailEvent, error)
}

// Service 异步落盘风控审计事件。写失败属于基础设施故障：
// 计入独立的指标并打错误日志，但绝不反过来影响风控判定。
type Service struct {
	logChan chan *model.GuardrailEvent
	buffer  *ringBuffer
	repo    Repo
	done    chan struct{}
}

func NewService(repo Repo) *Service {
	svc := &Service{
		logChan: make(chan *model.GuardrailEvent, 1000),
		buffer:  newRingBuffer(1000),
		repo:    repo,
		done:    make(chan struct{}),
	}
	go svc.processEvents()
	return svc
}

// Record appends one guardrail decision to the trail.
func (s *Service) Record(botInstanceID string, typ model.GuardrailEventType, detail map[string]interface{}) {
	event := &model.GuardrailEvent{
		ID:            uuid.New().String(),
		BotInstanceID: botInstanceID,
		Type:          typ,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
	s.buffer.Add(event)
	select {
	case s.logChan <- event:
	default:
		// 缓冲区满：丢弃以保护主流程，同时必须可观测
		metrics.AuditDropped.Inc()
		logger.Error("audit buffer full, dropping guardrail event",
			"bot_instance_id", botInstanceID, "type", string(typ))
	}
}

func (s *Service) List(ctx context.Context, botInstanceID string, limit int, from, to *time.Time) ([]*model.GuardrailEvent, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, botInstanceID, limit, from, to)
		if err == nil {
			return records, nil
		}
		logger.Error("audit repo list failed, falling back to buffer", "error", err)
	}
	return s.buffer.List(botInstanceID, limit), nil
}

func (s *Service) processEvents() {
	defer close(s.done)
	for event := range s.logChan {
		if s.repo == nil {
			continue
		}
		if err := s.repo.Insert(context.Background(), event); err != nil {
			metrics.AuditWriteFailures.Inc()
			logger.Error("failed to persist guardrail event",
				"bot_instance_id", event.BotInstanceID, "type", string(event.Type), "error", err)
		}
	}
}

// Close drains the channel consumer.
func (s *Service) Close() {
	close(s.logChan)
	<-s.done
}

type ringBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.GuardrailEvent
	nextIndex int
}

func newRingBuffer(maxSize int) *ringBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ringBuffer{
		maxSize: maxSize,
		records: make([]*model.GuardrailEvent, 0, maxSize),
	}
}

func (b *ringBuffer) Add(event *model.GuardrailEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, event)
		return
	}
	b.records[b.nextIndex] = event
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

func (b *ringBuffer) List(botInstanceID string, limit int) []*model.GuardrailEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.GuardrailEvent, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		event := b.records[idx]
		if event == nil {
			continue
		}
		if botInstanceID != "" && event.BotInstanceID != botInstanceID {
			continue
		}
		results = append(results, event)
		if len(results) >= limit {
			break
		}
	}
	return results
}
