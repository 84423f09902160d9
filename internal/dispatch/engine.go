package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/pkg/logger"
	"github.com/tradehook/hookgate/internal/pkg/metrics"
)

const maxCapturedBody = 4096

// Registry is the engine's read-only view of the webhook registry.
type Registry interface {
	ActiveWebhooksFor(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error)
	Get(ctx context.Context, id string) (*model.Webhook, error)
}

// Engine 负责把已通过风控的事件并发扇出到所有匹配的 webhook。
// 每次尝试都写一行不可变的台账记录；失败按指数退避重试，
// 重试耗尽后停在 failed 状态等待人工 replay / retry。
type Engine struct {
	registry Registry
	ledger   ledger.Repo
	cfg      config.DispatchConfig
	client   *http.Client
	tasks    chan deliveryTask
	workers  sync.WaitGroup
	pending  sync.WaitGroup
	closed   atomic.Bool
}

type deliveryTask struct {
	webhook       *model.Webhook
	eventType     string
	payload       []byte
	correlationID string
	attempt       int
	maxAttempt    int
}

func NewEngine(reg Registry, ledgerRepo ledger.Repo, cfg config.DispatchConfig) *Engine {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 500
	}
	if cfg.BackoffMaxMs <= 0 {
		cfg.BackoffMaxMs = 60000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	e := &Engine{
		registry: reg,
		ledger:   ledgerRepo,
		cfg:      cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		tasks: make(chan deliveryTask, cfg.QueueSize),
	}

	for i := 0; i < cfg.Workers; i++ {
		e.workers.Add(1)
		go e.worker()
	}
	return e
}

// Dispatch fans the event out to every matching active webhook and returns
// how many deliveries were enqueued. The HTTP attempts happen on the
// worker pool; the caller never blocks on them.
func (e *Engine) Dispatch(ctx context.Context, workspaceID, eventType string, event model.AlertEvent) (int, error) {
	targets, err := e.registry.ActiveWebhooksFor(ctx, workspaceID, eventType)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve webhooks: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}
	for _, hook := range targets {
		e.enqueue(deliveryTask{
			webhook:       hook,
			eventType:     eventType,
			payload:       payload,
			correlationID: uuid.New().String(),
			attempt:       1,
			maxAttempt:    e.cfg.MaxAttempts,
		})
	}
	return len(targets), nil
}

// SendTestEvent delivers a synthetic payload to every active webhook of the
// workspace, exercising the full pipeline.
func (e *Engine) SendTestEvent(ctx context.Context, workspaceID string) (int, error) {
	event := model.AlertEvent{
		WorkspaceID: workspaceID,
		Signal:      "test",
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}
	return e.Dispatch(ctx, workspaceID, "test", event)
}

// Replay re-sends one historical delivery's payload immediately, outside
// the retry scheduler: a single synchronous attempt on a fresh correlation
// chain, recorded as a new row. The original row is never touched.
func (e *Engine) Replay(ctx context.Context, deliveryID string) (*model.Delivery, error) {
	orig, err := e.ledger.Get(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	hook, err := e.registry.Get(ctx, orig.WebhookID)
	if err != nil {
		return nil, err
	}
	e.pending.Add(1)
	return e.attempt(deliveryTask{
		webhook:       hook,
		eventType:     orig.EventType,
		payload:       []byte(orig.Payload),
		correlationID: uuid.New().String(),
		attempt:       1,
		maxAttempt:    1, // no automatic retries out of band
	}), nil
}

// RetryFailed re-enqueues every correlation chain of the webhook that is
// still terminally failed, continuing each chain's attempt numbering with
// a fresh retry budget.
func (e *Engine) RetryFailed(ctx context.Context, webhookID string) (int, error) {
	hook, err := e.registry.Get(ctx, webhookID)
	if err != nil {
		return 0, err
	}
	dead, err := e.ledger.FailedChains(ctx, webhookID)
	if err != nil {
		return 0, err
	}
	for _, d := range dead {
		e.enqueue(deliveryTask{
			webhook:       hook,
			eventType:     d.EventType,
			payload:       []byte(d.Payload),
			correlationID: d.CorrelationID,
			attempt:       d.Attempt + 1,
			maxAttempt:    d.Attempt + e.cfg.MaxAttempts,
		})
	}
	return len(dead), nil
}

// Wait blocks until every enqueued delivery, including scheduled retries,
// has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Close drains in-flight work and stops the workers.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.pending.Wait()
	close(e.tasks)
	e.workers.Wait()
}

func (e *Engine) enqueue(t deliveryTask) {
	if e.closed.Load() {
		// 引擎已关闭：丢弃并记录，绝不能向已关闭的通道发送
		logger.Error("dispatch engine closed, dropping delivery",
			"webhook_id", t.webhook.ID, "correlation_id", t.correlationID, "attempt", t.attempt)
		return
	}
	e.pending.Add(1)
	metrics.DispatchQueueDepth.Inc()
	select {
	case e.tasks <- t:
	default:
		// 队列满时排队等待，而不是丢弃
		go func() { e.tasks <- t }()
	}
}

func (e *Engine) worker() {
	defer e.workers.Done()
	for t := range e.tasks {
		metrics.DispatchQueueDepth.Dec()
		e.attempt(t)
	}
}

// attempt performs one HTTP delivery, records its ledger row and schedules
// the next retry when the attempt failed inside the budget.
func (e *Engine) attempt(t deliveryTask) *model.Delivery {
	defer e.pending.Done()

	d := e.doRequest(t)

	if err := e.ledger.Insert(context.Background(), d); err != nil {
		// 台账写失败是基础设施故障，必须独立上报，不影响投递流程
		metrics.LedgerWriteFailures.Inc()
		logger.Error("failed to persist delivery attempt",
			"webhook_id", t.webhook.ID, "correlation_id", t.correlationID, "error", err)
	}

	metrics.DeliveriesTotal.WithLabelValues(string(d.Status)).Inc()
	metrics.DeliveryLatency.WithLabelValues(t.webhook.ID).Observe(float64(d.ResponseTimeMs) / 1000)

	if d.Status == model.DeliveryFailed && t.attempt < t.maxAttempt {
		next := t
		next.attempt = t.attempt + 1
		e.pending.Add(1)
		metrics.DispatchQueueDepth.Inc()
		time.AfterFunc(e.backoff(t.attempt), func() {
			e.tasks <- next
		})
	}
	return d
}

func (e *Engine) doRequest(t deliveryTask) *model.Delivery {
	d := &model.Delivery{
		ID:            uuid.New().String(),
		WebhookID:     t.webhook.ID,
		CorrelationID: t.correlationID,
		EventType:     t.eventType,
		Attempt:       t.attempt,
		Payload:       string(t.payload),
		CreatedAt:     time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(e.cfg.TimeoutMs)*time.Millisecond)
	defer cancel()

	method := t.webhook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, t.webhook.URL, bytes.NewReader(t.payload))
	if err != nil {
		d.Status = model.DeliveryFailed
		d.LastError = fmt.Sprintf("invalid request: %v", err)
		return d
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-HookGate-Event", t.eventType)
	req.Header.Set("X-HookGate-Delivery", t.correlationID)
	req.Header.Set("X-HookGate-Attempt", fmt.Sprintf("%d", t.attempt))
	if t.webhook.SigningSecret != "" {
		req.Header.Set("X-HookGate-Signature", Sign(t.payload, t.webhook.SigningSecret))
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	d.ResponseTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		// 超时或网络错误，可重试
		d.Status = model.DeliveryFailed
		d.LastError = fmt.Sprintf("network: %v", err)
		return d
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	d.ResponseCode = resp.StatusCode
	d.ResponseBody = string(body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.Status = model.DeliverySent
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// 对端可能只是暂时配错了，仍然重试，但单独标记
		d.Status = model.DeliveryFailed
		d.LastError = fmt.Sprintf("client_error: HTTP %d", resp.StatusCode)
	default:
		d.Status = model.DeliveryFailed
		d.LastError = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return d
}

func (e *Engine) backoff(attempt int) time.Duration {
	base := time.Duration(e.cfg.BackoffBaseMs) * time.Millisecond
	max := time.Duration(e.cfg.BackoffMaxMs) * time.Millisecond
	d := base << (attempt - 1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Sign computes the hex HMAC-SHA256 payload signature receivers use to
// authenticate deliveries.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
