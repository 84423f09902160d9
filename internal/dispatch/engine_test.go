package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/model"
)

type stubRegistry struct {
	hooks map[string]*model.Webhook
}

func (s *stubRegistry) ActiveWebhooksFor(ctx context.Context, workspaceID, eventType string) ([]*model.Webhook, error) {
	var matched []*model.Webhook
	for _, h := range s.hooks {
		if h.WorkspaceID == workspaceID && h.Active && h.Events.Contains(eventType) {
			matched = append(matched, h)
		}
	}
	return matched, nil
}

func (s *stubRegistry) Get(ctx context.Context, id string) (*model.Webhook, error) {
	h, ok := s.hooks[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return h, nil
}

func fastConfig() config.DispatchConfig {
	return config.DispatchConfig{
		TimeoutMs:     2000,
		MaxAttempts:   3,
		BackoffBaseMs: 1,
		BackoffMaxMs:  5,
		Workers:       4,
		QueueSize:     64,
	}
}

func newTestEngine(t *testing.T, url string, cfg config.DispatchConfig) (*Engine, *ledger.MemoryStore) {
	t.Helper()
	reg := &stubRegistry{hooks: map[string]*model.Webhook{
		"wh-1": {
			ID:            "wh-1",
			WorkspaceID:   "ws-1",
			URL:           url,
			Active:        true,
			SigningSecret: "hook-secret",
			Events:        model.EventList{"*"},
		},
	}}
	store := ledger.NewMemoryStore()
	e := NewEngine(reg, store, cfg)
	t.Cleanup(e.Close)
	return e, store
}

func TestDispatchDeliversAndSigns(t *testing.T) {
	var gotSig, gotEvent, gotAttempt string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-HookGate-Signature")
		gotEvent = r.Header.Get("X-HookGate-Event")
		gotAttempt = r.Header.Get("X-HookGate-Attempt")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())

	enqueued, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{
		BotInstanceID: "bot-1",
		Signal:        "buy",
		Price:         "10",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
	e.Wait()

	rows, total, err := store.List(context.Background(), model.DeliveryQuery{WebhookID: "wh-1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, model.DeliverySent, rows[0].Status)
	assert.Equal(t, 200, rows[0].ResponseCode)
	assert.Equal(t, 1, rows[0].Attempt)

	assert.Equal(t, "alert", gotEvent)
	assert.Equal(t, "1", gotAttempt)

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestDispatchRetriesShareCorrelation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())

	_, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{Signal: "buy"})
	require.NoError(t, err)
	e.Wait()

	rows, total, err := store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		SortBy:    "attempt",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	for i, d := range rows {
		assert.Equal(t, model.DeliveryFailed, d.Status)
		assert.Equal(t, i+1, d.Attempt)
		assert.Equal(t, rows[0].CorrelationID, d.CorrelationID)
		assert.Equal(t, "HTTP 500", d.LastError)
	}
}

func TestDispatchEventualSuccessStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())

	_, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{Signal: "sell"})
	require.NoError(t, err)
	e.Wait()

	rows, total, err := store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		SortBy:    "attempt",
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	assert.Equal(t, model.DeliveryFailed, rows[0].Status)
	assert.Equal(t, model.DeliveryFailed, rows[1].Status)
	assert.Equal(t, model.DeliverySent, rows[2].Status)

	dead, err := store.FailedChains(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestDispatchClientErrorsFlagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	e, store := newTestEngine(t, srv.URL, cfg)

	_, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{})
	require.NoError(t, err)
	e.Wait()

	rows, _, err := store.List(context.Background(), model.DeliveryQuery{WebhookID: "wh-1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DeliveryFailed, rows[0].Status)
	assert.Equal(t, "client_error: HTTP 404", rows[0].LastError)
}

func TestReplayCreatesFreshChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())
	require.NoError(t, store.Insert(context.Background(), &model.Delivery{
		ID:            "orig",
		WebhookID:     "wh-1",
		CorrelationID: "chain-orig",
		EventType:     "alert",
		Status:        model.DeliveryFailed,
		Attempt:       3,
		Payload:       `{"signal":"buy"}`,
		CreatedAt:     time.Now().UTC(),
	}))

	replayed, err := e.Replay(context.Background(), "orig")
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, replayed.Status)
	assert.Equal(t, `{"signal":"buy"}`, replayed.Payload)
	assert.Equal(t, 1, replayed.Attempt)
	assert.NotEqual(t, "chain-orig", replayed.CorrelationID)

	// 原始行不可变
	orig, err := store.Get(context.Background(), "orig")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, orig.Status)
}

func TestReplayUnknownDelivery(t *testing.T) {
	e, _ := newTestEngine(t, "http://127.0.0.1:0", fastConfig())
	_, err := e.Replay(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRetryFailedContinuesAttemptNumbering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())
	require.NoError(t, store.Insert(context.Background(), &model.Delivery{
		ID:            "dead-3",
		WebhookID:     "wh-1",
		CorrelationID: "chain-dead",
		EventType:     "alert",
		Status:        model.DeliveryFailed,
		Attempt:       3,
		Payload:       `{"signal":"close"}`,
		CreatedAt:     time.Now().UTC(),
	}))

	count, err := e.RetryFailed(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	e.Wait()

	rows, _, err := store.List(context.Background(), model.DeliveryQuery{
		WebhookID: "wh-1",
		SortBy:    "attempt",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 4, rows[1].Attempt)
	assert.Equal(t, model.DeliverySent, rows[1].Status)
	assert.Equal(t, "chain-dead", rows[1].CorrelationID)
}

func TestDispatchAfterCloseDropsWithoutPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("closed engine must not deliver")
	}))
	defer srv.Close()

	e, store := newTestEngine(t, srv.URL, fastConfig())
	e.Close()

	_, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{Signal: "buy"})
	require.NoError(t, err)
	e.Wait()

	_, total, err := store.List(context.Background(), model.DeliveryQuery{WebhookID: "wh-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestDispatchQueueSaturationDeliversEverything(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// 单 worker、长度 1 的队列：大部分入队走溢出分支排队等待
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	cfg.MaxAttempts = 1
	e, store := newTestEngine(t, srv.URL, cfg)

	const n = 12
	for i := 0; i < n; i++ {
		_, err := e.Dispatch(context.Background(), "ws-1", "alert", model.AlertEvent{Signal: "buy"})
		require.NoError(t, err)
	}
	e.Wait()

	assert.Equal(t, int32(n), calls.Load())
	_, total, err := store.List(context.Background(), model.DeliveryQuery{WebhookID: "wh-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)
}

func TestBackoffCappedExponential(t *testing.T) {
	e := &Engine{cfg: config.DispatchConfig{BackoffBaseMs: 100, BackoffMaxMs: 1000}}
	assert.Equal(t, 100*time.Millisecond, e.backoff(1))
	assert.Equal(t, 200*time.Millisecond, e.backoff(2))
	assert.Equal(t, 800*time.Millisecond, e.backoff(4))
	assert.Equal(t, time.Second, e.backoff(5))
	assert.Equal(t, time.Second, e.backoff(40))
}

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte("payload"), "secret")
	assert.Equal(t, 71, len(sig)) // "sha256=" + 64 hex chars
	assert.Equal(t, "sha256=", sig[:7])
}
