package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehook/hookgate/internal/audit"
	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/dispatch"
	"github.com/tradehook/hookgate/internal/guardrail"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/middleware"
	"github.com/tradehook/hookgate/internal/model"
	"github.com/tradehook/hookgate/internal/registry"
	"github.com/tradehook/hookgate/internal/venue"
)

type alertFixture struct {
	router    *gin.Engine
	engine    *dispatch.Engine
	store     *ledger.MemoryStore
	auditor   *audit.Service
	webhookID string
}

func fptr(v float64) *float64 { return &v }

func newAlertFixture(t *testing.T, receiverURL string) *alertFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Guardrail: config.GuardrailConfig{RateQPS: 1000, RateBurst: 1000},
		Venues: []config.VenueConfig{
			{ID: "binance", PriceTick: fptr(0.5), QtyStep: fptr(1), MinNotional: fptr(10)},
		},
		Bots: []config.BotConfig{
			{ID: "bot-1", WorkspaceID: "ws-1", Secret: "s3cret"},
		},
	}

	bots := guardrail.NewManager(cfg)
	auditor := audit.NewService(nil)
	t.Cleanup(auditor.Close)
	evaluator := guardrail.NewEvaluator(bots, venue.NewCatalog(cfg.Venues), guardrail.NewMemoryLossStore(), auditor)

	registrySvc := registry.NewService(registry.NewMemoryStore())
	var webhookID string
	if receiverURL != "" {
		hook, err := registrySvc.Create(context.Background(), "ws-1", registry.CreateRequest{
			Name: "receiver", URL: receiverURL,
		})
		require.NoError(t, err)
		webhookID = hook.ID
	}

	store := ledger.NewMemoryStore()
	engine := dispatch.NewEngine(registrySvc, store, config.DispatchConfig{
		TimeoutMs: 2000, MaxAttempts: 1, BackoffBaseMs: 1, BackoffMaxMs: 5, Workers: 2, QueueSize: 16,
	})
	t.Cleanup(engine.Close)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	h := NewAlertHandler(evaluator, bots, engine)
	r.POST("/v1/alerts", h.HandleAlert)
	r.POST("/v1/losses", h.ReportLoss)

	return &alertFixture{router: r, engine: engine, store: store, auditor: auditor, webhookID: webhookID}
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleAlertAcceptedDispatchesNormalizedPayload(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		received <- buf.Bytes()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fx := newAlertFixture(t, srv.URL)
	w := postJSON(t, fx.router, "/v1/alerts", model.AlertRequest{
		BotInstanceID: "bot-1",
		VenueID:       "binance",
		Symbol:        "BTCUSDT",
		Signal:        "buy",
		Price:         10.3,
		Qty:           1.7,
		Secret:        "s3cret",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "10", resp["normalized_price"])
	assert.Equal(t, "1", resp["normalized_qty"])
	assert.Equal(t, float64(1), resp["deliveries_enqueued"])

	fx.engine.Wait()

	// 出站载荷只携带归一化后的值
	var event model.AlertEvent
	require.NoError(t, json.Unmarshal(<-received, &event))
	assert.Equal(t, "ws-1", event.WorkspaceID)
	assert.Equal(t, "10", event.Price)
	assert.Equal(t, "1", event.Qty)
	assert.Equal(t, "10", event.Notional)

	rows, _, err := fx.store.List(context.Background(), model.DeliveryQuery{WebhookID: fx.webhookID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DeliverySent, rows[0].Status)
}

func TestHandleAlertRejectionStatusCodes(t *testing.T) {
	fx := newAlertFixture(t, "")

	// 签名错误 → 401
	w := postJSON(t, fx.router, "/v1/alerts", model.AlertRequest{
		BotInstanceID: "bot-1",
		VenueID:       "binance",
		Secret:        "wrong",
		Price:         100, Qty: 1,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 场所约束 → 400
	w = postJSON(t, fx.router, "/v1/alerts", model.AlertRequest{
		BotInstanceID: "bot-1",
		VenueID:       "binance",
		Secret:        "s3cret",
		Price:         9.9, Qty: 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var decision model.Decision
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
	assert.False(t, decision.Accepted)
	assert.Equal(t, model.EventGuardrailViolation, decision.Reason)
}

func TestHandleAlertRejectedProducesNoDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("rejected alert must not reach any webhook")
	}))
	defer srv.Close()

	fx := newAlertFixture(t, srv.URL)
	w := postJSON(t, fx.router, "/v1/alerts", model.AlertRequest{
		BotInstanceID: "bot-1",
		VenueID:       "binance",
		Secret:        "wrong",
		Price:         100, Qty: 1,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	fx.engine.Wait()

	rows, total, err := fx.store.List(context.Background(), model.DeliveryQuery{WebhookID: fx.webhookID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, rows)
}

func TestHandleAlertMissingBotID(t *testing.T) {
	fx := newAlertFixture(t, "")
	w := postJSON(t, fx.router, "/v1/alerts", map[string]interface{}{"price": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportLoss(t *testing.T) {
	fx := newAlertFixture(t, "")
	w := postJSON(t, fx.router, "/v1/losses", model.LossReport{
		BotInstanceID: "bot-1",
		Loss:          42.5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recorded")
}
