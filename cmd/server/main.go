package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tradehook/hookgate/internal/audit"
	"github.com/tradehook/hookgate/internal/config"
	"github.com/tradehook/hookgate/internal/dispatch"
	"github.com/tradehook/hookgate/internal/guardrail"
	"github.com/tradehook/hookgate/internal/handler"
	"github.com/tradehook/hookgate/internal/ledger"
	"github.com/tradehook/hookgate/internal/middleware"
	"github.com/tradehook/hookgate/internal/pkg/logger"
	"github.com/tradehook/hookgate/internal/registry"
	"github.com/tradehook/hookgate/internal/repository"
	"github.com/tradehook/hookgate/internal/venue"
)

func main() {
	// 0. Initialize Logger (level/format from HOOKGATE_LOG_* env)
	logger.Init("")

	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Persistence
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		db, err = repository.NewDB(cfg)
		if err == nil {
			logger.Info("✅ Connected to PostgreSQL")
		} else {
			logger.Error("⚠️ Failed to connect to DB, falling back to memory stores", "error", err)
			db = nil
		}
	}

	// Loss Accumulator (Redis > Postgres > Memory)
	var lossRepo guardrail.LossRepo
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			lossRepo = redisClient
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back", "error", err)
		}
	}
	var pgLossRepo *repository.PostgresLossRepo
	if lossRepo == nil && db != nil {
		pgLossRepo = repository.NewPostgresLossRepo(db)
		lossRepo = pgLossRepo
	}
	if lossRepo == nil {
		lossRepo = guardrail.NewMemoryLossStore()
	}

	// Audit Trail (Postgres > Ring Buffer only)
	var auditRepo audit.Repo
	var pgAuditRepo *repository.PostgresAuditRepo
	if db != nil {
		pgAuditRepo = repository.NewPostgresAuditRepo(db)
		auditRepo = pgAuditRepo
	}

	// Delivery Ledger (Postgres > Memory)
	var ledgerRepo ledger.Repo
	var pgDeliveryRepo *repository.PostgresDeliveryRepo
	if db != nil {
		pgDeliveryRepo = repository.NewPostgresDeliveryRepo(db)
		ledgerRepo = pgDeliveryRepo
	} else {
		ledgerRepo = ledger.NewMemoryStore()
	}

	// Webhook Registry (Gorm > Memory)
	var registryStore registry.Store
	if cfg.Database.DSN != "" {
		gdb, err := repository.NewGormDB(cfg)
		if err == nil {
			store, err := repository.NewGormWebhookRepo(gdb)
			if err == nil {
				registryStore = store
			} else {
				logger.Error("⚠️ Webhook schema migration failed, falling back to memory", "error", err)
			}
		} else {
			logger.Error("⚠️ Failed to open gorm db, webhook registry will be memory-only", "error", err)
		}
	}
	if registryStore == nil {
		registryStore = registry.NewMemoryStore()
	}

	// 3. Initialize Core Services
	botManager := guardrail.NewManager(cfg)
	venueCatalog := venue.NewCatalog(cfg.Venues)

	auditSvc := audit.NewService(auditRepo)
	evaluator := guardrail.NewEvaluator(botManager, venueCatalog, lossRepo, auditSvc)

	registrySvc := registry.NewService(registryStore)
	ledgerSvc := ledger.NewService(ledgerRepo)
	engine := dispatch.NewEngine(registrySvc, ledgerRepo, cfg.Dispatch)

	// 4. Initialize Handlers
	alertHandler := handler.NewAlertHandler(evaluator, botManager, engine)
	botHandler := handler.NewBotHandler(botManager)
	webhookHandler := handler.NewWebhookHandler(registrySvc, engine)
	deliveryHandler := handler.NewDeliveryHandler(ledgerSvc, engine)
	auditHandler := handler.NewAuditHandler(auditSvc)

	// 5. Setup Router
	r := gin.Default()

	// Global Middleware
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	// Health Check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "hookgate"})
	})

	// Metrics Endpoint
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	// Inbound alerts authenticate per bot secret inside the evaluator.
	v1 := r.Group("/v1")
	{
		v1.POST("/alerts", alertHandler.HandleAlert)
	}

	// Operator surface
	admin := r.Group("/v1")
	admin.Use(middleware.AdminAuthMiddleware(cfg))
	{
		admin.POST("/losses", alertHandler.ReportLoss)

		admin.GET("/workspaces/:ws/webhooks", webhookHandler.List)
		admin.POST("/workspaces/:ws/webhooks", webhookHandler.Create)
		admin.POST("/workspaces/:ws/webhooks/bulk", webhookHandler.Bulk)
		admin.POST("/workspaces/:ws/webhooks/test", webhookHandler.Test)
		admin.GET("/workspaces/:ws/actions", webhookHandler.AdminActions)

		admin.PATCH("/webhooks/:id", webhookHandler.Update)
		admin.POST("/webhooks/:id/toggle", webhookHandler.Toggle)
		admin.DELETE("/webhooks/:id", webhookHandler.Delete)

		admin.GET("/webhooks/:id/deliveries", deliveryHandler.List)
		admin.GET("/webhooks/:id/deliveries/stats", deliveryHandler.Stats)
		admin.POST("/webhooks/:id/retry-failed", deliveryHandler.RetryFailed)
		admin.GET("/deliveries/:id", deliveryHandler.Get)
		admin.POST("/deliveries/:id/replay", deliveryHandler.Replay)

		admin.GET("/bots", botHandler.List)
		admin.PUT("/bots/:id", botHandler.Upsert)
		admin.DELETE("/bots/:id", botHandler.Remove)
		admin.GET("/bots/:id/events", auditHandler.List)
	}

	// 6. Retention Cleanup
	cleanupDone := make(chan struct{})
	if db != nil && cfg.Database.CleanupIntervalMinutes > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					auditAge := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
					deliveryAge := time.Duration(cfg.Database.DeliveryRetentionDays) * 24 * time.Hour
					if pgAuditRepo != nil {
						if err := pgAuditRepo.Cleanup(ctx, auditAge); err != nil {
							logger.Error("audit retention cleanup failed", "error", err)
						}
					}
					if pgDeliveryRepo != nil {
						if err := pgDeliveryRepo.Cleanup(ctx, deliveryAge); err != nil {
							logger.Error("delivery retention cleanup failed", "error", err)
						}
					}
					if pgLossRepo != nil {
						if err := pgLossRepo.Cleanup(ctx, auditAge); err != nil {
							logger.Error("loss retention cleanup failed", "error", err)
						}
					}
					cancel()
				case <-cleanupDone:
					return
				}
			}
		}()
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 HookGate started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(cleanupDone)

	// 先停止接收请求，再排空投递与审计队列
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	engine.Close()
	auditSvc.Close()

	logger.Info("Server exiting")
}
