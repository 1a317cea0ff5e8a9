package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "dayflow/docs"
	"dayflow/internal/calendar"
	"dayflow/internal/classifier"
	"dayflow/internal/config"
	"dayflow/internal/handlers"
	"dayflow/internal/middleware"
	"dayflow/internal/pdf"
	"dayflow/internal/repositories"
	"dayflow/internal/routes"
	"dayflow/internal/services"
)

func Run() {
	cfg := config.LoadConfig()

	logger, err := zap.NewProduction()
	if err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Sync()

	// === DB ===
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("db close failed", zap.Error(err))
		}
	}()

	// === Repos ===
	taskRepo := repositories.NewTaskRepository(db)
	ingestionRepo := repositories.NewIngestionRepository(db)
	policyRepo := repositories.NewPolicyRepository(db)
	userRepo := repositories.NewUserRepository(db)
	linkRepo := repositories.NewChatLinkRepository(db)
	tokenRepo := repositories.NewCalendarTokenRepository(db)

	// === Services ===
	tg, err := services.NewTelegramService(cfg.Telegram.BotToken, logger)
	if err != nil {
		logger.Fatal("telegram init failed", zap.Error(err))
	}
	if err := tg.SetWebhook(cfg.Telegram.WebhookURL); err != nil {
		logger.Warn("telegram webhook registration failed", zap.Error(err))
	}

	gateway := calendar.NewGoogleClient(tokenRepo, logger)
	notifier := services.NewNotificationService(
		cfg.Email.SMTPHost, cfg.Email.SMTPPort, cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword, cfg.Email.FromEmail,
		userRepo, tg, logger,
	)

	horizon := time.Duration(cfg.Scheduler.HorizonDays) * 24 * time.Hour
	schedulingService := services.NewSchedulingService(
		taskRepo, policyRepo, gateway, notifier, horizon, logger)
	taskService := services.NewTaskService(taskRepo, schedulingService, logger)

	taskClassifier := classifier.NewOpenAIClassifier(
		cfg.Classifier.APIKey, cfg.Classifier.Model, logger)
	ingestionService := services.NewIngestionService(
		ingestionRepo, taskRepo, taskClassifier, schedulingService,
		cfg.Scheduler.ConfirmThreshold, logger)

	agendaGen := pdf.NewAgendaGenerator()

	// === Handlers ===
	taskHandler := handlers.NewTaskHandler(taskService, schedulingService, logger)
	settingsHandler := handlers.NewSettingsHandler(policyRepo, userRepo, logger)
	integrationsHandler := handlers.NewIntegrationsHandler(
		tg, linkRepo, userRepo, policyRepo, taskRepo, ingestionService, schedulingService, logger)
	reportsHandler := handlers.NewReportsHandler(
		taskRepo, policyRepo, userRepo, agendaGen, logger)

	// === Background sweeps ===
	go purgeLedgerLoop(ingestionService, logger)
	go reconcileLoop(taskRepo, schedulingService, logger)

	// === Gin ===
	middleware.SetJWTKey(cfg.Auth.JWTSecret)
	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(router, taskHandler, settingsHandler, integrationsHandler, reportsHandler)

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("server listening", zap.String("addr", listenAddr))
	if err := router.Run(listenAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

// purgeLedgerLoop garbage-collects terminal ingestion records past
// retention. Purely an optimization; the ledger stays correct without it.
func purgeLedgerLoop(ingestion services.IngestionService, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		n, err := ingestion.PurgeLedger(ctx)
		cancel()
		if err != nil {
			logger.Warn("ledger purge failed", zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("ledger purged", zap.Int64("records", n))
		}
	}
}

// reconcileLoop resumes deferred calendar syncs. A task scheduled before a
// restart with no event id is picked up here without redoing slot search.
func reconcileLoop(tasks repositories.TaskRepository, scheduling services.SchedulingService, logger *zap.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		owners, err := tasks.ListOwnersWithUnsynced(ctx)
		if err != nil {
			logger.Warn("reconcile sweep: owner listing failed", zap.Error(err))
			cancel()
			continue
		}
		for _, ownerID := range owners {
			results, err := scheduling.ReconcileDeferred(ctx, ownerID)
			if err != nil {
				logger.Warn("reconcile sweep failed",
					zap.Int64("owner_id", ownerID), zap.Error(err))
				continue
			}
			for _, r := range results {
				if r.Synced {
					logger.Info("deferred sync completed",
						zap.Int64("owner_id", ownerID), zap.Int64("task_id", r.TaskID))
				}
			}
		}
		cancel()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
