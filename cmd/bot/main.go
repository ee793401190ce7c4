package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/EZEN13/vk-travel-bot/internal/assistant"
	"github.com/EZEN13/vk-travel-bot/internal/config"
	"github.com/EZEN13/vk-travel-bot/internal/coordinator"
	"github.com/EZEN13/vk-travel-bot/internal/httpapi"
	"github.com/EZEN13/vk-travel-bot/internal/notify"
	"github.com/EZEN13/vk-travel-bot/internal/observability/metrics"
	"github.com/EZEN13/vk-travel-bot/internal/store"
	"github.com/EZEN13/vk-travel-bot/internal/telegram"
	"github.com/EZEN13/vk-travel-bot/internal/vk"
	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting vk-travel-bot",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_store", cfg.UseMemoryStore,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backend choice is a constructor-time decision: durable Postgres by
	// default, Redis when USE_MEMORY_STORE is set.
	conversationStore := buildStore(ctx, cfg, logger)
	if err := conversationStore.Init(ctx); err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer conversationStore.Close()
	conversationStore.CleanOldHistory(ctx, cfg.HistoryRetentionDays)

	vkClient, err := vk.New(vk.Config{
		Token:      cfg.VKToken,
		APIVersion: cfg.VKAPIVersion,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("vk client init failed", "error", err)
		os.Exit(1)
	}

	bot, err := assistant.NewOpenAI(assistant.Config{
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
		Logger: logger,
	})
	if err != nil {
		logger.Error("assistant init failed", "error", err)
		os.Exit(1)
	}

	telegramClient, err := telegram.New(telegram.Config{
		Token:  cfg.TelegramToken,
		Logger: logger,
	})
	if err != nil {
		logger.Error("telegram client init failed", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewCoordinator(telegramClient, conversationStore, cfg.TelegramChatID, logger)
	go telegramClient.PollUpdates(ctx, notifier.HandleCallback)

	conversationMetrics := metrics.NewConversationMetrics(nil)
	hub := coordinator.New(coordinator.Config{
		Store:        conversationStore,
		Messenger:    vkClient,
		Assistant:    bot,
		Notifier:     notifier,
		GroupID:      cfg.VKGroupID,
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
		Metrics:      conversationMetrics,
	})

	webhookHandler := httpapi.NewWebhookHandler(cfg.VKConfirmationToken, hub, logger)
	router := httpapi.NewRouter(httpapi.RouterConfig{
		WebhookPath:    cfg.WebhookPath,
		WebhookHandler: webhookHandler,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func buildStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) store.Store {
	if cfg.UseMemoryStore {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		return store.NewRedisStore(client, logger).WithPauseTTL(cfg.PauseTTL)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	return store.NewPostgresStore(pool, logger).WithPauseTTL(cfg.PauseTTL)
}
