package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cdcenter/agenda-notifier/internal/api/router"
	"github.com/cdcenter/agenda-notifier/internal/appointment"
	appcache "github.com/cdcenter/agenda-notifier/internal/cache"
	appconfig "github.com/cdcenter/agenda-notifier/internal/config"
	"github.com/cdcenter/agenda-notifier/internal/dispatch"
	"github.com/cdcenter/agenda-notifier/internal/http/handlers"
	"github.com/cdcenter/agenda-notifier/internal/msglog"
	"github.com/cdcenter/agenda-notifier/internal/observability/metrics"
	"github.com/cdcenter/agenda-notifier/internal/whatsapp"
	"github.com/cdcenter/agenda-notifier/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agenda-notifier API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"whatsapp_mode", cfg.WhatsAppMode,
	)

	var (
		repo     appointment.Repository
		recorder msglog.Recorder
		offline  bool
	)
	pool, err := connectDatabase(cfg, logger)
	if err != nil {
		logger.Warn("database unreachable, serving offline sample data", "error", err)
		repo = appointment.NewOfflineRepository()
		recorder = msglog.NewMemoryRecorder()
		offline = true
	} else {
		defer pool.Close()
		repo = appointment.NewPostgresRepository(pool, cfg.DBSchema, logger)
		recorder = msglog.NewStore(pool, cfg.DBSchema, logger)
	}

	var statsCache appcache.StatsCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, stats cache disabled", "error", err)
		} else {
			statsCache = appcache.NewRedisStatsCache(rdb, cfg.StatsCacheTTL)
			defer rdb.Close()
		}
	}

	m := metrics.NewMessagingMetrics(nil)

	builder := whatsapp.MessageBuilder{
		ClinicName:   cfg.ClinicName,
		ContactPhone: cfg.ClinicContactPhone,
	}
	business := whatsapp.NewCloudSender(whatsapp.CloudConfig{
		AccessToken:       cfg.WhatsAppAccessToken,
		PhoneNumberID:     cfg.WhatsAppPhoneNumberID,
		BusinessAccountID: cfg.WhatsAppBusinessAccountID,
		APIVersion:        cfg.WhatsAppAPIVersion,
	}, builder, logger)
	web := whatsapp.NewWebSender(cfg.WhatsAppWebSidecarURL, builder, logger)
	switcher := whatsapp.NewSwitcher(cfg.WhatsAppMode, web, business, logger)

	dispatcher := dispatch.NewDispatcher(cfg.BulkSendInterval, recorder, m, logger)
	processor := whatsapp.NewWebhookProcessor(repo, recorder, logger)

	r := router.New(&router.Config{
		Logger:       logger,
		Appointments: handlers.NewAppointmentsHandler(repo, recorder, statsCache, logger),
		Send: handlers.NewSendHandler(repo, dispatcher, switcher, handlers.SendConfig{
			TemplateName:  cfg.TemplateName,
			LanguageCode:  cfg.TemplateLanguage,
			LookbackDays:  cfg.TemplateLookbackDays,
			LookaheadDays: cfg.TemplateLookaheadDays,
			BatchLimit:    cfg.TemplateBatchLimit,
		}, logger),
		WhatsApp: handlers.NewWhatsAppHandler(handlers.WhatsAppConfig{
			Switcher:      switcher,
			Processor:     processor,
			Metrics:       m,
			WebhookSecret: cfg.WhatsAppWebhookSecret,
			VerifyToken:   cfg.WhatsAppWebhookVerifyToken,
			Logger:        logger,
		}),
		MetricsHandler: promhttp.Handler(),
		OfflineMode:    offline,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr, "offline", offline)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// connectDatabase opens a bounded pool with the configured schema first on
// every connection's search_path, then probes it so a dead database is caught
// at startup rather than on the first request.
func connectDatabase(cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("main: database not configured")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseConnString())
	if err != nil {
		return nil, fmt.Errorf("main: parse database config: %w", err)
	}
	schema := pgx.Identifier{cfg.DBSchema}.Sanitize()
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET search_path TO "+schema+", public")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("main: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("main: ping database: %w", err)
	}
	logger.Info("database connected", "host", cfg.DBHost, "db", cfg.DBName, "schema", cfg.DBSchema)
	return pool, nil
}
