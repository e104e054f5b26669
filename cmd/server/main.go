// Command server runs the chat webhook ingestion service.
//
// @title        Chat Ingest API
// @version      1.0
// @description  Webhook ingestion and idempotent reconciliation of bot chats, participants and messages.
// @BasePath     /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-chat-ingest/internal/config"
	"github.com/tbourn/go-chat-ingest/internal/enrichment"
	httpapi "github.com/tbourn/go-chat-ingest/internal/http"
	"github.com/tbourn/go-chat-ingest/internal/ingest"
	"github.com/tbourn/go-chat-ingest/internal/observability"
	"github.com/tbourn/go-chat-ingest/internal/repo"
	"github.com/tbourn/go-chat-ingest/internal/services"
	"github.com/tbourn/go-chat-ingest/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// purgeInterval is how often expired processed-update rows are deleted.
const purgeInterval = time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	// --- Store ---
	gormLevel := logger.Silent
	if cfg.LogLevel == "debug" {
		gormLevel = logger.Warn
	}
	db, err := repo.Open(repo.Options{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		DSN:      cfg.Store.DSN,
		Tracing:  cfg.OTEL.Enabled,
		LogLevel: gormLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("db open")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// --- Ingestion wiring ---
	rec := services.NewReconciler(db, newEnricher(cfg.Enrichment))
	rec.Metrics = observability.DefaultIngestMetrics()
	rec.StoreTimeout = cfg.Store.Timeout
	rec.EnrichmentTimeout = cfg.Enrichment.Timeout
	rec.ProcessedTTL = cfg.Ingest.ProcessedUpdateTTL
	ingestSvc := services.NewIngestService(rec, ingest.NewClassifier(cfg.Ingest.CommandPrefix))

	go purgeProcessedUpdates(ctx, db, purgeInterval)

	// --- HTTP ---
	r := gin.New()
	httpapi.RegisterRoutes(r, db, ingestSvc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("webhook_path", cfg.Ingest.WebhookBasePath).
			Str("api_path", cfg.APIBasePath).
			Str("db_driver", cfg.Store.Driver).
			Bool("enrichment", cfg.Enrichment.Enabled).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newEnricher builds the Bot API client behind the file-info cache, or the
// no-op client when enrichment is disabled.
func newEnricher(cfg config.EnrichmentConfig) enrichment.Client {
	if !cfg.Enabled {
		return enrichment.Noop{}
	}
	tg := enrichment.NewTelegramClient(enrichment.TelegramConfig{
		Endpoint: cfg.APIEndpoint,
		Tokens:   cfg.BotTokens,
		Timeout:  cfg.Timeout,
	})
	return enrichment.NewCachingClient(tg, cfg.CacheTTL)
}

// purgeProcessedUpdates deletes expired processed-update rows every interval
// until ctx ends.
func purgeProcessedUpdates(ctx context.Context, db *gorm.DB, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredProcessedUpdates(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge processed updates")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged processed updates")
			}
		}
	}
}
