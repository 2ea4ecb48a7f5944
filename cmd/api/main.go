package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"mdconvert/internal/audit"
	"mdconvert/internal/convert"
	"mdconvert/internal/http/handlers"
	httpapi "mdconvert/internal/http/httpapi"
	"mdconvert/internal/infra"
	"mdconvert/internal/orchestrator"
	"mdconvert/internal/queue"
	"mdconvert/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()

	q, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect queue broker")
	}
	defer q.Close()

	var auditStore orchestrator.AuditStore
	var dbpool *pgxpool.Pool
	if cfg.AuditEnabled {
		dbpool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		if err := audit.EnsureSchema(ctx, dbpool); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare audit schema")
		}
		auditStore = audit.NewStore(dbpool, logger)
	} else {
		logger.Warn().Msg("audit store disabled; job history will not be recorded")
	}

	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare file store")
	}

	orc := orchestrator.New(q, auditStore, files, nil, logger)

	var ocr convert.OCREngine
	if cfg.OCRServiceURL != "" {
		ocr, err = convert.NewHTTPOCREngine(cfg.OCRServiceURL, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure ocr engine")
		}
	}
	converter := convert.NewService(ocr, logger)

	app := &handlers.App{
		Orc:            orc,
		Converter:      converter,
		QueuePing:      q,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Log:            logger,
	}
	if dbpool != nil {
		app.DBPing = dbpool
	}

	router := httpapi.NewRouter(app, cfg.AdminAPIKey, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
