package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mdconvert/internal/audit"
	"mdconvert/internal/convert"
	"mdconvert/internal/infra"
	"mdconvert/internal/orchestrator"
	"mdconvert/internal/postprocess"
	"mdconvert/internal/queue"
	"mdconvert/internal/storage"
)

type jobWorker struct {
	ctx       context.Context
	consumer  queue.Consumer
	orc       *orchestrator.Orchestrator
	converter *convert.Service
	logger    infra.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: queue connection failed")
	}
	defer q.Close()

	var auditStore orchestrator.AuditStore
	if cfg.AuditEnabled {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: db connection failed")
		}
		defer pool.Close()
		if err := audit.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to prepare audit schema")
		}
		auditStore = audit.NewStore(pool, logger)
	}

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	var analyzer postprocess.Analyzer
	if cfg.OpenAIAPIKey != "" {
		analyzer, err = postprocess.NewOpenAIAnalyzer(postprocess.Options{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure analyzer")
		}
	} else {
		logger.Warn().Msg("worker: no OpenAI key, document enrichment disabled")
	}

	var ocr convert.OCREngine
	if cfg.OCRServiceURL != "" {
		ocr, err = convert.NewHTTPOCREngine(cfg.OCRServiceURL, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: failed to configure ocr engine")
		}
	}

	worker := &jobWorker{
		ctx:       ctx,
		consumer:  q,
		orc:       orchestrator.New(q, auditStore, fileStore, analyzer, logger),
		converter: convert.NewService(ocr, logger),
		logger:    logger,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		task, err := w.consumer.Dequeue(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return w.ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: dequeue failed")
			time.Sleep(2 * time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.handleTask(task)
	}
}

func (w *jobWorker) handleTask(task *queue.Task) {
	w.logger.Info().
		Str("job_id", task.JobID).
		Str("kind", string(task.Kind)).
		Int("documents", len(task.Documents)).
		Msg("worker: picked task")

	revoked, err := w.consumer.IsRevoked(w.ctx, task.JobID)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", task.JobID).Msg("worker: revocation check failed")
	}
	if revoked {
		w.logger.Info().Str("job_id", task.JobID).Msg("worker: task revoked, discarding")
		result := w.orc.OnWorkerRevoked(w.ctx, task.JobID)
		if err := w.consumer.SetResult(w.ctx, task.JobID, result); err != nil {
			w.logger.Error().Err(err).Str("job_id", task.JobID).Msg("worker: set result failed")
		}
		return
	}

	if err := w.consumer.SetRunning(w.ctx, task.JobID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", task.JobID).Msg("worker: set running failed")
	}
	w.orc.OnWorkerStart(w.ctx, task.JobID)

	start := time.Now()
	results := w.converter.ConvertBatch(w.ctx, task.Documents, task.Options)

	// Completion writes survive a shutdown signal so a finished conversion
	// is never lost between the convert and the result write.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), time.Minute)
	defer cancel()

	result := w.orc.OnWorkerComplete(finishCtx, *task, results, nil, time.Since(start))
	if err := w.consumer.SetResult(finishCtx, task.JobID, result); err != nil {
		w.logger.Error().Err(err).Str("job_id", task.JobID).Msg("worker: set result failed")
	}
}
