package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stackvity/tender-pipeline/internal/cache"
	"github.com/stackvity/tender-pipeline/internal/config"
	"github.com/stackvity/tender-pipeline/internal/extractor"
	"github.com/stackvity/tender-pipeline/internal/facade"
	"github.com/stackvity/tender-pipeline/internal/health"
	"github.com/stackvity/tender-pipeline/internal/logging"
	"github.com/stackvity/tender-pipeline/internal/metrics"
	"github.com/stackvity/tender-pipeline/internal/modelclient"
	"github.com/stackvity/tender-pipeline/internal/optimizer"
	"github.com/stackvity/tender-pipeline/internal/pipeline"
	"github.com/stackvity/tender-pipeline/internal/queue"
	"github.com/stackvity/tender-pipeline/internal/scheduler"
)

func main() {
	cfg, err := config.LoadConfig(context.Background(), ".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(&cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			log.Printf("Failed to sync logger during shutdown: %v", syncErr)
		}
	}()

	logger.Info("Starting AI processing pipeline service...", zap.String("version", "1.0.0"))

	app, cleanup, err := buildFacade(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize pipeline", zap.Error(err))
		os.Exit(1)
	}
	defer cleanup()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("application panicked: %v\nStack Trace: %s", r, debug.Stack())
			logger.Error("Panic recovered in main", zap.Error(err), zap.String("stack_trace", string(debug.Stack())))
			os.Exit(1)
		}
	}()

	runUntilSignal(app, logger)

	logger.Info("Service stopped gracefully.")
}

// app bundles the facade with whatever the caller needs to drive it; kept
// minimal since cmd/tender-pipeline currently only demonstrates the
// service staying up until a shutdown signal (no transport is wired here,
// per spec.md §1's "out of scope" external collaborator boundary).
type app struct {
	Facade    *facade.Facade
	Scheduler *scheduler.Scheduler
	GracePeriod time.Duration
}

// buildFacade is the manual composition root: it hand-wires the service
// graph the way the teacher's google/wire-generated InitializeAPI did,
// replacing generated constructor injection with explicit calls (no
// third-party DI framework is reused here: wire only generates code at
// build time and is dropped along with cmd/lung-cancer-review-api/wire.go;
// see DESIGN.md).
func buildFacade(cfg config.Config, logger *zap.Logger) (*app, func(), error) {
	var ocr extractor.OCRService
	if cfg.GeminiAPIKey != "" {
		visionOCR, err := extractor.NewGoogleVisionOCR(context.Background(), cfg.GeminiAPIKey, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize OCR service: %w", err)
		}
		ocr = visionOCR
	}

	ext := extractor.New(cfg.MaxDocumentBytes, cfg.OCRFallbackThresholdCharsPerPage, logger, extractor.WithOCR(ocr))

	httpClient := modelclient.NewHTTPClient(cfg.ModelRuntimeURL, logger)
	modelClient := modelclient.NewRetryingClient(httpClient, modelclient.RetryPolicy{
		MaxAttempts: cfg.MaxRetries + 1,
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
	}, logger)

	resultCache := cache.New(cfg.CacheMaxEntries, cfg.CacheMaxBytes, time.Duration(cfg.CacheDefaultTTLSeconds)*time.Second)

	gate := health.New(modelClient, time.Duration(cfg.HealthProbeIntervalMS)*time.Millisecond, cfg.HealthFailureThreshold, logger)
	probeCtx, stopProbe := context.WithCancel(context.Background())
	gate.Start(probeCtx)

	recorder := metrics.NewRecorder(cfg.MetricsWindowSamples, logger)

	opt := optimizer.New(optimizer.Config{
		DefaultTier:           pipeline.Tier(cfg.DefaultModelTier),
		ShiftDownP95Threshold: 5 * time.Second,
		AcceptableSuccessRate: 0.9,
		ShiftUpSuccessFloor:   0.5,
		TimeoutFloor:          time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		TimeoutCeiling:        2 * time.Minute,
	}, recorder)

	policy := queue.Policy(cfg.EnqueuePolicy)
	q := queue.New(cfg.QueueCapacity, policy, cfg.EnqueueBlockTimeout)

	tierModels := make(map[pipeline.Tier]string, len(cfg.TierModels))
	for tier, model := range cfg.TierModels {
		tierModels[pipeline.Tier(tier)] = model
	}

	sched := scheduler.New(scheduler.Deps{
		Workers:         cfg.Workers,
		Queue:           q,
		RateLimitPerMin: cfg.RateLimitPerMinute,
		GracePeriod:     30 * time.Second,
		Extractor:       ext,
		ModelClient:     modelClient,
		ResultCache:     resultCache,
		HealthGate:      gate,
		Recorder:        recorder,
		Optimizer:       opt,
		TierModels:      tierModels,
		TemplateVersion: cfg.PromptTemplateVersion,
		CacheTTL:        time.Duration(cfg.CacheDefaultTTLSeconds) * time.Second,
		Logger:          logger,
	})
	sched.Start()

	f := facade.New(sched, gate, recorder, logger)

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sched.Shutdown(ctx)
		stopProbe()
		gate.Stop()
	}

	return &app{Facade: f, Scheduler: sched, GracePeriod: 30 * time.Second}, cleanup, nil
}

// runUntilSignal blocks until SIGINT/SIGTERM, mirroring the teacher's
// internal/api.API.StartServer signal-driven shutdown idiom generalized
// from an HTTP listener to a worker pool with no listening socket.
func runUntilSignal(a *app, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	snap := a.Facade.Health()
	logger.Info("Pipeline ready, waiting for shutdown signal", zap.Bool("model_runtime_reachable", snap.Reachable))
	<-quit
	logger.Info("Shutting down pipeline...")
}
