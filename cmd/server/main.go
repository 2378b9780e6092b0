package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assess/internal/clock"
	"github.com/stemsi/exstem-assess/internal/config"
	"github.com/stemsi/exstem-assess/internal/database"
	"github.com/stemsi/exstem-assess/internal/events"
	"github.com/stemsi/exstem-assess/internal/handler"
	"github.com/stemsi/exstem-assess/internal/integrity"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/middleware"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/repository"
	"github.com/stemsi/exstem-assess/internal/repository/memstore"
	"github.com/stemsi/exstem-assess/internal/router"
	"github.com/stemsi/exstem-assess/internal/seed"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/session"
	"github.com/stemsi/exstem-assess/internal/validator"
	"github.com/stemsi/exstem-assess/internal/worker"
	"github.com/stemsi/exstem-assess/pkg/ai"
)

const reportCacheTTL = 24 * time.Hour

// storage is the set of stores behind the selected STORAGE_DRIVER.
type storage struct {
	attempts    service.AttemptReader
	submissions service.SubmissionStore
	answers     service.AnswerStore
	fraud       worker.FraudEventStore
	reports     service.ReportCache
	roster      handler.RosterReader
	checks      map[string]handler.Pinger
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Assess")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.System{}
	var rdb *redis.Client
	var store storage

	switch cfg.StorageDriver {
	case config.StorageMemory:
		// ─── In-Memory Storage ─────────────────────────────────────────
		mem := memstore.New()
		store = storage{
			attempts:    mem,
			submissions: mem,
			answers:     mem,
			fraud:       mem,
			reports:     memstore.NewReportCache(),
			roster:      mem,
			checks:      map[string]handler.Pinger{"storage": mem},
		}
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		if cfg.SeedFile != "" {
			e, attempts, err := seed.Apply(ctx, mem, cfg.SeedFile)
			if err != nil {
				log.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("Failed to seed in-memory storage")
			}
			for _, a := range attempts {
				log.Info().Str("evaluation", e.Title).Str("unique_code", a.UniqueCode).Msg("Attempt seeded")
			}
		}

	case config.StoragePostgres:
		// ─── Run Migrations ────────────────────────────────────────────
		if cfg.AutoMigrate {
			if err := database.MigrateUp(cfg.MigrationsPath, cfg.DatabaseURL, log); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}

		// ─── Connect to PostgreSQL ─────────────────────────────────────
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		// ─── Connect to Redis ──────────────────────────────────────────
		rdb, err = database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()

		// ─── Initialize Repositories ───────────────────────────────────
		evaluationRepo := repository.NewEvaluationRepository(pool)
		store = storage{
			attempts:    repository.NewCachedEvaluationRepository(evaluationRepo, rdb, cfg.EvaluationCacheTTL, log),
			submissions: repository.NewSubmissionRepository(pool),
			answers:     repository.NewAnswerRepository(pool),
			fraud:       repository.NewFraudEventRepository(pool),
			reports:     repository.NewReportCache(rdb, reportCacheTTL),
			roster:      repository.NewMonitorRepository(pool),
			checks: map[string]handler.Pinger{
				"postgres": pool,
				"redis": handler.PingFunc(func(ctx context.Context) error {
					return rdb.Ping(ctx).Err()
				}),
			},
		}

	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("Unknown STORAGE_DRIVER")
	}

	// ─── Connect to NATS ───────────────────────────────────────────────
	publisher, err := events.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer publisher.Close()

	// ─── Initialize AI Clients ─────────────────────────────────────────
	aiCfg := ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.GraderTimeout,
		Logger:  log,
	}
	deps := service.SessionDeps{Reports: store.reports}
	var notices integrity.NoticeWriter
	if grader, err := ai.NewOpenAIGrader(aiCfg, nil); err == nil {
		deps.Grader = grader
	} else {
		log.Warn().Err(err).Msg("Grader disabled")
	}
	if composer, err := ai.NewOpenAIReportComposer(aiCfg, nil); err == nil {
		deps.Composer = composer
	} else {
		log.Warn().Err(err).Msg("Report narrative disabled")
	}
	noticeCfg := aiCfg
	noticeCfg.Timeout = cfg.NoticeTimeout
	if writer, err := ai.NewOpenAINoticeWriter(noticeCfg, nil); err == nil {
		notices = writer
	} else {
		log.Info().Err(err).Msg("Integrity notices use fixed wording")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	aggregator := service.NewAggregatorService(store.answers, log)
	answerWriter := worker.NewAnswerWriter(aggregator, cfg.AnswerWriterShards, cfg.AnswerWriterBuffer, log)
	deps.Queue = answerWriter

	tokenService := service.NewTokenService(cfg.SessionTokenSecret, cfg.SessionTokenGrace, clk)
	gateService := service.NewGateService(store.attempts, store.submissions, log)
	submissionService := service.NewSubmissionService(store.submissions, publisher, clk, log)
	sessionService := service.NewSessionService(
		gateService, submissionService, aggregator, store.attempts, tokenService, deps, clk, log,
	)

	// ─── Initialize Integrity Monitors ────────────────────────────────
	var recorder integrity.EventRecorder
	if rdb != nil {
		recorder = worker.NewFraudQueue(rdb, publisher, log)
	} else {
		recorder = worker.NewDirectFraudRecorder(store.fraud, publisher)
	}
	pusher := integrity.PushFunc(func(ctx context.Context, id uuid.UUID, c model.Counters, _ *uuid.UUID) error {
		_, err := sessionService.UpdateCounters(ctx, id, c)
		return err
	})
	monitors := integrity.NewRegistry(integrity.RegistryConfig{
		Clock:         clk,
		Pusher:        pusher,
		Recorder:      recorder,
		Notices:       notices,
		NoticeTimeout: cfg.NoticeTimeout,
		Log:           log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, monitors, log),
		Report:  handler.NewReportHandler(log),
		WS:      handler.NewWSHandler(sessionService, monitors, clk, session.Options{}, log, cfg.AllowedOrigins),
		Health:  handler.NewHealthHandler(store.checks),
	}
	if rdb != nil {
		handlers.Monitor = handler.NewMonitorHandler(rdb, store.attempts, store.roster, log)
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	answerWriter.Start()
	accessLimiter := middleware.NewRateLimiter(cfg.AccessRatePerMinute, time.Minute)
	expiryWorker := worker.NewExpiryWorker(store.submissions, handler.NewSessionBackend(sessionService, monitors), clk, cfg.ExpirySweepInterval, log)

	go accessLimiter.Run(workerCtx)
	go monitors.Run(workerCtx, time.Minute)
	go expiryWorker.Start(workerCtx)
	if rdb != nil {
		fraudWorker := worker.NewFraudWorker(store.fraud, rdb, log)
		go fraudWorker.Start(workerCtx)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(tokenService, accessLimiter, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop sweepers and close live monitors so their counters are pushed.
	workerCancel()

	// 3. Drain queued autosaves before the stores close.
	answerWriter.Stop()
	time.Sleep(time.Second) // Allow the fraud worker to flush its last batch.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
