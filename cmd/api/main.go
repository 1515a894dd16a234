package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"negotiator/internal/audit"
	"negotiator/internal/auth"
	"negotiator/internal/config"
	"negotiator/internal/evidence"
	"negotiator/internal/httpapi"
	"negotiator/internal/mock"
	"negotiator/internal/negotiation"
	"negotiator/internal/observability"
	"negotiator/internal/orchestrator"
	"negotiator/internal/reporting"
	"negotiator/internal/voice"
	"negotiator/pkg/logger"
	"negotiator/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	placementSlotTTL = 10 * time.Minute
	readinessPing    = time.Second
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	for _, w := range cfg.Warnings {
		log.Warn("config warning", "warning", w)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing := observability.InitTracing(rootCtx, log, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.App.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})

	var authManager *auth.Manager
	if cfg.Auth.Enabled() {
		authManager, err = auth.NewManager(cfg.Auth)
		if err != nil {
			log.Error("auth init failed", "err", err)
			os.Exit(1)
		}
	} else {
		log.Warn("JWT_SECRET not set; /v1 routes are disabled")
	}

	checks := map[string]func(context.Context) error{}

	// Negotiation storage.
	var store negotiation.Store = negotiation.NewMemoryStore()
	if cfg.DB.Enabled() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := negotiation.NewPostgresStore(db)
		if err := pg.EnsureSchema(rootCtx); err != nil {
			log.Error("postgres schema init failed", "err", err)
			os.Exit(1)
		}
		store = pg
		checks["postgres"] = func(ctx context.Context) error { return utils.HealthCheck(ctx, db, readinessPing) }
	}

	// Audit trail.
	var auditRepo audit.Repository = audit.NewLogRepo(log)
	if cfg.Kafka.Enabled() {
		kr, err := audit.NewKafkaRepo(audit.KafkaConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		if err != nil {
			log.Error("kafka init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := kr.Close(); err != nil {
				log.Warn("kafka close failed", "err", err)
			}
		}()
		auditRepo = kr
	}
	registry := negotiation.NewRegistry(store, audit.NewService(auditRepo))

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return utils.PingRedis(ctx, rdb, readinessPing) }
	}

	// Voice provider. Left as a nil interface when not configured.
	var gw voice.Gateway
	if cfg.Voice.Configured() {
		vc, err := voice.NewVapiClient(voice.VapiConfig{
			APIKey:        cfg.Voice.APIKey,
			BaseURL:       cfg.Voice.BaseURL,
			AssistantID:   cfg.Voice.AssistantID,
			PhoneNumberID: cfg.Voice.PhoneNumberID,
			ServerURL:     cfg.Voice.ServerURL,
			ServerSecret:  cfg.Voice.WebhookSecret,
			Timeout:       cfg.Voice.Timeout,
			MaxRetries:    cfg.Voice.MaxRetries,
		})
		if err != nil {
			log.Error("voice provider init failed", "err", err)
			os.Exit(1)
		}
		gw = vc
		if rdb != nil {
			gw = voice.NewCappedGateway(vc, rdb, cfg.Dispatch.MaxConcurrentPlacements, placementSlotTTL)
		}
		if err := vc.HealthCheck(rootCtx); err != nil {
			log.Warn("voice provider health check failed (continuing)", "err", err)
		}
		checks["voice"] = vc.HealthCheck
	}

	// Mock responder, only when no provider is configured at all.
	var responder *mock.Responder
	var taskServer *asynq.Server
	var taskClient *asynq.Client
	if gw == nil && !cfg.Voice.Partial() && cfg.Mock.Enabled {
		mcfg := mock.DefaultConfig()
		mcfg.MinDelay = cfg.Mock.MinDelay
		mcfg.MaxDelay = cfg.Mock.MaxDelay
		gen := mock.NewGenerator(mcfg, time.Now().UnixNano())

		var opts []mock.Option
		if rdb != nil {
			redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB}
			taskClient = asynq.NewClient(redisOpt)
			opts = append(opts, mock.WithScheduler(mock.NewQueueScheduler(taskClient, mock.DefaultQueue)))
			taskServer = asynq.NewServer(redisOpt, asynq.Config{
				Concurrency: 4,
				Queues:      map[string]int{mock.DefaultQueue: 1},
				Logger:      asynqLogger{log},
			})
		}
		responder = mock.NewResponder(registry.IngestWebhook, gen, opts...)

		if taskServer != nil {
			mux := asynq.NewServeMux()
			mux.HandleFunc(mock.TaskTypeComplete, func(ctx context.Context, t *asynq.Task) error {
				return responder.HandleTask(logger.With(ctx, log), t)
			})
			if err := taskServer.Start(mux); err != nil {
				log.Error("task server start failed", "err", err)
				os.Exit(1)
			}
		}
	}

	svc := orchestrator.New(registry, gw, responder, orchestrator.Config{DispatchTimeout: cfg.Dispatch.Timeout})
	log.Info("negotiation mode", "mode", svc.Mode())

	// Evidence storage.
	var evStore evidence.Store
	if cfg.Evidence.S3Bucket != "" {
		s3s, err := evidence.NewS3Store(rootCtx, cfg.Evidence.S3Bucket, cfg.Evidence.S3Prefix, cfg.Evidence.MaxBytes)
		if err != nil {
			log.Error("s3 evidence store init failed", "err", err)
			os.Exit(1)
		}
		evStore = s3s
	} else {
		ls, err := evidence.NewLocalStore(cfg.Evidence.Dir, cfg.Evidence.MaxBytes)
		if err != nil {
			log.Error("evidence dir init failed", "err", err)
			os.Exit(1)
		}
		evStore = ls
	}

	h := httpapi.Handlers{
		Negotiations:     svc,
		Voice:            gw,
		Evidence:         evStore,
		MaxEvidenceBytes: cfg.Evidence.MaxBytes,
		CSR:              mock.NewCSR(time.Now().UnixNano()),
		Auth:             authManager,
		Reporting:        reporting.NewService(reporting.NewRegistryRepo(registry)),
		Checks:           checks,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, routeOptions{
		Auth:           authManager,
		WebhookSecret:  cfg.Voice.WebhookSecret,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn("dispatch drain incomplete", "err", err)
	}
	if responder != nil {
		responder.Stop()
	}
	if taskServer != nil {
		taskServer.Shutdown()
	}
	if taskClient != nil {
		_ = taskClient.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
