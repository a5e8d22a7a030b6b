// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"permitgate/internal/authtoken"
	"permitgate/internal/notify"
	permithandler "permitgate/internal/permit/handler"
	permitservice "permitgate/internal/permit/service"
	permitstore "permitgate/internal/permit/store"
	"permitgate/internal/platform/config"
	"permitgate/internal/platform/database"
	"permitgate/internal/platform/httpserver"
	"permitgate/internal/platform/logger"
	"permitgate/internal/platform/metrics"
	platformredis "permitgate/internal/platform/redis"
	"permitgate/internal/ratelimit"
	scanhandler "permitgate/internal/scan/handler"
	scanservice "permitgate/internal/scan/service"
	scanstore "permitgate/internal/scan/store"
	"permitgate/internal/sequence"
	"permitgate/internal/token"
	httptransport "permitgate/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Error("schema setup failed", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	emitter := notify.NewEmitter(256, log)

	var publisher notify.Publisher = notify.LogPublisher{Logger: log}
	if len(cfg.Kafka.Seeds) > 0 {
		kafkaPublisher, err := notify.NewKafkaPublisher(ctx, cfg.Kafka.Seeds, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	signer := token.NewSigner(cfg.SigningKeys, cfg.ActiveKeyID, cfg.TokenIssuer)
	validator := authtoken.NewValidator(cfg.AuthJWTKey)

	permits := permitstore.NewPostgres(db)
	counters := sequence.NewPostgresCounter(db)
	allocator := sequence.NewAllocator(counters, cfg.AllocatorRetries)
	scans := scanstore.NewPostgres(db)

	permitSvc := permitservice.New(permits, permitstore.NewSQLTxRunner(db), allocator, signer, emitter, m, log,
		permitservice.WithApprovalAttempts(cfg.AllocatorRetries))
	scanSvc := scanservice.New(signer, permits, scans, m, log)

	var scanLimit func(http.Handler) http.Handler
	if redisClient != nil && cfg.ScanRateLimit > 0 {
		limiter := ratelimit.NewRedisLimiter(redisClient.Client)
		scanLimit = ratelimit.Middleware(limiter, cfg.ScanRateLimit, cfg.ScanRateWindow, log)
	}

	checks := map[string]httptransport.HealthChecker{
		"postgres": httptransport.HealthFunc(db.PingContext),
	}
	if redisClient != nil {
		checks["redis"] = redisClient
	}

	router := httptransport.NewRouter(log, checks,
		permithandler.New(permitSvc, log, validator),
		scanhandler.New(scanSvc, log, validator, scanLimit),
	)
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		worker := notify.NewWorker(publisher, emitter.Events(), log, m)
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		log.Info("starting permitgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
