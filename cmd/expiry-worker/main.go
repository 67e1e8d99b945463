package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rxdesk/pharmacy-service/internal/config"
	"github.com/rxdesk/pharmacy-service/internal/db"
	"github.com/rxdesk/pharmacy-service/internal/logging"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
	redisclient "github.com/rxdesk/pharmacy-service/internal/redis"
)

const runTimeout = 20 * time.Second

type expirer interface {
	ExpireStalePendingOrders(ctx context.Context) (int, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New("expiry-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("pending_ttl", cfg.PendingOrderTTL).
		Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewClient(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	cancelRedis()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	txm := db.NewTxManager(pgPool, cfg.TxTimeout, logger)
	store := pharmacy.NewPgStore(pgPool, txm)
	prescriptions := pharmacy.NewPrescriptionService(store, cfg.PrescriptionExpiry, logger)
	// The order locker is only used for placement; the worker never places orders.
	svc := pharmacy.NewOrderService(store, prescriptions, redisclient.NewLocalLocker(), cfg.PendingOrderTTL, logger)

	// Replicas share one lease so a sweep runs on a single worker at a time.
	lease := redisclient.NewKeyLocker(rdb, "expiry-worker", runTimeout+5*time.Second)

	runOnce(rootCtx, svc, lease, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, lease, logger)
		}
	}
}

func runOnce(ctx context.Context, svc expirer, lease redisclient.Locker, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	var expired int
	err := lease.WithKeyLock(runCtx, "sweep", func(ctx context.Context) error {
		var err error
		expired, err = svc.ExpireStalePendingOrders(ctx)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		log.Debug().Msg("another worker holds the sweep lease, skipping")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}
