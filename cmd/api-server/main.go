package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxdesk/pharmacy-service/internal/api"
	"github.com/rxdesk/pharmacy-service/internal/auth"
	"github.com/rxdesk/pharmacy-service/internal/config"
	"github.com/rxdesk/pharmacy-service/internal/db"
	"github.com/rxdesk/pharmacy-service/internal/logging"
	"github.com/rxdesk/pharmacy-service/internal/pharmacy"
	redisclient "github.com/rxdesk/pharmacy-service/internal/redis"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Pharmacy ordering API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(false)
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New("api-server", cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("postgres connection error: %w", err)
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", applied).Msg("migrations complete")
			return nil
		},
	}
}

func runServer(migrate bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	logger := logging.New("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection error: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if migrate {
		applied, err := db.NewMigrator(pgPool).Up(rootCtx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations complete")
	}

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewClient(redisCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	cancelRedis()
	if err != nil {
		return fmt.Errorf("redis connection error: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	handler := buildRouter(cfg, pgPool, rdb, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func buildRouter(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) http.Handler {
	txm := db.NewTxManager(pool, cfg.TxTimeout, logger)
	store := pharmacy.NewPgStore(pool, txm)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	locker := redisclient.NewKeyLocker(rdb, "orders", cfg.LockTTL)

	prescriptions := pharmacy.NewPrescriptionService(store, cfg.PrescriptionExpiry, logger)

	return api.NewRouter(api.RouterConfig{
		Accounts:      pharmacy.NewAccountService(store, tokens, logger),
		Admin:         pharmacy.NewAdminService(store, logger),
		Prescriptions: prescriptions,
		Inventory:     pharmacy.NewInventoryService(store, logger),
		Orders:        pharmacy.NewOrderService(store, prescriptions, locker, cfg.PendingOrderTTL, logger),
		Tokens:        tokens,
		Health: api.NewHealthHandler(
			pool,
			api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			cfg.Env,
			cfg.Version,
		),
		Logger: logger,
		Dev:    cfg.IsDev(),
	})
}
