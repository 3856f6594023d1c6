package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JavierPalina/TINCO-sub002/cmd/tinco/cli"
	"github.com/JavierPalina/TINCO-sub002/internal/app"
	"github.com/JavierPalina/TINCO-sub002/internal/inventory"
	"github.com/JavierPalina/TINCO-sub002/internal/observability"
	"github.com/JavierPalina/TINCO-sub002/internal/platform/cache"
	"github.com/JavierPalina/TINCO-sub002/internal/platform/db"
	"github.com/JavierPalina/TINCO-sub002/internal/shared"
	"github.com/JavierPalina/TINCO-sub002/jobs"
	"github.com/JavierPalina/TINCO-sub002/migrations"
)

const usage = `usage: tinco [command]

commands:
  serve                      run the HTTP API (default)
  migrate                    apply pending schema migrations
  reconcile [-json]          compare balances against the movement log
  jobs trigger <name>        enqueue inventory:reconcile or inventory:idempotency_cleanup
  jobs stats [-json]         print default queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		os.Exit(runMigrate(ctx, cfg, logger))
	case "reconcile":
		os.Exit(runReconcile(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	jobClient, err := jobs.NewClient(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inventoryService := newInventoryService(cfg, logger, dbpool, redisClient, jobClient, inventory.NewMetrics(metrics.Registerer()))
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventoryHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newInventoryService wires the ledger with its platform adapters. A nil
// redis client disables the balance cache.
func newInventoryService(cfg *app.Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, notifier inventory.Notifier, observer inventory.Observer) *inventory.Service {
	var balanceCache *inventory.BalanceCache
	if redisClient != nil {
		balanceCache = inventory.NewBalanceCache(redisClient, cfg.InventoryCacheTTL)
	}
	return inventory.NewService(inventory.NewRepository(pool, cfg.TxIsolation), inventory.ServiceConfig{
		BOMPolicy:   cfg.BOMPolicy,
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Cache:       balanceCache,
		Notifier:    notifier,
		Observer:    observer,
		Logger:      logger,
	})
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	return cli.MigrateCommand(ctx, cli.NewPGMigrationStore(pool), cli.MigrateOptions{Files: migrations.Files})
}

func runReconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	svc := newInventoryService(cfg, logger, pool, nil, nil, nil)
	return cli.ReconcileCommand(ctx, svc, cli.ReconcileOptions{JSONOutput: *jsonOut})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	sub, rest := args[0], args[1:]
	fs := flag.NewFlagSet("jobs "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	actor := fs.String("actor", os.Getenv("USER"), "actor recorded on triggered jobs")
	if err := fs.Parse(rest); err != nil {
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.AsynqRedis(), cfg.IdempotencyRetention)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer jobsCLI.Close()

	opts := cli.JobsOptions{Name: fs.Arg(0), Actor: *actor, JSONOutput: *jsonOut}
	switch sub {
	case "trigger":
		return jobsCLI.TriggerCommand(ctx, opts)
	case "stats":
		return jobsCLI.StatsCommand(ctx, opts)
	}
	fmt.Fprint(os.Stderr, usage)
	return 2
}
