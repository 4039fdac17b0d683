package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-engine/internal/api/handlers"
	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/leader"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
)

func main() {
	log := logger.New()
	log.Info("Starting auction engine service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "config", cfg.Summary())

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close MySQL connection", "error", err)
		}
	}()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to MySQL")

	// Initialize stores
	auctionStore := mysql.NewMySQLAuctionStore(db)
	bidStore := mysql.NewMySQLBidStore(db)

	// Initialize Redis based components
	locker := redis.NewRedisAuctionLock(rdb, cfg.Lock.TTL, cfg.Lock.Attempts, cfg.Lock.RetryDelay)
	notifier := redis.NewNotificationPublisher(rdb)
	ledger := redis.NewLedgerPublisher(rdb)
	snapshots := redis.NewRedisSnapshotCache(rdb, cfg.Snapshot.TTL)

	// Initialize services
	recorder := services.NewWinnerRecorder(cfg.Payment.Due, log)
	bidService := services.NewBidService(auctionStore, bidStore, locker, notifier, ledger, snapshots, recorder, log)
	lifecycle := services.NewLifecycleService(auctionStore, bidStore, locker, notifier, ledger, snapshots,
		recorder, cfg.Sweep.EndingSoonWindow, log)
	reconciler := services.NewReconcileService(auctionStore, locker, recorder, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","method":"${method}","uri":"${uri}","status":${status},"error":"${error}","latency":${latency}}` + "\n",
	}))
	e.Use(middleware.Recover())

	auctionHandler := handlers.NewAuctionHandler(bidService, lifecycle, log)
	auctionHandler.Register(e.Group("/api/v1"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-engine",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// In-process sweep driver; the same operations run standalone via the
	// auction-jobs binary when an external scheduler owns the cadence. Only
	// the elected leader sweeps, so replicas do not race over the same rows.
	sweepLeader := leader.NewSweepLeader(rdb, cfg.Leader.TTL, log)
	sweeper := cron.New()
	addSweep(sweeper, cfg.Sweep.ActivateSpec, "activate", sweepLeader, log, func(ctx context.Context) (services.Summary, error) {
		return lifecycle.ActivatePending(ctx)
	})
	addSweep(sweeper, cfg.Sweep.EndSpec, "end", sweepLeader, log, func(ctx context.Context) (services.Summary, error) {
		return lifecycle.EndDue(ctx)
	})
	addSweep(sweeper, cfg.Sweep.EndingSoonSpec, "ending-soon", sweepLeader, log, func(ctx context.Context) (services.Summary, error) {
		return lifecycle.NotifyEndingSoon(ctx)
	})
	addSweep(sweeper, cfg.Sweep.BackfillSpec, "backfill", sweepLeader, log, func(ctx context.Context) (services.Summary, error) {
		return reconciler.BackfillWinners(ctx, "")
	})
	sweeper.Start()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting HTTP server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction engine service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	<-sweeper.Stop().Done()
	if err := sweepLeader.Release(shutdownCtx); err != nil {
		log.Error("Failed to release sweep leadership", "error", err)
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Auction engine service stopped")
}

func addSweep(c *cron.Cron, spec, name string, sl *leader.SweepLeader, log logger.Logger, run func(context.Context) (services.Summary, error)) {
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		leading, err := sl.TryAcquire(ctx)
		if err != nil {
			log.Error("Leader check failed", "sweep", name, "error", err)
			return
		}
		if !leading {
			return
		}
		if _, err := run(ctx); err != nil {
			log.Error("Sweep run failed", "sweep", name, "error", err)
		}
	})
	if err != nil {
		log.Fatal("Invalid cron spec", "sweep", name, "spec", spec, "error", err)
	}
}
