package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"auction-engine/internal/config"
	"auction-engine/internal/infrastructure/mysql"
	"auction-engine/internal/infrastructure/redis"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
)

// auction-jobs runs one sweep or backfill pass and exits. Intended for
// external schedulers (cron, systemd timers, an orchestrator): the summary is
// printed as JSON and the exit code is non-zero only on internal failure.
// An empty pass is a successful no-op.
//
// Usage: auction-jobs [-auction <id>] <activate|end|ending-soon|backfill>
func main() {
	auctionID := flag.String("auction", "", "limit backfill to one auction")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: auction-jobs [-auction <id>] <activate|end|ending-soon|backfill>")
		os.Exit(2)
	}
	job := flag.Arg(0)

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err)
		os.Exit(1)
	}

	auctionStore := mysql.NewMySQLAuctionStore(db)
	bidStore := mysql.NewMySQLBidStore(db)
	locker := redis.NewRedisAuctionLock(rdb, cfg.Lock.TTL, cfg.Lock.Attempts, cfg.Lock.RetryDelay)
	notifier := redis.NewNotificationPublisher(rdb)
	ledger := redis.NewLedgerPublisher(rdb)
	snapshots := redis.NewRedisSnapshotCache(rdb, cfg.Snapshot.TTL)

	recorder := services.NewWinnerRecorder(cfg.Payment.Due, log)
	lifecycle := services.NewLifecycleService(auctionStore, bidStore, locker, notifier, ledger, snapshots,
		recorder, cfg.Sweep.EndingSoonWindow, log)
	reconciler := services.NewReconcileService(auctionStore, locker, recorder, log)

	var summary services.Summary
	switch job {
	case "activate":
		summary, err = lifecycle.ActivatePending(ctx)
	case "end":
		summary, err = lifecycle.EndDue(ctx)
	case "ending-soon":
		summary, err = lifecycle.NotifyEndingSoon(ctx)
	case "backfill":
		summary, err = reconciler.BackfillWinners(ctx, *auctionID)
	default:
		fmt.Fprintf(os.Stderr, "unknown job %q\n", job)
		os.Exit(2)
	}
	if err != nil {
		log.Error("Job failed", "job", job, "error", err)
		os.Exit(1)
	}

	out, _ := json.Marshal(map[string]interface{}{
		"job":       job,
		"processed": summary.Processed,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
	})
	fmt.Println(string(out))
}
