// Package main is the entry point for the expiration sweep worker.
// It periodically transitions batches past their expiration date to expired
// status, branch by branch. Read paths apply lazy expiry regardless, so a
// delayed sweep never yields stale allocations; the sweep keeps statuses and
// reports honest.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stocklot/internal/core/id"
	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/batch"
	"stocklot/internal/infrastructure/storage/postgres"
	"stocklot/internal/infrastructure/storage/postgres/batch_repo"
	"stocklot/internal/infrastructure/storage/postgres/ledger_repo"
	"stocklot/internal/infrastructure/storage/postgres/movement_repo"
	"stocklot/pkg/config"
	"stocklot/pkg/logger"
	"stocklot/pkg/numerator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Infow("starting stocklot sweeper", "interval", cfg.Sweeper.Interval)

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.DB.ConnectionString()))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	activityStore, err := postgres.NewActivityStore(txManager)
	if err != nil {
		log.Fatalw("failed to initialize activity store", "error", err)
	}

	sweeper := NewSweeper(pool, txManager, activityStore, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx, cfg.Sweeper.Interval)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down sweeper...")
	cancel()
	<-done
	log.Info("sweeper stopped")
}

// Sweeper runs periodic expiration sweeps across all branches.
type Sweeper struct {
	pool    *postgres.Pool
	batches *batch.Service
	log     *logger.Logger
}

// NewSweeper wires the batch catalog service for sweep runs.
func NewSweeper(pool *postgres.Pool, txManager *postgres.TxManager, sink activity.Sink, log *logger.Logger) *Sweeper {
	batchRepo := batch_repo.New(txManager)
	ledgerRepo := ledger_repo.New(txManager)
	movementRepo := movement_repo.New(txManager)
	num := numerator.New(txManager)

	return &Sweeper{
		pool:    pool,
		batches: batch.NewService(batchRepo, ledgerRepo, movementRepo, txManager, num, sink),
		log:     log.WithComponent("sweeper"),
	}
}

// Run sweeps immediately and then on every tick until the context ends.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

// sweepAll sweeps every branch holding active dated batches. Per-branch
// failures are logged and do not stop the run.
func (s *Sweeper) sweepAll(ctx context.Context) {
	branches, err := s.branchesToSweep(ctx)
	if err != nil {
		s.log.Errorw("failed to list branches to sweep", "error", err)
		return
	}

	var total int64
	for _, branchID := range branches {
		count, err := s.batches.SweepExpired(ctx, branchID)
		if err != nil {
			s.log.Errorw("sweep failed for branch", "branch_id", branchID, "error", err)
			continue
		}
		total += count
	}

	if total > 0 {
		s.log.Infow("sweep run complete", "branches", len(branches), "expired", total)
	}
}

func (s *Sweeper) branchesToSweep(ctx context.Context) ([]id.ID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT branch_id
		FROM product_batches
		WHERE status = 'active' AND expiration_date IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []id.ID
	for rows.Next() {
		var branchID id.ID
		if err := rows.Scan(&branchID); err != nil {
			return nil, err
		}
		branches = append(branches, branchID)
	}
	return branches, rows.Err()
}
