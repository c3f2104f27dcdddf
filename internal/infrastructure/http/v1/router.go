// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"stocklot/internal/domain/activity"
	"stocklot/internal/domain/allocation"
	"stocklot/internal/domain/batch"
	"stocklot/internal/domain/deduction"
	"stocklot/internal/domain/ledger"
	"stocklot/internal/domain/returns"
	"stocklot/internal/infrastructure/http/v1/handlers"
	"stocklot/internal/infrastructure/http/v1/middleware"
	"stocklot/internal/infrastructure/storage/postgres"
	"stocklot/internal/infrastructure/storage/postgres/batch_repo"
	"stocklot/internal/infrastructure/storage/postgres/ledger_repo"
	"stocklot/internal/infrastructure/storage/postgres/movement_repo"
	"stocklot/pkg/logger"
	"stocklot/pkg/numerator"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	Pool      *postgres.Pool
	TxManager *postgres.TxManager
	Logger    *logger.Logger

	// ActivitySink receives best-effort operational breadcrumbs. Nil disables
	// activity logging.
	ActivitySink activity.Sink

	// ActivityHistory serves activity read-back. Nil disables the endpoint.
	ActivityHistory activity.History
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Actor())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	healthHandler := handlers.NewHealthHandler(cfg.Pool.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
	}

	// Repositories share the TxManager; queriers resolve per request from
	// the transaction in context.
	batchRepo := batch_repo.New(cfg.TxManager)
	ledgerRepo := ledger_repo.New(cfg.TxManager)
	movementRepo := movement_repo.New(cfg.TxManager)
	num := numerator.New(cfg.TxManager)

	allocationService := allocation.NewService(batchRepo)
	batchService := batch.NewService(batchRepo, ledgerRepo, movementRepo, cfg.TxManager, num, cfg.ActivitySink)
	deductionService := deduction.NewService(batchRepo, ledgerRepo, movementRepo, cfg.TxManager, cfg.ActivitySink)
	returnsService := returns.NewService(batchRepo, ledgerRepo, movementRepo, cfg.TxManager, num, cfg.ActivitySink)
	ledgerService := ledger.NewService(ledgerRepo, movementRepo, cfg.TxManager, cfg.ActivitySink)

	base := handlers.NewBaseHandler()

	apiV1 := router.Group("/api/v1")
	{
		branches := apiV1.Group("/branches")
		stocks := apiV1.Group("/stocks")
		batches := apiV1.Group("/batches")

		stockHandler := handlers.NewStockHandler(base, ledgerService)
		stockHandler.RegisterRoutes(branches, stocks)

		batchHandler := handlers.NewBatchHandler(base, batchService, allocationService)
		batchHandler.RegisterRoutes(branches, batches)

		deductionHandler := handlers.NewDeductionHandler(base, deductionService)
		deductionHandler.RegisterRoutes(branches)

		returnsHandler := handlers.NewReturnsHandler(base, returnsService)
		returnsHandler.RegisterRoutes(batches)

		if cfg.ActivityHistory != nil {
			activityHandler := handlers.NewActivityHandler(base, cfg.ActivityHistory)
			activityHandler.RegisterRoutes(apiV1)
		}
	}

	return router
}
