package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/blob"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/notify"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
	"github.com/rl1809/storefront/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load config")
	}
	logger := setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	dsn, err := cfg.MySQL.FormatDSN()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid mysql config")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect mysql")
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping mysql")
	}
	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate schema")
	}
	logger.Info().Msg("connected to mysql")

	// Initialize Redis. The cache tier is optional, so a failed ping only warns.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, serving without distributed cache")
	} else {
		logger.Info().Msg("connected to redis")
	}
	var cache port.CacheRepository = storage.NewRedisAdapter(rdb)

	// Receipt storage
	var blobs port.BlobStorage
	if cfg.S3.Bucket != "" {
		s3Store, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Endpoint:  cfg.S3.Endpoint,
			BasePath:  cfg.S3.BasePath,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init receipt storage")
		}
		blobs = s3Store
	} else {
		logger.Warn().Msg("S3_BUCKET not set, receipt uploads are disabled")
	}

	bot := notify.NewTelegram(notify.TelegramConfig{
		Token:    cfg.Telegram.BotToken,
		AdminIDs: cfg.AdminIDs,
		BaseURL:  cfg.Telegram.APIURL,
		Timeout:  cfg.Telegram.Timeout,
	}, logger)
	if !bot.Enabled() {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN not set, notifications are disabled")
	}

	// Initialize services
	group := task.NewGroup(logger, cfg.Tasks.BackgroundTime)
	events := service.NewBroadcaster(cfg.Store.ListenerBuffer, logger)
	store := service.NewStoreService(mysqlAdapter, events, logger, cfg.Store.StatusCacheTTL)
	ledger := service.NewStockLedger(mysqlAdapter)
	catalogCache := service.NewCatalogCache(mysqlAdapter, mysqlAdapter, cache, events, group, logger, service.CatalogCacheConfig{
		TTL:        cfg.Catalog.CacheTTL,
		VersionTTL: cfg.Catalog.VersionTTL,
	})
	catalogService := service.NewCatalogService(mysqlAdapter, catalogCache, logger)
	cartService := service.NewCartService(mysqlAdapter, mysqlAdapter, ledger, store, group, logger, service.CartConfig{
		ExpireAfter: cfg.Cart.ExpireAfter,
		MaxAttempts: cfg.Cart.MaxAttempts,
		SweepBatch:  cfg.Tasks.BatchSize,
	})
	orderService := service.NewOrderService(mysqlAdapter, cartService, mysqlAdapter, store, blobs, cache, bot, group, logger, service.OrderConfig{
		MaxReceiptBytes: cfg.Orders.MaxReceiptBytes,
	})
	archiveService := service.NewArchiveService(mysqlAdapter, ledger, blobs, bot, group, logger, service.ArchiveConfig{
		GraceWindow: cfg.Orders.RestoreWindow,
		PurgeBatch:  cfg.Tasks.BatchSize,
	})

	// Warm the catalog so the first request is served from memory
	group.Go("catalog-warmup", func(ctx context.Context) error {
		_, err := catalogCache.GetCatalog(ctx, false)
		return err
	})

	// Start scheduled tasks
	manager := task.NewManager(logger,
		task.NewPurgeTask(archiveService, cfg.Tasks.PurgeInterval, logger),
		task.NewCartSweepTask(cartService, cfg.Tasks.SweepInterval, logger),
		task.NewStoreWakeTask(store, cfg.Tasks.WakeInterval, logger),
	)
	if err := manager.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start tasks")
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(catalogCache, store).Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to listen")
	}
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr()).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(handler.Services{
		Catalog:       catalogCache,
		CatalogAdmin:  catalogService,
		Carts:         cartService,
		Orders:        orderService,
		OrderStatuses: archiveService,
		Store:         store,
		Bot:           bot,
	}, handler.Options{
		AdminIDs: cfg.AdminIDs,
		RateLimit: handler.RateLimits{
			Enabled: cfg.RateLimitEnabled(),
			Default: cfg.RateLimit.Default,
			Cart:    cfg.RateLimit.Cart,
			Order:   cfg.RateLimit.Order,
			Admin:   cfg.RateLimit.Admin,
		},
		MaxReceiptBytes: cfg.Orders.MaxReceiptBytes,
		WebhookSecret:   cfg.Telegram.WebhookSecret,
		StreamPing:      cfg.Store.StreamPing,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           httpHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Open status streams never finish on their own
	httpServer.RegisterOnShutdown(httpHandler.Close)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown")
	}
	logger.Info().Msg("HTTP server stopped")

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	logger.Info().Msg("gRPC server stopped")

	manager.Stop()
	if err := group.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("background tasks did not finish")
	}
	logger.Info().Msg("tasks stopped")

	rdb.Close()
	db.Close()
	logger.Info().Msg("connections closed")
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.IsProduction() && cfg.Log.Format == "console" {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	return zlog.Logger.With().Str("service", "storefront").Logger()
}
