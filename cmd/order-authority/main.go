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

	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"chat-order/internal/api"
	"chat-order/internal/auth"
	"chat-order/internal/config"
	"chat-order/internal/entity"
	"chat-order/internal/events"
	"chat-order/internal/repository"
	"chat-order/internal/service"
	"chat-order/internal/sharding"
	"chat-order/migrations"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "order-authority").Logger()

func connectDB(dsn string, retries int) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < retries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err == nil {
			err = db.Ping()
			if err == nil {
				return db, nil
			}
			db.Close()
		}
		logger.Warn().Err(err).Msgf("Retry %d: failed to connect to DB", i+1)
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB after %d retries: %w", retries, err)
}

func rateLimiter(cfg config.Authority) echo.MiddlewareFunc {
	deny := func(c echo.Context, _ string, _ error) error {
		return c.JSON(http.StatusTooManyRequests, entity.ErrorResponse{Error: "rate limit exceeded", Code: "transport"})
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimit),
				Burst:     cfg.RateBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return deny(c, "", err)
		},
		DenyHandler: deny,
	})
}

func main() {
	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Order authority stopped")
		os.Exit(1)
	}
	logger.Info().Msg("Order authority stopped")
}

// run wires the authority and serves until interrupted. Every deferred close
// runs before it returns.
func run() error {
	cfg, err := config.LoadAuthority()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	shards := make([]*sql.DB, 0, len(cfg.Shards))
	for i, dsn := range cfg.Shards {
		db, err := connectDB(dsn, cfg.ConnRetries)
		if err != nil {
			return fmt.Errorf("shard %d unavailable: %w", i, err)
		}
		defer db.Close()
		shards = append(shards, db)
	}
	logger.Info().Msgf("Connected to %d order shards", len(shards))

	if err := migrations.AutoMigrateOrders(cfg.MigrateTries, shards...); err != nil {
		return fmt.Errorf("migrate order tables: %w", err)
	}
	// the catalog lives on the first shard
	if err := migrations.AutoMigrateCatalog(cfg.MigrateTries, shards[0]); err != nil {
		return fmt.Errorf("migrate catalog tables: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	kafkaWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.OrderTopic)
	defer kafkaWriter.Close()
	kafkaReader := config.NewKafkaReader(cfg.KafkaBrokers, cfg.OrderTopic, cfg.InventoryGroup)
	defer kafkaReader.Close()

	router := sharding.NewShardRouter(len(shards))
	catalogService := service.NewCatalogService(
		repository.NewProductRepository(shards[0]),
		repository.NewScheduleCache(rdb, cfg.ScheduleTTL),
		repository.NewReservationRepository(shards[0]),
	)
	orderService := service.NewOrderService(
		repository.NewOrderRepository(shards, router),
		repository.NewDraftRepository(shards, router),
		catalogService,
		repository.NewIdempotencyKeys(rdb, cfg.IdempotencyTTL),
		events.NewPublisher(kafkaWriter),
	)
	inventory := events.NewConsumer(kafkaReader, catalogService, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(rateLimiter(cfg))
	api.NewOrderHandler(catalogService, orderService).Register(e, auth.Middleware([]byte(cfg.JWTSecret)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Msgf("Listening on :%s", cfg.Port)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return inventory.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
