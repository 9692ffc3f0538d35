package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/fanout"
	httpapi "github.com/example/delivery-tracking/internal/http"
	"github.com/example/delivery-tracking/internal/ingest"
	"github.com/example/delivery-tracking/internal/location"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/rooms"
	"github.com/example/delivery-tracking/internal/router"
	"github.com/example/delivery-tracking/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("delivery-tracking", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		orders    storage.OrderStore
		readiness []httpapi.ReadinessCheck
	)
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres_connect_failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migration_failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations_applied")
		}
		orders = pg
		readiness = append(readiness, httpapi.ReadinessCheck{Name: "postgres", Check: pg.Ping})
	} else {
		logger.Warn("PG_DSN not set, using in-memory order store")
		mem := storage.NewMemoryStore()
		if cfg.SeedFile != "" {
			if err := storage.LoadSeedFile(cfg.SeedFile, mem); err != nil {
				logger.Error("seed_failed", "path", cfg.SeedFile, "error", err)
				os.Exit(1)
			}
		}
		orders = mem
	}

	verifier, err := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error("jwt_setup_failed", "error", err)
		os.Exit(1)
	}

	registry := rooms.NewRegistry(rooms.OrderPolicy{Orders: orders}, logging.NewLogger("rooms", cfg.LogLevel))

	var broadcaster location.Broadcaster = registry
	var bridge *fanout.RedisBridge
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Error("redis_connect_failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		bridge = fanout.NewRedisBridge(rc, cfg.RedisChannel, uuid.NewString(), registry, logging.NewLogger("fanout", cfg.LogLevel), 1024)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis_bridge_stopped", "error", err)
			}
		}()
		broadcaster = bridge
		readiness = append(readiness, httpapi.ReadinessCheck{Name: "redis", Check: bridge.Ping})
	}

	svc := &location.Service{Orders: orders, Rooms: broadcaster, Logger: logging.NewLogger("location", cfg.LogLevel)}
	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logging.NewLogger("ingest", cfg.LogLevel))
		svc.Sink = producer
	}

	rt := router.New(router.Options{
		Rooms:    registry,
		Fanout:   broadcaster,
		Orders:   orders,
		Location: svc,
		Logger:   logging.NewLogger("router", cfg.LogLevel),
	})

	api := httpapi.NewServer(httpapi.Deps{
		Auth:      auth.NewAuthenticator(verifier),
		Registry:  registry,
		Router:    rt,
		WS:        cfg.WS,
		Logger:    logger,
		Readiness: readiness,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("delivery-tracking listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", "error", err)
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	registry.Close()
	if bridge != nil {
		bridge.Close()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("kafka_close", "error", err)
		}
	}
}
