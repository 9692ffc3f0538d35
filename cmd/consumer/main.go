package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
)

const driverPositionsKey = "driver_positions"

var (
	samplesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "location_consumer",
		Name:      "samples_consumed_total",
		Help:      "Location samples read from Kafka.",
	})
	samplesInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "location_consumer",
		Name:      "samples_invalid_total",
		Help:      "Messages that were not valid location samples.",
	})
	positionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "location_consumer",
		Name:      "position_writes_total",
		Help:      "Redis position writes by outcome.",
	}, []string{"outcome"})
)

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	logger := logging.NewLogger("location-consumer", os.Getenv("LOG_LEVEL"))

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := getenv("KAFKA_TOPIC", "driver-locations")
	group := getenv("KAFKA_GROUP", "delivery-tracking-consumer")

	rc := redis.NewClient(&redis.Options{Addr: getenv("REDIS_ADDR", "localhost:6379"), Password: os.Getenv("REDIS_PASSWORD")})
	radapter := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", topic, "brokers", brokers, "group", group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		samplesConsumed.Inc()
		handleMessage(ctx, logger, radapter, m.Value)
	}
}

var errInvalidSample = errors.New("invalid location sample")

func decodeSample(raw []byte) (models.LocationSample, error) {
	var s models.LocationSample
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	if s.OrderID == "" || s.DriverID == "" {
		return s, errInvalidSample
	}
	return s, nil
}

func handleMessage(ctx context.Context, logger *slog.Logger, rc RedisUpdater, raw []byte) {
	s, err := decodeSample(raw)
	if err != nil {
		samplesInvalid.Inc()
		logger.Warn("invalid message", "error", err)
		return
	}
	if err := updateRedisWithRetry(ctx, rc, s, 3, 200*time.Millisecond); err != nil {
		positionWrites.WithLabelValues("error").Inc()
		logger.Error("redis update failed", "order_id", s.OrderID, "driver_id", s.DriverID, "error", err)
		return
	}
	positionWrites.WithLabelValues("ok").Inc()
}

// RedisUpdater defines the small subset of redis operations we need for tests and production.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

func lastPositionKey(orderID string) string { return "order:last:" + orderID }

// updateRedisWithRetry records the driver's position and the order's last
// known position. Each write is retried on its own with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, s models.LocationSample, attempts int, delay time.Duration) error {
	err := withRetry(ctx, attempts, delay, func() error {
		return rc.GeoAdd(ctx, driverPositionsKey, &redis.GeoLocation{Longitude: s.Lng, Latitude: s.Lat, Name: s.DriverID})
	})
	if err != nil {
		return fmt.Errorf("geoadd %s: %w", s.DriverID, err)
	}
	err = withRetry(ctx, attempts, delay, func() error {
		return rc.HSet(ctx, lastPositionKey(s.OrderID), map[string]interface{}{
			"driver_id": s.DriverID,
			"lat":       strconv.FormatFloat(s.Lat, 'f', -1, 64),
			"lng":       strconv.FormatFloat(s.Lng, 'f', -1, 64),
			"ts":        s.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return fmt.Errorf("hset %s: %w", lastPositionKey(s.OrderID), err)
	}
	return nil
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
