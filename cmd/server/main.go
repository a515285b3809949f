package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/imagegate"
	"github.com/ineyio/imagegate/httpapi"
	"github.com/ineyio/imagegate/meter"
	"github.com/ineyio/imagegate/provider/openai"
	pgstore "github.com/ineyio/imagegate/usage/postgres"
	redisstore "github.com/ineyio/imagegate/usage/redis"
)

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	ctx := context.Background()

	cfg := imagegate.DefaultConfig()
	if path := os.Getenv("IMAGEGATE_CONFIG"); path != "" {
		var err error
		cfg, err = imagegate.LoadConfig(path)
		if err != nil {
			log.Fatal("Failed to load config: ", err)
		}
	}

	// Missing credentials are a per-request 500, not a startup failure,
	// so the monitoring endpoint stays reachable either way.
	var provider imagegate.Provider
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		provider = openai.New(key)
	} else {
		logger.Warn("OPENAI_API_KEY not set; generation requests will fail")
	}

	opts := []imagegate.Option{imagegate.WithMeter(meter.NewLogMeter(logger))}

	var metricsStore imagegate.MetricsStore
	switch {
	case os.Getenv("DATABASE_URL") != "":
		pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
		if err != nil {
			log.Fatal("Failed to connect to database: ", err)
		}
		defer pool.Close()

		store := pgstore.New(pool, cfg.MinInterval, map[imagegate.Tier]int{
			imagegate.TierFree: cfg.DailyCapFree,
			imagegate.TierPaid: cfg.DailyCapPaid,
		})
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure schema: ", err)
		}
		opts = append(opts, imagegate.WithUsageStore(store))
		metricsStore = store
		logger.Info("durable usage store: postgres")

	case os.Getenv("REDIS_URL") != "":
		ropt, err := goredis.ParseURL(os.Getenv("REDIS_URL"))
		if err != nil {
			log.Fatal("Failed to parse REDIS_URL: ", err)
		}
		client := goredis.NewClient(ropt)
		defer client.Close()

		store := redisstore.New(client, cfg.MinInterval, map[imagegate.Tier]int{
			imagegate.TierFree: cfg.DailyCapFree,
			imagegate.TierPaid: cfg.DailyCapPaid,
		})
		opts = append(opts, imagegate.WithUsageStore(store))
		logger.Info("durable usage store: redis")

	default:
		logger.Info("no durable store configured; in-process usage enforcement only")
	}

	gateway, err := imagegate.New(cfg, provider, opts...)
	if err != nil {
		log.Fatal("Failed to create gateway: ", err)
	}

	if metricsStore != nil {
		go imagegate.FlushMetrics(ctx, gateway.Metrics(), metricsStore, cfg.FlushInterval)
	}

	handler := httpapi.New(gateway, logger,
		httpapi.WithMetricsSecret(os.Getenv("METRICS_SECRET")),
		httpapi.WithDevMode(os.Getenv("DEV_MODE") == "true"),
	)

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	handler.Register(router)

	port := getEnv("SERVER_PORT", "8080")
	logger.Info("server starting", "port", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal("Server failed: ", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
