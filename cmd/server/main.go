package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tgrady/market-risk-service/internal/api"
	"github.com/tgrady/market-risk-service/internal/cache"
	"github.com/tgrady/market-risk-service/internal/config"
	"github.com/tgrady/market-risk-service/internal/database"
	"github.com/tgrady/market-risk-service/internal/kafka"
	"github.com/tgrady/market-risk-service/internal/orchestrator"
	"github.com/tgrady/market-risk-service/internal/provider"
)

func main() {
	cfg := config.Load()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("connected to postgres at %s:%s", cfg.Database.Host, cfg.Database.Port)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	analysisStore := cache.NewAnalysisStore(redisClient, cfg.Cache.TTLAnalysis)

	av := provider.NewAlphaVantage(cfg.Providers.AlphaVantageAPIKey, cfg.Providers.RequestTimeout)
	yh := provider.NewYahoo(cfg.Providers.RequestTimeout)
	primary, fallback := provider.Provider(av), provider.Provider(yh)
	if cfg.Providers.Primary == "yahoo" {
		primary, fallback = yh, av
	}
	adapter := provider.NewAdapter(primary, fallback, map[string]*rate.Limiter{
		av.Name(): rate.NewLimiter(rate.Limit(cfg.Providers.AlphaVantageRPS), cfg.Providers.AlphaVantageBurst),
		yh.Name(): rate.NewLimiter(rate.Limit(cfg.Providers.YahooRPS), cfg.Providers.YahooBurst),
	})

	ttls := cache.TTLConfig{
		Live:       cfg.Cache.TTLLive,
		Historical: cfg.Cache.TTLHistorical,
		Analysis:   cfg.Cache.TTLAnalysis,
	}
	memory := cache.NewMemory(cfg.Cache.MemoryMaxEntries, ttls)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
	defer producer.Close()

	engine := orchestrator.New(db, adapter, memory, analysisStore, producer, orchestrator.Options{
		TTLs:         ttls,
		Overwrite:    cfg.Cache.MergePolicy != "stored",
		FetchTimeout: 2 * cfg.Providers.RequestTimeout,
		RiskFreeRate: cfg.Analytics.RiskFreeRate,
		Confidence:   cfg.Analytics.ConfidenceLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CorrectionsTopic, cfg.Kafka.ConsumerGroup, db, engine, producer)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Printf("corrections consumer stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      api.SetupRoutes(api.NewHandler(engine)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("shutdown complete")
}
