package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"review_catalog/internal/cache"
	"review_catalog/internal/config"
	"review_catalog/internal/handlers"
	"review_catalog/internal/metrics"
	"review_catalog/internal/moderation"
	"review_catalog/internal/rabbit"
	"review_catalog/internal/repository"
	"review_catalog/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	// ---------- config ----------
	cfg := config.Load()

	// ---------- metrics ----------
	metrics.Register()

	// ---------- db ----------
	pool, err := repository.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal("db:", err)
	}
	defer pool.Close()

	// ---------- repositories ----------
	dedupRepo := repository.NewDedupRepository()
	userRepo := repository.NewUserCacheRepository(pool)
	movieRepo := repository.NewMovieCacheRepository(pool)
	likeRepo := repository.NewLikeCacheRepository(pool)
	reviewRepo := repository.NewReviewRepository(pool)
	outboxRepo := repository.NewOutboxRepository(pool, cfg.OutboxRetries)

	// ---------- redis ----------
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisCache.Close()

	// ---------- rabbit ----------
	runtime, err := rabbit.Dial(cfg.RabbitURL, logger)
	if err != nil {
		log.Fatal("rabbit:", err)
	}
	defer runtime.Close()

	publisher, err := rabbit.NewPublisher(runtime, cfg.OutboxExchange, logger)
	if err != nil {
		log.Fatal("rabbit publisher:", err)
	}
	defer publisher.Close()

	// ---------- event consumer ----------
	processor := service.NewEventProcessor(pool, dedupRepo, userRepo, movieRepo, likeRepo, reviewRepo, cfg.ConsumerName, logger)
	invalidate := service.NewCacheInvalidator(redisCache, logger)

	consumer, err := rabbit.NewConsumer(runtime, rabbit.ConsumerConfig{
		Queues:        cfg.Queues,
		ConsumerTag:   cfg.ConsumerName,
		Prefetch:      cfg.Prefetch,
		DeclareQueues: cfg.DeclareQueues,
		DLXExchange:   cfg.DLXExchange,
	}, processor.Router(), invalidate, logger)
	if err != nil {
		log.Fatal("rabbit consumer:", err)
	}

	go consumer.Run(ctx)

	// ---------- outbox sender ----------
	sender := service.NewOutboxSender(outboxRepo, publisher, cfg.OutboxPoll, cfg.OutboxBatch, cfg.OutboxRetention, logger)
	go sender.Start(ctx)

	// ---------- moderation worker ----------
	if cfg.ModerationURL != "" {
		moderationStore := service.NewModerationStore(pool, reviewRepo, outboxRepo)
		worker := service.NewModerationWorker(moderationStore, moderation.NewClient(cfg.ModerationURL), cfg.ModerationInterval, cfg.ModerationBatch, logger)
		go worker.Start(ctx)
	} else {
		logger.Println("[moderation] MODERATION_URL not set, worker disabled")
	}

	// ---------- db gauges ----------
	metrics.StartDBCollectors(ctx, pool, 15*time.Second, logger)

	// ---------- handlers ----------
	reviewService := service.NewReviewService(pool, reviewRepo, outboxRepo, redisCache, cfg.CacheTTL, logger)
	h := handlers.NewReviewHandler(reviewService, outboxRepo)

	// ---------- router ----------
	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	handlers.RegisterReviewRoutes(r, h)

	// ---------- start server ----------
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
	}

	go func() {
		logger.Println("server starting on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
}
