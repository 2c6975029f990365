package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RaikyD/canteen-orders-service/internal/application"
	"github.com/RaikyD/canteen-orders-service/internal/blob"
	"github.com/RaikyD/canteen-orders-service/internal/cart"
	"github.com/RaikyD/canteen-orders-service/internal/changefeed"
	"github.com/RaikyD/canteen-orders-service/internal/config"
	"github.com/RaikyD/canteen-orders-service/internal/domain"
	"github.com/RaikyD/canteen-orders-service/internal/kafka"
	"github.com/RaikyD/canteen-orders-service/internal/logger"
	"github.com/RaikyD/canteen-orders-service/internal/migrate"
	"github.com/RaikyD/canteen-orders-service/internal/notify"
	"github.com/RaikyD/canteen-orders-service/internal/presentation"
	"github.com/RaikyD/canteen-orders-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		// the logger may not be initialised yet
		fmt.Fprintln(os.Stderr, "canteen-orders:", err)
		logger.Error("service stopped", "err", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logger.Init(cfg.LOG_LEVEL, cfg.LOG_FORMAT); err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(cfg.DB_STRING); err != nil {
		return err
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DB_STRING)
	if err != nil {
		return fmt.Errorf("pgxpool new: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	logger.Info("db connected")

	evidence, err := blob.NewS3Store(ctx, blob.Config{
		Bucket:        cfg.S3_BUCKET,
		Region:        cfg.AWS_REGION,
		Endpoint:      cfg.S3_ENDPOINT,
		PublicBaseURL: cfg.S3_PUBLIC_BASE_URL,
		AccessKey:     cfg.S3_ACCESS_KEY,
		SecretKey:     cfg.S3_SECRET_KEY,
	})
	if err != nil {
		return err
	}

	cartStore, err := cart.OpenBoltStore(cfg.CART_DB_PATH)
	if err != nil {
		return err
	}
	defer cartStore.Close()

	// Wiring
	hub := notify.NewHub(cfg.SUBSCRIBER_BUFFER)
	repo := repository.NewOrderRepository(pool)

	var emitter application.Emitter
	switch cfg.CHANGE_FEED {
	case config.FeedKafka:
		prod := kafka.NewProducer(cfg.KAFKA_BROKERS, cfg.KAFKA_TOPIC)
		defer prod.Close()
		emitter = prod

		// each instance needs every event, so groups are per instance
		group := cfg.KAFKA_GROUP_ID
		if group == "" {
			group = "canteen-orders-" + uuid.NewString()
		}
		if _, err := kafka.StartConsumer(ctx, hub, kafka.ConsumerConfig{
			Brokers: cfg.KAFKA_BROKERS,
			Topic:   cfg.KAFKA_TOPIC,
			GroupID: group,
		}); err != nil {
			return err
		}
	case config.FeedPostgres:
		// triggers publish every committed change; the engine stays quiet
		go changefeed.NewListener(pool, hub).Run(ctx)
	default:
		emitter = hub
	}

	opts := []application.Option{application.WithEvidenceURLs(evidence)}
	if emitter != nil {
		opts = append(opts, application.WithEmitter(emitter))
	}
	svc := application.NewOrdersService(repo, opts...)

	if err := svc.RestoreCache(ctx, cfg.RESTORE_CACHE_LIMIT); err != nil {
		logger.Warn("restore cache failed", "err", err)
	}
	// evicts cached orders that changed on another instance
	go svc.Follow(ctx, hub.Subscribe(notify.Filter{EntityType: domain.EntityOrder}))

	sessions := cart.NewSessions(cartStore)
	go sessions.RunEvictor(ctx, time.Minute, cfg.CART_IDLE_TTL)
	checkout := application.NewCheckoutService(sessions, evidence, svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// API
	h := presentation.NewHandler(svc, checkout, sessions, repo, hub, evidence)
	h.Register(r)

	// STATIC (web/index.html + css/js)
	presentation.MountStatic(r)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP_PORT,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http", "addr", srv.Addr, "change_feed", cfg.CHANGE_FEED)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server crashed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
