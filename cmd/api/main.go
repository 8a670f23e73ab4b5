package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"example.com/heartstream/internal/activity"
	"example.com/heartstream/internal/api"
	"example.com/heartstream/internal/broadcast"
	"example.com/heartstream/internal/config"
	"example.com/heartstream/internal/ingest"
	"example.com/heartstream/internal/observability"
	"example.com/heartstream/internal/outbox"
	"example.com/heartstream/internal/persistence"
	"example.com/heartstream/internal/stats"
	httptransport "example.com/heartstream/internal/transport/http"
	"example.com/heartstream/internal/transport/ws"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.Open(ctx, persistence.Options{
		Driver:           cfg.StoreDriver,
		SQLitePath:       cfg.SQLitePath,
		PostgresURL:      cfg.PostgresURL,
		MemoryMaxSamples: cfg.MemoryMaxSamples,
	})
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	window := stats.NewWindow(cfg.StatsWindowSize)
	if recent, err := store.QueryRecent(ctx, cfg.StatsWindowSize); err != nil {
		logger.Warn("could not seed stats window", "error", err)
	} else {
		window.Seed(recent)
	}

	broadcaster := broadcast.New(
		broadcast.WithLogger(logger.With("component", "broadcast")),
		broadcast.WithSendTimeout(cfg.WriteTimeout),
		broadcast.WithQueueSize(cfg.SubscriberQueueSize),
		broadcast.WithBacklog(window, cfg.BacklogSize),
	)

	ingestOpts := []ingest.Option{
		ingest.WithLogger(logger.With("component", "ingest")),
		ingest.WithClassifyTimeout(cfg.ClassifyTimeout),
		ingest.WithSentinel(cfg.SubscriberSentinel),
		ingest.WithEcho(cfg.EchoToProducer),
		ingest.WithWriteTimeout(cfg.WriteTimeout),
		ingest.WithStore(store, cfg.PersistQueueSize),
	}

	var (
		producer   *outbox.KafkaProducer
		dispatcher *outbox.Dispatcher
	)
	if cfg.ExportEnabled() {
		producer = outbox.NewKafkaProducer(cfg.KafkaBrokers, logger.With("component", "kafka"))
		dispatcher = outbox.NewDispatcher(producer,
			outbox.WithLogger(logger.With("component", "outbox")),
			outbox.WithQueueSize(cfg.ExportQueueSize),
			outbox.WithBatchSize(cfg.ExportBatchSize),
			outbox.WithFlushInterval(cfg.ExportFlushInterval),
		)
		go dispatcher.Start(ctx)
		ingestOpts = append(ingestOpts, ingest.WithExporter(dispatcher, cfg.KafkaSampleTopic, cfg.KafkaActivityTopic))
		logger.Info("kafka export enabled", "brokers", cfg.KafkaBrokers)
	}

	service := ingest.NewService(window, broadcaster, ingestOpts...)

	tracker := activity.NewTracker(
		activity.WithStore(store),
		activity.WithEventSink(service),
		activity.WithLogger(logger.With("component", "activity")),
	)
	if n, err := tracker.Restore(ctx); err != nil {
		logger.Warn("activity restore incomplete", "restored", n, "error", err)
	} else {
		logger.Info("activities restored", "count", n)
	}

	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		_ = service.Run(ctx)
	}()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.StatsBroadcastSchedule, func() {
		service.BroadcastStats(ctx)
	}); err != nil {
		logger.Error("invalid stats broadcast schedule", "schedule", cfg.StatsBroadcastSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	wsHandler := ws.NewHandler(ctx, func(ctx context.Context, conn *ws.Conn) {
		service.HandleConnection(ctx, conn)
	}, ws.Options{
		WriteTimeout: cfg.WriteTimeout,
		PingInterval: cfg.PingInterval,
	}, logger)

	handler := api.NewHandler(tracker, window,
		api.WithSampleStore(store),
		api.WithSubscriberCount(broadcaster.Count),
		api.WithLogger(logger.With("component", "api")),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", wsHandler)
	// Legacy producers connect to the bare root.
	mux.Handle("/", wsHandler)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Logging(logger, httptransport.CORS(cfg.CORSOrigin, mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("heartstream listening", "address", cfg.HTTPAddress, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")

	<-scheduler.Stop().Done()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	workers.Wait()
	broadcaster.Close()

	if dispatcher != nil {
		dispatcher.Wait()
		if err := producer.Close(); err != nil {
			logger.Warn("kafka producer close failed", "error", err)
		}
	}
}
