// Package main wires together the webharvest service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/inkhorn/webharvest/internal/api"
	gcsblob "github.com/inkhorn/webharvest/internal/blob/gcs"
	localblob "github.com/inkhorn/webharvest/internal/blob/local"
	memoryblob "github.com/inkhorn/webharvest/internal/blob/memory"
	"github.com/inkhorn/webharvest/internal/clock/system"
	"github.com/inkhorn/webharvest/internal/config"
	"github.com/inkhorn/webharvest/internal/crawl"
	"github.com/inkhorn/webharvest/internal/dispatcher"
	"github.com/inkhorn/webharvest/internal/hash/sha256"
	"github.com/inkhorn/webharvest/internal/id/uuid"
	"github.com/inkhorn/webharvest/internal/logging"
	"github.com/inkhorn/webharvest/internal/progress"
	"github.com/inkhorn/webharvest/internal/progress/sinks"
	memorypublisher "github.com/inkhorn/webharvest/internal/publisher/memory"
	pubsubpublisher "github.com/inkhorn/webharvest/internal/publisher/pubsub"
	queueMemory "github.com/inkhorn/webharvest/internal/queue/memory"
	memorystore "github.com/inkhorn/webharvest/internal/store/memory"
	postgresstore "github.com/inkhorn/webharvest/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()
	hasher := sha256.New()

	store, closeStore, err := buildStore(ctx, cfg, idGen, clock)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("metrics sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)

	fetcher := crawl.NewHTTPFetcher(cfg.Crawler.UserAgent, 0)
	engine := crawl.NewEngine(fetcher, logger.Named("engine"))
	robots := crawl.NewRobotsEnforcer(
		cfg.Crawler.RespectRobots,
		cfg.Crawler.UserAgent,
		cfg.RobotsTTL(),
		clock,
		logger.Named("robots"),
	)
	politeness := crawl.NewPoliteness(clock)
	canon := crawl.NewCanonicalizer(crawl.DefaultTrackingParams)

	controller := crawl.NewController(
		store,
		engine,
		robots,
		politeness,
		canon,
		idGen,
		clock,
		hasher,
		blobStore,
		publisher,
		hub,
		crawl.ControllerConfig{
			DefaultWorkers:  cfg.Crawler.WorkersDefault,
			Topic:           cfg.Publisher.Topic,
			BlobPrefix:      cfg.Blob.Prefix,
			BlobContentType: cfg.Blob.ContentType,
		},
		logger.Named("controller"),
	)

	manager := crawl.NewManager()
	jobQueue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	dispatch := dispatcher.New(jobQueue, controller, manager, cfg.Crawler.Concurrency, logger.Named("dispatcher"))

	apiServer := api.NewServer(store, dispatch, manager, idGen, clock, cfg, registry, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		logger.Info("dispatcher started", zap.Int("concurrency", cfg.Crawler.Concurrency))
		dispatch.Run(ctx)
		close(dispatchDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	jobQueue.Close()
	<-dispatchDone
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, idGen crawl.IDGenerator, clock crawl.Clock) (crawl.Store, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		st, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, idGen)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return memorystore.New(idGen, clock), func() {}, nil
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "none":
		return nil, nil
	case "local":
		return localblob.New(localblob.Config{BaseDir: cfg.Blob.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsblob.New(client, gcsblob.Config{Bucket: cfg.Blob.Bucket})
	default:
		return memoryblob.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawl.Publisher, func(), error) {
	switch cfg.Publisher.Backend {
	case "none":
		return nil, func() {}, nil
	case "pubsub":
		client, err := gcpubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		pub, err := pubsubpublisher.New(client)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	default:
		return memorypublisher.New(), func() {}, nil
	}
}
