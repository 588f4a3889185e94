package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bookacut/queuesync/config"
	"github.com/bookacut/queuesync/internal/cache"
	"github.com/bookacut/queuesync/internal/connectivity"
	deliveryHttp "github.com/bookacut/queuesync/internal/delivery/http"
	"github.com/bookacut/queuesync/internal/events"
	infraRedis "github.com/bookacut/queuesync/internal/infra/redis"
	"github.com/bookacut/queuesync/internal/kvstore"
	"github.com/bookacut/queuesync/internal/lifecycle"
	"github.com/bookacut/queuesync/internal/pending"
	"github.com/bookacut/queuesync/internal/realtime"
	"github.com/bookacut/queuesync/internal/service"
	"github.com/bookacut/queuesync/internal/store"
	pkgKafka "github.com/bookacut/queuesync/pkg/kafka"
	pkgLog "github.com/bookacut/queuesync/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	l := pkgLog.InitializeZapLogger(pkgLog.ZapConfig{
		Level:    cfg.Log.Level,
		Mode:     cfg.Log.Mode,
		Encoding: cfg.Log.Encoding,
	})

	// Durable local storage backing the cache and the pending mutations.
	kv, err := kvstore.NewSQLite(cfg.Local.DBPath)
	if err != nil {
		l.Fatalf(ctx, "Failed to open local store: %v", err)
	}
	defer kv.Close()

	redisCli, err := infraRedis.Connect(ctx, cfg.Redis)
	if err != nil {
		l.Fatalf(ctx, "Failed to connect to Redis: %v", err)
	}
	defer infraRedis.Disconnect(redisCli)

	// Initialize Kafka producer
	var prod events.Producer
	var kafkaSyncProd sarama.SyncProducer
	if cfg.Kafka.Enabled {
		kafkaSyncProd, err = pkgKafka.NewProducer(ctx, pkgKafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			RetryMax:     cfg.Kafka.ProducerRetryMax,
			RequiredAcks: cfg.Kafka.ProducerRequiredAcks,
		}, l)
		if err != nil {
			l.Fatalf(ctx, "Failed to initialize Kafka producer: %v", err)
		}
		defer func() {
			if kafkaSyncProd != nil {
				kafkaSyncProd.Close()
			}
		}()
		prod = events.NewProducer(kafkaSyncProd, l)
	}

	storeCli := store.NewClient(store.Config{
		BaseURL: cfg.Store.BaseURL,
		Token:   cfg.Store.Token,
		Timeout: cfg.Store.Timeout,
	}, l)

	ttlCache := cache.New(kv, l)
	pendingStore := pending.NewStore(kv, l)
	life := lifecycle.New(l)

	coord := connectivity.New(pendingStore, storeCli, storeCli, ttlCache, life, prod, l, connectivity.Config{
		MaxRetries:    cfg.Sync.MaxRetries,
		DrainInterval: cfg.Sync.DrainInterval,
		ProbeInterval: cfg.Sync.ProbeInterval,
	})
	go coord.Start(ctx)

	factory := realtime.NewRedisChannelFactory(redisCli, l)
	manager := realtime.NewManager(factory, storeCli, ttlCache, coord, life, l, realtime.Config{
		SnapshotCacheTTL: cfg.Sync.SnapshotCacheTTL,
	})
	manager.Start(ctx)
	defer manager.Close()

	notifier := realtime.NewNotifier(redisCli, l)
	qSvc := service.NewQueueService(storeCli, coord, notifier, ttlCache, prod, l)

	// http server
	handler := deliveryHttp.NewHTTPHandler(qSvc, coord, l)
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: deliveryHttp.NewRouter(handler)}
	go func() {
		l.Infof(ctx, "HTTP server is listening on: %s", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatalf(ctx, "Failed to serve HTTP: %v", err)
		}
	}()

	// Periodic sweep of expired cache rows.
	go func() {
		ticker := time.NewTicker(cfg.Sync.CacheSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := ttlCache.PurgeExpired(ctx); err != nil {
					l.Errorf(ctx, "cache sweep: %v", err)
				} else if n > 0 {
					l.Info(ctx, "Swept expired cache entries", "count", n)
				}
			}
		}
	}()

	// metrics server
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			l.Infof(ctx, "Metrics server is listening on: %s", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Fatalf(ctx, "Failed to serve metrics: %v", err)
			}
		}()
	}

	life.Set(lifecycle.StateActive)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info(ctx, "Daemon shutting down...")

	life.Set(lifecycle.StateBackground)
	cancel()
	time.Sleep(1 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	l.Info(ctx, "Daemon exited")
}
