package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/piotrostr/listen-engine/ingestor/geyser"
	"github.com/piotrostr/listen-engine/ingestor/pricing"
	"github.com/piotrostr/listen-engine/sinks/clickhouse"
	"github.com/piotrostr/listen-engine/sinks/natspub"
	"github.com/piotrostr/listen-engine/sinks/parquet"
)

func main() {
	logger := log.New(os.Stdout, "ingestor ", log.LstdFlags|log.Lshortfile)

	programsPath := os.Getenv("PROGRAMS_YAML_PATH")
	geyserCfg, err := geyser.LoadConfig(programsPath)
	if err != nil {
		logger.Fatalf("load geyser config: %v", err)
	}

	redisCfg, err := pricing.RedisConfigFromEnv()
	if err != nil {
		logger.Fatalf("load redis config: %v", err)
	}
	refCache := pricing.NewRefCache(redisCfg, nil)
	defer refCache.Close()
	metadata := pricing.NewRedisMetadata(redisCfg)
	defer metadata.Close()

	calc := pricing.NewCalculator(refCache, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chCfg, err := clickhouse.FromEnv()
	if err != nil {
		logger.Fatalf("load clickhouse config: %v", err)
	}
	writer, err := clickhouse.NewWithConfig(ctx, chCfg)
	if err != nil {
		logger.Fatalf("init clickhouse writer: %v", err)
	}
	defer writer.Close(context.Background())

	natsCfg, err := natspub.FromEnv()
	if err != nil {
		logger.Fatalf("load nats config: %v", err)
	}
	publisher, err := natspub.NewPublisher(natsCfg)
	if err != nil {
		logger.Fatalf("init nats publisher: %v", err)
	}
	defer publisher.Close()

	stores := []geyser.Store{writer}
	flushers := []geyser.Flusher{writer}

	if archive, err := parquet.NewWriter(archiveConfig(logger)); err == nil {
		stores = append(stores, archive)
		flushers = append(flushers, archive)
		defer archive.Close()
	} else if !errors.Is(err, parquet.ErrWriterDisabled) {
		logger.Fatalf("init parquet writer: %v", err)
	} else {
		logger.Println("parquet archive disabled: missing S3 configuration")
	}

	registry := prometheus.NewRegistry()
	processor := geyser.NewProcessor(calc, publisher, stores, registry)

	metricsAddr := os.Getenv("INGESTOR_METRICS_ADDR")

	var service interface {
		Run(ctx context.Context, startSlot uint64) error
	}

	if fallbackEndpoint := os.Getenv("GEYSER_FALLBACK_ENDPOINT"); fallbackEndpoint != "" {
		logger.Println("fallback geyser endpoint enabled")
		primaryClient, err := geyser.NewClient(geyserCfg)
		if err != nil {
			logger.Fatalf("init geyser client: %v", err)
		}

		fallbackCfg := *geyserCfg
		fallbackCfg.Endpoint = fallbackEndpoint
		if key := os.Getenv("GEYSER_FALLBACK_API_KEY"); key != "" {
			fallbackCfg.APIKey = key
		}
		fallbackClient, err := geyser.NewClient(&fallbackCfg)
		if err != nil {
			logger.Fatalf("init fallback geyser client: %v", err)
		}

		service, err = geyser.NewFailoverService(primaryClient, fallbackClient, processor, flushers, chCfg.FlushInterval, registry)
		if err != nil {
			logger.Fatalf("init failover service: %v", err)
		}
	} else {
		client, err := geyser.NewClient(geyserCfg)
		if err != nil {
			logger.Fatalf("init geyser client: %v", err)
		}
		svc, err := geyser.NewService(client, processor, flushers, chCfg.FlushInterval, registry, metricsAddr)
		if err != nil {
			logger.Fatalf("init service: %v", err)
		}
		service = svc
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutdown signal received")
		cancel()
	}()

	startSlot := uint64(0)
	if err := service.Run(ctx, startSlot); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("service run failed: %v", err)
	}

	logger.Println("service stopped")
}

func archiveConfig(logger *log.Logger) parquet.Config {
	cfg, err := parquet.FromEnv()
	if err != nil {
		// Treat incomplete S3 settings as disabled rather than fatal.
		logger.Printf("parquet config: %v", err)
		return parquet.Config{}
	}
	return cfg
}
