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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	httpapi "github.com/piotrostr/listen-engine/api/http"
	"github.com/piotrostr/listen-engine/engine"
)

func main() {
	logger := log.New(os.Stdout, "engine ", log.LstdFlags|log.Lshortfile)

	svcCfg, err := engine.FromEnvServiceConfig()
	if err != nil {
		logger.Fatalf("load service config: %v", err)
	}

	registry := prometheus.NewRegistry()

	eng, err := engine.NewEngine(engine.NewLoggingExecutor(), registry)
	if err != nil {
		logger.Fatalf("init engine: %v", err)
	}

	consumer, err := engine.NewService(svcCfg, eng)
	if err != nil {
		logger.Fatalf("init price consumer: %v", err)
	}

	apiServer := httpapi.NewServer(eng, logger)

	addr := os.Getenv("ENGINE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("shutdown signal received")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		logger.Printf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("engine stopped: %v", err)
	}

	logger.Println("engine stopped")
}
