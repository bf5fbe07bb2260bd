package geyser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// ClientInterface captures the subset of the geyser client used by the service.
type ClientInterface interface {
	Connect() error
	Subscribe(startSlot uint64) (<-chan *pb.SubscribeUpdate, <-chan error)
	Close() error
	Name() string
}

// Flusher is implemented by stores with buffered batches. Flush failures are
// logged and retried on the next interval; buffered rows survive failures.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Service wires the geyser client, processor, and sinks together.
type Service struct {
	client        ClientInterface
	processor     *Processor
	flushers      []Flusher
	flushInterval time.Duration
	logger        *log.Logger

	metricsServer *http.Server
	metricsStopCh chan struct{}
}

// NewService constructs a service around a connected pipeline. When
// metricsAddr is non-empty the service exposes Prometheus metrics on that
// address.
func NewService(client ClientInterface, processor *Processor, flushers []Flusher, flushInterval time.Duration, registry *prometheus.Registry, metricsAddr string) (*Service, error) {
	if client == nil {
		return nil, errors.New("geyser client is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	if registry != nil {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registry.MustRegister(collectors.NewGoCollector())
	}

	return &Service{
		client:        client,
		processor:     processor,
		flushers:      flushers,
		flushInterval: flushInterval,
		logger:        log.New(os.Stdout, "ingestor ", log.LstdFlags),
		metricsServer: buildMetricsServer(metricsAddr, registry),
		metricsStopCh: make(chan struct{}),
	}, nil
}

// Run connects to geyser, processes updates, and blocks until the context is
// cancelled or the stream closes for good.
func (s *Service) Run(ctx context.Context, startSlot uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.client.Connect(); err != nil {
		return fmt.Errorf("connect geyser: %w", err)
	}
	defer s.client.Close()
	defer s.processor.Wait()

	updates, errs := s.client.Subscribe(startSlot)

	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("metrics server error: %v", err)
			}
			close(s.metricsStopCh)
		}()
	}

	flushTicker := time.NewTicker(s.flushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(context.Background())
			s.shutdownMetrics()
			return ctx.Err()
		case <-flushTicker.C:
			s.flush(ctx)
		case err := <-errs:
			if err != nil {
				s.logger.Printf("stream error: %v", err)
			}
		case update, ok := <-updates:
			if !ok {
				s.flush(context.Background())
				s.shutdownMetrics()
				return nil
			}
			if err := s.processor.HandleUpdate(ctx, update); err != nil {
				// Only permit acquisition during shutdown surfaces here.
				if errors.Is(err, context.Canceled) {
					continue
				}
				s.logger.Printf("handle update: %v", err)
			}
		}
	}
}

func (s *Service) flush(ctx context.Context) {
	for _, f := range s.flushers {
		if err := f.Flush(ctx); err != nil {
			// Buffered rows are retained by the store; retried next tick.
			s.logger.Printf("sink flush failed (will retry): %v", err)
		}
	}
}

func (s *Service) shutdownMetrics() {
	if s.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.metricsServer.Shutdown(ctx)
	<-s.metricsStopCh
}

func buildMetricsServer(addr string, gatherer prometheus.Gatherer) *http.Server {
	if addr == "" || gatherer == nil {
		return nil
	}
	return &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
