package geyser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FailoverService coordinates a primary/fallback client pair and feeds updates
// through a shared processor. When the primary stream exits with an error, the
// service attempts the fallback and periodically retries the primary.
type FailoverService struct {
	primary   ClientInterface
	fallback  ClientInterface
	processor *Processor
	metrics   *failoverMetrics

	flushers      []Flusher
	flushInterval time.Duration

	primaryRetryDelay  time.Duration
	fallbackRetryDelay time.Duration
}

// NewFailoverService constructs a failover service. When fallback is nil the
// service behaves identically to the single-client Service.
func NewFailoverService(primary, fallback ClientInterface, processor *Processor, flushers []Flusher, flushInterval time.Duration, reg prometheus.Registerer) (*FailoverService, error) {
	if primary == nil {
		return nil, errors.New("primary client is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &FailoverService{
		primary:            primary,
		fallback:           fallback,
		processor:          processor,
		metrics:            newFailoverMetrics(reg),
		flushers:           flushers,
		flushInterval:      flushInterval,
		primaryRetryDelay:  5 * time.Second,
		fallbackRetryDelay: 3 * time.Second,
	}, nil
}

// Run executes the failover loop until the context is cancelled. startSlot is
// forwarded to both clients (each is responsible for replaying recent slots).
func (s *FailoverService) Run(ctx context.Context, startSlot uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	flushTicker := time.NewTicker(s.flushInterval)
	defer flushTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-flushTicker.C:
				s.flush(ctx)
			}
		}
	}()
	defer s.flush(context.Background())

	clients := []ClientInterface{s.primary}
	if s.fallback != nil {
		clients = append(clients, s.fallback)
	}

	current := 0
	for {
		client := clients[current]
		s.metrics.setActive(current)

		start := time.Now()
		err := s.runClient(ctx, client, startSlot)
		if errors.Is(err, context.Canceled) {
			s.processor.Wait()
			return ctx.Err()
		}
		if err != nil {
			s.metrics.recordFailure(client.Name())
			log.Printf("%s stream ended after %s: %v", client.Name(), time.Since(start).Round(time.Millisecond), err)
		}

		if len(clients) == 1 {
			time.Sleep(s.primaryRetryDelay)
			continue
		}

		// Toggle between primary and fallback.
		current = (current + 1) % len(clients)
		if current == 0 {
			time.Sleep(s.primaryRetryDelay)
		} else {
			time.Sleep(s.fallbackRetryDelay)
		}
	}
}

func (s *FailoverService) flush(ctx context.Context) {
	for _, f := range s.flushers {
		if err := f.Flush(ctx); err != nil {
			// Buffered rows are retained by the store; retried next tick.
			log.Printf("sink flush failed (will retry): %v", err)
		}
	}
}

func (s *FailoverService) runClient(ctx context.Context, client ClientInterface, startSlot uint64) error {
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", client.Name(), err)
	}
	defer client.Close()

	updates, errs := client.Subscribe(startSlot)

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case err := <-errs:
			if err != nil {
				return err
			}
		case update, ok := <-updates:
			if !ok {
				return errors.New("update stream closed")
			}
			if err := s.processor.HandleUpdate(ctx, update); err != nil {
				if errors.Is(err, context.Canceled) {
					return context.Canceled
				}
				log.Printf("%s handle update: %v", client.Name(), err)
			}
		}
	}
}

type failoverMetrics struct {
	activeSource prometheus.Gauge
	failures     *prometheus.CounterVec
}

func newFailoverMetrics(reg prometheus.Registerer) *failoverMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &failoverMetrics{
		activeSource: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      "active_source",
			Help:      "Indicates which ingest source is currently active (1=primary, 2=fallback)",
		}),
		failures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      "source_failures_total",
			Help:      "Count of stream failures per ingest source.",
		}, []string{"source"}),
	}
}

func (m *failoverMetrics) setActive(idx int) {
	if m == nil {
		return
	}
	m.activeSource.Set(float64(idx + 1))
}

func (m *failoverMetrics) recordFailure(source string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(source).Inc()
}
