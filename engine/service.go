package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/piotrostr/listen-engine/ingestor/pricing"
)

const defaultPriceSubject = "price_updates"

// ServiceConfig configures the price consumer.
type ServiceConfig struct {
	NATSURL string
	Subject string
}

// FromEnvServiceConfig reads the consumer configuration from NATS_URL and
// NATS_SUBJECT.
func FromEnvServiceConfig() (ServiceConfig, error) {
	cfg := ServiceConfig{
		NATSURL: os.Getenv("NATS_URL"),
		Subject: os.Getenv("NATS_SUBJECT"),
	}
	if cfg.NATSURL == "" {
		return ServiceConfig{}, fmt.Errorf("NATS_URL is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultPriceSubject
	}
	return cfg, nil
}

// Service consumes price observations from NATS and feeds them to the engine.
// A single subscriber goroutine drains the channel in arrival order, so ticks
// for one asset are always applied in publish order.
type Service struct {
	cfg    ServiceConfig
	engine *Engine
	conn   *nats.Conn
	logger *log.Logger
}

// NewService connects to NATS and prepares the consumer.
func NewService(cfg ServiceConfig, eng *Engine) (*Service, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultPriceSubject
	}

	conn, err := nats.Connect(cfg.NATSURL, nats.Name("listen-engine"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Service{
		cfg:    cfg,
		engine: eng,
		conn:   conn,
		logger: log.New(os.Stdout, "engine-service ", log.LstdFlags),
	}, nil
}

// NewServiceWithConn wraps an existing connection; used by tests.
func NewServiceWithConn(cfg ServiceConfig, eng *Engine, conn *nats.Conn) (*Service, error) {
	if eng == nil {
		return nil, errors.New("engine is required")
	}
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = defaultPriceSubject
	}
	return &Service{cfg: cfg, engine: eng, conn: conn, logger: log.New(os.Stdout, "engine-service ", log.LstdFlags)}, nil
}

// Engine exposes the underlying engine, for the HTTP surface.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Run subscribes to the price subject and blocks until the context is
// cancelled. Malformed messages are logged and dropped; they never stop the
// loop.
func (s *Service) Run(ctx context.Context) error {
	msgs := make(chan *nats.Msg, 1024)
	sub, err := s.conn.ChanSubscribe(s.cfg.Subject, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Subject, err)
	}
	defer sub.Unsubscribe()
	defer s.conn.Drain()

	s.logger.Printf("consuming %s", s.cfg.Subject)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("subscription channel closed")
			}
			s.handleMessage(ctx, msg)
		}
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *nats.Msg) {
	var obs pricing.Observation
	if err := json.Unmarshal(msg.Data, &obs); err != nil {
		s.logger.Printf("drop malformed observation: %v", err)
		return
	}
	if obs.Pubkey == "" {
		s.logger.Printf("drop observation without pubkey (sig %s)", obs.Signature)
		return
	}
	s.engine.OnPriceTick(ctx, obs.Pubkey, obs.Price)
}
