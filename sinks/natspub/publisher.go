package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/piotrostr/listen-engine/ingestor/pricing"
)

// Publisher emits price observations as JSON on a core NATS subject.
// Delivery is best effort: a dropped message never blocks ingestion, and
// downstream consumers read the freshest tick rather than a replayed history.
type Publisher struct {
	cfg  Config
	conn *nats.Conn
}

// NewPublisher validates configuration, connects to the NATS server, and
// returns a ready Publisher.
func NewPublisher(cfg Config) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("listen-price-publisher"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &Publisher{cfg: cfg, conn: conn}, nil
}

// NewPublisherWithConn wraps an existing connection; used by tests and by
// processes that share one connection across components.
func NewPublisherWithConn(cfg Config, conn *nats.Conn) (*Publisher, error) {
	if cfg.Subject == "" {
		cfg.Subject = defaultSubject
	}
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	return &Publisher{cfg: cfg, conn: conn}, nil
}

// PublishObservation serializes the observation and publishes it. The context
// bounds the flush when the connection buffer is under pressure.
func (p *Publisher) PublishObservation(ctx context.Context, obs *pricing.Observation) error {
	if obs == nil {
		return nil
	}

	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("marshal observation: %w", err)
	}

	if err := p.conn.Publish(p.cfg.Subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.cfg.Subject, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := p.conn.FlushTimeout(time.Until(deadline)); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

// WithTimeout returns a context with the publisher's timeout applied.
func (p *Publisher) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := p.cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return context.WithTimeout(parent, timeout)
}

// Subject reports the subject observations are published on.
func (p *Publisher) Subject() string {
	return p.cfg.Subject
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}
