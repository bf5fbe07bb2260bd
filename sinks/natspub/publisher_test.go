package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"

	"github.com/piotrostr/listen-engine/ingestor/pricing"
)

func runServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	opts := &server.Options{Host: "127.0.0.1", Port: -1}
	srv, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Skip("nats-server not ready in sandbox")
	}
	tcpAddr, ok := srv.Addr().(*net.TCPAddr)
	if !ok {
		srv.Shutdown()
		t.Fatal("unexpected addr type")
	}
	return srv, fmt.Sprintf("nats://127.0.0.1:%d", tcpAddr.Port)
}

func TestPublisherPublishesObservations(t *testing.T) {
	srv, url := runServer(t)
	defer srv.Shutdown()

	cfg := DefaultConfig()
	cfg.URL = url

	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect subscriber: %v", err)
	}
	defer nc.Close()

	msgs := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe(cfg.Subject, msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush subscription: %v", err)
	}

	obs := &pricing.Observation{
		Name:       "TESTCOIN",
		Pubkey:     "9BB6NFEcjBCtnNLFko2FqVQBq8HHM13kCyYcdQbgpump",
		Price:      0.0758,
		Timestamp:  1_740_000_000,
		Slot:       322503186,
		SwapAmount: 675.04,
		Owner:      "user",
		Signature:  "sig-1",
		MultiHop:   true,
		IsPump:     true,
	}

	ctx, cancel := pub.WithTimeout(context.Background())
	defer cancel()
	if err := pub.PublishObservation(ctx, obs); err != nil {
		t.Fatalf("PublishObservation() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var got pricing.Observation
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unmarshal observation: %v", err)
		}
		if got != *obs {
			t.Fatalf("round-tripped %+v, want %+v", got, obs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("observation not delivered")
	}
}

func TestPublisherNilObservation(t *testing.T) {
	srv, url := runServer(t)
	defer srv.Shutdown()

	cfg := DefaultConfig()
	cfg.URL = url
	pub, err := NewPublisher(cfg)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer pub.Close()

	if err := pub.PublishObservation(context.Background(), nil); err != nil {
		t.Fatalf("nil observation should be a no-op, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without URL")
	}

	cfg.URL = "nats://localhost:4222"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Subject = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error with empty subject")
	}
}
