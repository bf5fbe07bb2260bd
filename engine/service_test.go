package engine

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

func TestServiceFeedsTicksToEngine(t *testing.T) {
	srv, url := runServer(t)
	defer srv.Shutdown()

	exec := &recordingExecutor{}
	eng := newTestEngine(t, exec)

	p := mustBuild(t, CreateRequest{Steps: []StepInput{{
		Action:     notification("triggered"),
		Conditions: []ConditionInput{priceAbove("tokenMint", 0.001)},
	}}})
	if err := eng.AddPipeline(context.Background(), p); err != nil {
		t.Fatalf("AddPipeline() error = %v", err)
	}

	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect consumer: %v", err)
	}

	svc, err := NewServiceWithConn(ServiceConfig{NATSURL: url}, eng, conn)
	if err != nil {
		t.Fatalf("NewServiceWithConn() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	pub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Close()

	obs := pricing.Observation{
		Name:   "TOKEN",
		Pubkey: "tokenMint",
		Price:  0.00148,
	}
	payload, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal observation: %v", err)
	}

	// The subscriber needs a moment to register interest.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := pub.Publish(defaultPriceSubject, payload); err != nil {
			t.Fatalf("publish: %v", err)
		}
		pub.Flush()
		if exec.count() > 0 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if exec.count() == 0 {
		t.Fatal("pipeline never fired from a published tick")
	}
	if price, ok := eng.Price("tokenMint"); !ok || price != 0.00148 {
		t.Fatalf("price cache %f %v", price, ok)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop on cancel")
	}
}

func TestServiceDropsMalformedMessages(t *testing.T) {
	srv, url := runServer(t)
	defer srv.Shutdown()

	eng := newTestEngine(t, &recordingExecutor{})
	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect consumer: %v", err)
	}
	svc, err := NewServiceWithConn(ServiceConfig{NATSURL: url}, eng, conn)
	if err != nil {
		t.Fatalf("NewServiceWithConn() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	pub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Close()

	good, _ := json.Marshal(pricing.Observation{Pubkey: "mint", Price: 2})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		pub.Publish(defaultPriceSubject, []byte("{not json"))
		pub.Publish(defaultPriceSubject, []byte(`{"price": 1}`)) // no pubkey
		pub.Publish(defaultPriceSubject, good)
		pub.Flush()
		if _, ok := eng.Price("mint"); ok {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	// The valid message must land despite the garbage before it.
	if price, ok := eng.Price("mint"); !ok || price != 2 {
		t.Fatalf("price cache %f %v", price, ok)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop on cancel")
	}
}
