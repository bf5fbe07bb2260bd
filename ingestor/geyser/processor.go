package geyser

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/piotrostr/listen-engine/ingestor/decoder"
	"github.com/piotrostr/listen-engine/ingestor/diff"
	"github.com/piotrostr/listen-engine/ingestor/pricing"
	"github.com/piotrostr/listen-engine/observability"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// DefaultMaxInFlight bounds concurrent per-swap processing. Acquisition
// blocks when saturated; nothing is dropped.
const DefaultMaxInFlight = 1000

// Publisher broadcasts priced observations on the pub/sub channel.
type Publisher interface {
	PublishObservation(ctx context.Context, obs *pricing.Observation) error
}

// Store persists priced observations.
type Store interface {
	Append(ctx context.Context, obs *pricing.Observation) error
}

// Processor consumes geyser updates, decodes tracked swap instructions,
// prices the resulting diffs, and hands observations to the sinks. Per-swap
// work runs asynchronously under a counting-semaphore permit pool.
type Processor struct {
	calc      *pricing.Calculator
	publisher Publisher
	stores    []Store
	sem       *semaphore.Weighted
	metrics   *processorMetrics
	logger    *log.Logger

	mu         sync.Mutex
	blockTimes map[uint64]int64

	wg sync.WaitGroup
}

// NewProcessor initialises a Processor with optional metrics registration.
func NewProcessor(calc *pricing.Calculator, publisher Publisher, stores []Store, reg prometheus.Registerer) *Processor {
	return &Processor{
		calc:       calc,
		publisher:  publisher,
		stores:     stores,
		sem:        semaphore.NewWeighted(DefaultMaxInFlight),
		metrics:    newProcessorMetrics(reg),
		logger:     log.New(os.Stdout, "ingestor ", log.LstdFlags),
		blockTimes: make(map[uint64]int64),
	}
}

// HandleUpdate inspects an incoming geyser update and routes it. Per-event
// failures are logged and counted; the error return is reserved for permit
// acquisition being cancelled, so the caller's loop survives bad events.
func (p *Processor) HandleUpdate(ctx context.Context, update *pb.SubscribeUpdate) error {
	if update == nil {
		return nil
	}

	switch u := update.GetUpdateOneof().(type) {
	case *pb.SubscribeUpdate_Transaction:
		return p.handleTransaction(ctx, u.Transaction)
	case *pb.SubscribeUpdate_BlockMeta:
		p.handleBlockMeta(u.BlockMeta)
	}
	return nil
}

// Wait blocks until all dispatched swap workers have finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) handleBlockMeta(meta *pb.SubscribeUpdateBlockMeta) {
	if meta == nil {
		return
	}
	ts := meta.GetBlockTime()
	if ts == nil {
		return
	}
	p.mu.Lock()
	p.blockTimes[meta.GetSlot()] = ts.GetTimestamp()
	// Keep the map bounded; anything older than the replay window is stale.
	for slot := range p.blockTimes {
		if slot+4*ReplaySlotWindow < meta.GetSlot() {
			delete(p.blockTimes, slot)
		}
	}
	p.mu.Unlock()
}

func (p *Processor) slotTimestamp(slot uint64) int64 {
	p.mu.Lock()
	ts, ok := p.blockTimes[slot]
	p.mu.Unlock()
	if ok {
		return ts
	}
	return time.Now().Unix()
}

func (p *Processor) handleTransaction(ctx context.Context, tx *pb.SubscribeUpdateTransaction) error {
	if tx == nil {
		return nil
	}
	info := tx.GetTransaction()
	if info == nil || info.GetIsVote() {
		return nil
	}
	meta := info.GetMeta()
	if meta == nil || meta.GetErr() != nil {
		return nil
	}
	txMsg := info.GetTransaction()
	if txMsg == nil {
		return nil
	}
	message := txMsg.GetMessage()
	if message == nil {
		return nil
	}

	accountStrs := make([]string, len(message.GetAccountKeys()))
	for i, key := range message.GetAccountKeys() {
		accountStrs[i] = base58.Encode(key)
	}

	signature := encodeSignature(txMsg.GetSignatures())

	var matched []*decoder.Instruction
	for _, instr := range message.GetInstructions() {
		programIdx := int(instr.GetProgramIdIndex())
		if programIdx >= len(accountStrs) {
			continue
		}
		programID := accountStrs[programIdx]
		if !decoder.Tracked(programID) {
			continue
		}

		decoded, err := decoder.Decode(programID, instr.GetData(), resolveAccounts(instr.GetAccounts(), accountStrs))
		if err != nil {
			var decodeErr *decoder.DecodeError
			if errors.As(err, &decodeErr) {
				p.metrics.recordDecodeError(decodeErr.Program)
			}
			p.logger.Printf("decode failed sig=%s: %v", signature, err)
			continue
		}
		if decoded != nil {
			matched = append(matched, decoded)
		}
	}

	if len(matched) == 0 {
		return nil
	}

	isPump := false
	for _, instr := range matched {
		p.metrics.recordSwap(instr.ProgramID)
		if instr.IsPump {
			isPump = true
		}
	}

	in := pricing.Input{
		Diffs:     diff.Extract(meta.GetPreTokenBalances(), meta.GetPostTokenBalances()),
		Slot:      tx.GetSlot(),
		Timestamp: p.slotTimestamp(tx.GetSlot()),
		Signature: signature,
		IsPump:    isPump,
	}

	// Blocks when the permit pool is exhausted; this is the pipeline's only
	// backpressure mechanism.
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.sem.Release(1)
		defer p.wg.Done()
		p.processSwap(ctx, in)
	}()

	return nil
}

func (p *Processor) processSwap(ctx context.Context, in pricing.Input) {
	obs, err := p.calc.Compute(ctx, in)
	if err != nil {
		var skip *pricing.SkipError
		if errors.As(err, &skip) {
			p.metrics.recordSkip(skip.Reason)
			return
		}
		p.logger.Printf("price computation failed sig=%s: %v", in.Signature, err)
		return
	}

	p.metrics.recordObservation(obs)

	if p.publisher != nil {
		if err := p.publisher.PublishObservation(ctx, obs); err != nil {
			p.metrics.recordPublishError()
			p.logger.Printf("publish failed sig=%s: %v", obs.Signature, err)
		}
	}

	for _, store := range p.stores {
		if err := store.Append(ctx, obs); err != nil {
			p.logger.Printf("store append failed sig=%s: %v", obs.Signature, err)
		}
	}
}

func resolveAccounts(indices []byte, accountStrs []string) []string {
	resolved := make([]string, 0, len(indices))
	for _, rawIdx := range indices {
		idx := int(rawIdx)
		if idx >= len(accountStrs) {
			continue
		}
		resolved = append(resolved, accountStrs[idx])
	}
	return resolved
}

func encodeSignature(signatures [][]byte) string {
	if len(signatures) == 0 {
		return ""
	}
	return base58.Encode(signatures[0])
}

type processorMetrics struct {
	swaps        *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	skips        *prometheus.CounterVec
	processed    prometheus.Counter
	volumeUSD    prometheus.Counter
	publishErrs  prometheus.Counter
}

func newProcessorMetrics(reg prometheus.Registerer) *processorMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &processorMetrics{
		swaps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      "swaps_decoded_total",
			Help:      "Swap instructions decoded per tracked program.",
		}, []string{"program"}),
		decodeErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      "decode_errors_total",
			Help:      "Malformed swap-shaped instructions per tracked program.",
		}, []string{"program"}),
		skips: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      "swaps_skipped_total",
			Help:      "Swaps the price calculator declined, by reason.",
		}, []string{"reason"}),
		processed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      observability.MetricSwapsProcessedTotal,
			Help:      "Priced observations produced.",
		}),
		volumeUSD: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      observability.MetricSwapVolumeUSDTotal,
			Help:      "Cumulative USD volume of priced swaps.",
		}),
		publishErrs: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "ingestor",
			Name:      observability.MetricPublishErrorsTotal,
			Help:      "Observation publish failures (best-effort channel).",
		}),
	}
}

func (m *processorMetrics) recordSwap(programID string) {
	if m == nil {
		return
	}
	m.swaps.WithLabelValues(programID).Inc()
}

func (m *processorMetrics) recordDecodeError(programID string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(programID).Inc()
}

func (m *processorMetrics) recordSkip(reason string) {
	if m == nil {
		return
	}
	m.skips.WithLabelValues(reason).Inc()
}

func (m *processorMetrics) recordObservation(obs *pricing.Observation) {
	if m == nil || obs == nil {
		return
	}
	m.processed.Inc()
	if obs.SwapAmount > 0 {
		m.volumeUSD.Add(obs.SwapAmount)
	}
}

func (m *processorMetrics) recordPublishError() {
	if m == nil {
		return
	}
	m.publishErrs.Inc()
}
