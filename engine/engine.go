package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/piotrostr/listen-engine/observability"
)

// ErrPipelineNotFound is returned by lookups for unknown pipeline ids.
var ErrPipelineNotFound = errors.New("pipeline not found")

// ErrPipelineFinished is returned when cancelling a pipeline that already
// reached a terminal status.
var ErrPipelineFinished = errors.New("pipeline already finished")

// Engine holds active pipelines and advances them on price ticks. Three locks
// guard three maps (prices, pipelines, subscribers); each is held briefly and
// never across an action execution, so one slow order cannot stall ticks for
// unrelated assets.
type Engine struct {
	executor OrderExecutor
	logger   *log.Logger
	metrics  *engineMetrics

	priceMu sync.RWMutex
	prices  map[string]float64

	pipelineMu sync.RWMutex
	pipelines  map[string]*Pipeline
	inflight   map[string]struct{}

	subMu       sync.RWMutex
	subscribers map[string]map[string]struct{}
}

// NewEngine constructs an engine around the given executor. Metrics are
// registered on reg when it is non-nil.
func NewEngine(executor OrderExecutor, reg prometheus.Registerer) (*Engine, error) {
	if executor == nil {
		return nil, errors.New("order executor is required")
	}
	return &Engine{
		executor:    executor,
		logger:      log.New(os.Stdout, "engine ", log.LstdFlags),
		metrics:     newEngineMetrics(reg),
		prices:      make(map[string]float64),
		pipelines:   make(map[string]*Pipeline),
		inflight:    make(map[string]struct{}),
		subscribers: make(map[string]map[string]struct{}),
	}, nil
}

// AddPipeline validates the pipeline, stores it, subscribes it to every
// asset its conditions reference, and runs one evaluation pass so pipelines
// gated only on Now fire without waiting for a tick.
func (e *Engine) AddPipeline(ctx context.Context, p *Pipeline) error {
	if p == nil {
		return errors.New("nil pipeline")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline: %w", err)
	}

	e.pipelineMu.Lock()
	if _, exists := e.pipelines[p.ID]; exists {
		e.pipelineMu.Unlock()
		return fmt.Errorf("pipeline %s already exists", p.ID)
	}
	e.pipelines[p.ID] = p
	e.pipelineMu.Unlock()

	assets := p.Assets()
	e.subMu.Lock()
	for _, asset := range assets {
		set, ok := e.subscribers[asset]
		if !ok {
			set = make(map[string]struct{})
			e.subscribers[asset] = set
		}
		set[p.ID] = struct{}{}
	}
	e.subMu.Unlock()

	e.metrics.pipelinesActive.Inc()
	e.logger.Printf("pipeline %s added (%d steps, assets %v)", p.ID, len(p.Steps), assets)

	e.evaluatePipeline(ctx, p.ID)
	return nil
}

// CancelPipeline stops a pending pipeline. Completed steps keep their status;
// steps still waiting on conditions become Cancelled and are never evaluated
// again. An action already in flight has its result dropped by applyResult.
func (e *Engine) CancelPipeline(id string) error {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()

	p, ok := e.pipelines[id]
	if !ok {
		return ErrPipelineNotFound
	}
	if !p.Active() {
		return fmt.Errorf("%w: %s", ErrPipelineFinished, p.Status)
	}

	for _, step := range p.Steps {
		if step.Status == StatusPending {
			step.Status = StatusCancelled
		}
	}
	p.Status = StatusCancelled
	p.CurrentSteps = nil
	e.metrics.pipelinesActive.Dec()
	e.logger.Printf("pipeline %s cancelled", id)
	return nil
}

// GetPipeline returns a deep copy of the pipeline with the given id.
func (e *Engine) GetPipeline(id string) (*Pipeline, error) {
	e.pipelineMu.RLock()
	defer e.pipelineMu.RUnlock()
	p, ok := e.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	return p.Clone(), nil
}

// SubscribersFor reports the pipeline ids subscribed to an asset, sorted.
func (e *Engine) SubscribersFor(asset string) []string {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	ids := make([]string, 0, len(e.subscribers[asset]))
	for id := range e.subscribers[asset] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Price returns the cached price for an asset.
func (e *Engine) Price(asset string) (float64, bool) {
	e.priceMu.RLock()
	defer e.priceMu.RUnlock()
	price, ok := e.prices[asset]
	return price, ok
}

// OnPriceTick records the latest price for the asset and re-evaluates the
// active steps of every subscribed pipeline. Work is proportional to the
// asset's subscriber count; an asset with no subscribers only updates the
// cache.
func (e *Engine) OnPriceTick(ctx context.Context, asset string, price float64) {
	e.priceMu.Lock()
	e.prices[asset] = price
	e.priceMu.Unlock()

	e.subMu.RLock()
	ids := make([]string, 0, len(e.subscribers[asset]))
	for id := range e.subscribers[asset] {
		ids = append(ids, id)
	}
	e.subMu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		e.evaluatePipeline(ctx, id)
	}
}

type firing struct {
	pipelineID string
	stepID     string
	action     Action
}

func (e *Engine) evaluatePipeline(ctx context.Context, id string) {
	now := time.Now()

	e.pipelineMu.Lock()
	p, ok := e.pipelines[id]
	if !ok || !p.Active() {
		e.pipelineMu.Unlock()
		return
	}

	var ready []firing
	for _, stepID := range p.CurrentSteps {
		step, ok := p.Steps[stepID]
		if !ok || step.Status != StatusPending {
			continue
		}
		if _, busy := e.inflight[inflightKey(id, stepID)]; busy {
			continue
		}

		e.metrics.evaluations.Inc()
		if e.stepReady(step, now) {
			e.inflight[inflightKey(id, stepID)] = struct{}{}
			ready = append(ready, firing{pipelineID: id, stepID: stepID, action: step.Action})
		}
	}
	e.pipelineMu.Unlock()

	for _, f := range ready {
		err := e.executor.ExecuteOrder(ctx, p, f.action)
		e.applyResult(f, err)
	}
}

// stepReady reports whether every condition of the step holds right now.
// Caller holds the pipeline lock.
func (e *Engine) stepReady(step *PipelineStep, now time.Time) bool {
	ready := true
	for _, cond := range step.Conditions {
		if !e.evaluateCondition(cond, now) {
			ready = false
		}
	}
	return ready
}

// evaluateCondition checks a condition against the price cache and updates
// its bookkeeping. Children of And/Or are always fully evaluated so their
// Triggered flags stay current.
func (e *Engine) evaluateCondition(c *Condition, now time.Time) bool {
	if c == nil {
		return false
	}

	var result bool
	switch c.Type {
	case ConditionNow:
		result = true
	case ConditionPriceAbove:
		price, ok := e.Price(c.Asset)
		result = ok && price > c.Value
	case ConditionPriceBelow:
		price, ok := e.Price(c.Asset)
		result = ok && price < c.Value
	case ConditionPercentageChange:
		price, ok := e.Price(c.Asset)
		if !ok {
			break
		}
		if c.Baseline == 0 {
			// First sighting pins the reference price.
			c.Baseline = price
			break
		}
		change := (price - c.Baseline) / c.Baseline
		if c.Value >= 0 {
			result = change >= c.Value
		} else {
			result = change <= c.Value
		}
	case ConditionAnd:
		result = true
		for _, child := range c.Conditions {
			if !e.evaluateCondition(child, now) {
				result = false
			}
		}
	case ConditionOr:
		for _, child := range c.Conditions {
			if e.evaluateCondition(child, now) {
				result = true
			}
		}
	}

	c.Triggered = result
	ts := now
	c.LastEvaluated = &ts
	return result
}

// applyResult records the outcome of an action execution. Success completes
// the step and promotes its next steps; failure fails the whole pipeline.
func (e *Engine) applyResult(f firing, execErr error) {
	e.pipelineMu.Lock()
	defer e.pipelineMu.Unlock()

	delete(e.inflight, inflightKey(f.pipelineID, f.stepID))

	p, ok := e.pipelines[f.pipelineID]
	if !ok || !p.Active() {
		return
	}
	step, ok := p.Steps[f.stepID]
	if !ok || step.Status != StatusPending {
		return
	}

	if execErr != nil {
		step.Status = StatusFailed
		p.Status = StatusFailed
		p.CurrentSteps = nil
		e.metrics.failures.Inc()
		e.metrics.pipelinesActive.Dec()
		e.logger.Printf("pipeline %s failed at step %s: %v", p.ID, step.ID, execErr)
		return
	}

	step.Status = StatusCompleted
	e.metrics.stepsCompleted.Inc()

	next := p.CurrentSteps[:0]
	for _, id := range p.CurrentSteps {
		if id != f.stepID {
			next = append(next, id)
		}
	}
	for _, id := range step.NextSteps {
		if s, ok := p.Steps[id]; ok && s.Status == StatusPending {
			next = append(next, id)
		}
	}
	p.CurrentSteps = next

	if len(p.CurrentSteps) == 0 {
		p.Status = StatusCompleted
		e.metrics.completions.Inc()
		e.metrics.pipelinesActive.Dec()
		e.logger.Printf("pipeline %s completed", p.ID)
	}
}

func inflightKey(pipelineID, stepID string) string {
	return pipelineID + "/" + stepID
}

type engineMetrics struct {
	evaluations     prometheus.Counter
	stepsCompleted  prometheus.Counter
	completions     prometheus.Counter
	failures        prometheus.Counter
	pipelinesActive prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &engineMetrics{
		evaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "engine",
			Name:      observability.MetricStepEvaluationsTotal,
			Help:      "Count of step condition evaluations.",
		}),
		stepsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "engine",
			Name:      observability.MetricStepsCompletedTotal,
			Help:      "Count of steps whose action executed successfully.",
		}),
		completions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "engine",
			Name:      observability.MetricPipelineCompletionsTotal,
			Help:      "Count of pipelines that ran to completion.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "listen",
			Subsystem: "engine",
			Name:      observability.MetricPipelineFailuresTotal,
			Help:      "Count of pipelines failed by an action error.",
		}),
		pipelinesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "listen",
			Subsystem: "engine",
			Name:      observability.MetricPipelinesActive,
			Help:      "Number of pipelines currently pending.",
		}),
	}
}
