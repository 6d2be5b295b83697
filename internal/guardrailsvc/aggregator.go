// Package guardrailsvc implements the guardrail service side of the
// system: the batch aggregator (§4.5) and its HTTP surface (§4.6).
package guardrailsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/mira-okafor/guardstream/internal/metrics"
)

// Model is the extension seam for the guardrail model runtime. Spec §1
// treats "the guardrail model weights/runtime" as an external
// collaborator, so the aggregator only depends on this interface — see
// internal/guardrailsvc/onnxmodel for the concrete production
// implementation, and aggregator_test.go for a fake used in tests.
type Model interface {
	// PredictBatch classifies each text in inputs and returns a
	// same-length, order-preserving slice of "safe"/"unsafe" results.
	PredictBatch(ctx context.Context, inputs []string) ([]string, error)
}

// job is one (text, completion-slot) tuple, enqueued by the HTTP handler
// and resolved by the batch worker.
type job struct {
	text   string
	result chan jobResult
}

type jobResult struct {
	verdict string
	err     error
}

// Aggregator coalesces many concurrent single-text classification
// requests into interval-triggered batches. It owns a single long-lived
// worker goroutine; the pending queue is the only state shared across
// goroutines in the guardrail service, protected by mu.
type Aggregator struct {
	model    Model
	interval time.Duration

	mu      sync.Mutex
	pending []job

	stopCh chan struct{}
	doneCh chan struct{}

	// queued backs QueueDepth (and so the /metrics queue-depth gauge)
	// without racing on the private pending slice; inFlight counts the
	// jobs of the batch currently inside PredictBatch.
	queued   atomic.Int64
	inFlight atomic.Int64

	metrics *metrics.Guardrail // nil is valid: metrics are best-effort
}

// NewAggregator creates an Aggregator backed by model, ticking every
// interval. Call Start to launch the worker.
func NewAggregator(model Model, interval time.Duration) *Aggregator {
	return &Aggregator{
		model:    model,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetMetrics attaches a Guardrail metrics handle built by the caller via
// metrics.NewGuardrail(reg, agg.QueueDepthFloat). Call before Start.
func (a *Aggregator) SetMetrics(m *metrics.Guardrail) {
	a.metrics = m
}

// QueueDepthFloat adapts QueueDepth for metrics.NewGuardrail's
// queueDepth func() float64 parameter.
func (a *Aggregator) QueueDepthFloat() float64 {
	return float64(a.QueueDepth())
}

// Start launches the batch worker goroutine. Must be called once, at
// service startup, before any Enqueue.
func (a *Aggregator) Start() {
	go a.run()
}

// Stop signals the worker to exit and blocks until it has drained: any
// waiters still queued at shutdown are resolved with an error rather than
// left hanging.
func (a *Aggregator) Stop() {
	close(a.stopCh)
	<-a.doneCh
}

// Enqueue appends (text, result-slot) to the pending queue and returns
// immediately; the caller reads from the returned channel to block for
// the result. Enqueue never blocks — it is the non-blocking producer side
// of the single shared queue described in spec §5.
func (a *Aggregator) Enqueue(text string) <-chan jobResult {
	j := job{text: text, result: make(chan jobResult, 1)}

	a.mu.Lock()
	a.pending = append(a.pending, j)
	a.mu.Unlock()
	a.queued.Inc()

	return j.result
}

// QueueDepth reports the number of jobs currently waiting for the next
// tick, for metrics/introspection.
func (a *Aggregator) QueueDepth() int64 {
	return a.queued.Load()
}

func (a *Aggregator) run() {
	defer close(a.doneCh)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.drainAndClassify()
		case <-a.stopCh:
			a.failRemaining(fmt.Errorf("guardrail service shutting down"))
			return
		}
	}
}

// drainAndClassify atomically takes everything currently pending, then —
// outside the lock — hands the whole batch to the model in one call and
// distributes results back to each waiter, preserving input order.
func (a *Aggregator) drainAndClassify() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	a.queued.Sub(int64(len(batch)))
	a.inFlight.Add(int64(len(batch)))
	defer a.inFlight.Sub(int64(len(batch)))

	texts := make([]string, len(batch))
	for i, j := range batch {
		texts[i] = j.text
	}

	if a.metrics != nil {
		a.metrics.BatchSize.Observe(float64(len(batch)))
	}
	start := time.Now()

	// The model call is CPU/GPU-bound. It runs here, on the aggregator's
	// own worker goroutine, so HTTP handlers only wait on their result
	// channels; the next tick is not handled until the call returns.
	results, err := a.model.PredictBatch(context.Background(), texts)

	if a.metrics != nil {
		a.metrics.BatchLatency.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if a.metrics != nil {
			a.metrics.RequestsTotal.WithLabelValues("error").Add(float64(len(batch)))
		}
		for _, j := range batch {
			j.result <- jobResult{err: fmt.Errorf("batch classification failed: %w", err)}
		}
		return
	}

	if a.metrics != nil {
		a.metrics.RequestsTotal.WithLabelValues("ok").Add(float64(len(batch)))
	}

	for i, j := range batch {
		j.result <- jobResult{verdict: results[i]}
	}
}

func (a *Aggregator) failRemaining(err error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	a.queued.Sub(int64(len(batch)))
	for _, j := range batch {
		j.result <- jobResult{err: err}
	}
}
