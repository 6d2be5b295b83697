// Package metrics defines the Prometheus instrumentation shared by the
// gateway and guardrail services. Both expose their registry at /metrics
// via promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway holds the counters and histograms emitted by the streaming
// proxy: one observation per upstream stream and per emitted window.
type Gateway struct {
	StreamsTotal      *prometheus.CounterVec
	WindowsEmitted    prometheus.Counter
	WindowsFlagged    prometheus.Counter
	UpstreamRetries   prometheus.Counter
	ClassifyLatency   prometheus.Histogram
	ActiveStreams     prometheus.Gauge
}

// NewGateway registers the gateway's metrics against reg and returns the
// handle used to record them. Pass prometheus.DefaultRegisterer in
// production, or a fresh prometheus.NewRegistry() in tests.
func NewGateway(reg prometheus.Registerer) *Gateway {
	factory := promauto.With(reg)
	return &Gateway{
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardstream_gateway_streams_total",
			Help: "Completed proxy streams, labeled by outcome.",
		}, []string{"outcome"}),
		WindowsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardstream_gateway_windows_emitted_total",
			Help: "Text windows forwarded to the client.",
		}),
		WindowsFlagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardstream_gateway_windows_flagged_total",
			Help: "Text windows classified unsafe and tagged before forwarding.",
		}),
		UpstreamRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "guardstream_gateway_upstream_retries_total",
			Help: "Upstream connection attempts beyond the first, across all streams.",
		}),
		ClassifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardstream_gateway_classify_latency_seconds",
			Help:    "Time spent waiting for a window's safety verdict.",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "guardstream_gateway_active_streams",
			Help: "Proxy streams currently open.",
		}),
	}
}

// Guardrail holds the counters and histograms emitted by the batch
// classification service.
type Guardrail struct {
	RequestsTotal   *prometheus.CounterVec
	BatchSize       prometheus.Histogram
	BatchLatency    prometheus.Histogram
	QueueDepth      prometheus.GaugeFunc
}

// NewGuardrail registers the guardrail service's metrics against reg.
// queueDepth is polled lazily by Prometheus on each scrape, so it should
// be a cheap read (e.g. Aggregator.QueueDepthFloat).
func NewGuardrail(reg prometheus.Registerer, queueDepth func() float64) *Guardrail {
	factory := promauto.With(reg)
	g := &Guardrail{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardstream_guardrail_requests_total",
			Help: "Classification requests handled, labeled by outcome.",
		}, []string{"outcome"}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardstream_guardrail_batch_size",
			Help:    "Number of texts classified per model invocation.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardstream_guardrail_batch_latency_seconds",
			Help:    "Time spent inside a single PredictBatch call.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	g.QueueDepth = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "guardstream_guardrail_queue_depth",
		Help: "Classification requests waiting for the next batch tick.",
	}, queueDepth)
	return g
}
