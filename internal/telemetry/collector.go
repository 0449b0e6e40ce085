package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector aggregates Prometheus metrics for pipeline execution.
type Collector struct {
	phaseExecutions *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	llmRequests     *prometheus.CounterVec
	llmTokensUsed   *prometheus.CounterVec
	fusionResults   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a metrics collector and registers its metrics with reg.
// A nil registry falls back to the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.phaseExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_executions_total",
			Help:      "Per-question phase executions by phase and outcome.",
		},
		[]string{"phase", "status"},
	)
	c.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Per-question phase duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"phase"},
	)
	c.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM completion calls by role (answer, judge, relevance, rerank).",
		},
		[]string{"role", "status"},
	)
	c.llmTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed by role and kind.",
		},
		[]string{"role", "kind"},
	)
	c.fusionResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fusion_results",
			Help:      "Fused result-list sizes by strategy.",
			Buckets:   prometheus.LinearBuckets(0, 5, 21),
		},
		[]string{"strategy"},
	)

	for _, col := range []prometheus.Collector{
		c.phaseExecutions, c.phaseDuration, c.llmRequests, c.llmTokensUsed, c.fusionResults,
	} {
		if err := factory.Register(col); err != nil {
			c.logger.Warn("metric registration failed", zap.Error(err))
		}
	}

	return c
}

// ObservePhase records one per-question phase execution.
func (c *Collector) ObservePhase(phase, status string, d time.Duration) {
	c.phaseExecutions.WithLabelValues(phase, status).Inc()
	c.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// ObserveLLMRequest records one LLM completion call.
func (c *Collector) ObserveLLMRequest(role, status string, promptTokens, completionTokens int) {
	c.llmRequests.WithLabelValues(role, status).Inc()
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(role, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(role, "completion").Add(float64(completionTokens))
	}
}

// ObserveFusion records the size of a fused result list.
func (c *Collector) ObserveFusion(strategy string, size int) {
	c.fusionResults.WithLabelValues(strategy).Observe(float64(size))
}
