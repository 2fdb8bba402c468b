package observers

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the advisor's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	routes            *prometheus.CounterVec
	disclaimers       *prometheus.CounterVec
	toolCalls         *prometheus.CounterVec
	generatorFailures *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	tokens            prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_routes_total",
				Help: "Turns routed, by specialist and classified intent.",
			},
			[]string{"specialist", "intent"},
		),
		disclaimers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_disclaimers_total",
				Help: "Disclaimers appended, by category.",
			},
			[]string{"category"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_tool_calls_total",
				Help: "Tool invocations, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		generatorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "advisor_generator_failures_total",
				Help: "Generator runs that ended in the apology reply.",
			},
			[]string{"generator"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "advisor_turn_duration_seconds",
				Help:    "End-to-end turn latency including checkpoint IO.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"outcome"},
		),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "advisor_tokens_total",
			Help: "Tokens consumed across all turns.",
		}),
	}
	reg.MustRegister(m.routes, m.disclaimers, m.toolCalls, m.generatorFailures, m.turnDuration, m.tokens)
	return m
}

func (m *Metrics) ObserveRoute(specialist, intent string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(specialist, intent).Inc()
}

func (m *Metrics) ObserveDisclaimer(category string) {
	if m == nil {
		return
	}
	m.disclaimers.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) ObserveGeneratorFailure(generator string) {
	if m == nil {
		return
	}
	m.generatorFailures.WithLabelValues(generator).Inc()
}

func (m *Metrics) ObserveTurn(start time.Time, err error, tokens int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.turnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
}
