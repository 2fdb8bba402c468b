package observers_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwise-ai/advisor/internal/agent/graph/observers"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observers.NewMetrics(reg)

	m.ObserveRoute("legal", "legal")
	m.ObserveRoute("legal", "legal")
	m.ObserveDisclaimer("tax")
	m.ObserveToolCall("list_tasks", true)
	m.ObserveToolCall("list_tasks", false)
	m.ObserveGeneratorFailure("financial")
	m.ObserveTurn(time.Now(), nil, 120)
	m.ObserveTurn(time.Now(), errors.New("boom"), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, n := range []string{
		"advisor_routes_total",
		"advisor_disclaimers_total",
		"advisor_tool_calls_total",
		"advisor_generator_failures_total",
		"advisor_turn_duration_seconds",
		"advisor_tokens_total",
	} {
		assert.True(t, names[n], n)
	}

	for _, f := range families {
		if f.GetName() == "advisor_tokens_total" {
			assert.Equal(t, 120.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observers.Metrics
	assert.NotPanics(t, func() {
		m.ObserveRoute("legal", "legal")
		m.ObserveDisclaimer("legal")
		m.ObserveToolCall("x", true)
		m.ObserveGeneratorFailure("legal")
		m.ObserveTurn(time.Now(), nil, 1)
	})
}

func TestNewAllCallbacks(t *testing.T) {
	assert.NotNil(t, observers.NewAllCallbacks())
}
