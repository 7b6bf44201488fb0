// Package metrics exposes Prometheus collectors for the token lifecycle and RPC layer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/doutorizze/discount-tokens/internal/model"
)

const namespace = "discount_tokens"

// Metrics implements service.Observer and records RPC latencies.
type Metrics struct {
	reg         *prometheus.Registry
	issued      *prometheus.CounterVec
	validations *prometheus.CounterVec
	redeemed    *prometheus.CounterVec
	saved       prometheus.Counter
	rpc         *prometheus.HistogramVec
}

// New registers collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "issued_total", Help: "Tokens issued by type.",
		}, []string{"type"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "validations_total", Help: "Code checks by outcome.",
		}, []string{"result"}),
		redeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "redeemed_total", Help: "Tokens redeemed by type.",
		}, []string{"type"}),
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "saved_brl_total", Help: "Total discount granted in BRL.",
		}),
		rpc: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "rpc_duration_seconds", Help: "Unary RPC latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.issued, m.validations, m.redeemed, m.saved, m.rpc,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// TokenIssued counts a generated token.
func (m *Metrics) TokenIssued(t model.TokenType) { m.issued.WithLabelValues(string(t)).Inc() }

// TokenValidated counts a check; an empty failure means the code was valid.
func (m *Metrics) TokenValidated(failure model.FailureCode) {
	result := string(failure)
	if result == "" {
		result = "VALID"
	}
	m.validations.WithLabelValues(result).Inc()
}

// TokenRedeemed counts a redemption and the discount it granted.
func (m *Metrics) TokenRedeemed(t model.TokenType, saved decimal.Decimal) {
	m.redeemed.WithLabelValues(string(t)).Inc()
	f, _ := saved.Float64()
	m.saved.Add(f)
}

// ObserveRPC records the latency of a finished unary call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	m.rpc.WithLabelValues(method, code).Observe(d.Seconds())
}
