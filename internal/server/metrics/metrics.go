// Package metrics exposes Prometheus counters for authentication decisions
// and token issuance on a private registry.
package metrics

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/tenantguard/internal/server/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"

	KindSession = "session"
	KindStatic  = "static"
)

// Recorder is what services report into.
type Recorder interface {
	Decision(operation, outcome string)
}

type Nop struct{}

func (Nop) Decision(string, string) {}

type Metrics struct {
	registry      *prometheus.Registry
	decisions     *prometheus.CounterVec
	tokensIssued  *prometheus.CounterVec
	tokensRevoked prometheus.Counter
}

var _ Recorder = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantguard_auth_decisions_total",
			Help: "Authentication and authorization decisions by operation and outcome.",
		}, []string{"operation", "outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantguard_tokens_issued_total",
			Help: "Tokens issued by kind.",
		}, []string{"kind"}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantguard_tokens_revoked_total",
			Help: "Ledger rows moved to blocked.",
		}),
	}
	m.registry.MustRegister(
		m.decisions,
		m.tokensIssued,
		m.tokensRevoked,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Decision(operation, outcome string) {
	m.decisions.WithLabelValues(operation, outcome).Inc()
}

// EventHandler counts ledger events; subscribe it on the events bus.
func (m *Metrics) EventHandler() events.Handler {
	return func(_ context.Context, e events.Event) error {
		switch e.Kind {
		case events.TokenIssued, events.TokenRefreshed:
			kind := KindSession
			if e.Static {
				kind = KindStatic
			}
			m.tokensIssued.WithLabelValues(kind).Inc()
		case events.TokenRevoked, events.TokensRevokedAll:
			m.tokensRevoked.Add(float64(e.Count))
		}
		return nil
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
