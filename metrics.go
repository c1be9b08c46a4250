package presale

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "moonship"

type metrics struct {
	QuotesCount                prometheus.Counter
	ContributionsCount         prometheus.Counter
	RejectedContributionsCount prometheus.Counter
	ClampedContributionsCount  prometheus.Counter
	RaisedAmount               prometheus.Counter
	TokensAllocated            prometheus.Counter
	TotalRaised                prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "presale"

	return metrics{
		QuotesCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "quotes_count",
			Help:      "Number of quotes served",
		}),
		ContributionsCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "contributions_count",
			Help:      "Number of accepted contributions",
		}),
		RejectedContributionsCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "rejected_contributions_count",
			Help:      "Number of contributions rejected without changing the raise",
		}),
		ClampedContributionsCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "clamped_contributions_count",
			Help:      "Number of contributions accepted only up to the hard cap",
		}),
		RaisedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "raised_amount",
			Help:      "Amount raised by this process",
		}),
		TokensAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "tokens_allocated",
			Help:      "Tokens allocated by this process",
		}),
		TotalRaised: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "total_raised",
			Help:      "Last observed raise total",
		}),
	}
}

// Metrics returns the prometheus collectors of the server.
func (s *Server) Metrics() []prometheus.Collector {
	m := s.metrics
	return []prometheus.Collector{
		m.QuotesCount,
		m.ContributionsCount,
		m.RejectedContributionsCount,
		m.ClampedContributionsCount,
		m.RaisedAmount,
		m.TokensAllocated,
		m.TotalRaised,
	}
}
