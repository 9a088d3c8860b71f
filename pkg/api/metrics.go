package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshnode"

type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// newMetrics registers the admin request counter and the state gauges.
// Gauges read through the router guard and the peer manager at scrape time.
func newMetrics(reg *prometheus.Registry, state State) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := &metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin API requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
	}
	reg.MustRegister(
		m.requests,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of peers known to the node.",
		}, func() float64 { return float64(len(state.Peers.Peers())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_routes",
			Help:      "Number of selected routes in the routing table.",
		}, func() float64 { return float64(len(state.Router.SelectedRoutes())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_routes",
			Help:      "Number of fallback routes in the routing table.",
		}, func() float64 { return float64(len(state.Router.FallbackRoutes())) }),
	)
	return m
}

func (m *metrics) instrument(route string, next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(
		m.requests.MustCurryWith(prometheus.Labels{"route": route}), next)
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
