package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagedescriber",
			Name:      "http_requests_total",
			Help:      "Inbound requests by route and status code",
		},
		[]string{"route", "code"},
	)

	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagedescriber",
			Name:      "upstream_requests_total",
			Help:      "Upstream inference requests by model and result",
		},
		[]string{"model", "result"},
	)

	upstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imagedescriber",
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of upstream inference requests by model",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"model"},
	)

	extractedShapes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagedescriber",
			Name:      "extracted_shapes_total",
			Help:      "Upstream response shapes the description was extracted from",
		},
		[]string{"shape"},
	)

	retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagedescriber",
			Name:      "upstream_retries_total",
			Help:      "Upstream retries by model",
		},
		[]string{"model"},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imagedescriber",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by model and action",
		},
		[]string{"model", "action"},
	)

	inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "imagedescriber",
			Name:      "upstream_inflight",
			Help:      "Upstream requests currently in flight",
		},
		[]string{"model"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(httpRequests, upstreamReqs, upstreamLatency, extractedShapes, retriesTotal, breakerEvents, inflight)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func ObserveUpstream(model, result string, dur time.Duration) {
	upstreamReqs.WithLabelValues(model, result).Inc()
	upstreamLatency.WithLabelValues(model).Observe(dur.Seconds())
}

func IncShape(shape string)    { extractedShapes.WithLabelValues(shape).Inc() }
func IncRetry(model string)    { retriesTotal.WithLabelValues(model).Inc() }
func InflightInc(model string) { inflight.WithLabelValues(model).Inc() }
func InflightDec(model string) { inflight.WithLabelValues(model).Dec() }

func BreakerOpened(model string)   { breakerEvents.WithLabelValues(model, "opened").Inc() }
func BreakerClosed(model string)   { breakerEvents.WithLabelValues(model, "closed").Inc() }
func BreakerRejected(model string) { breakerEvents.WithLabelValues(model, "rejected").Inc() }
