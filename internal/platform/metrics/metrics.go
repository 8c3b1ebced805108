package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the follow/notification engine.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	apiRequestsTotal       prometheus.Counter
	apiErrorsTotal         prometheus.Counter
	pollCyclesTotal        prometheus.Counter
	pollFailuresTotal      prometheus.Counter
	notificationsSentTotal prometheus.Counter
	liveFollowedStreams    prometheus.Gauge
	followedChannels       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the engine.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_requests_total",
		Help: "Total number of HTTP requests received on the popup API",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	apiRequestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_twitch_api_requests_total",
		Help: "Total number of requests issued to the Twitch API",
	})
	apiErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_twitch_api_errors_total",
		Help: "Total number of Twitch API requests that failed",
	})
	pollCyclesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_poll_cycles_total",
		Help: "Total number of followed-streams poll cycles started",
	})
	pollFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_poll_failures_total",
		Help: "Total number of poll cycles that failed and were skipped",
	})
	notificationsSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "twitchfox_notifications_sent_total",
		Help: "Total number of desktop notifications shown",
	})
	liveFollowedStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twitchfox_live_followed_streams",
		Help: "Number of followed channels currently live",
	})
	followedChannels := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "twitchfox_followed_channels",
		Help: "Number of channels in the merged follow list",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		apiRequestsTotal,
		apiErrorsTotal,
		pollCyclesTotal,
		pollFailuresTotal,
		notificationsSentTotal,
		liveFollowedStreams,
		followedChannels,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		apiRequestsTotal:       apiRequestsTotal,
		apiErrorsTotal:         apiErrorsTotal,
		pollCyclesTotal:        pollCyclesTotal,
		pollFailuresTotal:      pollFailuresTotal,
		notificationsSentTotal: notificationsSentTotal,
		liveFollowedStreams:    liveFollowedStreams,
		followedChannels:       followedChannels,
	}
}

// IncRequests increments the popup API request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the popup API error counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncAPIRequests increments the Twitch API request counter.
func (m *Metrics) IncAPIRequests() {
	m.apiRequestsTotal.Inc()
}

// IncAPIErrors increments the Twitch API error counter.
func (m *Metrics) IncAPIErrors() {
	m.apiErrorsTotal.Inc()
}

// IncPollCycles increments the poll cycle counter.
func (m *Metrics) IncPollCycles() {
	m.pollCyclesTotal.Inc()
}

// IncPollFailures increments the failed poll cycle counter.
func (m *Metrics) IncPollFailures() {
	m.pollFailuresTotal.Inc()
}

// IncNotificationsSent increments the notifications counter.
func (m *Metrics) IncNotificationsSent() {
	m.notificationsSentTotal.Inc()
}

// SetLiveFollowedStreams sets the live followed streams gauge.
func (m *Metrics) SetLiveFollowedStreams(n int) {
	m.liveFollowedStreams.Set(float64(n))
}

// SetFollowedChannels sets the merged follow list size gauge.
func (m *Metrics) SetFollowedChannels(n int) {
	m.followedChannels.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
