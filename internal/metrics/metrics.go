// Package metrics exposes the Prometheus collectors of the raffle layer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/raffle_layer/internal/events"
)

const namespace = "raffle_layer"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	raffleEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Accepted raffle entries.",
		},
	)

	raffleDraws = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Randomness requests issued by the raffle.",
		},
	)

	raffleWinners = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "rounds_completed_total",
			Help:      "Rounds settled with a successful payout.",
		},
	)

	rafflePlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "players",
			Help:      "Entries in the current round.",
		},
	)

	rafflePool = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "raffle",
			Name:      "pooled_funds_wei",
			Help:      "Pooled funds of the current round in wei.",
		},
	)

	vrfRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "requests_total",
			Help:      "Randomness requests accepted by the coordinator.",
		},
	)

	vrfFulfillments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vrf",
			Name:      "fulfillments_total",
			Help:      "Fulfillment deliveries by outcome.",
		},
		[]string{"success"},
	)

	keeperChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "checks_total",
			Help:      "Upkeep checks by result.",
		},
		[]string{"eligible"},
	)

	keeperUpkeeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "upkeeps_total",
			Help:      "Upkeeps performed by outcome.",
		},
		[]string{"outcome"},
	)

	keeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keeper",
			Name:      "upkeep_duration_seconds",
			Help:      "Duration of performed upkeeps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		raffleEntries,
		raffleDraws,
		raffleWinners,
		rafflePlayers,
		rafflePool,
		vrfRequests,
		vrfFulfillments,
		keeperChecks,
		keeperUpkeeps,
		keeperDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one handled request. Path should be a route
// template; raw paths are canonicalised.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !strings.Contains(path, "{") {
		path = canonicalPath(path)
	}
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns its release.
func TrackInFlight() func() {
	httpInFlight.Inc()
	return httpInFlight.Dec
}

// Observe updates the domain collectors from a bus event.
func Observe(ev events.Event) {
	switch ev.Type {
	case events.EventRaffleEntered:
		raffleEntries.Inc()
		setGauge(rafflePlayers, ev.Attr("players"))
		setGauge(rafflePool, ev.Attr("pooled_funds"))
	case events.EventDrawRequested:
		raffleDraws.Inc()
	case events.EventWinnerPicked:
		raffleWinners.Inc()
		rafflePlayers.Set(0)
		rafflePool.Set(0)
	case events.EventRandomWordsRequested:
		vrfRequests.Inc()
	case events.EventRandomWordsFulfilled:
		vrfFulfillments.WithLabelValues(ev.Attr("success")).Inc()
	}
}

// RecordUpkeepCheck records one eligibility poll.
func RecordUpkeepCheck(eligible bool) {
	keeperChecks.WithLabelValues(strconv.FormatBool(eligible)).Inc()
}

// RecordUpkeep records a performed upkeep. Outcome is "requested",
// "not_needed" or "error".
func RecordUpkeep(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperUpkeeps.WithLabelValues(outcome).Inc()
	keeperDuration.Observe(duration.Seconds())
}

func setGauge(g prometheus.Gauge, value string) {
	if v, err := strconv.ParseFloat(value, 64); err == nil {
		g.Set(v)
	}
}

// canonicalPath replaces identifier segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if isIdentifier(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isIdentifier(segment string) bool {
	if strings.HasPrefix(segment, "0x") {
		return true
	}
	if segment == "" {
		return false
	}
	for _, c := range segment {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
