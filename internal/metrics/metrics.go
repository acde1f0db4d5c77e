package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coinrounds"

// Metrics holds the lifecycle and HTTP collectors on a private registry.
// It satisfies game.Observer.
type Metrics struct {
	registry *prometheus.Registry

	roundsAdvanced  prometheus.Counter
	duplicateRounds prometheus.Counter
	gamesStarted    prometheus.Counter
	gamesEnded      prometheus.Counter
	rankingDuration *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New(service string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		roundsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service,
			Name: "rounds_advanced_total", Help: "Rounds opened by StartNewRound.",
		}),
		duplicateRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service,
			Name: "duplicate_rounds_total", Help: "Round advances rejected as duplicates.",
		}),
		gamesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service,
			Name: "games_started_total", Help: "Games moved to ACTIVE.",
		}),
		gamesEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service,
			Name: "games_ended_total", Help: "Games moved to ENDED.",
		}),
		rankingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: service,
			Name: "ranking_duration_seconds", Help: "Time spent folding ledgers into rankings.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: service,
			Name: "http_requests_total", Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: service,
			Name: "http_request_duration_seconds", Help: "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.roundsAdvanced,
		m.duplicateRounds,
		m.gamesStarted,
		m.gamesEnded,
		m.rankingDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) RoundAdvanced()  { m.roundsAdvanced.Inc() }
func (m *Metrics) DuplicateRound() { m.duplicateRounds.Inc() }
func (m *Metrics) GameStarted()    { m.gamesStarted.Inc() }
func (m *Metrics) GameEnded()      { m.gamesEnded.Inc() }

func (m *Metrics) RankingComputed(scope string, d time.Duration) {
	m.rankingDuration.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
