package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	calculations    *prometheus.CounterVec
	planActions     *prometheus.CounterVec
	feedIncomplete  prometheus.Counter
	staleDiscarded  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

// EMISnapshot is the JSON view of the EMI counters served on /v1/metrics/emi.
type EMISnapshot struct {
	Quotes              float64 `json:"quotes"`
	QuoteFailures       float64 `json:"quoteFailures"`
	PlansCreated        float64 `json:"plansCreated"`
	PlanCreateFailures  float64 `json:"planCreateFailures"`
	InstallmentsPaid    float64 `json:"installmentsPaid"`
	PaymentFailures     float64 `json:"paymentFailures"`
	IncompleteFeeds     float64 `json:"incompleteFeeds"`
	StaleDiscarded      float64 `json:"staleResponsesDiscarded"`
	ScheduleCacheHitPct float64 `json:"scheduleCacheHitRate"`
	ActiveSessions      float64 `json:"activeSessions"`
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "emi_bfa_operation_duration_seconds",
				Help:    "Duration of service operations and outbound calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		calculations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_calculations_total",
				Help: "EMI calculations by outcome.",
			},
			[]string{"outcome"},
		),
		planActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_plan_actions_total",
				Help: "Plan creations and installment payments by outcome.",
			},
			[]string{"action", "outcome"},
		),
		feedIncomplete: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "emi_bfa_upcoming_feed_incomplete_total",
				Help: "Upcoming installment feeds served with missing schedules.",
			},
		),
		staleDiscarded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "emi_bfa_stale_responses_discarded_total",
				Help: "Session responses dropped because the session moved on.",
			},
			[]string{"operation"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "emi_bfa_active_sessions",
				Help: "View-model sessions currently held in memory.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrCalculation counts an EMI calculation ("ok" or "error").
func (m *Metrics) IncrCalculation(outcome string) {
	m.calculations.WithLabelValues(outcome).Inc()
}

// IncrPlanAction counts a plan creation or installment payment.
func (m *Metrics) IncrPlanAction(action, outcome string) {
	m.planActions.WithLabelValues(action, outcome).Inc()
}

// IncrIncompleteFeed counts a feed served before every schedule resolved.
func (m *Metrics) IncrIncompleteFeed() {
	m.feedIncomplete.Inc()
}

// IncrStaleDiscarded counts a discarded out-of-date response.
func (m *Metrics) IncrStaleDiscarded(operation string) {
	m.staleDiscarded.WithLabelValues(operation).Inc()
}

// SetActiveSessions reports the session count.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Snapshot reads the current counter values.
func (m *Metrics) Snapshot() *EMISnapshot {
	hits := getCounterValue(m.cacheHits.WithLabelValues("schedule"))
	misses := getCounterValue(m.cacheMisses.WithLabelValues("schedule"))
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &EMISnapshot{
		Quotes:              getCounterValue(m.calculations.WithLabelValues("ok")),
		QuoteFailures:       getCounterValue(m.calculations.WithLabelValues("error")),
		PlansCreated:        getCounterValue(m.planActions.WithLabelValues("create", "ok")),
		PlanCreateFailures:  getCounterValue(m.planActions.WithLabelValues("create", "error")),
		InstallmentsPaid:    getCounterValue(m.planActions.WithLabelValues("pay", "ok")),
		PaymentFailures:     getCounterValue(m.planActions.WithLabelValues("pay", "error")),
		IncompleteFeeds:     getCounterValue(m.feedIncomplete),
		StaleDiscarded:      sumCounterVec(m.staleDiscarded),
		ScheduleCacheHitPct: hitRate,
		ActiveSessions:      getGaugeValue(m.activeSessions),
	}
}

// getCounterValue extracts the current float64 value from a counter.
func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// sumCounterVec adds up every child of a counter vector.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	total := float64(0)
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err == nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
