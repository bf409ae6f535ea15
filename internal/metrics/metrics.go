// Package metrics holds the Prometheus instruments for ingestion builds,
// fetches, lookups and matches. Every method is safe on a nil *Metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RowsParsed      *prometheus.CounterVec
	RowsQuarantined *prometheus.CounterVec
	Duplicates      *prometheus.CounterVec
	Builds          *prometheus.CounterVec
	BuildDuration   *prometheus.HistogramVec
	FetchRequests   *prometheus.CounterVec
	QuotaRemaining  prometheus.Gauge
	Lookups         *prometheus.CounterVec
	LookupCacheHits prometheus.Counter
	CacheEntries    prometheus.Gauge
	Matches         *prometheus.CounterVec
	PublishedCycles prometheus.Gauge
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RowsParsed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_rows_parsed_total",
			Help: "Raw rows parsed, by table",
		}, []string{"table"}),
		RowsQuarantined: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_rows_quarantined_total",
			Help: "Raw rows quarantined, by table and reason",
		}, []string{"table", "reason"}),
		Duplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_transactions_duplicate_total",
			Help: "Transactions skipped as duplicates, by cycle",
		}, []string{"cycle"}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_builds_total",
			Help: "Cycle builds by outcome",
		}, []string{"cycle", "status"}),
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campaignfin_build_duration_seconds",
			Help:    "Wall time of cycle builds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		}, []string{"cycle"}),
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_fetch_requests_total",
			Help: "Upstream HTTP requests by status code",
		}, []string{"code"}),
		QuotaRemaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "campaignfin_fetch_quota_remaining",
			Help: "Requests left in the current quota window",
		}),
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_lookups_total",
			Help: "Profile lookups by outcome",
		}, []string{"outcome"}),
		LookupCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "campaignfin_lookup_cache_hits_total",
			Help: "Profile lookups served from cache",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "campaignfin_lookup_cache_entries",
			Help: "Profiles held in the in-process lookup cache",
		}),
		Matches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "campaignfin_matches_total",
			Help: "Identity matches by tier",
		}, []string{"tier"}),
		PublishedCycles: f.NewGauge(prometheus.GaugeOpts{
			Name: "campaignfin_published_cycles",
			Help: "Cycles in the snapshot currently served",
		}),
	}
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the instruments registered on the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = New(prometheus.DefaultRegisterer)
	})
	return defaultM
}

func (m *Metrics) ObserveRows(table string, parsed int64, quarantined map[string]int64) {
	if m == nil {
		return
	}
	m.RowsParsed.WithLabelValues(table).Add(float64(parsed))
	for reason, n := range quarantined {
		m.RowsQuarantined.WithLabelValues(table, reason).Add(float64(n))
	}
}

func (m *Metrics) ObserveDuplicates(cycle int, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.Duplicates.WithLabelValues(strconv.Itoa(cycle)).Add(float64(n))
}

func (m *Metrics) ObserveBuild(cycle int, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	c := strconv.Itoa(cycle)
	m.Builds.WithLabelValues(c, status).Inc()
	m.BuildDuration.WithLabelValues(c).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveFetch(code int, remaining int) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	if remaining >= 0 {
		m.QuotaRemaining.Set(float64(remaining))
	}
}

func (m *Metrics) ObserveLookup(outcome string, cached bool) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(outcome).Inc()
	if cached {
		m.LookupCacheHits.Inc()
	}
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) ObserveMatch(tier string) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(tier).Inc()
}

func (m *Metrics) SetPublishedCycles(n int) {
	if m == nil {
		return
	}
	m.PublishedCycles.Set(float64(n))
}
