package metrics

import (
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/bondings/bondings/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric exported by the daemon.
const Namespace = "bondings"

// Source is the read side of the ledger the gauges are computed from.
type Source interface {
	Snapshots() []*ledger.Bonding
}

// PrometheusCollector owns a dedicated registry with ledger and API metrics.
// Counters are driven by ledger events, gauges are computed at scrape time.
type PrometheusCollector struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	launches   prometheus.Counter
	trades     *prometheus.CounterVec
	shares     *prometheus.CounterVec
	fees       *prometheus.CounterVec
	transfers  prometheus.Counter
	stageMoves *prometheus.CounterVec
	retrievals prometheus.Counter

	goroutineCount prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	startTime time.Time
}

// NewPrometheusCollector builds the collector. src may be nil, in which case
// per-bonding gauges are not exported.
func NewPrometheusCollector(src Source) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	p := &PrometheusCollector{
		registry: reg,
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_requests_total",
			Help:      "Total number of API requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "launches_total",
			Help:      "Bondings launched since start.",
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "trades_total",
			Help:      "Committed trades by side.",
		}, []string{"side"}),
		shares: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "traded_shares_total",
			Help:      "Shares moved by committed trades, by side.",
		}, []string{"side"}),
		fees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fees_total",
			Help:      "Protocol fees charged, in payment token base units, by side.",
		}, []string{"side"}),
		transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "transfers_total",
			Help:      "Share transfers between holders.",
		}),
		stageMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage transitions by destination stage.",
		}, []string{"stage"}),
		retrievals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "retrievals_total",
			Help:      "Settlements paid out to operators.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started in seconds.",
		}),
		startTime: time.Now(),
	}

	reg.MustRegister(
		p.requestCount,
		p.requestDuration,
		p.launches,
		p.trades,
		p.shares,
		p.fees,
		p.transfers,
		p.stageMoves,
		p.retrievals,
		p.goroutineCount,
		p.uptimeSeconds,
	)
	if src != nil {
		reg.MustRegister(newBondingCollector(src))
	}
	return p
}

// Registry returns the registry used by this collector.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// RecordRequest counts one API request and its latency.
func (p *PrometheusCollector) RecordRequest(route string, code int, duration time.Duration) {
	p.requestCount.WithLabelValues(route, statusLabel(code)).Inc()
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Observe is a ledger.Subscriber. It only touches counters, so it never
// blocks the publishing operation.
func (p *PrometheusCollector) Observe(ev ledger.Event) {
	switch ev.Type {
	case ledger.EventLaunched:
		p.launches.Inc()
	case ledger.EventBuy, ledger.EventSell:
		side := string(ev.Type)
		p.trades.WithLabelValues(side).Inc()
		p.shares.WithLabelValues(side).Add(float64(ev.Amount))
		if ev.Fee != nil {
			p.fees.WithLabelValues(side).Add(weiFloat(ev.Fee))
		}
	case ledger.EventTransfer:
		p.transfers.Inc()
	case ledger.EventStageChanged:
		p.stageMoves.WithLabelValues(ev.Stage.String()).Inc()
	case ledger.EventRetrieved:
		p.retrievals.Inc()
	}
}

// Sync refreshes process gauges.
func (p *PrometheusCollector) Sync() {
	p.goroutineCount.Set(float64(runtime.NumGoroutine()))
	p.uptimeSeconds.Set(time.Since(p.startTime).Seconds())
}

// PrometheusHandler serves the registry in the text exposition format.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	inner := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.Sync()
		inner.ServeHTTP(w, r)
	})
}

// bondingCollector exports one series per bonding from ledger snapshots.
type bondingCollector struct {
	src        Source
	totalShare *prometheus.Desc
	stage      *prometheus.Desc
	collected  *prometheus.Desc
	holders    *prometheus.Desc
	count      *prometheus.Desc
}

func newBondingCollector(src Source) *bondingCollector {
	label := []string{"bonding"}
	return &bondingCollector{
		src:        src,
		totalShare: prometheus.NewDesc(prometheus.BuildFQName(Namespace, "bonding", "total_share"), "Outstanding shares of a bonding.", label, nil),
		stage:      prometheus.NewDesc(prometheus.BuildFQName(Namespace, "bonding", "stage"), "Current stage of a bonding (1-3).", label, nil),
		collected:  prometheus.NewDesc(prometheus.BuildFQName(Namespace, "bonding", "collected_funds"), "Funds held in custody for a bonding, in base units.", label, nil),
		holders:    prometheus.NewDesc(prometheus.BuildFQName(Namespace, "bonding", "holders"), "Accounts holding shares of a bonding.", label, nil),
		count:      prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", "bondings"), "Registered bondings by stage.", []string{"stage"}, nil),
	}
}

func (c *bondingCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalShare
	ch <- c.stage
	ch <- c.collected
	ch <- c.holders
	ch <- c.count
}

func (c *bondingCollector) Collect(ch chan<- prometheus.Metric) {
	byStage := map[ledger.Stage]int{
		ledger.StageFairLaunch:  0,
		ledger.StageMintLimited: 0,
		ledger.StageOpen:        0,
	}
	for _, b := range c.src.Snapshots() {
		byStage[b.Stage]++
		ch <- prometheus.MustNewConstMetric(c.totalShare, prometheus.GaugeValue, float64(b.TotalShare), b.Name)
		ch <- prometheus.MustNewConstMetric(c.stage, prometheus.GaugeValue, float64(b.Stage), b.Name)
		ch <- prometheus.MustNewConstMetric(c.collected, prometheus.GaugeValue, weiFloat(b.CollectedFunds), b.Name)
		ch <- prometheus.MustNewConstMetric(c.holders, prometheus.GaugeValue, float64(b.Holders), b.Name)
	}
	for stage, n := range byStage {
		ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(n), stage.String())
	}
}

func weiFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
