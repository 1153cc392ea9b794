//go:build !noprom

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

type promRecorder struct {
	stmtCache   *prom.CounterVec
	prepares    *prom.CounterVec
	txOps       *prom.CounterVec
	brokenConns prom.Counter
	dbTotal     *prom.CounterVec
	dbSeconds   *prom.HistogramVec
	toolTotal   *prom.CounterVec
	toolSeconds *prom.HistogramVec
	poolInUse   prom.Gauge
	poolIdle    prom.Gauge
}

func (p *promRecorder) IncStmtCache(result string) {
	p.stmtCache.WithLabelValues(result).Inc()
}

func (p *promRecorder) IncPrepare(cached bool) {
	p.prepares.WithLabelValues(fmt.Sprintf("%t", cached)).Inc()
}

func (p *promRecorder) IncTxOp(op string, success bool) {
	p.txOps.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) IncBrokenConn() {
	p.brokenConns.Inc()
}

func (p *promRecorder) IncDBOpTotal(op string, success bool) {
	p.dbTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveDBOpSeconds(op string, success bool, seconds float64) {
	p.dbSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) IncToolTotal(tool string, success bool) {
	p.toolTotal.WithLabelValues(tool, fmt.Sprintf("%t", success)).Inc()
}

func (p *promRecorder) ObserveToolSeconds(tool string, success bool, seconds float64) {
	p.toolSeconds.WithLabelValues(tool, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *promRecorder) ObservePoolStats(inUse, idle int) {
	p.poolInUse.Set(float64(inUse))
	p.poolIdle.Set(float64(idle))
}

func newPromRecorder() *promRecorder {
	return &promRecorder{
		stmtCache: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_cache_lookups_total",
			Help: "Statement cache lookups by result (hit, miss, uncached)",
		}, []string{"result"}),
		prepares: prom.NewCounterVec(prom.CounterOpts{
			Name: "stmt_prepares_total",
			Help: "Statements handed to the driver for preparation",
		}, []string{"cached"}),
		txOps: prom.NewCounterVec(prom.CounterOpts{
			Name: "tx_ops_total",
			Help: "Transaction manager operations",
		}, []string{"op", "success"}),
		brokenConns: prom.NewCounter(prom.CounterOpts{
			Name: "broken_connections_total",
			Help: "Connections whose transaction manager entered the broken state",
		}),
		dbTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "db_ops_total",
			Help: "Total number of DB operations",
		}, []string{"op", "success"}),
		dbSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "db_op_seconds",
			Help:    "DB operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		toolTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total number of tool handler calls",
		}, []string{"tool", "success"}),
		toolSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "tool_call_seconds",
			Help:    "Tool handler duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"tool", "success"}),
		poolInUse: prom.NewGauge(prom.GaugeOpts{
			Name: "pool_in_use",
			Help: "Connections currently checked out of the pool",
		}),
		poolIdle: prom.NewGauge(prom.GaugeOpts{
			Name: "pool_idle",
			Help: "Idle connections held by the pool",
		}),
	}
}

func (p *promRecorder) register(registry *prom.Registry) {
	registry.MustRegister(
		p.stmtCache, p.prepares, p.txOps, p.brokenConns,
		p.dbTotal, p.dbSeconds, p.toolTotal, p.toolSeconds,
		p.poolInUse, p.poolIdle,
	)
}

func enablePrometheus(addr string) error {
	registry := prom.NewRegistry()
	p := newPromRecorder()
	p.register(registry)
	SetRecorder(p)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	go func() { _ = http.ListenAndServe(addr, mux) }()
	return nil
}
