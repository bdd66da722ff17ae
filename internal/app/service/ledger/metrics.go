package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var opDurHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Subsystem: "ledger",
	Name:      "op_dur_ms",
	Help:      "Ledger operation latency in milliseconds.",
	Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
}, []string{"op"})

var syncFallbackCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Subsystem: "ledger",
	Name:      "sync_fallback_total",
	Help:      "How many times the ledger degraded to local-only sync.",
})

func init() {
	prometheus.MustRegister(opDurHist, syncFallbackCounter)
}

func observeOp(op string, start time.Time) {
	opDurHist.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}
