package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes warming counters as Prometheus metrics.
type Recorder struct {
	registry *prom.Registry

	cycles    *prom.CounterVec
	sends     *prom.CounterVec
	skips     *prom.CounterVec
	connected prom.Gauge
	allowance prom.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{registry: prom.NewRegistry()}

	r.cycles = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "warmer",
		Name:      "cycles_total",
		Help:      "Completed warming cycles by mode",
	}, []string{"mode"})
	r.sends = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "warmer",
		Name:      "sends_total",
		Help:      "Delivered messages by mode and kind",
	}, []string{"mode", "kind"})
	r.skips = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "warmer",
		Name:      "skips_total",
		Help:      "Skipped send attempts by reason",
	}, []string{"reason"})
	r.connected = prom.NewGauge(prom.GaugeOpts{
		Namespace: "warmer",
		Name:      "accounts_connected",
		Help:      "Accounts with a live connection",
	})
	r.allowance = prom.NewGauge(prom.GaugeOpts{
		Namespace: "warmer",
		Name:      "quota_allowance_remaining",
		Help:      "Remaining allowance reported by the quota service",
	})

	r.registry.MustRegister(r.cycles, r.sends, r.skips, r.connected, r.allowance)
	return r
}

func (r *Recorder) CycleCompleted(mode string) {
	if r == nil {
		return
	}
	r.cycles.WithLabelValues(mode).Inc()
}

func (r *Recorder) MessageSent(mode, kind string) {
	if r == nil {
		return
	}
	r.sends.WithLabelValues(mode, kind).Inc()
}

func (r *Recorder) SendSkipped(reason string) {
	if r == nil {
		return
	}
	r.skips.WithLabelValues(reason).Inc()
}

func (r *Recorder) SetConnected(n int) {
	if r == nil {
		return
	}
	r.connected.Set(float64(n))
}

func (r *Recorder) SetAllowance(n int) {
	if r == nil {
		return
	}
	r.allowance.Set(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
