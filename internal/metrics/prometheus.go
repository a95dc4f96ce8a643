package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes the Registry's counters and gauges to a
// Prometheus scraper. It mirrors rather than replaces the Registry: the
// Registry remains the single source of truth, and Observe copies its
// current Snapshot into gauge/counter state on every scrape-adjacent
// call from the control loop.
type PrometheusSink struct {
	scaleUps     *prometheus.CounterVec
	scaleDowns   *prometheus.CounterVec
	fleetGauge   prometheus.Gauge
	rmseGauge    prometheus.Gauge
	maeGauge     prometheus.Gauge
	mapeGauge    prometheus.Gauge
	ciHitGauge   prometheus.Gauge
	meanWaitGauge prometheus.Gauge
	maxWaitGauge prometheus.Gauge
	waitingGauge prometheus.Gauge

	lastUpCount   map[ScaleCause]int64
	lastDownCount map[ScaleCause]int64
}

// NewPrometheusSink registers its metrics with reg (pass
// prometheus.DefaultRegisterer in production, or a fresh
// prometheus.NewRegistry() in tests to avoid global collisions).
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		scaleUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "scale_ups_total",
			Help:      "Total fleet scale-up operations by cause.",
		}, []string{"cause"}),
		scaleDowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "scale_downs_total",
			Help:      "Total fleet scale-down operations by cause.",
		}, []string{"cause"}),
		fleetGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "fleet_size", Help: "Current fleet size.",
		}),
		rmseGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "forecast_rmse", Help: "Forecast RMSE over the rolling accuracy window.",
		}),
		maeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "forecast_mae", Help: "Forecast MAE over the rolling accuracy window.",
		}),
		mapeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "forecast_mape", Help: "Forecast MAPE over the rolling accuracy window.",
		}),
		ciHitGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "forecast_ci_hit_rate", Help: "Fraction of observations within the forecast confidence interval.",
		}),
		meanWaitGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "fec_mean_wait_ms", Help: "Mean FEC admission wait time, in milliseconds.",
		}),
		maxWaitGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "fec_max_wait_ms", Help: "Max observed FEC admission wait time, in milliseconds.",
		}),
		waitingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch", Name: "fec_waiting_now", Help: "Number of callers currently queued for admission.",
		}),
		lastUpCount:   make(map[ScaleCause]int64),
		lastDownCount: make(map[ScaleCause]int64),
	}

	reg.MustRegister(
		s.scaleUps, s.scaleDowns, s.fleetGauge,
		s.rmseGauge, s.maeGauge, s.mapeGauge, s.ciHitGauge,
		s.meanWaitGauge, s.maxWaitGauge, s.waitingGauge,
	)
	return s
}

// Observe copies a freshly-taken Snapshot into the registered
// collectors. Counters are cumulative in CounterVec, so Observe adds
// only the delta since the last call.
func (s *PrometheusSink) Observe(snap Snapshot) {
	for cause, total := range snap.ScaleUpsByCause {
		delta := total - s.lastUpCount[cause]
		if delta > 0 {
			s.scaleUps.WithLabelValues(string(cause)).Add(float64(delta))
		}
		s.lastUpCount[cause] = total
	}
	for cause, total := range snap.ScaleDownsByCause {
		delta := total - s.lastDownCount[cause]
		if delta > 0 {
			s.scaleDowns.WithLabelValues(string(cause)).Add(float64(delta))
		}
		s.lastDownCount[cause] = total
	}

	s.fleetGauge.Set(float64(snap.Fleet))
	s.rmseGauge.Set(snap.RMSE)
	s.maeGauge.Set(snap.MAE)
	s.mapeGauge.Set(snap.MAPE)
	s.ciHitGauge.Set(snap.CIHitRate)
	s.meanWaitGauge.Set(snap.MeanWait)
	s.maxWaitGauge.Set(snap.MaxWait)
	s.waitingGauge.Set(float64(snap.WaitingNow))
}
