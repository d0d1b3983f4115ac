package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	computeSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mdbridge",
			Subsystem: "compute",
			Name:      "steps_total",
			Help:      "Total compute steps evaluated through the bridge",
		},
		[]string{"mode"},
	)

	computeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mdbridge",
			Subsystem: "compute",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one bridge compute step",
			Buckets:   prometheus.DefBuckets,
		},
	)

	deviMaxForce = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdbridge",
			Subsystem: "deviation",
			Name:      "max_force",
			Help:      "Max per-atom force deviation of the last committee step",
		},
	)

	deviRMSForce = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdbridge",
			Subsystem: "deviation",
			Name:      "rms_force",
			Help:      "RMS per-atom force deviation of the last committee step",
		},
	)

	deviVirial = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdbridge",
			Subsystem: "deviation",
			Name:      "virial",
			Help:      "Virial deviation of the last committee step",
		},
	)

	committeeModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mdbridge",
			Subsystem: "ensemble",
			Name:      "models",
			Help:      "Number of loaded potential models",
		},
	)
)

func init() {
	prometheus.MustRegister(computeSteps, computeDuration, deviMaxForce, deviRMSForce, deviVirial, committeeModels)
}
