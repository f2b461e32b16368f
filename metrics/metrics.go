package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	resultsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "isp",
			Subsystem: "apply",
			Name:      "results_total",
			Help:      "Full parameter results applied to hardware.",
		},
	)
	applyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp",
			Subsystem: "apply",
			Name:      "failures_total",
			Help:      "Parameter sets the hardware layer rejected.",
		},
		[]string{"kind"},
	)
	companionLight = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp",
			Subsystem: "companion_light",
			Name:      "updates_total",
			Help:      "Companion light updates by outcome.",
		},
		[]string{"action"},
	)
	modeSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "isp",
			Subsystem: "manager",
			Name:      "mode_switches_total",
			Help:      "Working mode switches by outcome.",
		},
		[]string{"from", "to", "outcome"},
	)
	modeSwitchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "isp",
			Subsystem: "manager",
			Name:      "mode_switch_duration_seconds",
			Help:      "Time the pipeline was held during a working mode switch.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	pipelineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "isp",
			Subsystem: "manager",
			Name:      "state",
			Help:      "1 for the current pipeline state, 0 otherwise.",
		},
		[]string{"state"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "isp",
			Subsystem: "worker",
			Name:      "queue_depth",
			Help:      "Items waiting in a worker queue.",
		},
		[]string{"queue"},
	)
)

// Companion light actions
const (
	LightApplied  = "applied"
	LightDeferred = "deferred"
	LightReleased = "released"
	LightCanceled = "canceled"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(resultsApplied, applyFailures, companionLight,
			modeSwitches, modeSwitchDuration, pipelineState, queueDepth)
	})
}

func RecordResultApplied() {
	RegisterMetrics()
	resultsApplied.Inc()
}

func RecordApplyFailure(kind string) {
	RegisterMetrics()
	applyFailures.WithLabelValues(kind).Inc()
}

func RecordCompanionLight(action string) {
	RegisterMetrics()
	companionLight.WithLabelValues(action).Inc()
}

func RecordModeSwitch(from, to, outcome string, seconds float64) {
	RegisterMetrics()
	modeSwitches.WithLabelValues(from, to, outcome).Inc()
	modeSwitchDuration.Observe(seconds)
}

// SetPipelineState marks current as the only active state label
func SetPipelineState(current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		pipelineState.WithLabelValues(s).Set(v)
	}
}

func SetQueueDepth(queue string, n int) {
	RegisterMetrics()
	queueDepth.WithLabelValues(queue).Set(float64(n))
}
