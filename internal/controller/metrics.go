package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the controller's prometheus collectors.
type Metrics struct {
	Cycles       prometheus.Counter
	CycleErrors  prometheus.Counter
	Readings     *prometheus.GaugeVec
	SensorFaults *prometheus.CounterVec
	Waterings    *prometheus.CounterVec
	PumpSeconds  *prometheus.CounterVec
	PlantStatus  *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "cycles_total",
			Help:      "Polling cycles run.",
		}),
		CycleErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "cycle_errors_total",
			Help:      "Polling cycles that were aborted.",
		}),
		Readings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planter",
			Name:      "reading",
			Help:      "Latest sensor reading by quantity.",
		}, []string{"quantity"}),
		SensorFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "sensor_faults_total",
			Help:      "Sensor reads that produced no value.",
		}, []string{"sensor"}),
		Waterings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "waterings_total",
			Help:      "Pump activations by result.",
		}, []string{"result"}),
		PumpSeconds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "planter",
			Name:      "pump_seconds_total",
			Help:      "Pump run time.",
		}, []string{"pump"}),
		PlantStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "planter",
			Name:      "plants",
			Help:      "Installed plants by status.",
		}, []string{"status"}),
	}
}
