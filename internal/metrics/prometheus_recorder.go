package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	unitDuration   *prom.HistogramVec
	unitOutcomes   *prom.CounterVec
	busyRejections *prom.CounterVec
	activeUnits    prom.Gauge
	subscribers    prom.Gauge
	droppedEvents  prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.unitDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "fwforge",
			Name:      "unit_duration_seconds",
			Help:      "Duration of build units from creation to terminal state",
			Buckets:   prom.DefBuckets,
		}, []string{"op"})
		pr.unitOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fwforge",
			Name:      "unit_outcomes_total",
			Help:      "Unit outcomes by operation and final status",
		}, []string{"op", "result"})
		pr.busyRejections = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fwforge",
			Name:      "busy_rejections_total",
			Help:      "Submissions rejected because the project had a unit in flight",
		}, []string{"project"})
		pr.activeUnits = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fwforge",
			Name:      "active_units",
			Help:      "Number of units currently running",
		})
		pr.subscribers = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fwforge",
			Name:      "log_subscribers",
			Help:      "Connected live log subscribers",
		})
		pr.droppedEvents = prom.NewCounter(prom.CounterOpts{
			Namespace: "fwforge",
			Name:      "log_events_dropped_total",
			Help:      "Log events dropped because a subscriber buffer was full",
		})
		reg.MustRegister(pr.unitDuration, pr.unitOutcomes, pr.busyRejections, pr.activeUnits, pr.subscribers, pr.droppedEvents)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveUnitDuration(op string, d time.Duration) {
	if p == nil || p.unitDuration == nil {
		return
	}
	p.unitDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncUnitOutcome(op string, result ResultLabel) {
	if p == nil || p.unitOutcomes == nil {
		return
	}
	p.unitOutcomes.WithLabelValues(op, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBusyRejection(project string) {
	if p == nil || p.busyRejections == nil {
		return
	}
	p.busyRejections.WithLabelValues(project).Inc()
}

func (p *PrometheusRecorder) SetActiveUnits(n int) {
	if p == nil || p.activeUnits == nil {
		return
	}
	p.activeUnits.Set(float64(n))
}

func (p *PrometheusRecorder) SetSubscribers(n int) {
	if p == nil || p.subscribers == nil {
		return
	}
	p.subscribers.Set(float64(n))
}

func (p *PrometheusRecorder) IncDroppedEvents() {
	if p == nil || p.droppedEvents == nil {
		return
	}
	p.droppedEvents.Inc()
}
