package metrics

import "time"

// ResultLabel enumerates unit result categories for counters.
type ResultLabel string

const (
	ResultSuccess   ResultLabel = "success"
	ResultFailed    ResultLabel = "failed"
	ResultCancelled ResultLabel = "cancelled"
)

// Recorder defines observability hooks for unit and log-stream metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	ObserveUnitDuration(op string, d time.Duration)
	IncUnitOutcome(op string, result ResultLabel)
	IncBusyRejection(project string)
	SetActiveUnits(n int)
	SetSubscribers(n int)
	IncDroppedEvents()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveUnitDuration(string, time.Duration) {}
func (NoopRecorder) IncUnitOutcome(string, ResultLabel)        {}
func (NoopRecorder) IncBusyRejection(string)                   {}
func (NoopRecorder) SetActiveUnits(int)                        {}
func (NoopRecorder) SetSubscribers(int)                        {}
func (NoopRecorder) IncDroppedEvents()                         {}
