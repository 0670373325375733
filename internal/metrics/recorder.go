package metrics

import "time"

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order outcome.
func (r *Recorder) RecordOrder(symbol, side, status string) {
	OrdersTotal.WithLabelValues(symbol, side, status).Inc()
}

// RecordViolation records a hard-constraint violation.
func (r *Recorder) RecordViolation(rule string) {
	ViolationsTotal.WithLabelValues(rule).Inc()
}

// RecordDuplicateBlocked records an intent blocked by the duplicate guard.
func (r *Recorder) RecordDuplicateBlocked() {
	DuplicatesBlocked.Inc()
}

// RecordPositionPending records a new PENDING position row.
func (r *Recorder) RecordPositionPending(symbol string) {
	PositionsPending.WithLabelValues(symbol).Inc()
}

// RecordPositionResolved records a PENDING row leaving the pending state.
func (r *Recorder) RecordPositionResolved(symbol string) {
	PositionsPending.WithLabelValues(symbol).Dec()
}

// RecordReconcile records a reconciliation pass outcome.
func (r *Recorder) RecordReconcile(promoted, expired int) {
	ReconcilePromoted.Add(float64(promoted))
	ReconcileExpired.Add(float64(expired))
}

// RecordInconsistency records a data-integrity event.
func (r *Recorder) RecordInconsistency(kind string) {
	InconsistenciesTotal.WithLabelValues(kind).Inc()
}

// RecordBatch records a processed batch.
func (r *Recorder) RecordBatch() {
	BatchesTotal.Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveSubmit observes the elapsed time as submission latency.
func (t *Timer) ObserveSubmit() {
	SubmitLatency.Observe(t.Elapsed().Seconds())
}

// ObserveFillWait observes the elapsed time as fill-wait duration.
func (t *Timer) ObserveFillWait() {
	FillWaitSeconds.Observe(t.Elapsed().Seconds())
}
