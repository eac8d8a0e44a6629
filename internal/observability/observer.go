package observability

import (
	"sync"

	"sagaflow/internal/saga"
)

// MetricsObserver feeds saga audit events into a Metrics collector. It
// tracks open step spans per saga so latency covers the full call,
// retries included.
type MetricsObserver struct {
	metrics *Metrics

	mu    sync.Mutex
	spans map[string]*CallSpan
}

// NewMetricsObserver constructs an observer backed by the given collector.
func NewMetricsObserver(metrics *Metrics) *MetricsObserver {
	return &MetricsObserver{
		metrics: metrics,
		spans:   make(map[string]*CallSpan),
	}
}

func (o *MetricsObserver) Audit(e saga.AuditEvent) {
	if o == nil || o.metrics == nil {
		return
	}
	switch e.Kind {
	case saga.AuditStepStarted:
		key := e.SagaID + "|" + e.Step
		span := o.metrics.Start(e.Step)
		o.mu.Lock()
		o.spans[key] = span
		o.mu.Unlock()
	case saga.AuditStepFinished:
		key := e.SagaID + "|" + e.Step
		o.mu.Lock()
		span := o.spans[key]
		delete(o.spans, key)
		o.mu.Unlock()
		failed := e.Outcome != nil && !e.Outcome.OK()
		span.End(failed)
	case saga.AuditPhaseChanged:
		if e.From == saga.PhaseStarted {
			o.metrics.SagaStarted()
		}
		switch e.To {
		case saga.PhaseCompleted:
			o.metrics.SagaCompleted()
		case saga.PhaseFailed:
			o.metrics.SagaFailed()
		case saga.PhaseCancelled:
			o.metrics.SagaCancelled()
		}
	case saga.AuditCompensationAlert:
		o.metrics.CompensationAlert()
	}
}
