package saga

// AuditKind classifies an audit event.
type AuditKind string

const (
	AuditPhaseChanged      AuditKind = "phase_changed"
	AuditStepStarted       AuditKind = "step_started"
	AuditStepFinished      AuditKind = "step_finished"
	AuditCompensationAlert AuditKind = "compensation_alert"
)

// AuditEvent is one entry of the saga's replayable audit trail. Events
// fire before and after every capability call and on every phase
// transition, tagged with the saga's idempotency key and business ids.
// The orchestrator attaches no timestamps; observers that need wall-clock
// time add their own.
type AuditEvent struct {
	SagaID         string    `json:"saga_id"`
	OrderID        string    `json:"order_id,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Kind           AuditKind `json:"kind"`
	Step           string    `json:"step,omitempty"`
	From           Phase     `json:"from,omitempty"`
	To             Phase     `json:"to,omitempty"`
	Outcome        *Outcome  `json:"outcome,omitempty"`
	Detail         string    `json:"detail,omitempty"`
}

// Observer receives audit events. Implementations must not block the
// orchestrator and must not fail it: errors stay inside the observer.
type Observer interface {
	Audit(event AuditEvent)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Audit(AuditEvent) {}

// MultiObserver fans one event out to several observers.
type MultiObserver []Observer

func (m MultiObserver) Audit(event AuditEvent) {
	for _, o := range m {
		if o != nil {
			o.Audit(event)
		}
	}
}

// LogObserver writes audit events through an injected printf-style logger.
type LogObserver struct {
	Logf func(format string, args ...any)
}

func (l LogObserver) Audit(e AuditEvent) {
	if l.Logf == nil {
		return
	}
	switch e.Kind {
	case AuditPhaseChanged:
		l.Logf("saga %s order %s: phase %s -> %s", e.SagaID, e.OrderID, e.From, e.To)
	case AuditStepStarted:
		l.Logf("saga %s order %s: step %s started (key %s)", e.SagaID, e.OrderID, e.Step, e.IdempotencyKey)
	case AuditStepFinished:
		status := ""
		if e.Outcome != nil {
			status = string(e.Outcome.Status)
		}
		l.Logf("saga %s order %s: step %s finished (%s)", e.SagaID, e.OrderID, e.Step, status)
	case AuditCompensationAlert:
		l.Logf("saga %s order %s: COMPENSATION ALERT step %s: %s", e.SagaID, e.OrderID, e.Step, e.Detail)
	}
}
