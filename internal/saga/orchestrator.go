package saga

import (
	"context"
	"errors"
)

// ReasonCancelled is the failure reason recorded when a saga ends in
// Cancelled without a caller-supplied reason.
const ReasonCancelled = "cancel requested"

// Capabilities is the collaborator set a saga run decides against.
type Capabilities struct {
	Inventory InventoryReservoir
	Payments  PaymentProcessor
	Orders    OrderStore
	Signal    CancelSignal
}

// Config configures an Orchestrator.
type Config struct {
	Capabilities Capabilities
	Observer     Observer

	// CompensationRetries is how many extra attempts a failing
	// compensation gets before it is recorded as Attempted and
	// surfaced as an operational alert. Defaults to 1.
	CompensationRetries int
}

// Orchestrator drives one saga run to a terminal phase exactly once.
// It is pure decision logic: no I/O, no clock, no randomness. All
// non-determinism lives behind the Capabilities, which alone may
// suspend. Re-running it against identical recorded Outcomes produces
// identical decisions, which is what makes it safe to host on a
// replaying durable-execution substrate.
type Orchestrator struct {
	caps        Capabilities
	observer    Observer
	compRetries int
}

// New validates the capability set eagerly and constructs an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Capabilities.Inventory == nil {
		return nil, errors.New("saga: inventory reservoir is required")
	}
	if cfg.Capabilities.Payments == nil {
		return nil, errors.New("saga: payment processor is required")
	}
	if cfg.Capabilities.Orders == nil {
		return nil, errors.New("saga: order store is required")
	}
	if cfg.Capabilities.Signal == nil {
		cfg.Capabilities.Signal = NeverCancelled{}
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	retries := cfg.CompensationRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 1
	}
	return &Orchestrator{
		caps:        cfg.Capabilities,
		observer:    cfg.Observer,
		compRetries: retries,
	}, nil
}

// Run executes the fulfillment saga for one request and returns its
// terminal state. Business failures end in the returned state, never in
// the error; the error is reserved for malformed requests, which are
// rejected before any effectful call.
func (o *Orchestrator) Run(ctx context.Context, sagaID string, req SagaRequest) (SagaState, error) {
	if err := req.Validate(); err != nil {
		return SagaState{}, err
	}

	state := SagaState{
		SagaID:     sagaID,
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		Phase:      PhaseStarted,
	}

	if state.OrderID == "" {
		out := o.step(&state, req.IdempotencyKey, StepOrderNewID, func() Outcome {
			return o.caps.Orders.NewOrderID(ctx)
		})
		if !out.OK() {
			return o.fail(ctx, &state, req, "order id unavailable: "+out.FailureReason()), nil
		}
		state.OrderID = out.Ref
	}
	o.saveState(ctx, &state, req)

	if o.cancelRequested(ctx) {
		return o.cancelFrom(ctx, &state, req, ReasonCancelled), nil
	}

	o.transition(&state, req, PhaseReservingInventory)
	o.saveState(ctx, &state, req)
	out := o.step(&state, req.IdempotencyKey, StepInventoryReserve, func() Outcome {
		return o.caps.Inventory.Reserve(ctx, state.OrderID, req.Items, req.IdempotencyKey)
	})
	if !out.OK() {
		return o.fail(ctx, &state, req, out.FailureReason()), nil
	}
	state.ReservationRef = out.Ref
	o.transition(&state, req, PhaseInventoryReserved)
	o.saveState(ctx, &state, req)

	if o.cancelRequested(ctx) {
		return o.cancelFrom(ctx, &state, req, ReasonCancelled), nil
	}

	o.transition(&state, req, PhaseChargingPayment)
	o.saveState(ctx, &state, req)
	out = o.step(&state, req.IdempotencyKey, StepPaymentCharge, func() Outcome {
		return o.caps.Payments.Charge(ctx, req.CustomerID, req.Amount, req.IdempotencyKey)
	})
	if !out.OK() {
		o.transition(&state, req, PhaseCompensatingInventory)
		o.saveState(ctx, &state, req)
		o.compensate(ctx, &state, req, StepInventoryRelease, state.ReservationRef, o.caps.Inventory.Release)
		// The payment failure stays the primary result regardless of
		// how the compensation fared.
		return o.fail(ctx, &state, req, out.FailureReason()), nil
	}
	state.PaymentRef = out.Ref

	o.transition(&state, req, PhaseCompleted)
	o.saveState(ctx, &state, req)
	return state, nil
}

// Cancel runs the cancellation saga over a prior run's terminal state:
// refund the payment if one was charged, release the reservation if one
// is still held, then end in Cancelled. Compensations already recorded by
// the prior run are not re-issued. Safe to call repeatedly.
func (o *Orchestrator) Cancel(ctx context.Context, prior SagaState, req SagaRequest, reason string) (SagaState, error) {
	state := prior
	if state.Phase == PhaseCancelled {
		return state, nil
	}
	if reason == "" {
		reason = ReasonCancelled
	}

	o.transition(&state, req, PhaseCancelling)
	o.saveState(ctx, &state, req)

	if state.PaymentRef != "" && !state.compensated(StepPaymentRefund) {
		o.compensate(ctx, &state, req, StepPaymentRefund, state.PaymentRef, o.caps.Payments.Refund)
	}
	if state.ReservationRef != "" && !state.compensated(StepInventoryRelease) {
		o.compensate(ctx, &state, req, StepInventoryRelease, state.ReservationRef, o.caps.Inventory.Release)
	}

	state.FailureReason = reason
	o.transition(&state, req, PhaseCancelled)
	o.saveState(ctx, &state, req)
	return state, nil
}

func (s *SagaState) compensated(step string) bool {
	for _, rec := range s.CompensationsApplied {
		if rec.Step == step && rec.Status == CompensationApplied {
			return true
		}
	}
	return false
}

func (o *Orchestrator) cancelRequested(ctx context.Context) bool {
	return o.caps.Signal.CancelRequested(ctx)
}

// cancelFrom runs the compensations owed at the current phase and moves
// the saga to Cancelled.
func (o *Orchestrator) cancelFrom(ctx context.Context, state *SagaState, req SagaRequest, reason string) SagaState {
	o.transition(state, req, PhaseCancelling)
	o.saveState(ctx, state, req)
	if state.PaymentRef != "" && !state.compensated(StepPaymentRefund) {
		o.compensate(ctx, state, req, StepPaymentRefund, state.PaymentRef, o.caps.Payments.Refund)
	}
	if state.ReservationRef != "" && !state.compensated(StepInventoryRelease) {
		o.compensate(ctx, state, req, StepInventoryRelease, state.ReservationRef, o.caps.Inventory.Release)
	}
	state.FailureReason = reason
	o.transition(state, req, PhaseCancelled)
	o.saveState(ctx, state, req)
	return *state
}

func (o *Orchestrator) fail(ctx context.Context, state *SagaState, req SagaRequest, reason string) SagaState {
	state.FailureReason = reason
	o.transition(state, req, PhaseFailed)
	o.saveState(ctx, state, req)
	return *state
}

// compensate invokes an undo action with a bounded number of extra
// attempts. A compensation that still fails is recorded as Attempted and
// raised as an alert, never re-raised: the primary failure result must
// reach the caller.
func (o *Orchestrator) compensate(ctx context.Context, state *SagaState, req SagaRequest, step, ref string, undo func(context.Context, string) Outcome) {
	if ref == "" {
		return
	}
	record := CompensationRecord{Step: step, Ref: ref}
	for attempt := 0; attempt <= o.compRetries; attempt++ {
		out := o.step(state, req.IdempotencyKey, step, func() Outcome {
			return undo(ctx, ref)
		})
		if out.OK() {
			record.Status = CompensationApplied
			record.Detail = ""
			state.CompensationsApplied = append(state.CompensationsApplied, record)
			return
		}
		record.Detail = out.FailureReason()
	}
	record.Status = CompensationAttempted
	state.CompensationsApplied = append(state.CompensationsApplied, record)
	o.observer.Audit(AuditEvent{
		SagaID:         state.SagaID,
		OrderID:        state.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		Kind:           AuditCompensationAlert,
		Step:           step,
		Detail:         record.Detail,
	})
}

// saveState persists the current state through the order store as an
// audited step. Persistence failures are visible in the audit trail but
// never change the saga's decision.
func (o *Orchestrator) saveState(ctx context.Context, state *SagaState, req SagaRequest) {
	snapshot := *state
	o.step(state, req.IdempotencyKey, StepOrderSave, func() Outcome {
		return o.caps.Orders.SaveState(ctx, snapshot)
	})
}

func (o *Orchestrator) transition(state *SagaState, req SagaRequest, to Phase) {
	from := state.Phase
	state.Phase = to
	o.observer.Audit(AuditEvent{
		SagaID:         state.SagaID,
		OrderID:        state.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		Kind:           AuditPhaseChanged,
		From:           from,
		To:             to,
	})
}

func (o *Orchestrator) step(state *SagaState, key, name string, fn func() Outcome) Outcome {
	o.observer.Audit(AuditEvent{
		SagaID:         state.SagaID,
		OrderID:        state.OrderID,
		IdempotencyKey: key,
		Kind:           AuditStepStarted,
		Step:           name,
	})
	out := fn()
	o.observer.Audit(AuditEvent{
		SagaID:         state.SagaID,
		OrderID:        state.OrderID,
		IdempotencyKey: key,
		Kind:           AuditStepFinished,
		Step:           name,
		Outcome:        &out,
	})
	return out
}
