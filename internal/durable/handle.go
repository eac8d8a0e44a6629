package durable

import (
	"context"
	"sync"

	"sagaflow/internal/saga"
)

// SagaHandle is the caller's view of one saga run: poll the phase and
// failure reason, request cancellation, wait for a terminal state. The
// caller never sees retry counts, backoff timing or compensation
// bookkeeping.
type SagaHandle struct {
	sagaID string
	req    saga.SagaRequest

	mu        sync.Mutex
	state     saga.SagaState
	err       error
	cancelled bool

	done chan struct{}
}

func newHandle(sagaID string, req saga.SagaRequest) *SagaHandle {
	return &SagaHandle{
		sagaID: sagaID,
		req:    req,
		state: saga.SagaState{
			SagaID:     sagaID,
			OrderID:    req.OrderID,
			CustomerID: req.CustomerID,
			Amount:     req.Amount,
			Phase:      saga.PhaseStarted,
		},
		done: make(chan struct{}),
	}
}

// SagaID returns the durable saga identifier.
func (h *SagaHandle) SagaID() string { return h.sagaID }

// Phase returns the saga's last known phase.
func (h *SagaHandle) Phase() saga.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Phase
}

// FailureReason returns the explanatory reason for a non-success terminal
// phase, empty otherwise.
func (h *SagaHandle) FailureReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.FailureReason
}

// State returns a copy of the saga's last known state.
func (h *SagaHandle) State() saga.SagaState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the start-time error, if the run never got going.
func (h *SagaHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Cancel requests cooperative cancellation. The run observes it at its
// next suspension point; an in-flight collaborator call still completes
// and its outcome is applied first.
func (h *SagaHandle) Cancel() {
	h.requestCancel()
}

// requestCancel raises the cancel flag unless the run already finished,
// and reports which. The check and the flag share the critical section
// with finish, so a concurrently completing run is either seen as
// finished or sees the flag before its terminal state lands.
func (h *SagaHandle) requestCancel() (finished bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return true
	default:
	}
	h.cancelled = true
	return false
}

func (h *SagaHandle) cancelRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Done is closed once the run reaches a terminal phase.
func (h *SagaHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the saga is terminal or the context ends.
func (h *SagaHandle) Wait(ctx context.Context) (saga.SagaState, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.state, h.err
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

// finish closes done while holding the lock so requestCancel can treat
// "done closed" and "state recorded" as one event.
func (h *SagaHandle) finish(state saga.SagaState, err error) {
	h.mu.Lock()
	h.state = state
	h.err = err
	close(h.done)
	h.mu.Unlock()
}

// update records the result of a follow-up run (cancellation of a
// completed saga) after the primary run already finished.
func (h *SagaHandle) update(state saga.SagaState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}
