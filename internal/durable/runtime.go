package durable

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"sagaflow/internal/saga"
)

// ErrUnknownSaga is returned when a handle is requested for a saga this
// runtime has never started.
var ErrUnknownSaga = errors.New("unknown saga")

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	Journal             Journal
	Registry            *Registry
	Codec               Codec
	Retry               RetryPolicy
	Observer            saga.Observer
	CompensationRetries int
	Logf                func(format string, args ...any)
}

// Runtime hosts saga runs on the durable substrate. It owns the saga
// entry point: StartSaga hands back a SagaHandle for polling and
// cancellation, which is the only surface outer layers use.
type Runtime struct {
	journal     Journal
	registry    *Registry
	codec       Codec
	retry       RetryPolicy
	observer    saga.Observer
	compRetries int
	logf        func(format string, args ...any)

	mu      sync.Mutex
	handles map[string]*SagaHandle
}

// NewRuntime validates the configuration eagerly, including that every
// saga step has a registered implementation, and constructs a Runtime.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Registry == nil {
		return nil, errors.New("runtime: registry is required")
	}
	if !cfg.Registry.sealed {
		if err := cfg.Registry.Validate(saga.Steps()...); err != nil {
			return nil, err
		}
	}
	if cfg.Journal == nil {
		cfg.Journal = NewMemoryJournal()
	}
	if cfg.Codec.Encode == nil && cfg.Codec.Decode == nil && cfg.Codec.Version == "" {
		cfg.Codec = JSONCodec()
	}
	if err := cfg.Codec.valid(); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Observer == nil {
		cfg.Observer = saga.NopObserver{}
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	return &Runtime{
		journal:     cfg.Journal,
		registry:    cfg.Registry,
		codec:       cfg.Codec,
		retry:       cfg.Retry,
		observer:    cfg.Observer,
		compRetries: cfg.CompensationRetries,
		logf:        cfg.Logf,
		handles:     make(map[string]*SagaHandle),
	}, nil
}

// SagaID derives the durable saga identifier from the request's
// idempotency key. A retried or resumed start lands on the same journal.
func SagaID(idempotencyKey string) string {
	return "saga-" + idempotencyKey
}

// StartSaga validates the request, then starts (or, for a retried
// idempotency key, re-joins) a saga run and returns its handle. After a
// crash, calling StartSaga again with the same key replays the journal
// and resumes from the last recorded checkpoint.
func (r *Runtime) StartSaga(ctx context.Context, req saga.SagaRequest) (*SagaHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sagaID := SagaID(req.IdempotencyKey)

	r.mu.Lock()
	if h, ok := r.handles[sagaID]; ok {
		r.mu.Unlock()
		if !reflect.DeepEqual(h.req, req) {
			return nil, saga.ErrIdempotencyConflict
		}
		return h, nil
	}
	h := newHandle(sagaID, req)
	r.handles[sagaID] = h
	r.mu.Unlock()

	orch, err := r.orchestratorFor(sagaID, h.cancelRequested, handleObserver{h})
	if err != nil {
		r.mu.Lock()
		delete(r.handles, sagaID)
		r.mu.Unlock()
		return nil, err
	}

	// The run outlives the caller's request context: a saga must reach a
	// terminal phase even if the caller went away.
	runCtx := context.WithoutCancel(ctx)
	go func() {
		state, err := orch.Run(runCtx, sagaID, req)
		if err != nil {
			r.logf("saga %s: run error: %v", sagaID, err)
		}
		h.finish(state, err)
	}()
	return h, nil
}

// Handle returns the handle for a previously started saga.
func (r *Runtime) Handle(sagaID string) (*SagaHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[sagaID]
	return h, ok
}

// CancelSaga requests cancellation. A running saga observes the request
// at its next suspension point and compensates whatever it has acquired.
// A saga that already Completed is cancelled by a follow-up cancellation
// run that refunds the payment and releases the reservation.
func (r *Runtime) CancelSaga(ctx context.Context, sagaID, reason string) (saga.SagaState, error) {
	r.mu.Lock()
	h, ok := r.handles[sagaID]
	r.mu.Unlock()
	if !ok {
		return saga.SagaState{}, ErrUnknownSaga
	}

	// requestCancel and the run's finish share the handle's lock, so a
	// run completing underneath us is reported as finished here and gets
	// the follow-up cancellation instead of a stranded flag.
	if !h.requestCancel() {
		return h.State(), nil
	}

	prior := h.State()
	if prior.Phase == saga.PhaseCancelled || prior.Phase == saga.PhaseFailed {
		// Failed runs have already executed their owed compensations.
		return prior, nil
	}

	orch, err := r.orchestratorFor(sagaID+"#cancel", nil, handleObserver{h})
	if err != nil {
		return prior, err
	}
	state, err := orch.Cancel(context.WithoutCancel(ctx), prior, h.req, reason)
	if err != nil {
		return prior, err
	}
	h.update(state)
	return state, nil
}

func (r *Runtime) orchestratorFor(journalScope string, signal func() bool, extra saga.Observer) (*saga.Orchestrator, error) {
	bridge, err := NewBridge(BridgeConfig{
		SagaID:   journalScope,
		Journal:  r.journal,
		Registry: r.registry,
		Codec:    r.codec,
		Retry:    r.retry,
		Signal:   signal,
	})
	if err != nil {
		return nil, err
	}
	observer := r.observer
	if extra != nil {
		observer = saga.MultiObserver{extra, r.observer}
	}
	return saga.New(saga.Config{
		Capabilities:        bridge.Capabilities(),
		Observer:            observer,
		CompensationRetries: r.compRetries,
	})
}

// handleObserver keeps a handle's polled view in step with the run's
// phase transitions.
type handleObserver struct{ h *SagaHandle }

func (o handleObserver) Audit(e saga.AuditEvent) {
	if e.Kind != saga.AuditPhaseChanged {
		return
	}
	o.h.mu.Lock()
	o.h.state.Phase = e.To
	if e.OrderID != "" {
		o.h.state.OrderID = e.OrderID
	}
	o.h.mu.Unlock()
}
