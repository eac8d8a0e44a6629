package durable

import (
	"context"
	"fmt"
	"strconv"

	"sagaflow/internal/saga"
)

// Bridge is the seam between one orchestrator run and the durable
// substrate. Each capability call becomes a checkpointed, retried remote
// invocation: intent is journaled before the call, the outcome after it,
// and a replaying run gets the recorded outcome back verbatim instead of
// re-issuing the call. One Bridge serves exactly one saga run; calls are
// issued by the orchestrator in order, never concurrently.
type Bridge struct {
	sagaID   string
	journal  Journal
	registry *Registry
	codec    Codec
	retry    RetryPolicy
	signal   func() bool
	seq      int
}

// BridgeConfig configures a Bridge for one saga run.
type BridgeConfig struct {
	SagaID   string
	Journal  Journal
	Registry *Registry
	Codec    Codec
	Retry    RetryPolicy

	// Signal reports live cancellation requests. Its observations are
	// journaled like any other step so replay sees the same answers.
	Signal func() bool
}

// NewBridge constructs a Bridge.
func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.SagaID == "" {
		return nil, fmt.Errorf("bridge: saga id is required")
	}
	if cfg.Journal == nil {
		return nil, fmt.Errorf("bridge: journal is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("bridge: registry is required")
	}
	if err := cfg.Codec.valid(); err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	return &Bridge{
		sagaID:   cfg.SagaID,
		journal:  cfg.Journal,
		registry: cfg.Registry,
		codec:    cfg.Codec,
		retry:    cfg.Retry,
		signal:   cfg.Signal,
	}, nil
}

// Execute runs one named step as a durable checkpoint and returns its
// Outcome. SystemErrors are retried per policy; once retries are
// exhausted they are demoted to a BusinessFailure so the saga still
// reaches a terminal state instead of hanging.
func (b *Bridge) Execute(ctx context.Context, step string, args StepArgs) saga.Outcome {
	seq := b.seq
	b.seq++

	if rec, ok, err := b.journal.Lookup(ctx, b.sagaID, seq); err != nil {
		return saga.SystemErrorFrom(err)
	} else if ok && rec.Completed {
		return b.replay(rec, step)
	}

	fn, ok := b.registry.lookup(step)
	if !ok {
		// The registry is validated at startup; reaching this means the
		// orchestrator dispatched a name outside the validated set.
		return saga.SystemError(fmt.Sprintf("step %q is not registered", step))
	}

	encArgs, err := b.codec.Encode(args)
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	rec := Record{
		SagaID:         b.sagaID,
		Seq:            seq,
		Step:           step,
		IdempotencyKey: args.IdempotencyKey,
		CodecVersion:   b.codec.Version,
		Args:           encArgs,
	}
	if err := b.journal.Begin(ctx, rec); err != nil {
		return saga.SystemErrorFrom(err)
	}

	out := b.retry.Do(ctx, func(callCtx context.Context) saga.Outcome {
		return invoke(callCtx, fn, args)
	})
	if out.Status == saga.OutcomeSystemError {
		out = saga.Failure("step unavailable: " + out.Cause)
	}

	encOut, err := b.codec.Encode(out)
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	rec.Outcome = encOut
	if err := b.journal.Complete(ctx, rec); err != nil {
		return saga.SystemErrorFrom(err)
	}
	return out
}

// CancelRequested journals the cancellation observation at this
// suspension point so that replay sees the same answer the live run saw.
func (b *Bridge) CancelRequested(ctx context.Context) bool {
	seq := b.seq
	b.seq++

	if rec, ok, err := b.journal.Lookup(ctx, b.sagaID, seq); err == nil && ok && rec.Completed {
		out := b.replay(rec, saga.StepCancelSignal)
		return out.OK() && out.Ref == "true"
	}

	requested := b.signal != nil && b.signal()
	out := saga.Success(strconv.FormatBool(requested))
	encOut, err := b.codec.Encode(out)
	if err != nil {
		return requested
	}
	_ = b.journal.Complete(ctx, Record{
		SagaID:       b.sagaID,
		Seq:          seq,
		Step:         saga.StepCancelSignal,
		CodecVersion: b.codec.Version,
		Outcome:      encOut,
	})
	return requested
}

func (b *Bridge) replay(rec Record, step string) saga.Outcome {
	if rec.Step != step {
		return saga.SystemError(fmt.Sprintf("replay mismatch at seq %d: recorded %q, dispatched %q", rec.Seq, rec.Step, step))
	}
	if rec.CodecVersion != b.codec.Version {
		return saga.SystemError(fmt.Sprintf("replay codec mismatch at seq %d: recorded %q, configured %q", rec.Seq, rec.CodecVersion, b.codec.Version))
	}
	var out saga.Outcome
	if err := b.codec.Decode(rec.Outcome, &out); err != nil {
		return saga.SystemErrorFrom(err)
	}
	return out
}

// invoke shields the orchestrator from raw collaborator faults: panics
// surface as SystemError outcomes, never as crashes.
func invoke(ctx context.Context, fn StepFunc, args StepArgs) (out saga.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = saga.SystemError(fmt.Sprintf("step panic: %v", r))
		}
	}()
	return fn(ctx, args)
}
