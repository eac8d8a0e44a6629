package durable

import (
	"context"
	"sync"
)

// Record is one durable checkpoint: "step Seq of saga SagaID was invoked
// with these arguments and, once Completed, finished with this Outcome."
// Lookup of a completed record is what lets a resumed orchestrator replay
// past the call without re-issuing it.
type Record struct {
	SagaID         string `json:"saga_id"`
	Seq            int    `json:"seq"`
	Step           string `json:"step"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CodecVersion   string `json:"codec_version"`
	Args           []byte `json:"args,omitempty"`
	Outcome        []byte `json:"outcome,omitempty"`
	Completed      bool   `json:"completed"`
}

// Journal is the durable substrate's checkpoint port. Begin persists the
// intent to call a step before the call is issued; Complete persists its
// Outcome; Lookup answers replay queries. Implementations must make
// Begin/Complete idempotent per (SagaID, Seq).
type Journal interface {
	Begin(ctx context.Context, rec Record) error
	Complete(ctx context.Context, rec Record) error
	Lookup(ctx context.Context, sagaID string, seq int) (Record, bool, error)
}

// MemoryJournal keeps checkpoints in process memory. It is the default
// for tests and for deployments that accept losing in-flight sagas on
// crash.
type MemoryJournal struct {
	mu   sync.Mutex
	recs map[string]map[int]Record
}

// NewMemoryJournal constructs an empty MemoryJournal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{recs: make(map[string]map[int]Record)}
}

func (j *MemoryJournal) Begin(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	saga, ok := j.recs[rec.SagaID]
	if !ok {
		saga = make(map[int]Record)
		j.recs[rec.SagaID] = saga
	}
	if existing, ok := saga[rec.Seq]; ok && existing.Completed {
		return nil
	}
	rec.Completed = false
	saga[rec.Seq] = rec
	return nil
}

func (j *MemoryJournal) Complete(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	saga, ok := j.recs[rec.SagaID]
	if !ok {
		saga = make(map[int]Record)
		j.recs[rec.SagaID] = saga
	}
	rec.Completed = true
	saga[rec.Seq] = rec
	return nil
}

func (j *MemoryJournal) Lookup(ctx context.Context, sagaID string, seq int) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rec, ok := j.recs[sagaID][seq]
	return rec, ok, nil
}

// Records returns the recorded checkpoints for one saga in sequence
// order (for inspection in tests).
func (j *MemoryJournal) Records(sagaID string) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	saga := j.recs[sagaID]
	maxSeq := -1
	for seq := range saga {
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	out := make([]Record, 0, len(saga))
	for seq := 0; seq <= maxSeq; seq++ {
		if rec, ok := saga[seq]; ok {
			out = append(out, rec)
		}
	}
	return out
}
