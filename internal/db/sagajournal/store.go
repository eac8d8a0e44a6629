package sagajournal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"sagaflow/internal/durable"
	"sagaflow/internal/saga"
)

// Store persists durable checkpoints, order states and the audit trail
// in Postgres. It satisfies both the bridge's Journal port and the
// orchestrator's OrderStore capability.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store backed by Postgres.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// NewStoreWithSchema initializes the schema then returns the store.
func NewStoreWithSchema(ctx context.Context, db *sql.DB) (*Store, error) {
	store := NewStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates saga tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_journal (
			saga_id TEXT NOT NULL,
			seq INT NOT NULL,
			step TEXT NOT NULL,
			idempotency_key TEXT,
			codec_version TEXT NOT NULL,
			args BYTEA,
			outcome BYTEA,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (saga_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS order_states (
			order_id TEXT PRIMARY KEY,
			saga_id TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			phase TEXT NOT NULL,
			reservation_ref TEXT,
			payment_ref TEXT,
			failure_reason TEXT,
			compensations JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS saga_audit (
			id BIGSERIAL PRIMARY KEY,
			saga_id TEXT NOT NULL,
			order_id TEXT,
			kind TEXT NOT NULL,
			step TEXT,
			phase_from TEXT,
			phase_to TEXT,
			detail TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Begin persists the intent to call a step. Re-running the same intent
// is a no-op; a completed checkpoint is never demoted.
func (s *Store) Begin(ctx context.Context, rec durable.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_journal (saga_id, seq, step, idempotency_key, codec_version, args, completed)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (saga_id, seq) DO NOTHING`,
		rec.SagaID, rec.Seq, rec.Step, rec.IdempotencyKey, rec.CodecVersion, rec.Args,
	)
	return err
}

// Complete persists a step's Outcome against its checkpoint.
func (s *Store) Complete(ctx context.Context, rec durable.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_journal (saga_id, seq, step, idempotency_key, codec_version, args, outcome, completed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (saga_id, seq) DO UPDATE
		SET outcome = EXCLUDED.outcome, completed = TRUE, updated_at = NOW()`,
		rec.SagaID, rec.Seq, rec.Step, rec.IdempotencyKey, rec.CodecVersion, rec.Args, rec.Outcome,
	)
	return err
}

// Lookup answers replay queries for one checkpoint.
func (s *Store) Lookup(ctx context.Context, sagaID string, seq int) (durable.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT saga_id, seq, step, COALESCE(idempotency_key, ''), codec_version, args, outcome, completed
		FROM saga_journal
		WHERE saga_id = $1 AND seq = $2`,
		sagaID, seq,
	)

	var rec durable.Record
	if err := row.Scan(&rec.SagaID, &rec.Seq, &rec.Step, &rec.IdempotencyKey, &rec.CodecVersion, &rec.Args, &rec.Outcome, &rec.Completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return durable.Record{}, false, nil
		}
		return durable.Record{}, false, err
	}
	return rec, true, nil
}

// NewOrderID generates a unique order identifier.
func (s *Store) NewOrderID(ctx context.Context) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}
	return saga.Success("ord-" + uuid.NewString())
}

// SaveState upserts the saga's order state row.
func (s *Store) SaveState(ctx context.Context, state saga.SagaState) saga.Outcome {
	compensations, err := json.Marshal(state.CompensationsApplied)
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO order_states (order_id, saga_id, customer_id, amount, phase, reservation_ref, payment_ref, failure_reason, compensations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (order_id) DO UPDATE
		SET phase = EXCLUDED.phase,
			reservation_ref = EXCLUDED.reservation_ref,
			payment_ref = EXCLUDED.payment_ref,
			failure_reason = EXCLUDED.failure_reason,
			compensations = EXCLUDED.compensations,
			updated_at = NOW()`,
		state.OrderID, state.SagaID, state.CustomerID, state.Amount, string(state.Phase),
		state.ReservationRef, state.PaymentRef, state.FailureReason, compensations,
	)
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	return saga.Success(state.OrderID)
}

// GetState loads the stored state for an order.
func (s *Store) GetState(ctx context.Context, orderID string) (saga.SagaState, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT order_id, saga_id, customer_id, amount, phase,
			COALESCE(reservation_ref, ''), COALESCE(payment_ref, ''), COALESCE(failure_reason, ''), compensations
		FROM order_states
		WHERE order_id = $1`,
		orderID,
	)

	var state saga.SagaState
	var phase string
	var compensations []byte
	if err := row.Scan(&state.OrderID, &state.SagaID, &state.CustomerID, &state.Amount, &phase,
		&state.ReservationRef, &state.PaymentRef, &state.FailureReason, &compensations); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.SagaState{}, false, nil
		}
		return saga.SagaState{}, false, err
	}
	state.Phase = saga.Phase(phase)
	if len(compensations) > 0 {
		if err := json.Unmarshal(compensations, &state.CompensationsApplied); err != nil {
			return saga.SagaState{}, false, err
		}
	}
	return state, true, nil
}
