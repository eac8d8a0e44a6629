package saga

import "context"

// InventoryReservoir reserves and releases stock for an order. Both
// operations are safe to call more than once with the same arguments:
// Reserve with a seen idempotency key returns the original reservation,
// and Release of an unknown or already-released ref succeeds as a no-op.
type InventoryReservoir interface {
	Reserve(ctx context.Context, orderID string, items []Item, idempotencyKey string) Outcome
	Release(ctx context.Context, reservationRef string) Outcome
}

// PaymentProcessor charges and refunds a payer. At most one charge takes
// effect per idempotency key regardless of retries; Refund of an unknown
// or already-refunded payment succeeds as a no-op.
type PaymentProcessor interface {
	Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) Outcome
	Refund(ctx context.Context, paymentRef string) Outcome
}

// OrderStore persists order/saga state and generates order identifiers.
// ID generation is non-deterministic and therefore lives here rather than
// in orchestrator code.
type OrderStore interface {
	NewOrderID(ctx context.Context) Outcome
	SaveState(ctx context.Context, state SagaState) Outcome
}

// CancelSignal reports whether cancellation has been requested for the
// current saga run. The orchestrator consults it only between capability
// calls; an in-flight collaborator call always runs to completion.
type CancelSignal interface {
	CancelRequested(ctx context.Context) bool
}

// NeverCancelled is a CancelSignal that never fires.
type NeverCancelled struct{}

func (NeverCancelled) CancelRequested(context.Context) bool { return false }
