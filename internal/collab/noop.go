package collab

import (
	"context"

	"sagaflow/internal/saga"
)

// NoopInventory is a stub InventoryReservoir that always succeeds.
type NoopInventory struct{}

func (NoopInventory) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	return saga.Success("res-" + idempotencyKey)
}

func (NoopInventory) Release(ctx context.Context, reservationRef string) saga.Outcome {
	return saga.Success("")
}

// NoopPayments is a stub PaymentProcessor that always succeeds.
type NoopPayments struct{}

func (NoopPayments) Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) saga.Outcome {
	return saga.Success("pay-" + idempotencyKey)
}

func (NoopPayments) Refund(ctx context.Context, paymentRef string) saga.Outcome {
	return saga.Success("")
}
