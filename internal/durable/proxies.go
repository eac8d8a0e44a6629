package durable

import (
	"context"

	"sagaflow/internal/saga"
)

// Capabilities returns bridge-backed implementations of the capability
// interfaces. The orchestrator calls them like plain collaborators; every
// call actually runs as a journaled, retried dispatch through the
// registry. The orchestrator never learns it is talking to a substrate.
func (b *Bridge) Capabilities() saga.Capabilities {
	return saga.Capabilities{
		Inventory: inventoryProxy{b},
		Payments:  paymentProxy{b},
		Orders:    orderProxy{b},
		Signal:    signalProxy{b},
	}
}

type inventoryProxy struct{ bridge *Bridge }

func (p inventoryProxy) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepInventoryReserve, StepArgs{
		OrderID:        orderID,
		Items:          items,
		IdempotencyKey: idempotencyKey,
	})
}

func (p inventoryProxy) Release(ctx context.Context, reservationRef string) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepInventoryRelease, StepArgs{Ref: reservationRef})
}

type paymentProxy struct{ bridge *Bridge }

func (p paymentProxy) Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepPaymentCharge, StepArgs{
		CustomerID:     customerID,
		Amount:         amount,
		IdempotencyKey: idempotencyKey,
	})
}

func (p paymentProxy) Refund(ctx context.Context, paymentRef string) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepPaymentRefund, StepArgs{Ref: paymentRef})
}

type orderProxy struct{ bridge *Bridge }

func (p orderProxy) NewOrderID(ctx context.Context) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepOrderNewID, StepArgs{})
}

func (p orderProxy) SaveState(ctx context.Context, state saga.SagaState) saga.Outcome {
	return p.bridge.Execute(ctx, saga.StepOrderSave, StepArgs{State: &state})
}

type signalProxy struct{ bridge *Bridge }

func (p signalProxy) CancelRequested(ctx context.Context) bool {
	return p.bridge.CancelRequested(ctx)
}
