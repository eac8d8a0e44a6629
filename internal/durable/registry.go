package durable

import (
	"context"
	"fmt"
	"sort"

	"sagaflow/internal/saga"
)

// StepArgs carries the plain-value arguments of one dispatched step. No
// resource handles cross this boundary; every mutating step threads the
// idempotency key.
type StepArgs struct {
	OrderID        string          `json:"order_id,omitempty"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Items          []saga.Item     `json:"items,omitempty"`
	Amount         float64         `json:"amount,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Ref            string          `json:"ref,omitempty"`
	State          *saga.SagaState `json:"state,omitempty"`
}

// StepFunc executes one registered step against a real collaborator.
type StepFunc func(ctx context.Context, args StepArgs) saga.Outcome

// Registry maps step names to the collaborator implementations that
// execute them. It is populated once at process start, validated eagerly,
// and immutable afterwards.
type Registry struct {
	steps  map[string]StepFunc
	sealed bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{steps: make(map[string]StepFunc)}
}

// Register adds a step implementation. Duplicate or nil registrations and
// registrations after Validate are configuration errors.
func (r *Registry) Register(name string, fn StepFunc) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed: cannot register %q", name)
	}
	if name == "" {
		return fmt.Errorf("step name is required")
	}
	if fn == nil {
		return fmt.Errorf("step %q: nil implementation", name)
	}
	if _, ok := r.steps[name]; ok {
		return fmt.Errorf("step %q registered twice", name)
	}
	r.steps[name] = fn
	return nil
}

// Validate checks every required step has an implementation and seals the
// registry. Missing registrations fail here, at startup, not at first use.
func (r *Registry) Validate(required ...string) error {
	var missing []string
	for _, name := range required {
		if _, ok := r.steps[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("unregistered steps: %v", missing)
	}
	r.sealed = true
	return nil
}

func (r *Registry) lookup(name string) (StepFunc, bool) {
	fn, ok := r.steps[name]
	return fn, ok
}

// BuildRegistry wires the standard saga steps to concrete collaborators
// and validates the result.
func BuildRegistry(inventory saga.InventoryReservoir, payments saga.PaymentProcessor, orders saga.OrderStore) (*Registry, error) {
	if inventory == nil || payments == nil || orders == nil {
		return nil, fmt.Errorf("inventory, payments and orders collaborators are all required")
	}

	r := NewRegistry()
	registrations := map[string]StepFunc{
		saga.StepOrderNewID: func(ctx context.Context, _ StepArgs) saga.Outcome {
			return orders.NewOrderID(ctx)
		},
		saga.StepOrderSave: func(ctx context.Context, args StepArgs) saga.Outcome {
			if args.State == nil {
				return saga.SystemError("order.save dispatched without state")
			}
			return orders.SaveState(ctx, *args.State)
		},
		saga.StepInventoryReserve: func(ctx context.Context, args StepArgs) saga.Outcome {
			return inventory.Reserve(ctx, args.OrderID, args.Items, args.IdempotencyKey)
		},
		saga.StepInventoryRelease: func(ctx context.Context, args StepArgs) saga.Outcome {
			return inventory.Release(ctx, args.Ref)
		},
		saga.StepPaymentCharge: func(ctx context.Context, args StepArgs) saga.Outcome {
			return payments.Charge(ctx, args.CustomerID, args.Amount, args.IdempotencyKey)
		},
		saga.StepPaymentRefund: func(ctx context.Context, args StepArgs) saga.Outcome {
			return payments.Refund(ctx, args.Ref)
		},
	}
	for name, fn := range registrations {
		if err := r.Register(name, fn); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(saga.Steps()...); err != nil {
		return nil, err
	}
	return r, nil
}
