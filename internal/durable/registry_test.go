package durable

import (
	"context"
	"testing"

	"sagaflow/internal/collab"
	"sagaflow/internal/saga"
)

func okStep(ctx context.Context, args StepArgs) saga.Outcome {
	return saga.Success("")
}

func TestRegistry_RegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", okStep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("b", okStep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate("a", "b"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := r.lookup("a"); !ok {
		t.Fatal("expected step a to resolve")
	}
}

func TestRegistry_RejectsDuplicateAndNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", okStep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("a", okStep); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Register("b", nil); err == nil {
		t.Fatal("expected nil implementation error")
	}
	if err := r.Register("", okStep); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestRegistry_ValidateReportsMissing(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", okStep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Validate("a", "b", "c")
	if err == nil {
		t.Fatal("expected missing steps error")
	}
}

func TestRegistry_SealedAfterValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("a", okStep); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Validate("a"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := r.Register("late", okStep); err == nil {
		t.Fatal("expected sealed registry to reject registration")
	}
}

func TestBuildRegistry_WiresAllSteps(t *testing.T) {
	inventory := collab.NewInMemoryInventory(map[string]int{"sku-1": 5})
	payments := collab.NewInMemoryPayments(nil)
	orders := collab.NewInMemoryOrderStore()

	r, err := BuildRegistry(inventory, payments, orders)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	for _, name := range saga.Steps() {
		if _, ok := r.lookup(name); !ok {
			t.Fatalf("step %q not wired", name)
		}
	}

	out := mustLookup(t, r, saga.StepInventoryReserve)(context.Background(), StepArgs{
		OrderID:        "ord-1",
		Items:          []saga.Item{{ProductID: "sku-1", Quantity: 2, Price: 10}},
		IdempotencyKey: "key-1",
	})
	if !out.OK() {
		t.Fatalf("expected reserve success, got %+v", out)
	}
	if inventory.Stock("sku-1") != 3 {
		t.Fatalf("expected stock decremented, got %d", inventory.Stock("sku-1"))
	}
}

func TestBuildRegistry_RequiresCollaborators(t *testing.T) {
	if _, err := BuildRegistry(nil, collab.NewInMemoryPayments(nil), collab.NewInMemoryOrderStore()); err == nil {
		t.Fatal("expected error for nil inventory")
	}
}

func TestBuildRegistry_SaveWithoutState(t *testing.T) {
	r, err := BuildRegistry(collab.NewInMemoryInventory(nil), collab.NewInMemoryPayments(nil), collab.NewInMemoryOrderStore())
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}
	out := mustLookup(t, r, saga.StepOrderSave)(context.Background(), StepArgs{})
	if out.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error for missing state, got %+v", out)
	}
}

func mustLookup(t *testing.T, r *Registry, name string) StepFunc {
	t.Helper()
	fn, ok := r.lookup(name)
	if !ok {
		t.Fatalf("step %q not registered", name)
	}
	return fn
}
