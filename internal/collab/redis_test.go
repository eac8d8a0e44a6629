package collab

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sagaflow/internal/saga"
)

// flakyClient fails the next transactional write without executing it,
// standing in for a connection dropped before the commit.
type flakyClient struct {
	redis.Cmdable
	failNext bool
}

func (f *flakyClient) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if f.failNext {
		f.failNext = false
		return nil, errors.New("connection reset")
	}
	return f.Cmdable.TxPipelined(ctx, fn)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisInventory_ReserveAndRelease(t *testing.T) {
	client := newTestRedis(t)
	inv := NewRedisInventory(client)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}

	out := inv.Reserve(ctx, "ord-1", items("sku-1", 3), "key-1")
	if !out.OK() || out.Ref == "" {
		t.Fatalf("Reserve: %+v", out)
	}
	left, err := client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if err != nil || left != 2 {
		t.Fatalf("expected stock 2, got %d (%v)", left, err)
	}

	if rel := inv.Release(ctx, out.Ref); !rel.OK() {
		t.Fatalf("Release: %+v", rel)
	}
	left, err = client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if err != nil || left != 5 {
		t.Fatalf("expected stock restored, got %d (%v)", left, err)
	}

	// Releasing again is a no-op.
	if rel := inv.Release(ctx, out.Ref); !rel.OK() {
		t.Fatalf("second Release: %+v", rel)
	}
	left, _ = client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 5 {
		t.Fatalf("double release must not double-restore, got %d", left)
	}
}

func TestRedisInventory_ReserveIdempotentPerKey(t *testing.T) {
	client := newTestRedis(t)
	inv := NewRedisInventory(client)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}

	first := inv.Reserve(ctx, "ord-1", items("sku-1", 2), "key-1")
	second := inv.Reserve(ctx, "ord-1", items("sku-1", 2), "key-1")
	if !first.OK() || first.Ref != second.Ref {
		t.Fatalf("expected one idempotent reservation, got %+v %+v", first, second)
	}
	left, _ := client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 3 {
		t.Fatalf("expected stock taken once, got %d", left)
	}
}

func TestRedisInventory_ShortfallRollsBack(t *testing.T) {
	client := newTestRedis(t)
	inv := NewRedisInventory(client)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}
	if err := inv.SeedStock(ctx, "sku-2", 1); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}

	out := inv.Reserve(ctx, "ord-1", []saga.Item{
		{ProductID: "sku-1", Quantity: 2, Price: 10},
		{ProductID: "sku-2", Quantity: 3, Price: 10},
	}, "key-1")
	if out.Status != saga.OutcomeBusinessFailure || out.Reason != ReasonOutOfStock {
		t.Fatalf("expected out_of_stock, got %+v", out)
	}

	left, _ := client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 5 {
		t.Fatalf("expected sku-1 rolled back to 5, got %d", left)
	}
	left, _ = client.HGet(ctx, "inventory:stock", "sku-2").Int()
	if left != 1 {
		t.Fatalf("expected sku-2 rolled back to 1, got %d", left)
	}
}

func TestRedisPayments_ChargeIdempotentPerKey(t *testing.T) {
	client := newTestRedis(t)
	pay := NewRedisPayments(client)
	ctx := context.Background()

	first := pay.Charge(ctx, "cust-1", 20, "key-1")
	second := pay.Charge(ctx, "cust-1", 20, "key-1")
	if !first.OK() || first.Ref == "" || first.Ref != second.Ref {
		t.Fatalf("expected one idempotent charge, got %+v %+v", first, second)
	}
}

func TestRedisPayments_TrackedBalanceDeclines(t *testing.T) {
	client := newTestRedis(t)
	pay := NewRedisPayments(client)
	ctx := context.Background()

	if err := pay.SeedBalance(ctx, "cust-1", 15); err != nil {
		t.Fatalf("SeedBalance: %v", err)
	}

	out := pay.Charge(ctx, "cust-1", 20, "key-1")
	if out.Status != saga.OutcomeBusinessFailure || out.Reason != ReasonInsufficientFunds {
		t.Fatalf("expected insufficient_funds, got %+v", out)
	}
	balance, err := client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if err != nil || balance != 15 {
		t.Fatalf("expected balance 15, got %v (%v)", balance, err)
	}

	if out = pay.Charge(ctx, "cust-1", 10, "key-2"); !out.OK() {
		t.Fatalf("expected approval, got %+v", out)
	}
	balance, _ = client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 5 {
		t.Fatalf("expected balance 5, got %v", balance)
	}
}

func TestRedisPayments_RefundRestoresAndIsIdempotent(t *testing.T) {
	client := newTestRedis(t)
	pay := NewRedisPayments(client)
	ctx := context.Background()

	if err := pay.SeedBalance(ctx, "cust-1", 50); err != nil {
		t.Fatalf("SeedBalance: %v", err)
	}
	out := pay.Charge(ctx, "cust-1", 20, "key-1")
	if !out.OK() {
		t.Fatalf("Charge: %+v", out)
	}

	if ref := pay.Refund(ctx, out.Ref); !ref.OK() {
		t.Fatalf("Refund: %+v", ref)
	}
	balance, _ := client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 50 {
		t.Fatalf("expected balance restored, got %v", balance)
	}

	pay.Refund(ctx, out.Ref)
	balance, _ = client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 50 {
		t.Fatalf("double refund must not double-restore, got %v", balance)
	}

	if ref := pay.Refund(ctx, "pay-unknown"); !ref.OK() {
		t.Fatalf("unknown ref must be a no-op success, got %+v", ref)
	}
}

func TestRedisPayments_ChargeRestoresBalanceWhenWriteFails(t *testing.T) {
	client := &flakyClient{Cmdable: newTestRedis(t)}
	pay := NewRedisPayments(client)
	ctx := context.Background()

	if err := pay.SeedBalance(ctx, "cust-1", 100); err != nil {
		t.Fatalf("SeedBalance: %v", err)
	}

	client.failNext = true
	out := pay.Charge(ctx, "cust-1", 60, "key-1")
	if out.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error, got %+v", out)
	}
	balance, err := client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if err != nil || balance != 100 {
		t.Fatalf("failed charge must re-credit, balance %v (%v)", balance, err)
	}

	// A retry with the same key sees the full balance and charges once.
	out = pay.Charge(ctx, "cust-1", 60, "key-1")
	if !out.OK() || out.Ref == "" {
		t.Fatalf("retried charge: %+v", out)
	}
	balance, _ = client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 40 {
		t.Fatalf("expected balance 40 after retry, got %v", balance)
	}
	if again := pay.Charge(ctx, "cust-1", 60, "key-1"); again.Ref != out.Ref {
		t.Fatalf("expected the recorded charge back, got %+v", again)
	}
}

func TestRedisPayments_RefundRetriesAfterWriteFailure(t *testing.T) {
	client := &flakyClient{Cmdable: newTestRedis(t)}
	pay := NewRedisPayments(client)
	ctx := context.Background()

	if err := pay.SeedBalance(ctx, "cust-1", 100); err != nil {
		t.Fatalf("SeedBalance: %v", err)
	}
	out := pay.Charge(ctx, "cust-1", 60, "key-1")
	if !out.OK() {
		t.Fatalf("Charge: %+v", out)
	}

	client.failNext = true
	if ref := pay.Refund(ctx, out.Ref); ref.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error, got %+v", ref)
	}

	// The marker must not stick on a failed attempt: the retry restores.
	if ref := pay.Refund(ctx, out.Ref); !ref.OK() {
		t.Fatalf("retried Refund: %+v", ref)
	}
	balance, _ := client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 100 {
		t.Fatalf("expected balance restored once, got %v", balance)
	}
	pay.Refund(ctx, out.Ref)
	balance, _ = client.HGet(ctx, "payments:balance", "cust-1").Float64()
	if balance != 100 {
		t.Fatalf("third refund must not double-restore, got %v", balance)
	}
}

func TestRedisInventory_ReleaseRetriesAfterWriteFailure(t *testing.T) {
	client := &flakyClient{Cmdable: newTestRedis(t)}
	inv := NewRedisInventory(client)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}
	out := inv.Reserve(ctx, "ord-1", items("sku-1", 2), "key-1")
	if !out.OK() {
		t.Fatalf("Reserve: %+v", out)
	}

	client.failNext = true
	if rel := inv.Release(ctx, out.Ref); rel.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error, got %+v", rel)
	}
	left, _ := client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 3 {
		t.Fatalf("failed release must leave stock untouched, got %d", left)
	}

	if rel := inv.Release(ctx, out.Ref); !rel.OK() {
		t.Fatalf("retried Release: %+v", rel)
	}
	left, _ = client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 5 {
		t.Fatalf("expected stock restored once, got %d", left)
	}
	inv.Release(ctx, out.Ref)
	left, _ = client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 5 {
		t.Fatalf("third release must not double-restore, got %d", left)
	}
}

func TestRedisInventory_ReserveRollsBackWhenWriteFails(t *testing.T) {
	client := &flakyClient{Cmdable: newTestRedis(t)}
	inv := NewRedisInventory(client)
	ctx := context.Background()

	if err := inv.SeedStock(ctx, "sku-1", 5); err != nil {
		t.Fatalf("SeedStock: %v", err)
	}

	client.failNext = true
	if out := inv.Reserve(ctx, "ord-1", items("sku-1", 2), "key-1"); out.Status != saga.OutcomeSystemError {
		t.Fatalf("expected system error, got %+v", out)
	}
	left, _ := client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 5 {
		t.Fatalf("failed reserve must restore stock, got %d", left)
	}

	out := inv.Reserve(ctx, "ord-1", items("sku-1", 2), "key-1")
	if !out.OK() {
		t.Fatalf("retried Reserve: %+v", out)
	}
	left, _ = client.HGet(ctx, "inventory:stock", "sku-1").Int()
	if left != 3 {
		t.Fatalf("expected stock taken once, got %d", left)
	}
}
