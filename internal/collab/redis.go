package collab

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sagaflow/internal/saga"
)

const (
	redisStockKey     = "inventory:stock"
	redisResvKeyPref  = "inventory:resv:"
	redisResvItemPref = "inventory:ref:"
	redisChargePref   = "payments:charge:"
	redisPayRefPref   = "payments:ref:"
	redisRefundPref   = "payments:refund:"
	redisBalanceKey   = "payments:balance"
)

// RedisInventory backs an InventoryReservoir with Redis. Stock lives in
// one hash; each reservation keeps its item list under its own key so
// Release can restore the exact quantities. Idempotency keys map to the
// reservation ref they produced.
type RedisInventory struct {
	client redis.Cmdable
	newRef func() string
}

// NewRedisInventory constructs a Redis-backed inventory reservoir.
func NewRedisInventory(client redis.Cmdable) *RedisInventory {
	return &RedisInventory{
		client: client,
		newRef: func() string { return "res-" + uuid.NewString() },
	}
}

// SeedStock sets the available quantity for a product.
func (r *RedisInventory) SeedStock(ctx context.Context, productID string, qty int) error {
	return r.client.HSet(ctx, redisStockKey, productID, qty).Err()
}

func (r *RedisInventory) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	existing, err := r.client.Get(ctx, redisResvKeyPref+idempotencyKey).Result()
	if err == nil {
		return saga.Success(existing)
	}
	if !errors.Is(err, redis.Nil) {
		return saga.SystemErrorFrom(err)
	}

	taken := make([]saga.Item, 0, len(items))
	rollback := func() {
		for _, item := range taken {
			r.client.HIncrBy(ctx, redisStockKey, item.ProductID, int64(item.Quantity))
		}
	}
	for _, item := range items {
		left, err := r.client.HIncrBy(ctx, redisStockKey, item.ProductID, -int64(item.Quantity)).Result()
		if err != nil {
			rollback()
			return saga.SystemErrorFrom(err)
		}
		taken = append(taken, item)
		if left < 0 {
			rollback()
			return saga.Failure(ReasonOutOfStock)
		}
	}

	ref := r.newRef()
	data, err := json.Marshal(items)
	if err != nil {
		rollback()
		return saga.SystemErrorFrom(err)
	}
	// The item record and the idempotency mapping land together or not
	// at all, so a failed write leaves no orphan reservation behind.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisResvItemPref+ref, data, 0)
		pipe.Set(ctx, redisResvKeyPref+idempotencyKey, ref, 0)
		return nil
	})
	if err != nil {
		rollback()
		return saga.SystemErrorFrom(err)
	}
	return saga.Success(ref)
}

func (r *RedisInventory) Release(ctx context.Context, reservationRef string) saga.Outcome {
	if reservationRef == "" {
		return saga.Success("")
	}
	data, err := r.client.Get(ctx, redisResvItemPref+reservationRef).Result()
	if errors.Is(err, redis.Nil) {
		// Unknown or already released.
		return saga.Success("")
	}
	if err != nil {
		return saga.SystemErrorFrom(err)
	}

	var items []saga.Item
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return saga.SystemErrorFrom(err)
	}
	// Stock restore and record removal commit together: a failed attempt
	// keeps the record so a retry restores, a finished one is a no-op.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.HIncrBy(ctx, redisStockKey, item.ProductID, int64(item.Quantity))
		}
		pipe.Del(ctx, redisResvItemPref+reservationRef)
		return nil
	})
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	return saga.Success("")
}

type redisCharge struct {
	CustomerID string  `json:"customer_id"`
	Amount     float64 `json:"amount"`
}

// RedisPayments backs a PaymentProcessor with Redis. The charge ledger is
// idempotency-keyed; tracked balances decline charges they cannot cover.
type RedisPayments struct {
	client redis.Cmdable
	newRef func() string
}

// NewRedisPayments constructs a Redis-backed payment processor.
func NewRedisPayments(client redis.Cmdable) *RedisPayments {
	return &RedisPayments{
		client: client,
		newRef: func() string { return "pay-" + uuid.NewString() },
	}
}

// SeedBalance sets a customer's tracked balance.
func (r *RedisPayments) SeedBalance(ctx context.Context, customerID string, balance float64) error {
	return r.client.HSet(ctx, redisBalanceKey, customerID, balance).Err()
}

func (r *RedisPayments) Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) saga.Outcome {
	existing, err := r.client.Get(ctx, redisChargePref+idempotencyKey).Result()
	if err == nil {
		return saga.Success(existing)
	}
	if !errors.Is(err, redis.Nil) {
		return saga.SystemErrorFrom(err)
	}

	tracked, err := r.client.HExists(ctx, redisBalanceKey, customerID).Result()
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	debited := false
	rollback := func() {
		if debited {
			r.client.HIncrByFloat(ctx, redisBalanceKey, customerID, amount)
		}
	}
	if tracked {
		left, err := r.client.HIncrByFloat(ctx, redisBalanceKey, customerID, -amount).Result()
		if err != nil {
			return saga.SystemErrorFrom(err)
		}
		debited = true
		if left < 0 {
			rollback()
			return saga.Failure(ReasonInsufficientFunds)
		}
	}

	// Every exit after the debit either records the charge or re-credits
	// it, so a retry with the same key never debits twice.
	ref := r.newRef()
	data, err := json.Marshal(redisCharge{CustomerID: customerID, Amount: amount})
	if err != nil {
		rollback()
		return saga.SystemErrorFrom(err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisPayRefPref+ref, data, 0)
		pipe.Set(ctx, redisChargePref+idempotencyKey, ref, 0)
		return nil
	})
	if err != nil {
		rollback()
		return saga.SystemErrorFrom(err)
	}
	return saga.Success(ref)
}

func (r *RedisPayments) Refund(ctx context.Context, paymentRef string) saga.Outcome {
	if paymentRef == "" {
		return saga.Success("")
	}
	if _, err := r.client.Get(ctx, redisRefundPref+paymentRef).Result(); err == nil {
		// Already refunded.
		return saga.Success("")
	} else if !errors.Is(err, redis.Nil) {
		return saga.SystemErrorFrom(err)
	}

	data, err := r.client.Get(ctx, redisPayRefPref+paymentRef).Result()
	if errors.Is(err, redis.Nil) {
		// Unknown payment.
		return saga.Success("")
	}
	if err != nil {
		return saga.SystemErrorFrom(err)
	}

	var chg redisCharge
	if err := json.Unmarshal([]byte(data), &chg); err != nil {
		return saga.SystemErrorFrom(err)
	}
	tracked, err := r.client.HExists(ctx, redisBalanceKey, chg.CustomerID).Result()
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	// Marker and balance restore commit together: a failed attempt leaves
	// the marker unset so a retry still restores the money.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisRefundPref+paymentRef, 1, 0)
		if tracked {
			pipe.HIncrByFloat(ctx, redisBalanceKey, chg.CustomerID, chg.Amount)
		}
		return nil
	})
	if err != nil {
		return saga.SystemErrorFrom(err)
	}
	return saga.Success("")
}
