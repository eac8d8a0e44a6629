package collab

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"sagaflow/internal/saga"
)

// ReasonOutOfStock is returned when a reservation cannot be covered.
const ReasonOutOfStock = "out_of_stock"

// ReasonInsufficientFunds is returned when a tracked balance cannot
// cover a charge.
const ReasonInsufficientFunds = "insufficient_funds"

type reservation struct {
	orderID string
	items   []saga.Item
}

// InMemoryInventory tracks stock and reservations in memory. Reserve is
// idempotent per key; Release restores stock and is a no-op for unknown
// or already-released refs.
type InMemoryInventory struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string]reservation
	byKey        map[string]string
	released     map[string]bool
	newRef       func() string
}

// NewInMemoryInventory constructs an inventory seeded with the given
// stock counts.
func NewInMemoryInventory(stock map[string]int) *InMemoryInventory {
	copied := make(map[string]int, len(stock))
	for product, qty := range stock {
		copied[product] = qty
	}
	return &InMemoryInventory{
		stock:        copied,
		reservations: make(map[string]reservation),
		byKey:        make(map[string]string),
		released:     make(map[string]bool),
		newRef:       func() string { return "res-" + uuid.NewString() },
	}
}

func (c *InMemoryInventory) Reserve(ctx context.Context, orderID string, items []saga.Item, idempotencyKey string) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref, ok := c.byKey[idempotencyKey]; ok {
		return saga.Success(ref)
	}

	for _, item := range items {
		if c.stock[item.ProductID] < item.Quantity {
			return saga.Failure(ReasonOutOfStock)
		}
	}
	for _, item := range items {
		c.stock[item.ProductID] -= item.Quantity
	}

	ref := c.newRef()
	c.reservations[ref] = reservation{orderID: orderID, items: items}
	c.byKey[idempotencyKey] = ref
	return saga.Success(ref)
}

func (c *InMemoryInventory) Release(ctx context.Context, reservationRef string) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resv, ok := c.reservations[reservationRef]
	if !ok || c.released[reservationRef] {
		// Nothing to undo.
		return saga.Success("")
	}
	for _, item := range resv.items {
		c.stock[item.ProductID] += item.Quantity
	}
	c.released[reservationRef] = true
	return saga.Success("")
}

// Stock returns the unreserved quantity for a product (for inspection).
func (c *InMemoryInventory) Stock(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stock[productID]
}

// Held reports whether the reservation exists and is still held.
func (c *InMemoryInventory) Held(reservationRef string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.reservations[reservationRef]
	return ok && !c.released[reservationRef]
}

// ReservationCount returns the number of reservations ever made.
func (c *InMemoryInventory) ReservationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reservations)
}

type charge struct {
	customerID string
	amount     float64
}

// InMemoryPayments tracks charges and refunds in memory. At most one
// charge takes effect per idempotency key; Refund is a no-op for unknown
// or already-refunded refs. Customers with a tracked balance are declined
// when the balance cannot cover the amount.
type InMemoryPayments struct {
	mu       sync.Mutex
	charges  map[string]charge
	byKey    map[string]string
	refunded map[string]bool
	balances map[string]float64
	newRef   func() string
}

// NewInMemoryPayments constructs an in-memory payment processor.
// Balances may be nil, in which case every charge is approved.
func NewInMemoryPayments(balances map[string]float64) *InMemoryPayments {
	copied := make(map[string]float64, len(balances))
	for customer, balance := range balances {
		copied[customer] = balance
	}
	return &InMemoryPayments{
		charges:  make(map[string]charge),
		byKey:    make(map[string]string),
		refunded: make(map[string]bool),
		balances: copied,
		newRef:   func() string { return "pay-" + uuid.NewString() },
	}
}

func (c *InMemoryPayments) Charge(ctx context.Context, customerID string, amount float64, idempotencyKey string) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ref, ok := c.byKey[idempotencyKey]; ok {
		return saga.Success(ref)
	}

	if balance, tracked := c.balances[customerID]; tracked {
		if balance < amount {
			return saga.Failure(ReasonInsufficientFunds)
		}
		c.balances[customerID] = balance - amount
	}

	ref := c.newRef()
	c.charges[ref] = charge{customerID: customerID, amount: amount}
	c.byKey[idempotencyKey] = ref
	return saga.Success(ref)
}

func (c *InMemoryPayments) Refund(ctx context.Context, paymentRef string) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	chg, ok := c.charges[paymentRef]
	if !ok || c.refunded[paymentRef] {
		// Nothing to undo.
		return saga.Success("")
	}
	if _, tracked := c.balances[chg.customerID]; tracked {
		c.balances[chg.customerID] += chg.amount
	}
	c.refunded[paymentRef] = true
	return saga.Success("")
}

// ChargeCount returns the number of charges that took effect.
func (c *InMemoryPayments) ChargeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.charges)
}

// WasRefunded reports whether a payment was refunded.
func (c *InMemoryPayments) WasRefunded(paymentRef string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refunded[paymentRef]
}

// Balance returns a customer's tracked balance.
func (c *InMemoryPayments) Balance(customerID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[customerID]
}

// InMemoryOrderStore keeps saga states in memory and generates order ids.
type InMemoryOrderStore struct {
	mu     sync.Mutex
	states map[string]saga.SagaState
	newID  func() string
}

// NewInMemoryOrderStore constructs an in-memory order store.
func NewInMemoryOrderStore() *InMemoryOrderStore {
	return &InMemoryOrderStore{
		states: make(map[string]saga.SagaState),
		newID:  func() string { return "ord-" + uuid.NewString() },
	}
}

func (s *InMemoryOrderStore) NewOrderID(ctx context.Context) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}
	return saga.Success(s.newID())
}

func (s *InMemoryOrderStore) SaveState(ctx context.Context, state saga.SagaState) saga.Outcome {
	if err := ctx.Err(); err != nil {
		return saga.SystemErrorFrom(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.OrderID] = state
	return saga.Success(state.OrderID)
}

// Get returns the stored state for an order, if any.
func (s *InMemoryOrderStore) Get(orderID string) (saga.SagaState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[orderID]
	return state, ok
}
