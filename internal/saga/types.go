package saga

import (
	"errors"
	"fmt"
)

// Phase is the current position of a saga run in its state machine.
type Phase string

const (
	PhaseStarted               Phase = "started"
	PhaseReservingInventory    Phase = "reserving_inventory"
	PhaseInventoryReserved     Phase = "inventory_reserved"
	PhaseChargingPayment       Phase = "charging_payment"
	PhaseCompensatingInventory Phase = "compensating_inventory"
	PhaseCompleted             Phase = "completed"
	PhaseFailed                Phase = "failed"
	PhaseCancelling            Phase = "cancelling"
	PhaseCancelled             Phase = "cancelled"
)

// Terminal reports whether a saga in this phase has finished.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

var (
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrCustomerRequired       = errors.New("customer id is required")
	ErrNoItems                = errors.New("order must contain at least one item")
	ErrIdempotencyConflict    = errors.New("idempotency key reused with different payload")
)

// Item is a single order line.
type Item struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// SagaRequest is the immutable input to a saga run. OrderID may be empty,
// in which case the order store generates one before any effectful call.
type SagaRequest struct {
	OrderID        string  `json:"order_id,omitempty"`
	CustomerID     string  `json:"customer_id"`
	Items          []Item  `json:"items"`
	Amount         float64 `json:"amount"`
	IdempotencyKey string  `json:"idempotency_key"`
}

// Validate rejects malformed requests before a saga instance is created.
func (r SagaRequest) Validate() error {
	if r.IdempotencyKey == "" {
		return ErrIdempotencyKeyRequired
	}
	if r.CustomerID == "" {
		return ErrCustomerRequired
	}
	if len(r.Items) == 0 {
		return ErrNoItems
	}
	for _, item := range r.Items {
		if item.ProductID == "" {
			return fmt.Errorf("item product id is required")
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %s: quantity must be positive", item.ProductID)
		}
		if item.Price <= 0 {
			return fmt.Errorf("item %s: price must be positive", item.ProductID)
		}
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// OutcomeStatus is the tri-state result kind of a capability call.
type OutcomeStatus string

const (
	OutcomeSuccess         OutcomeStatus = "success"
	OutcomeBusinessFailure OutcomeStatus = "business_failure"
	OutcomeSystemError     OutcomeStatus = "system_error"
)

// Outcome is the result of a forward or compensating step. Business
// failures are expected and drive compensation; system errors are retried
// by the durable bridge before the orchestrator ever sees them.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Ref    string        `json:"ref,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Cause  string        `json:"cause,omitempty"`
}

// Success builds a successful Outcome carrying a reference.
func Success(ref string) Outcome {
	return Outcome{Status: OutcomeSuccess, Ref: ref}
}

// Failure builds an expected business-failure Outcome.
func Failure(reason string) Outcome {
	return Outcome{Status: OutcomeBusinessFailure, Reason: reason}
}

// SystemError builds an unexpected-fault Outcome.
func SystemError(cause string) Outcome {
	return Outcome{Status: OutcomeSystemError, Cause: cause}
}

// SystemErrorFrom wraps a Go error as a SystemError Outcome.
func SystemErrorFrom(err error) Outcome {
	if err == nil {
		return SystemError("unknown error")
	}
	return SystemError(err.Error())
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Status == OutcomeSuccess }

// FailureReason returns the human-readable reason for a non-success outcome.
func (o Outcome) FailureReason() string {
	switch o.Status {
	case OutcomeBusinessFailure:
		return o.Reason
	case OutcomeSystemError:
		return o.Cause
	}
	return ""
}

// CompensationStatus distinguishes compensations that took effect from
// those that exhausted their retries and need operator follow-up.
type CompensationStatus string

const (
	CompensationApplied   CompensationStatus = "applied"
	CompensationAttempted CompensationStatus = "attempted"
)

// CompensationRecord is one compensation step executed (or attempted)
// during a saga run, kept in order for idempotent replay.
type CompensationRecord struct {
	Step   string             `json:"step"`
	Ref    string             `json:"ref"`
	Status CompensationStatus `json:"status"`
	Detail string             `json:"detail,omitempty"`
}

// SagaState is owned exclusively by the orchestrator for one saga run.
// The durable substrate persists it across suspension points.
type SagaState struct {
	SagaID               string               `json:"saga_id"`
	OrderID              string               `json:"order_id"`
	CustomerID           string               `json:"customer_id"`
	Amount               float64              `json:"amount"`
	Phase                Phase                `json:"phase"`
	ReservationRef       string               `json:"reservation_ref,omitempty"`
	PaymentRef           string               `json:"payment_ref,omitempty"`
	FailureReason        string               `json:"failure_reason,omitempty"`
	CompensationsApplied []CompensationRecord `json:"compensations_applied,omitempty"`
}
