package saga

// Step names shared between the orchestrator's audit trail and the
// dispatch registry. Keeping them in one place avoids the registry and
// the orchestrator importing each other.
const (
	StepOrderNewID       = "order.new_id"
	StepOrderSave        = "order.save"
	StepInventoryReserve = "inventory.reserve"
	StepInventoryRelease = "inventory.release"
	StepPaymentCharge    = "payment.charge"
	StepPaymentRefund    = "payment.refund"
	StepCancelSignal     = "signal.cancel"
)

// Steps lists every step name a saga run can dispatch. The registry is
// validated against this list at process start.
func Steps() []string {
	return []string{
		StepOrderNewID,
		StepOrderSave,
		StepInventoryReserve,
		StepInventoryRelease,
		StepPaymentCharge,
		StepPaymentRefund,
	}
}
