package ledger

import "fmt"

// CapacityError is returned when reserving an item option whose stock
// is exhausted. Recoverable: the caller re-presents the cart.
type CapacityError struct {
	ItemOptionID string
	Total        int
	Taken        int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("item option %s is sold out (%d of %d taken)", e.ItemOptionID, e.Taken, e.Total)
}

// DiscountInvalidError is returned when a discount code cannot be
// applied: expired, exhausted, wrong event, or not eligible for any
// item in the cart. Recoverable.
type DiscountInvalidError struct {
	Code   string
	Reason string
}

func (e *DiscountInvalidError) Error() string {
	return fmt.Sprintf("discount %q cannot be applied: %s", e.Code, e.Reason)
}

// PaymentGatewayError wraps a failure reported by the payment gateway
// (declined card, network error). The user may retry.
type PaymentGatewayError struct {
	Method string
	Err    error
}

func (e *PaymentGatewayError) Error() string {
	return fmt.Sprintf("%s gateway error: %v", e.Method, e.Err)
}

func (e *PaymentGatewayError) Unwrap() error { return e.Err }

// LedgerConsistencyError means a requested transaction would break the
// amount-owed invariant. It indicates a bug in the caller, is never
// user-recoverable, and must be logged for operator investigation.
type LedgerConsistencyError struct {
	Op     string
	Detail string
}

func (e *LedgerConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation in %s: %s", e.Op, e.Detail)
}
