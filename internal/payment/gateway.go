package payment

// ChargeParams is what the ledger hands the gateway: an amount in
// cents, a currency, and an opaque payment method token from the web
// layer.
type ChargeParams struct {
	OrderID       string
	Amount        int64
	Currency      string
	PaymentMethod string
}

// ChargeResult reports the gateway's view of a completed charge,
// including its fee breakdown.
type ChargeResult struct {
	RemoteID       string
	Amount         int64
	ApplicationFee int64
	ProcessingFee  int64
	Confirmed      bool
}

type RefundResult struct {
	RemoteID      string
	Amount        int64
	ProcessingFee int64
}

// Gateway is the payment provider seam. Implementations translate
// provider failures into ledger.PaymentGatewayError.
type Gateway interface {
	Charge(params ChargeParams) (*ChargeResult, error)
	Refund(remoteID string, amount int64) (*RefundResult, error)
}
