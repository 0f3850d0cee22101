package payment

import (
	"fmt"

	"ms-ledger/internal/ledger"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

// Ledger is the slice of the ledger service the payment processor needs.
type Ledger interface {
	CheckoutCart(orderID string) ([]string, error)
	AmountDue(orderID string) (int64, []string, error)
	OrderCurrency(orderID string) (string, error)
	RecordTransaction(params ledger.RecordParams) (*models.Transaction, error)
	ConfirmRemote(remoteID string) (*models.Transaction, error)
	FindByRemoteID(remoteID string) (*models.Transaction, error)
}

// Processor runs the checkout-charge-record sequence for an order. The
// charge happens outside the ledger's storage transaction, so a charge
// that succeeds but fails to record is surfaced loudly rather than
// rolled back remotely.
type Processor struct {
	Ledger  Ledger
	Gateway Gateway
	log     *logger.Logger
}

func NewProcessor(l Ledger, g Gateway) *Processor {
	return &Processor{
		Ledger:  l,
		Gateway: g,
		log:     logger.NewLogger(),
	}
}

// Pay checks the order's cart out, charges the full outstanding balance
// through the gateway, and records the purchase against every open item
// in the order.
func (p *Processor) Pay(orderID, paymentMethod, createdBy string) (*models.Transaction, error) {
	if p.Gateway == nil {
		return nil, &ledger.PaymentGatewayError{Method: "stripe", Err: fmt.Errorf("no payment gateway configured")}
	}
	if _, err := p.Ledger.CheckoutCart(orderID); err != nil {
		return nil, err
	}

	due, itemIDs, err := p.Ledger.AmountDue(orderID)
	if err != nil {
		return nil, err
	}
	if due <= 0 || len(itemIDs) == 0 {
		return nil, &ledger.LedgerConsistencyError{Op: "pay", Detail: fmt.Sprintf("order %s has nothing outstanding", orderID)}
	}

	currency, err := p.Ledger.OrderCurrency(orderID)
	if err != nil {
		return nil, err
	}

	charge, err := p.Gateway.Charge(ChargeParams{
		OrderID:       orderID,
		Amount:        due,
		Currency:      currency,
		PaymentMethod: paymentMethod,
	})
	if err != nil {
		return nil, err
	}

	txn, err := p.Ledger.RecordTransaction(ledger.RecordParams{
		OrderID:        orderID,
		Amount:         charge.Amount,
		Method:         models.MethodStripe,
		Type:           models.TxnPurchase,
		ItemIDs:        itemIDs,
		RemoteID:       charge.RemoteID,
		ApplicationFee: charge.ApplicationFee,
		ProcessingFee:  charge.ProcessingFee,
		CreatedBy:      createdBy,
		Confirmed:      charge.Confirmed,
	})
	if err != nil {
		// Money moved but the ledger did not. This needs an operator.
		p.log.Error("PAYMENT", fmt.Sprintf("charge %s succeeded but recording failed for order %s: %v", charge.RemoteID, orderID, err))
		return nil, &ledger.LedgerConsistencyError{Op: "pay", Detail: fmt.Sprintf("charge %s taken but not recorded: %v", charge.RemoteID, err)}
	}

	p.log.Info("PAYMENT", fmt.Sprintf("order %s paid %d %s via stripe (txn %s)", orderID, charge.Amount, currency, txn.ID))
	return txn, nil
}

// RefundRemote pushes a refund of a recorded purchase back through the
// gateway, then records the refund transaction against the same items.
func (p *Processor) RefundRemote(remoteID string, amount int64, itemIDs []string, createdBy string) (*models.Transaction, error) {
	if p.Gateway == nil {
		return nil, &ledger.PaymentGatewayError{Method: "stripe", Err: fmt.Errorf("no payment gateway configured")}
	}
	purchase, err := p.Ledger.FindByRemoteID(remoteID)
	if err != nil {
		return nil, err
	}
	if purchase.RemoteID == "" {
		return nil, &ledger.LedgerConsistencyError{Op: "refund", Detail: fmt.Sprintf("transaction %s has no remote charge to refund", purchase.ID)}
	}

	refund, err := p.Gateway.Refund(purchase.RemoteID, amount)
	if err != nil {
		return nil, err
	}

	txn, err := p.Ledger.RecordTransaction(ledger.RecordParams{
		OrderID:              purchase.OrderID,
		Amount:               refund.Amount,
		Method:               purchase.Method,
		Type:                 models.TxnRefund,
		ItemIDs:              itemIDs,
		RelatedTransactionID: purchase.ID,
		RemoteID:             refund.RemoteID,
		ProcessingFee:        refund.ProcessingFee,
		CreatedBy:            createdBy,
		Confirmed:            true,
	})
	if err != nil {
		p.log.Error("PAYMENT", fmt.Sprintf("refund %s succeeded but recording failed: %v", refund.RemoteID, err))
		return nil, &ledger.LedgerConsistencyError{Op: "refund", Detail: fmt.Sprintf("refund %s issued but not recorded: %v", refund.RemoteID, err)}
	}
	return txn, nil
}
