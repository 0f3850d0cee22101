package payment

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"ms-ledger/internal/ledger"
	"ms-ledger/internal/logger"
)

// StripeGateway drives charges and refunds through Stripe payment
// intents, pulling the fee breakdown off the balance transaction so the
// ledger can store it alongside the amount.
type StripeGateway struct {
	sc  *client.API
	log *logger.Logger
}

func NewStripeGateway(secretKey string, log *logger.Logger) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	return &StripeGateway{
		sc:  client.New(secretKey, nil),
		log: log,
	}, nil
}

func (g *StripeGateway) Charge(params ChargeParams) (*ChargeResult, error) {
	piParams := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(params.Amount),
		Currency:      stripe.String(params.Currency),
		PaymentMethod: stripe.String(params.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	piParams.AddMetadata("order_id", params.OrderID)
	piParams.AddExpand("latest_charge.balance_transaction")

	intent, err := g.sc.PaymentIntents.New(piParams)
	if err != nil {
		g.log.Error("PAYMENT", fmt.Sprintf("stripe charge for order %s failed: %v", params.OrderID, err))
		return nil, &ledger.PaymentGatewayError{Method: "stripe", Err: err}
	}

	result := &ChargeResult{
		RemoteID:  intent.ID,
		Amount:    intent.Amount,
		Confirmed: intent.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if intent.LatestCharge != nil && intent.LatestCharge.BalanceTransaction != nil {
		for _, fee := range intent.LatestCharge.BalanceTransaction.FeeDetails {
			switch fee.Type {
			case "application_fee":
				result.ApplicationFee = fee.Amount
			case "stripe_fee":
				result.ProcessingFee = fee.Amount
			}
		}
	}

	g.log.Info("PAYMENT", fmt.Sprintf("charged %d for order %s (intent %s)", intent.Amount, params.OrderID, intent.ID))
	return result, nil
}

func (g *StripeGateway) Refund(remoteID string, amount int64) (*RefundResult, error) {
	refundParams := &stripe.RefundParams{
		PaymentIntent: stripe.String(remoteID),
		Amount:        stripe.Int64(amount),
	}
	refundParams.AddExpand("balance_transaction")

	refund, err := g.sc.Refunds.New(refundParams)
	if err != nil {
		g.log.Error("PAYMENT", fmt.Sprintf("stripe refund on %s failed: %v", remoteID, err))
		return nil, &ledger.PaymentGatewayError{Method: "stripe", Err: err}
	}

	result := &RefundResult{
		RemoteID: refund.ID,
		Amount:   refund.Amount,
	}
	if refund.BalanceTransaction != nil {
		for _, fee := range refund.BalanceTransaction.FeeDetails {
			if fee.Type == "stripe_fee" {
				result.ProcessingFee = fee.Amount
			}
		}
	}
	return result, nil
}
