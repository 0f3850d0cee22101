package payment

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-ledger/internal/ledger"
	"ms-ledger/internal/models"
)

// ProcessedStore remembers Stripe event IDs that have already been
// handled. MarkProcessed returns false when the event was seen before;
// Release drops a claim so a redelivery can be processed after a
// handler failure.
type ProcessedStore interface {
	MarkProcessed(eventID string) (bool, error)
	Release(eventID string) error
}

// WebhookError carries an HTTP status plus a client-safe message, so
// the handler can answer Stripe without leaking internals.
type WebhookError struct {
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// WebhookHandler verifies and applies incoming Stripe events against
// the ledger.
type WebhookHandler struct {
	Ledger    Ledger
	Processed ProcessedStore
	Secret    string
}

func NewWebhookHandler(l Ledger, store ProcessedStore, secret string) *WebhookHandler {
	return &WebhookHandler{
		Ledger:    l,
		Processed: store,
		Secret:    secret,
	}
}

// HandleStripeWebhook reads, verifies and dispatches one Stripe event.
// Events are deduplicated by ID, so redelivery never records twice.
func (h *WebhookHandler) HandleStripeWebhook(r *http.Request) error {
	if h.Secret == "" {
		return &WebhookError{
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return &WebhookError{
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.Secret, opts)
	if err != nil {
		return &WebhookError{
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	fresh, err := h.Processed.MarkProcessed(event.ID)
	if err != nil {
		return &WebhookError{
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: fmt.Sprintf("failed to record webhook event %s: %v", event.ID, err),
			OriginalErr:   err,
		}
	}
	if !fresh {
		// Stripe redelivered an event we already applied.
		return nil
	}

	if applyErr := h.apply(&event); applyErr != nil {
		// Give the claim back so Stripe's retry is not a no-op.
		if err := h.Processed.Release(event.ID); err != nil {
			return &WebhookError{
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Webhook processing error",
				InternalError: fmt.Sprintf("failed to release webhook event %s after %v: %v", event.ID, applyErr, err),
				OriginalErr:   applyErr,
			}
		}
		return applyErr
	}
	return nil
}

func (h *WebhookHandler) apply(event *stripe.Event) error {
	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return h.badEventData(err)
		}
		if _, err := h.Ledger.ConfirmRemote(intent.ID); err != nil {
			return &WebhookError{
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to process payment",
				InternalError: fmt.Sprintf("failed to confirm charge %s: %v", intent.ID, err),
				OriginalErr:   err,
			}
		}

	case "refund.created":
		var refund stripe.Refund
		if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
			return h.badEventData(err)
		}
		if err := h.applyRemoteRefund(&refund); err != nil {
			return &WebhookError{
				StatusCode:    http.StatusInternalServerError,
				PublicError:   "Failed to process refund",
				InternalError: fmt.Sprintf("failed to apply refund %s: %v", refund.ID, err),
				OriginalErr:   err,
			}
		}
	}

	return nil
}

// applyRemoteRefund records a refund that originated on Stripe's side,
// for example one issued from the dashboard. Refunds we pushed through
// the gateway ourselves are already in the ledger under the same
// refund ID and are skipped.
func (h *WebhookHandler) applyRemoteRefund(refund *stripe.Refund) error {
	if refund.PaymentIntent == nil {
		return fmt.Errorf("refund %s has no payment intent", refund.ID)
	}
	if _, err := h.Ledger.FindByRemoteID(refund.ID); err == nil {
		return nil
	}

	purchase, err := h.Ledger.FindByRemoteID(refund.PaymentIntent.ID)
	if err != nil {
		return fmt.Errorf("no recorded purchase for charge %s: %w", refund.PaymentIntent.ID, err)
	}

	_, err = h.Ledger.RecordTransaction(ledger.RecordParams{
		OrderID:              purchase.OrderID,
		Amount:               refund.Amount,
		Method:               purchase.Method,
		Type:                 models.TxnRefund,
		RelatedTransactionID: purchase.ID,
		RemoteID:             refund.ID,
		CreatedBy:            "stripe-webhook",
		Confirmed:            true,
	})
	return err
}

func (h *WebhookHandler) badEventData(err error) *WebhookError {
	return &WebhookError{
		StatusCode:    http.StatusBadRequest,
		PublicError:   "Invalid event data",
		InternalError: fmt.Sprintf("failed to unmarshal event object: %v", err),
		OriginalErr:   err,
	}
}
