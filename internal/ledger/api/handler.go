package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/ledger"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/pass"
	"ms-ledger/internal/payment"
	"ms-ledger/internal/utils"
)

type Handler struct {
	Ledger   *ledger.Service
	Payments *payment.Processor
	Webhooks *payment.WebhookHandler
	Passes   *pass.Generator
	Logger   *logger.Logger
}

func NewHandler(svc *ledger.Service, payments *payment.Processor, webhooks *payment.WebhookHandler, passes *pass.Generator) *Handler {
	return &Handler{
		Ledger:   svc,
		Payments: payments,
		Webhooks: webhooks,
		Passes:   passes,
		Logger:   logger.NewLogger(),
	}
}

// writeError maps ledger errors onto HTTP statuses: sold-out options
// conflict, bad discount codes and consistency violations are the
// client's fault, gateway declines are payment-required.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))

	var capErr *ledger.CapacityError
	var discErr *ledger.DiscountInvalidError
	var gwErr *ledger.PaymentGatewayError
	var consErr *ledger.LedgerConsistencyError
	switch {
	case errors.As(err, &capErr):
		h.writeJSON(w, http.StatusConflict, utils.ErrorResponse("Sold out", err.Error()))
	case errors.As(err, &discErr):
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid discount", err.Error()))
	case errors.As(err, &gwErr):
		h.writeJSON(w, http.StatusPaymentRequired, utils.ErrorResponse("Payment failed", err.Error()))
	case errors.As(err, &consErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, utils.ErrorResponse("Invalid transaction", err.Error()))
	default:
		h.writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Internal error", err.Error()))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

// ---------------- ORDERS ----------------

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string `json:"event_id"`
		Email   string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.EventID == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}
	email := req.Email
	if email == "" {
		email = auth.Email(r.Context())
	}

	order, err := h.Ledger.CreateOrder(req.EventID, auth.UserID(r.Context()), email)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	order, err := h.Ledger.GetOrder(orderID)
	if err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// LookupOrder resolves an order from its per-event code, for staff
// checking buyers in at the door.
func (h *Handler) LookupOrder(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	code := chi.URLParam(r, "code")

	order, err := h.Ledger.LookupOrder(eventID, code)
	if err != nil {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) GetOrderItems(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	items, err := h.Ledger.GetOrderItems(orderID)
	if err != nil {
		h.writeError(w, "GetOrderItems", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetOrderSummary(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	summary, err := h.Ledger.Summary(orderID)
	if err != nil {
		h.writeError(w, "GetOrderSummary", err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetOrderTransactions(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	txns, err := h.Ledger.ListTransactions(orderID)
	if err != nil {
		h.writeError(w, "GetOrderTransactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txns)
}

// ---------------- CART ----------------

func (h *Handler) ReserveItem(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req struct {
		ItemOptionID string `json:"item_option_id"`
		AttendeeID   string `json:"attendee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ItemOptionID == "" {
		http.Error(w, "item_option_id is required", http.StatusBadRequest)
		return
	}

	item, err := h.Ledger.ReserveItem(orderID, req.ItemOptionID, req.AttendeeID)
	if err != nil {
		h.writeError(w, "ReserveItem", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")
	if err := h.Ledger.RemoveFromCart(itemID); err != nil {
		h.writeError(w, "RemoveItem", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	ids, err := h.Ledger.CheckoutCart(orderID)
	if err != nil {
		h.writeError(w, "CheckoutCart", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"item_ids": ids})
}

// ---------------- DISCOUNTS ----------------

func (h *Handler) EnterDiscount(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	if err := h.Ledger.EnterDiscount(orderID, req.Code); err != nil {
		h.writeError(w, "EnterDiscount", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Discount applied", nil))
}

func (h *Handler) ApplyItemDiscount(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := h.Ledger.ApplyDiscount(itemID, req.Code)
	if err != nil {
		h.writeError(w, "ApplyItemDiscount", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, snapshot)
}

// ---------------- PAYMENT ----------------

func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req struct {
		PaymentMethod string `json:"payment_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PaymentMethod == "" {
		http.Error(w, "payment_method is required", http.StatusBadRequest)
		return
	}

	txn, err := h.Payments.Pay(orderID, req.PaymentMethod, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "PayOrder", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// RecordTransaction is the staff entry point for cash, check and other
// off-gateway money movements.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	var req struct {
		Amount               int64    `json:"amount"`
		Method               string   `json:"method"`
		Type                 string   `json:"type"`
		ItemIDs              []string `json:"item_ids"`
		RelatedTransactionID string   `json:"related_transaction_id"`
		Confirmed            bool     `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	txn, err := h.Ledger.RecordTransaction(ledger.RecordParams{
		OrderID:              orderID,
		Amount:               req.Amount,
		Method:               models.Method(req.Method),
		Type:                 models.TransactionType(req.Type),
		ItemIDs:              req.ItemIDs,
		RelatedTransactionID: req.RelatedTransactionID,
		CreatedBy:            auth.UserID(r.Context()),
		Confirmed:            req.Confirmed,
	})
	if err != nil {
		h.writeError(w, "RecordTransaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// RefundTransaction refunds a recorded purchase. Stripe purchases go
// back through the gateway; cash and check purchases are recorded
// directly.
func (h *Handler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")

	var req struct {
		Amount  int64    `json:"amount"`
		ItemIDs []string `json:"item_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	purchase, err := h.Ledger.GetTransaction(txnID)
	if err != nil {
		http.Error(w, "Transaction not found", http.StatusNotFound)
		return
	}

	var txn *models.Transaction
	if purchase.Method == models.MethodStripe && purchase.RemoteID != "" {
		txn, err = h.Payments.RefundRemote(purchase.RemoteID, req.Amount, req.ItemIDs, auth.UserID(r.Context()))
	} else {
		txn, err = h.Ledger.RecordTransaction(ledger.RecordParams{
			OrderID:              purchase.OrderID,
			Amount:               req.Amount,
			Method:               purchase.Method,
			Type:                 models.TxnRefund,
			ItemIDs:              req.ItemIDs,
			RelatedTransactionID: purchase.ID,
			CreatedBy:            auth.UserID(r.Context()),
			Confirmed:            true,
		})
	}
	if err != nil {
		h.writeError(w, "RefundTransaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

func (h *Handler) TransferItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	var req struct {
		DestinationOrderID string `json:"destination_order_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DestinationOrderID == "" {
		http.Error(w, "destination_order_id is required", http.StatusBadRequest)
		return
	}

	clone, err := h.Ledger.TransferItem(itemID, req.DestinationOrderID, auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "TransferItem", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, clone)
}

// ---------------- ATTENDEES ----------------

func (h *Handler) AddAttendee(w http.ResponseWriter, r *http.Request) {
	var attendee models.Attendee
	if err := json.NewDecoder(r.Body).Decode(&attendee); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.Ledger.AddAttendee(attendee)
	if err != nil {
		h.writeError(w, "AddAttendee", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) AssignAttendee(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	var req struct {
		AttendeeID string `json:"attendee_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Ledger.AssignItem(itemID, req.AttendeeID); err != nil {
		h.writeError(w, "AssignAttendee", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- PASSES ----------------

// GetItemPass renders the encrypted check-in QR code for a bought item.
func (h *Handler) GetItemPass(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemId")

	item, err := h.Ledger.GetItem(itemID)
	if err != nil {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	order, err := h.Ledger.GetOrder(item.OrderID)
	if err != nil {
		h.writeError(w, "GetItemPass", err)
		return
	}

	var attendeeName string
	if item.AttendeeID != "" {
		if attendee, err := h.Ledger.GetAttendee(item.AttendeeID); err == nil {
			attendeeName = attendee.DisplayName()
		}
	}

	png, err := h.Passes.GeneratePass(*item, *order, attendeeName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetItemPass: failed to write image: %v", err))
	}
}

// ---------------- WEBHOOKS ----------------

func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.Webhooks.HandleStripeWebhook(r); err != nil {
		var whErr *payment.WebhookError
		if errors.As(err, &whErr) {
			http.Error(w, whErr.PublicError, whErr.StatusCode)
			return
		}
		http.Error(w, "Webhook processing error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
