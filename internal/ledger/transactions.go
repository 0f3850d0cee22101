package ledger

import (
	"fmt"
	"ms-ledger/internal/models"

	"github.com/google/uuid"
)

// RecordParams describes one ledger append. Amount is always positive;
// refunds are negated on the stored row.
type RecordParams struct {
	OrderID              string
	Amount               int64
	Method               models.Method
	Type                 models.TransactionType
	ItemIDs              []string
	RelatedTransactionID string
	RemoteID             string
	ApplicationFee       int64
	ProcessingFee        int64
	CreatedBy            string
	Confirmed            bool
}

// RecordTransaction appends an immutable ledger row and moves the
// covered items in the same unit of work.
//
// Purchases advance reserved/unpaid items to bought once cumulative
// payments minus refunds cover the net (post-discount) price. Refunds
// must point at a purchase on the same order, cannot exceed what that
// purchase has left to give back, and mark their items refunded.
// Transfers go through TransferItem, which needs the destination order.
func (s *Service) RecordTransaction(params RecordParams) (*models.Transaction, error) {
	order, err := s.DB.GetOrderByID(params.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", params.OrderID, err)
	}
	if params.Amount < 0 {
		return nil, &LedgerConsistencyError{Op: "record", Detail: "amount must not be negative"}
	}

	txn := models.Transaction{
		ID:                   uuid.NewString(),
		OrderID:              order.ID,
		EventID:              order.EventID,
		Type:                 params.Type,
		Method:               params.Method,
		Amount:               params.Amount,
		ApplicationFee:       params.ApplicationFee,
		ProcessingFee:        params.ProcessingFee,
		RelatedTransactionID: params.RelatedTransactionID,
		RemoteID:             params.RemoteID,
		IsConfirmed:          params.Confirmed,
		CreatedBy:            params.CreatedBy,
		Timestamp:            s.Now(),
	}

	switch params.Type {
	case models.TxnPurchase:
		return s.recordPurchase(order, txn, params.ItemIDs)
	case models.TxnRefund:
		return s.recordRefund(order, txn, params.ItemIDs)
	case models.TxnOther:
		if err := s.DB.RecordTransaction(txn, params.ItemIDs, "", false); err != nil {
			return nil, fmt.Errorf("failed to record transaction: %w", err)
		}
	default:
		return nil, &LedgerConsistencyError{Op: "record", Detail: fmt.Sprintf("unsupported transaction type %q", params.Type)}
	}

	s.publish(models.LedgerEvent{
		Type:          "transaction.recorded",
		OrderID:       order.ID,
		TransactionID: txn.ID,
		ItemIDs:       params.ItemIDs,
		Amount:        txn.Amount,
	})
	return &txn, nil
}

func (s *Service) recordPurchase(order *models.Order, txn models.Transaction, itemIDs []string) (*models.Transaction, error) {
	if len(itemIDs) == 0 {
		return nil, &LedgerConsistencyError{Op: "purchase", Detail: "purchase covers no items"}
	}

	items := make([]models.BoughtItem, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := s.DB.GetBoughtItem(id)
		if err != nil {
			return nil, fmt.Errorf("item %s not found: %w", id, err)
		}
		if item.OrderID != order.ID {
			return nil, &LedgerConsistencyError{Op: "purchase", Detail: fmt.Sprintf("item %s belongs to another order", id)}
		}
		if item.Status != models.ItemReserved && item.Status != models.ItemUnpaid {
			return nil, &LedgerConsistencyError{Op: "purchase", Detail: fmt.Sprintf("item %s is already %s", id, item.Status)}
		}
		items = append(items, *item)
	}

	netOwed, err := s.netOwed(items)
	if err != nil {
		return nil, err
	}
	paidSoFar, err := s.paidSoFar(itemIDs)
	if err != nil {
		return nil, err
	}

	// Once payments net of refunds cover the discounted price, the
	// items are bought and the cart clock stops.
	settled := paidSoFar+txn.Amount >= netOwed
	newStatus := models.ItemUnpaid
	if settled {
		newStatus = models.ItemBought
	}
	if err := s.DB.RecordTransaction(txn, itemIDs, newStatus, settled); err != nil {
		return nil, fmt.Errorf("failed to record purchase: %w", err)
	}

	s.publish(models.LedgerEvent{
		Type:          "transaction.recorded",
		OrderID:       order.ID,
		TransactionID: txn.ID,
		ItemIDs:       itemIDs,
		Amount:        txn.Amount,
	})
	s.logger.LogLedger("PURCHASE", order.ID,
		fmt.Sprintf("%d cents via %s, %d item(s) now %s", txn.Amount, txn.Method, len(itemIDs), newStatus))
	return &txn, nil
}

func (s *Service) recordRefund(order *models.Order, txn models.Transaction, itemIDs []string) (*models.Transaction, error) {
	if txn.RelatedTransactionID == "" {
		return nil, &LedgerConsistencyError{Op: "refund", Detail: "refund has no related purchase"}
	}
	related, err := s.DB.GetTransaction(txn.RelatedTransactionID)
	if err != nil {
		return nil, fmt.Errorf("related transaction %s not found: %w", txn.RelatedTransactionID, err)
	}
	if related.Type != models.TxnPurchase {
		return nil, &LedgerConsistencyError{Op: "refund", Detail: fmt.Sprintf("related transaction %s is a %s, not a purchase", related.ID, related.Type)}
	}
	if related.OrderID != order.ID {
		return nil, &LedgerConsistencyError{Op: "refund", Detail: "related purchase belongs to another order"}
	}

	priorRefunds, err := s.DB.SumRelatedRefunds(related.ID)
	if err != nil {
		return nil, err
	}
	refundable := related.Amount + priorRefunds // priorRefunds is negative
	if txn.Amount > refundable {
		return nil, &LedgerConsistencyError{Op: "refund",
			Detail: fmt.Sprintf("refund of %d exceeds the %d refundable on purchase %s", txn.Amount, refundable, related.ID)}
	}

	purchasedIDs, err := s.DB.ListTransactionItemIDs(related.ID)
	if err != nil {
		return nil, err
	}
	if len(itemIDs) == 0 {
		itemIDs = purchasedIDs
	} else {
		for _, id := range itemIDs {
			if !contains(purchasedIDs, id) {
				return nil, &LedgerConsistencyError{Op: "refund", Detail: fmt.Sprintf("item %s is not covered by purchase %s", id, related.ID)}
			}
		}
	}

	// Stored negative, mirroring the gateway's view of money flow.
	txn.Amount = -txn.Amount
	txn.ApplicationFee = -txn.ApplicationFee
	if err := s.DB.RecordTransaction(txn, itemIDs, models.ItemRefunded, false); err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	s.publish(models.LedgerEvent{
		Type:          "transaction.recorded",
		OrderID:       order.ID,
		TransactionID: txn.ID,
		ItemIDs:       itemIDs,
		Amount:        txn.Amount,
	})
	s.logger.LogLedger("REFUND", order.ID,
		fmt.Sprintf("%d cents back against purchase %s, %d item(s) refunded", -txn.Amount, related.ID, len(itemIDs)))
	return &txn, nil
}

// TransferItem moves a bought item to another order at the same event:
// a zero-amount transfer transaction on the source order, the item
// marked transferred there, and a clone created as bought in the
// destination with its own zero-amount transaction.
func (s *Service) TransferItem(itemID, destOrderID, createdBy string) (*models.BoughtItem, error) {
	item, err := s.DB.GetBoughtItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("item %s not found: %w", itemID, err)
	}
	if item.Status != models.ItemBought {
		return nil, fmt.Errorf("item %s can no longer be transferred", itemID)
	}

	source, err := s.DB.GetOrderByID(item.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", item.OrderID, err)
	}
	dest, err := s.DB.GetOrderByID(destOrderID)
	if err != nil {
		return nil, fmt.Errorf("destination order %s not found: %w", destOrderID, err)
	}
	if dest.EventID != source.EventID {
		return nil, fmt.Errorf("cannot transfer across events")
	}
	if dest.ID == source.ID {
		return nil, fmt.Errorf("cannot transfer an item to its own order")
	}

	// The source-side transaction points back at the purchase that paid
	// for the item.
	var purchaseID string
	txns, err := s.DB.ListTransactionsForItems([]string{itemID})
	if err != nil {
		return nil, err
	}
	for _, t := range txns {
		if t.Type == models.TxnPurchase {
			purchaseID = t.ID
			break
		}
	}
	if purchaseID == "" {
		return nil, &LedgerConsistencyError{Op: "transfer", Detail: fmt.Sprintf("bought item %s has no purchase transaction", itemID)}
	}

	now := s.Now()
	fromTxn := models.Transaction{
		ID:                   uuid.NewString(),
		OrderID:              source.ID,
		EventID:              source.EventID,
		Type:                 models.TxnTransfer,
		Method:               models.MethodNone,
		RelatedTransactionID: purchaseID,
		IsConfirmed:          true,
		CreatedBy:            createdBy,
		Timestamp:            now,
	}
	clone := models.BoughtItem{
		ID:              uuid.NewString(),
		OrderID:         dest.ID,
		ItemOptionID:    item.ItemOptionID,
		Status:          models.ItemBought,
		ItemName:        item.ItemName,
		ItemDescription: item.ItemDescription,
		ItemOptionName:  item.ItemOptionName,
		Price:           item.Price,
		AddedAt:         now,
	}
	toTxn := models.Transaction{
		ID:          uuid.NewString(),
		OrderID:     dest.ID,
		EventID:     dest.EventID,
		Type:        models.TxnTransfer,
		Method:      models.MethodNone,
		IsConfirmed: true,
		CreatedBy:   createdBy,
		Timestamp:   now,
	}

	if err := s.DB.TransferItem(fromTxn, itemID, clone, toTxn); err != nil {
		return nil, fmt.Errorf("failed to transfer item: %w", err)
	}

	s.publish(models.LedgerEvent{
		Type:          "item.transferred",
		OrderID:       source.ID,
		TransactionID: fromTxn.ID,
		ItemIDs:       []string{itemID},
	})
	s.logger.LogLedger("TRANSFER", source.ID, fmt.Sprintf("item %s moved to order %s", itemID, dest.ID))
	return &clone, nil
}

// ---------------- DERIVED STATE ----------------

// netOwed is the post-discount price of the given items.
func (s *Service) netOwed(items []models.BoughtItem) (int64, error) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	discounts, err := s.DB.ListItemDiscountsForItems(ids)
	if err != nil {
		return 0, err
	}
	byItem := make(map[string][]models.BoughtItemDiscount)
	for _, d := range discounts {
		byItem[d.BoughtItemID] = append(byItem[d.BoughtItemID], d)
	}

	var owed int64
	for _, item := range items {
		owed += NetPrice(item, byItem[item.ID])
	}
	return owed, nil
}

// paidSoFar sums prior purchases and refunds covering any of the items.
func (s *Service) paidSoFar(itemIDs []string) (int64, error) {
	txns, err := s.DB.ListTransactionsForItems(itemIDs)
	if err != nil {
		return 0, err
	}
	var paid int64
	for _, t := range txns {
		switch t.Type {
		case models.TxnPurchase, models.TxnRefund:
			paid += t.Amount
		}
	}
	return paid, nil
}

// NetPrice is an item's snapshot price minus its snapshot savings,
// never below zero.
func NetPrice(item models.BoughtItem, discounts []models.BoughtItemDiscount) int64 {
	price := item.Price
	var savings int64
	for _, d := range discounts {
		savings += d.Savings(item.Price)
	}
	if savings >= price {
		return 0
	}
	return price - savings
}

// DeriveStatus replays an item's covering transactions and returns the
// status they imply. The stored status is a materialization of this
// function; reserved and unpaid cannot be told apart from the ledger
// alone, so for an unsettled item the stored status is returned as-is.
func DeriveStatus(item models.BoughtItem, discounts []models.BoughtItemDiscount, covering []models.Transaction) models.ItemStatus {
	var paid int64
	for _, t := range covering {
		switch t.Type {
		case models.TxnTransfer:
			// Only the source side marks its item; the clone has its
			// own zero-amount row and no purchase covering it is
			// required.
			if t.RelatedTransactionID != "" {
				return models.ItemTransferred
			}
		case models.TxnRefund:
			return models.ItemRefunded
		case models.TxnPurchase:
			paid += t.Amount
		}
	}
	if paid >= NetPrice(item, discounts) && paid > 0 {
		return models.ItemBought
	}
	return item.Status
}

// Summary folds an order's ledger into totals. Refunded and transferred
// items no longer contribute cost; NetBalance is what remains owed.
func (s *Service) Summary(orderID string) (*models.OrderSummary, error) {
	items, err := s.DB.ListOrderItems(orderID)
	if err != nil {
		return nil, err
	}
	txns, err := s.DB.ListOrderTransactions(orderID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	discounts, err := s.DB.ListItemDiscountsForItems(ids)
	if err != nil {
		return nil, err
	}
	byItem := make(map[string][]models.BoughtItemDiscount)
	for _, d := range discounts {
		byItem[d.BoughtItemID] = append(byItem[d.BoughtItemID], d)
	}

	summary := &models.OrderSummary{}
	for _, item := range items {
		if !item.Status.Active() {
			continue
		}
		summary.GrossCost += item.Price
		summary.TotalSavings += item.Price - NetPrice(item, byItem[item.ID])
	}
	summary.NetCost = summary.GrossCost - summary.TotalSavings

	for _, t := range txns {
		switch t.Type {
		case models.TxnRefund:
			summary.TotalRefunds += t.Amount
		case models.TxnPurchase, models.TxnOther:
			summary.TotalPayments += t.Amount
			if t.Method == models.MethodCheck && !t.IsConfirmed {
				summary.UnconfirmedChecks = true
			}
		}
	}
	summary.NetBalance = summary.NetCost - (summary.TotalPayments + summary.TotalRefunds)
	return summary, nil
}

// ListTransactions returns the order's ledger rows oldest first.
func (s *Service) ListTransactions(orderID string) ([]models.Transaction, error) {
	return s.DB.ListOrderTransactions(orderID)
}

// AmountDue returns what is outstanding on the order's open items
// (reserved or unpaid) and their IDs, for the payment flow to charge
// and cover in one purchase transaction.
func (s *Service) AmountDue(orderID string) (int64, []string, error) {
	items, err := s.DB.ListOrderItems(orderID)
	if err != nil {
		return 0, nil, err
	}
	var open []models.BoughtItem
	var ids []string
	for _, item := range items {
		if item.Status == models.ItemReserved || item.Status == models.ItemUnpaid {
			open = append(open, item)
			ids = append(ids, item.ID)
		}
	}
	if len(open) == 0 {
		return 0, nil, nil
	}
	owed, err := s.netOwed(open)
	if err != nil {
		return 0, nil, err
	}
	paid, err := s.paidSoFar(ids)
	if err != nil {
		return 0, nil, err
	}
	due := owed - paid
	if due < 0 {
		due = 0
	}
	return due, ids, nil
}

// ConfirmRemote marks the ledger row carrying the given gateway ID as
// confirmed. Called from webhook processing; unknown IDs are an error
// so the operator sees unmatched gateway events.
func (s *Service) ConfirmRemote(remoteID string) (*models.Transaction, error) {
	txn, err := s.DB.GetTransactionByRemoteID(remoteID)
	if err != nil {
		return nil, fmt.Errorf("no ledger row for remote id %s: %w", remoteID, err)
	}
	if txn.IsConfirmed {
		return txn, nil
	}
	if err := s.DB.ConfirmTransaction(txn.ID); err != nil {
		return nil, err
	}
	txn.IsConfirmed = true
	s.logger.LogLedger("CONFIRM", txn.OrderID, fmt.Sprintf("transaction %s confirmed by gateway", txn.ID))
	return txn, nil
}

// FindByRemoteID looks up the ledger row for a gateway transaction id.
func (s *Service) FindByRemoteID(remoteID string) (*models.Transaction, error) {
	return s.DB.GetTransactionByRemoteID(remoteID)
}
