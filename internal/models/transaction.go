package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Method string

const (
	MethodStripe Method = "stripe"
	MethodDwolla Method = "dwolla"
	MethodCash   Method = "cash"
	MethodCheck  Method = "check"
	MethodFake   Method = "fake"
	MethodNone   Method = "none" // no balance change (transfers)
)

type TransactionType string

const (
	TxnPurchase TransactionType = "purchase"
	TxnRefund   TransactionType = "refund"
	TxnTransfer TransactionType = "transfer"
	TxnOther    TransactionType = "other"
)

// Transaction is one immutable row of the financial ledger. Refunds
// carry negative amounts and point back at the purchase they refund via
// RelatedTransactionID. The bought items a transaction covers are
// linked through TransactionItem rows.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions"`

	ID                   string          `bun:"id,pk" json:"id"`
	OrderID              string          `bun:"order_id,notnull" json:"order_id"`
	EventID              string          `bun:"event_id,notnull" json:"event_id"`
	Type                 TransactionType `bun:"transaction_type,notnull" json:"transaction_type"`
	Method               Method          `bun:"method,notnull" json:"method"`
	Amount               int64           `bun:"amount,notnull" json:"amount"`          // cents, negative for refunds
	ApplicationFee       int64           `bun:"application_fee,nullzero" json:"application_fee"` // cents
	ProcessingFee        int64           `bun:"processing_fee,nullzero" json:"processing_fee"`   // cents
	RelatedTransactionID string          `bun:"related_transaction_id,nullzero" json:"related_transaction_id,omitempty"`
	RemoteID             string          `bun:"remote_id,nullzero" json:"remote_id,omitempty"`
	IsConfirmed          bool            `bun:"is_confirmed,notnull" json:"is_confirmed"`
	CreatedBy            string          `bun:"created_by,nullzero" json:"created_by,omitempty"`
	Timestamp            time.Time       `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`
}

// TransactionItem links a transaction to one bought item it covers.
type TransactionItem struct {
	bun.BaseModel `bun:"table:transaction_items"`

	TransactionID string `bun:"transaction_id,pk" json:"transaction_id"`
	BoughtItemID  string `bun:"bought_item_id,pk" json:"bought_item_id"`
}

// LedgerEvent is the payload published to Kafka when the ledger
// changes.
type LedgerEvent struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ItemIDs       []string  `json:"item_ids,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// OrderSummary aggregates an order's ledger. All values are cents.
// NetBalance is what the buyer still owes: net cost minus payments and
// refunds already recorded.
type OrderSummary struct {
	GrossCost     int64 `json:"gross_cost"`
	TotalSavings  int64 `json:"total_savings"`
	NetCost       int64 `json:"net_cost"`
	TotalPayments int64 `json:"total_payments"`
	TotalRefunds  int64 `json:"total_refunds"`
	NetBalance    int64 `json:"net_balance"`

	UnconfirmedChecks bool `json:"unconfirmed_check_payments"`
}
