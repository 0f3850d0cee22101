package db

import (
	"context"
	"database/sql"
	"errors"
	"ms-ledger/internal/models"
	"time"

	"github.com/uptrace/bun"
)

// ErrSoldOut is returned by ReserveItem when the option's capacity is
// exhausted. The service layer translates it into a CapacityError.
var ErrSoldOut = errors.New("item option sold out")

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(order models.Order) error {
	_, err := d.Bun.NewInsert().Model(&order).Exec(context.Background())
	return err
}

func (d *DB) GetOrderByID(id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderByCode(eventID, code string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("event_id = ?", eventID).
		Where("code = ?", code).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetCartStartTime stores t as the order's cart start; the zero time
// clears it.
func (d *DB) SetCartStartTime(orderID string, t time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("cart_start_time = ?", nullableTime(t)).
		Where("id = ?", orderID).
		Exec(context.Background())
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// ---------------- CATALOG ----------------

func (d *DB) GetEvent(id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetItemOption loads an option together with its parent item, which
// supplies the name/description snapshotted onto bought items.
func (d *DB) GetItemOption(id string) (*models.ItemOption, error) {
	var option models.ItemOption
	err := d.Bun.NewSelect().
		Model(&option).
		Relation("Item").
		Where("item_option.id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &option, nil
}

// ---------------- BOUGHT ITEMS ----------------

func (d *DB) GetBoughtItem(id string) (*models.BoughtItem, error) {
	var item models.BoughtItem
	err := d.Bun.NewSelect().
		Model(&item).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (d *DB) ListOrderItems(orderID string) ([]models.BoughtItem, error) {
	var items []models.BoughtItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("added_at").
		Scan(context.Background())
	return items, err
}

// CountActiveForOption counts bought items holding capacity for the
// option, i.e. everything not refunded or transferred.
func (d *DB) CountActiveForOption(optionID string) (int, error) {
	return d.countActiveForOption(context.Background(), d.Bun, optionID)
}

func (d *DB) countActiveForOption(ctx context.Context, idb bun.IDB, optionID string) (int, error) {
	return idb.NewSelect().
		Model((*models.BoughtItem)(nil)).
		Where("item_option_id = ?", optionID).
		Where("status NOT IN (?)", bun.In([]models.ItemStatus{models.ItemRefunded, models.ItemTransferred})).
		Count(ctx)
}

// ReserveItem inserts the item after re-checking capacity inside a
// single transaction, so two concurrent reservations for the last slot
// serialize and one of them gets ErrSoldOut. totalNumber of zero means
// unlimited.
func (d *DB) ReserveItem(item models.BoughtItem, totalNumber int) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		if totalNumber > 0 {
			taken, err := d.countActiveForOption(ctx, tx, item.ItemOptionID)
			if err != nil {
				return err
			}
			if taken >= totalNumber {
				return ErrSoldOut
			}
		}
		_, err := tx.NewInsert().Model(&item).Exec(ctx)
		return err
	})
}

func (d *DB) DeleteBoughtItem(id string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.BoughtItem)(nil)).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

// MarkCartUnpaid advances all reserved items of the order to unpaid and
// returns the item IDs that changed.
func (d *DB) MarkCartUnpaid(orderID string) ([]string, error) {
	ctx := context.Background()
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.BoughtItem)(nil)).
		Column("id").
		Where("order_id = ?", orderID).
		Where("status = ?", models.ItemReserved).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	_, err = d.Bun.NewUpdate().
		Model((*models.BoughtItem)(nil)).
		Set("status = ?", models.ItemUnpaid).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return ids, err
}

// ---------------- DISCOUNTS ----------------

func (d *DB) GetDiscountByCode(eventID, code string) (*models.Discount, error) {
	var discount models.Discount
	err := d.Bun.NewSelect().
		Model(&discount).
		Where("event_id = ?", eventID).
		Where("code = ?", code).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

// ListEligibleOptionIDs returns the option IDs the discount applies to.
func (d *DB) ListEligibleOptionIDs(discountID string) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.DiscountOption)(nil)).
		Column("item_option_id").
		Where("discount_id = ?", discountID).
		Scan(context.Background(), &ids)
	return ids, err
}

func (d *DB) HasOrderDiscount(orderID, discountID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.OrderDiscount)(nil)).
		Where("order_id = ?", orderID).
		Where("discount_id = ?", discountID).
		Exists(context.Background())
}

// AddOrderDiscount records the code entry and writes the per-item
// snapshots in one transaction. Snapshot rows that already exist for
// the same (bought_item, code) pair are left untouched.
func (d *DB) AddOrderDiscount(od models.OrderDiscount, snapshots []models.BoughtItemDiscount) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&od).Exec(ctx); err != nil {
			return err
		}
		if len(snapshots) == 0 {
			return nil
		}
		_, err := tx.NewInsert().
			Model(&snapshots).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		return err
	})
}

// InsertItemDiscounts writes snapshots for items whose order codes were
// already entered, reporting how many rows were actually written.
// Snapshots that collide with an existing (bought_item, code) pair are
// skipped and not counted.
func (d *DB) InsertItemDiscounts(snapshots []models.BoughtItemDiscount) (int64, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	res, err := d.Bun.NewInsert().
		Model(&snapshots).
		On("CONFLICT DO NOTHING").
		Exec(context.Background())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) ListItemDiscounts(itemID string) ([]models.BoughtItemDiscount, error) {
	var discounts []models.BoughtItemDiscount
	err := d.Bun.NewSelect().
		Model(&discounts).
		Where("bought_item_id = ?", itemID).
		Order("applied_at").
		Scan(context.Background())
	return discounts, err
}

func (d *DB) ListItemDiscountsForItems(itemIDs []string) ([]models.BoughtItemDiscount, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var discounts []models.BoughtItemDiscount
	err := d.Bun.NewSelect().
		Model(&discounts).
		Where("bought_item_id IN (?)", bun.In(itemIDs)).
		Scan(context.Background())
	return discounts, err
}

// ListOrderDiscounts returns the discounts whose codes have been
// entered for the order.
func (d *DB) ListOrderDiscounts(orderID string) ([]models.Discount, error) {
	var discounts []models.Discount
	err := d.Bun.NewSelect().
		Model(&discounts).
		Join("JOIN order_discounts od ON od.discount_id = discount.id").
		Where("od.order_id = ?", orderID).
		Scan(context.Background())
	return discounts, err
}

func (d *DB) IncrementDiscountUses(discountID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Discount)(nil)).
		Set("uses = uses + 1").
		Where("id = ?", discountID).
		Exec(context.Background())
	return err
}

// ---------------- TRANSACTIONS ----------------

// RecordTransaction appends the ledger row, links the covered items and
// applies their status change in one all-or-nothing unit of work, so a
// ledger entry can never exist without its status change or vice versa.
// newStatus may be empty to leave item statuses alone; clearCart clears
// the order's cart start time in the same transaction.
func (d *DB) RecordTransaction(txn models.Transaction, itemIDs []string, newStatus models.ItemStatus, clearCart bool) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&txn).Exec(ctx); err != nil {
			return err
		}
		if len(itemIDs) > 0 {
			links := make([]models.TransactionItem, len(itemIDs))
			for i, id := range itemIDs {
				links[i] = models.TransactionItem{TransactionID: txn.ID, BoughtItemID: id}
			}
			if _, err := tx.NewInsert().Model(&links).Exec(ctx); err != nil {
				return err
			}
			if newStatus != "" {
				_, err := tx.NewUpdate().
					Model((*models.BoughtItem)(nil)).
					Set("status = ?", newStatus).
					Where("id IN (?)", bun.In(itemIDs)).
					Exec(ctx)
				if err != nil {
					return err
				}
			}
		}
		if clearCart {
			_, err := tx.NewUpdate().
				Model((*models.Order)(nil)).
				Set("cart_start_time = NULL").
				Where("id = ?", txn.OrderID).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetTransaction(id string) (*models.Transaction, error) {
	var txn models.Transaction
	err := d.Bun.NewSelect().
		Model(&txn).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (d *DB) GetTransactionByRemoteID(remoteID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := d.Bun.NewSelect().
		Model(&txn).
		Where("remote_id = ?", remoteID).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (d *DB) ConfirmTransaction(id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Transaction)(nil)).
		Set("is_confirmed = ?", true).
		Where("id = ?", id).
		Exec(context.Background())
	return err
}

func (d *DB) ListOrderTransactions(orderID string) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := d.Bun.NewSelect().
		Model(&txns).
		Where("order_id = ?", orderID).
		Order("timestamp").
		Scan(context.Background())
	return txns, err
}

// ListTransactionsForItems returns every transaction covering any of
// the given items.
func (d *DB) ListTransactionsForItems(itemIDs []string) ([]models.Transaction, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	var txns []models.Transaction
	err := d.Bun.NewSelect().
		Model(&txns).
		Join("JOIN transaction_items ti ON ti.transaction_id = \"transaction\".id").
		Where("ti.bought_item_id IN (?)", bun.In(itemIDs)).
		Distinct().
		Scan(context.Background())
	return txns, err
}

// ListTransactionItemIDs returns the bought item IDs a transaction
// covers.
func (d *DB) ListTransactionItemIDs(txnID string) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.TransactionItem)(nil)).
		Column("bought_item_id").
		Where("transaction_id = ?", txnID).
		Scan(context.Background(), &ids)
	return ids, err
}

// SumRelatedRefunds sums the (negative) amounts of refunds pointing at
// the given purchase.
func (d *DB) SumRelatedRefunds(txnID string) (int64, error) {
	var sum sql.NullInt64
	err := d.Bun.NewSelect().
		Model((*models.Transaction)(nil)).
		ColumnExpr("SUM(amount)").
		Where("related_transaction_id = ?", txnID).
		Where("transaction_type = ?", models.TxnRefund).
		Scan(context.Background(), &sum)
	if err != nil {
		return 0, err
	}
	return sum.Int64, nil
}

// TransferItem performs both halves of a transfer atomically: the
// source-side transfer transaction, marking the source item
// transferred, the clone in the destination order, and the
// destination-side transaction.
func (d *DB) TransferItem(fromTxn models.Transaction, sourceItemID string, clone models.BoughtItem, toTxn models.Transaction) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&fromTxn).Exec(ctx); err != nil {
			return err
		}
		fromLink := models.TransactionItem{TransactionID: fromTxn.ID, BoughtItemID: sourceItemID}
		if _, err := tx.NewInsert().Model(&fromLink).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().
			Model((*models.BoughtItem)(nil)).
			Set("status = ?", models.ItemTransferred).
			Where("id = ?", sourceItemID).
			Exec(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&clone).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(&toTxn).Exec(ctx); err != nil {
			return err
		}
		toLink := models.TransactionItem{TransactionID: toTxn.ID, BoughtItemID: clone.ID}
		_, err = tx.NewInsert().Model(&toLink).Exec(ctx)
		return err
	})
}

// ---------------- CART EXPIRY ----------------

// OpenCart pairs an order holding an open cart with its event's
// timeout.
type OpenCart struct {
	models.Order `bun:",extend"`

	CartTimeout int `bun:"cart_timeout,scanonly"`
}

func (d *DB) ListOpenCarts() ([]OpenCart, error) {
	var carts []OpenCart
	err := d.Bun.NewSelect().
		Model(&carts).
		ColumnExpr("\"order\".*").
		ColumnExpr("e.cart_timeout AS cart_timeout").
		Join("JOIN events e ON e.id = \"order\".event_id").
		Where("\"order\".cart_start_time IS NOT NULL").
		Scan(context.Background())
	return carts, err
}

// ExpireCart deletes the order's reserved items and clears its cart
// start time, returning the deleted item IDs. Safe to call twice; the
// second call is a no-op.
func (d *DB) ExpireCart(orderID string) ([]string, error) {
	ctx := context.Background()
	var ids []string
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model((*models.BoughtItem)(nil)).
			Column("id").
			Where("order_id = ?", orderID).
			Where("status = ?", models.ItemReserved).
			Scan(ctx, &ids)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			_, err = tx.NewDelete().
				Model((*models.BoughtItem)(nil)).
				Where("id IN (?)", bun.In(ids)).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		_, err = tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("cart_start_time = NULL").
			Where("id = ?", orderID).
			Exec(ctx)
		return err
	})
	return ids, err
}

// ---------------- ATTENDEES ----------------

func (d *DB) CreateAttendee(attendee models.Attendee) error {
	_, err := d.Bun.NewInsert().Model(&attendee).Exec(context.Background())
	return err
}

func (d *DB) GetAttendee(id string) (*models.Attendee, error) {
	var attendee models.Attendee
	err := d.Bun.NewSelect().
		Model(&attendee).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &attendee, nil
}

func (d *DB) AssignAttendee(itemID, attendeeID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.BoughtItem)(nil)).
		Set("attendee_id = ?", attendeeID).
		Where("id = ?", itemID).
		Exec(context.Background())
	return err
}
