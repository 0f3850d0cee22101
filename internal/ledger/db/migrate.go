package db

import (
	"context"
	"ms-ledger/internal/models"

	"github.com/uptrace/bun"
)

// Tables lists every ledger model in dependency order.
var Tables = []interface{}{
	(*models.Event)(nil),
	(*models.Item)(nil),
	(*models.ItemOption)(nil),
	(*models.Order)(nil),
	(*models.Attendee)(nil),
	(*models.BoughtItem)(nil),
	(*models.Discount)(nil),
	(*models.DiscountOption)(nil),
	(*models.OrderDiscount)(nil),
	(*models.BoughtItemDiscount)(nil),
	(*models.Transaction)(nil),
	(*models.TransactionItem)(nil),
}

// CreateTables creates the ledger schema if it does not exist yet.
func CreateTables(ctx context.Context, db *bun.DB) error {
	for _, m := range Tables {
		_, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// DropTables removes the ledger schema, reverse dependency order.
func DropTables(ctx context.Context, db *bun.DB) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		_, err := db.NewDropTable().Model(Tables[i]).IfExists().Cascade().Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}
