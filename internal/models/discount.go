package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountFlat    DiscountType = "flat"    // Amount is cents off
	DiscountPercent DiscountType = "percent" // Amount is percent points
)

// Discount is a code the buyer can enter. Codes are unique per event.
// MaxUses of zero means unlimited.
type Discount struct {
	bun.BaseModel `bun:"table:discounts"`

	ID             string       `bun:"id,pk" json:"id"`
	EventID        string       `bun:"event_id,notnull,unique:event_code" json:"event_id"`
	Name           string       `bun:"name,notnull" json:"name"`
	Code           string       `bun:"code,notnull,unique:event_code" json:"code"`
	Type           DiscountType `bun:"discount_type,notnull" json:"discount_type"`
	Amount         int64        `bun:"amount,notnull" json:"amount"`
	AvailableStart time.Time    `bun:"available_start,notnull" json:"available_start"`
	AvailableEnd   time.Time    `bun:"available_end,notnull" json:"available_end"`
	MaxUses        int          `bun:"max_uses,nullzero" json:"max_uses"`
	Uses           int          `bun:"uses,notnull,default:0" json:"uses"`
}

// Available reports whether the code can be entered at the given time.
func (d *Discount) Available(now time.Time) bool {
	if now.Before(d.AvailableStart) {
		return false
	}
	return now.Before(d.AvailableEnd)
}

func (d *Discount) Exhausted() bool {
	return d.MaxUses > 0 && d.Uses >= d.MaxUses
}

// DiscountOption marks an item option as eligible for a discount.
type DiscountOption struct {
	bun.BaseModel `bun:"table:discount_options"`

	DiscountID   string `bun:"discount_id,pk" json:"discount_id"`
	ItemOptionID string `bun:"item_option_id,pk" json:"item_option_id"`
}

// OrderDiscount tracks that a code has been entered for an order.
// Unique per (order, discount).
type OrderDiscount struct {
	bun.BaseModel `bun:"table:order_discounts"`

	ID         string    `bun:"id,pk" json:"id"`
	OrderID    string    `bun:"order_id,notnull,unique:order_discount" json:"order_id"`
	DiscountID string    `bun:"discount_id,notnull,unique:order_discount" json:"discount_id"`
	EnteredAt  time.Time `bun:"entered_at,notnull,default:current_timestamp" json:"entered_at"`
}

// BoughtItemDiscount is the snapshot of a discount applied to one
// bought item. Name, code, type and amount are copied at application
// time so later discount edits never alter historical records. Unique
// per (bought_item, code).
type BoughtItemDiscount struct {
	bun.BaseModel `bun:"table:bought_item_discounts"`

	ID           string       `bun:"id,pk" json:"id"`
	BoughtItemID string       `bun:"bought_item_id,notnull,unique:item_code" json:"bought_item_id"`
	DiscountID   string       `bun:"discount_id,nullzero" json:"discount_id,omitempty"`
	Name         string       `bun:"name,notnull" json:"name"`
	Code         string       `bun:"code,notnull,unique:item_code" json:"code"`
	Type         DiscountType `bun:"discount_type,notnull" json:"discount_type"`
	Amount       int64        `bun:"amount,notnull" json:"amount"`
	AppliedAt    time.Time    `bun:"applied_at,notnull,default:current_timestamp" json:"applied_at"`
}

// Savings returns the cents this snapshot takes off the given item
// price, capped at the price itself.
func (d *BoughtItemDiscount) Savings(price int64) int64 {
	var s int64
	switch d.Type {
	case DiscountPercent:
		s = d.Amount * price / 100
	default:
		s = d.Amount
	}
	if s > price {
		return price
	}
	return s
}
