package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID          string    `bun:"id,pk" json:"id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Slug        string    `bun:"slug,notnull" json:"slug"`
	Currency    string    `bun:"currency,notnull" json:"currency"`
	CartTimeout int       `bun:"cart_timeout,notnull" json:"cart_timeout"` // minutes
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type Item struct {
	bun.BaseModel `bun:"table:items"`

	ID          string    `bun:"id,pk" json:"id"`
	EventID     string    `bun:"event_id,notnull" json:"event_id"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description,nullzero" json:"description"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// ItemOption is one purchasable variant of an Item (e.g. "Full pass /
// early bird"). TotalNumber of zero means unlimited stock.
type ItemOption struct {
	bun.BaseModel `bun:"table:item_options"`

	ID             string    `bun:"id,pk" json:"id"`
	ItemID         string    `bun:"item_id,notnull" json:"item_id"`
	Name           string    `bun:"name,notnull" json:"name"`
	Price          int64     `bun:"price,notnull" json:"price"` // cents
	TotalNumber    int       `bun:"total_number,nullzero" json:"total_number"`
	AvailableStart time.Time `bun:"available_start,notnull" json:"available_start"`
	AvailableEnd   time.Time `bun:"available_end,notnull" json:"available_end"`
	Position       int       `bun:"position,nullzero" json:"position"`

	Item *Item `bun:"rel:belongs-to,join:item_id=id" json:"item,omitempty"`
}

// Available reports whether the option can be reserved at the given time.
func (o *ItemOption) Available(now time.Time) bool {
	if now.Before(o.AvailableStart) {
		return false
	}
	return now.Before(o.AvailableEnd)
}
