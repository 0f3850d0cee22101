package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ItemStatus string

const (
	ItemReserved    ItemStatus = "reserved"
	ItemUnpaid      ItemStatus = "unpaid"
	ItemBought      ItemStatus = "bought"
	ItemRefunded    ItemStatus = "refunded"
	ItemTransferred ItemStatus = "transferred"
)

// Active reports whether the item still counts against option capacity.
func (s ItemStatus) Active() bool {
	return s != ItemRefunded && s != ItemTransferred
}

// Order links a buyer to an event and aggregates the items and
// transactions under a per-event unique code. It has no status of its
// own; order state is derived from the state of its bought items.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID            string    `bun:"id,pk" json:"id"`
	EventID       string    `bun:"event_id,notnull,unique:event_code" json:"event_id"`
	UserID        string    `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Email         string    `bun:"email,nullzero" json:"email,omitempty"`
	Code          string    `bun:"code,notnull,unique:event_code" json:"code"`
	CartStartTime time.Time `bun:"cart_start_time,nullzero" json:"cart_start_time,omitempty"`
	Notes         string    `bun:"notes,nullzero" json:"-"`
	CreatedAt     time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// CartExpireTime returns the zero time when no cart is open.
func (o *Order) CartExpireTime(timeoutMinutes int) time.Time {
	if o.CartStartTime.IsZero() {
		return time.Time{}
	}
	return o.CartStartTime.Add(time.Duration(timeoutMinutes) * time.Minute)
}

func (o *Order) CartExpired(timeoutMinutes int, now time.Time) bool {
	if o.CartStartTime.IsZero() {
		return false
	}
	return now.After(o.CartExpireTime(timeoutMinutes))
}

// BoughtItem is one purchased (or reserved) unit of an ItemOption. The
// item and option names, description and price are copied at
// reservation time so later catalog edits never alter historical
// orders.
type BoughtItem struct {
	bun.BaseModel `bun:"table:bought_items"`

	ID           string     `bun:"id,pk" json:"id"`
	OrderID      string     `bun:"order_id,notnull" json:"order_id"`
	ItemOptionID string     `bun:"item_option_id,nullzero" json:"item_option_id,omitempty"`
	AttendeeID   string     `bun:"attendee_id,nullzero" json:"attendee_id,omitempty"`
	Status       ItemStatus `bun:"status,notnull" json:"status"`

	ItemName        string `bun:"item_name,notnull" json:"item_name"`
	ItemDescription string `bun:"item_description,nullzero" json:"item_description,omitempty"`
	ItemOptionName  string `bun:"item_option_name,notnull" json:"item_option_name"`
	Price           int64  `bun:"price,notnull" json:"price"` // cents

	AddedAt time.Time `bun:"added_at,notnull,default:current_timestamp" json:"added_at"`
}

// NameOrder configures how an attendee's name parts are displayed.
// Historical data used several orderings; this is display-only
// configuration and carries no other semantics.
type NameOrder string

const (
	NameOrderGMS NameOrder = "GMS" // given middle surname
	NameOrderSGM NameOrder = "SGM"
	NameOrderGS  NameOrder = "GS"
	NameOrderSG  NameOrder = "SG"
)

// Attendee is the person a bought item is assigned to. One attendee can
// hold several items; an item has at most one attendee.
type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID         string    `bun:"id,pk" json:"id"`
	OrderID    string    `bun:"order_id,notnull" json:"order_id"`
	GivenName  string    `bun:"given_name,notnull" json:"given_name"`
	MiddleName string    `bun:"middle_name,nullzero" json:"middle_name,omitempty"`
	Surname    string    `bun:"surname,notnull" json:"surname"`
	NameOrder  NameOrder `bun:"name_order,notnull,default:'GMS'" json:"name_order"`
	Email      string    `bun:"email,nullzero" json:"email,omitempty"`
	Phone      string    `bun:"phone,nullzero" json:"phone,omitempty"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// DisplayName renders the attendee's name parts in their configured
// order.
func (a *Attendee) DisplayName() string {
	var parts []string
	switch a.NameOrder {
	case NameOrderSGM:
		parts = []string{a.Surname, a.GivenName, a.MiddleName}
	case NameOrderGS:
		parts = []string{a.GivenName, a.Surname}
	case NameOrderSG:
		parts = []string{a.Surname, a.GivenName}
	default:
		parts = []string{a.GivenName, a.MiddleName, a.Surname}
	}
	name := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if name != "" {
			name += " "
		}
		name += p
	}
	return name
}
