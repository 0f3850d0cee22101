package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-ledger/internal/ledger/db"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/utils"
)

// DBLayer is the storage surface the ledger needs. Implemented by
// db.DB; mocked in tests.
type DBLayer interface {
	CreateOrder(order models.Order) error
	GetOrderByID(id string) (*models.Order, error)
	GetOrderByCode(eventID, code string) (*models.Order, error)
	SetCartStartTime(orderID string, t time.Time) error

	GetEvent(id string) (*models.Event, error)
	GetItemOption(id string) (*models.ItemOption, error)

	GetBoughtItem(id string) (*models.BoughtItem, error)
	ListOrderItems(orderID string) ([]models.BoughtItem, error)
	CountActiveForOption(optionID string) (int, error)
	ReserveItem(item models.BoughtItem, totalNumber int) error
	DeleteBoughtItem(id string) error
	MarkCartUnpaid(orderID string) ([]string, error)

	GetDiscountByCode(eventID, code string) (*models.Discount, error)
	ListEligibleOptionIDs(discountID string) ([]string, error)
	HasOrderDiscount(orderID, discountID string) (bool, error)
	AddOrderDiscount(od models.OrderDiscount, snapshots []models.BoughtItemDiscount) error
	InsertItemDiscounts(snapshots []models.BoughtItemDiscount) (int64, error)
	ListItemDiscounts(itemID string) ([]models.BoughtItemDiscount, error)
	ListItemDiscountsForItems(itemIDs []string) ([]models.BoughtItemDiscount, error)
	ListOrderDiscounts(orderID string) ([]models.Discount, error)
	IncrementDiscountUses(discountID string) error

	RecordTransaction(txn models.Transaction, itemIDs []string, newStatus models.ItemStatus, clearCart bool) error
	GetTransaction(id string) (*models.Transaction, error)
	GetTransactionByRemoteID(remoteID string) (*models.Transaction, error)
	ConfirmTransaction(id string) error
	ListOrderTransactions(orderID string) ([]models.Transaction, error)
	ListTransactionsForItems(itemIDs []string) ([]models.Transaction, error)
	ListTransactionItemIDs(txnID string) ([]string, error)
	SumRelatedRefunds(txnID string) (int64, error)
	TransferItem(fromTxn models.Transaction, sourceItemID string, clone models.BoughtItem, toTxn models.Transaction) error

	ListOpenCarts() ([]db.OpenCart, error)
	ExpireCart(orderID string) ([]string, error)

	CreateAttendee(attendee models.Attendee) error
	GetAttendee(id string) (*models.Attendee, error)
	AssignAttendee(itemID, attendeeID string) error
}

// OptionLock serializes reservations per item option across instances.
type OptionLock interface {
	LockOption(optionID, orderID string) (bool, error)
	UnlockOption(optionID, orderID string) error
	WaitOption(optionID, orderID string, deadline time.Duration) (bool, error)
}

type Publisher interface {
	Publish(event models.LedgerEvent) error
}

type Service struct {
	DB     DBLayer
	Locks  OptionLock
	Kafka  Publisher
	logger *logger.Logger

	// Now is swapped out in tests.
	Now func() time.Time
}

func NewService(dbLayer DBLayer, locks OptionLock, kafkaProd Publisher) *Service {
	return &Service{
		DB:     dbLayer,
		Locks:  locks,
		Kafka:  kafkaProd,
		logger: logger.NewLogger(),
		Now:    time.Now,
	}
}

// ---------------- ORDERS ----------------

// CreateOrder opens an order for a buyer at an event, with a fresh
// per-event code.
func (s *Service) CreateOrder(eventID, userID, email string) (*models.Order, error) {
	if _, err := s.DB.GetEvent(eventID); err != nil {
		return nil, fmt.Errorf("event %s not found: %w", eventID, err)
	}

	order := models.Order{
		ID:        uuid.NewString(),
		EventID:   eventID,
		UserID:    userID,
		Email:     email,
		Code:      utils.GenerateOrderCode(),
		CreatedAt: s.Now(),
	}
	if err := s.DB.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	s.logger.LogLedger("CREATE", order.ID, fmt.Sprintf("order %s opened for event %s", order.Code, eventID))
	return &order, nil
}

func (s *Service) GetOrder(id string) (*models.Order, error) {
	return s.DB.GetOrderByID(id)
}

// LookupOrder finds an order by the per-event code printed on the
// buyer's confirmation, the lookup staff run at the door.
func (s *Service) LookupOrder(eventID, code string) (*models.Order, error) {
	return s.DB.GetOrderByCode(eventID, code)
}

func (s *Service) GetOrderItems(orderID string) ([]models.BoughtItem, error) {
	return s.DB.ListOrderItems(orderID)
}

func (s *Service) GetItem(itemID string) (*models.BoughtItem, error) {
	return s.DB.GetBoughtItem(itemID)
}

func (s *Service) GetAttendee(id string) (*models.Attendee, error) {
	return s.DB.GetAttendee(id)
}

func (s *Service) GetTransaction(id string) (*models.Transaction, error) {
	return s.DB.GetTransaction(id)
}

// OrderCurrency reports the currency of the event the order belongs to.
func (s *Service) OrderCurrency(orderID string) (string, error) {
	order, err := s.DB.GetOrderByID(orderID)
	if err != nil {
		return "", fmt.Errorf("order %s not found: %w", orderID, err)
	}
	event, err := s.DB.GetEvent(order.EventID)
	if err != nil {
		return "", fmt.Errorf("event %s not found: %w", order.EventID, err)
	}
	return event.Currency, nil
}

// ---------------- RESERVATION ----------------

// ReserveItem puts one unit of an item option into the order's cart,
// snapshotting the option's current name, description and price. It
// fails with CapacityError when the option's stock is exhausted;
// capacity checks are serialized through the option lock and re-checked
// inside the storage transaction.
func (s *Service) ReserveItem(orderID, optionID, attendeeID string) (*models.BoughtItem, error) {
	now := s.Now()

	order, err := s.DB.GetOrderByID(orderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", orderID, err)
	}
	event, err := s.DB.GetEvent(order.EventID)
	if err != nil {
		return nil, fmt.Errorf("event %s not found: %w", order.EventID, err)
	}

	// A stale cart frees its reservations before anything new goes in.
	if order.CartExpired(event.CartTimeout, now) {
		if _, err := s.DB.ExpireCart(order.ID); err != nil {
			return nil, fmt.Errorf("failed to expire stale cart: %w", err)
		}
		order.CartStartTime = time.Time{}
	}

	option, err := s.DB.GetItemOption(optionID)
	if err != nil {
		return nil, fmt.Errorf("item option %s not found: %w", optionID, err)
	}
	if !option.Available(now) {
		return nil, fmt.Errorf("item option %s is not on sale", optionID)
	}

	if attendeeID != "" {
		attendee, err := s.DB.GetAttendee(attendeeID)
		if err != nil {
			return nil, fmt.Errorf("attendee %s not found: %w", attendeeID, err)
		}
		if attendee.OrderID != orderID {
			return nil, fmt.Errorf("attendee %s belongs to a different order", attendeeID)
		}
	}

	ok, err := s.Locks.WaitOption(optionID, orderID, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("option lock error: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("item option %s is busy, try again", optionID)
	}
	defer func() {
		if err := s.Locks.UnlockOption(optionID, orderID); err != nil {
			s.logger.Warn("LEDGER", fmt.Sprintf("failed to release option lock %s: %v", optionID, err))
		}
	}()

	item := models.BoughtItem{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		ItemOptionID:    optionID,
		AttendeeID:      attendeeID,
		Status:          models.ItemReserved,
		ItemName:        option.Item.Name,
		ItemDescription: option.Item.Description,
		ItemOptionName:  option.Name,
		Price:           option.Price,
		AddedAt:         now,
	}
	if err := s.DB.ReserveItem(item, option.TotalNumber); err != nil {
		if errors.Is(err, db.ErrSoldOut) {
			taken, cntErr := s.DB.CountActiveForOption(optionID)
			if cntErr != nil {
				taken = option.TotalNumber
			}
			return nil, &CapacityError{ItemOptionID: optionID, Total: option.TotalNumber, Taken: taken}
		}
		return nil, fmt.Errorf("failed to reserve item: %w", err)
	}

	// Codes already entered for this order snapshot onto the new item.
	if err := s.snapshotOrderDiscounts(order, item); err != nil {
		s.logger.Error("LEDGER", fmt.Sprintf("failed to snapshot discounts for item %s: %v", item.ID, err))
	}

	if order.CartStartTime.IsZero() {
		if err := s.DB.SetCartStartTime(orderID, now); err != nil {
			return nil, fmt.Errorf("failed to start cart clock: %w", err)
		}
	}

	s.publish(models.LedgerEvent{
		Type:    "item.reserved",
		OrderID: orderID,
		ItemIDs: []string{item.ID},
	})
	s.logger.LogLedger("RESERVE", orderID, fmt.Sprintf("reserved %s (%s)", item.ItemOptionName, item.ID))
	return &item, nil
}

// RemoveFromCart releases a reserved item before checkout.
func (s *Service) RemoveFromCart(itemID string) error {
	item, err := s.DB.GetBoughtItem(itemID)
	if err != nil {
		return fmt.Errorf("item %s not found: %w", itemID, err)
	}
	if item.Status != models.ItemReserved {
		return fmt.Errorf("cannot remove a %s item from the cart", item.Status)
	}
	if err := s.DB.DeleteBoughtItem(itemID); err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}

	// Closing the last reserved item stops the cart clock.
	items, err := s.DB.ListOrderItems(item.OrderID)
	if err != nil {
		return err
	}
	for _, it := range items {
		if it.Status == models.ItemReserved {
			return nil
		}
	}
	return s.DB.SetCartStartTime(item.OrderID, time.Time{})
}

// CheckoutCart moves the order's reserved items to unpaid, the state
// they wait in until a purchase transaction settles them.
func (s *Service) CheckoutCart(orderID string) ([]string, error) {
	if _, err := s.DB.GetOrderByID(orderID); err != nil {
		return nil, fmt.Errorf("order %s not found: %w", orderID, err)
	}
	ids, err := s.DB.MarkCartUnpaid(orderID)
	if err != nil {
		return nil, fmt.Errorf("checkout failed: %w", err)
	}
	s.logger.LogLedger("CHECKOUT", orderID, fmt.Sprintf("%d item(s) now awaiting payment", len(ids)))
	return ids, nil
}

// ---------------- RESERVATION EXPIRY ----------------

// ExpireReservations releases every reserved item in carts older than
// their event's timeout, returning capacity to the pool. Running it
// twice is harmless; the second sweep finds nothing.
func (s *Service) ExpireReservations(now time.Time) (int, error) {
	carts, err := s.DB.ListOpenCarts()
	if err != nil {
		return 0, fmt.Errorf("failed to list open carts: %w", err)
	}

	expired := 0
	for _, cart := range carts {
		if !cart.CartExpired(cart.CartTimeout, now) {
			continue
		}
		ids, err := s.DB.ExpireCart(cart.Order.ID)
		if err != nil {
			s.logger.Error("LEDGER", fmt.Sprintf("failed to expire cart for order %s: %v", cart.Order.ID, err))
			continue
		}
		if len(ids) == 0 {
			continue
		}
		expired += len(ids)
		s.publish(models.LedgerEvent{
			Type:    "reservation.expired",
			OrderID: cart.Order.ID,
			ItemIDs: ids,
		})
		s.logger.LogLedger("EXPIRE", cart.Order.ID, fmt.Sprintf("released %d reserved item(s)", len(ids)))
	}
	return expired, nil
}

// ---------------- ATTENDEES ----------------

func (s *Service) AddAttendee(attendee models.Attendee) (*models.Attendee, error) {
	if _, err := s.DB.GetOrderByID(attendee.OrderID); err != nil {
		return nil, fmt.Errorf("order %s not found: %w", attendee.OrderID, err)
	}
	if attendee.ID == "" {
		attendee.ID = uuid.NewString()
	}
	if attendee.NameOrder == "" {
		attendee.NameOrder = models.NameOrderGMS
	}
	attendee.CreatedAt = s.Now()
	if err := s.DB.CreateAttendee(attendee); err != nil {
		return nil, fmt.Errorf("failed to create attendee: %w", err)
	}
	return &attendee, nil
}

// AssignItem links a bought item to an attendee in the same order.
func (s *Service) AssignItem(itemID, attendeeID string) error {
	item, err := s.DB.GetBoughtItem(itemID)
	if err != nil {
		return fmt.Errorf("item %s not found: %w", itemID, err)
	}
	if !item.Status.Active() {
		return fmt.Errorf("cannot assign a %s item", item.Status)
	}
	attendee, err := s.DB.GetAttendee(attendeeID)
	if err != nil {
		return fmt.Errorf("attendee %s not found: %w", attendeeID, err)
	}
	if attendee.OrderID != item.OrderID {
		return fmt.Errorf("attendee %s belongs to a different order", attendeeID)
	}
	return s.DB.AssignAttendee(itemID, attendeeID)
}

// ---------------- HELPERS ----------------

func (s *Service) publish(event models.LedgerEvent) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.Publish(event); err != nil {
		s.logger.Error("KAFKA", fmt.Sprintf("publish %s for order %s failed: %v", event.Type, event.OrderID, err))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
