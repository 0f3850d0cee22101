package ledger

import (
	"fmt"
	"ms-ledger/internal/models"

	"github.com/google/uuid"
)

// ApplyDiscount validates a code against one bought item and writes the
// snapshot of its terms. Re-applying the same code to the same item is
// a no-op; editing the parent Discount afterwards never changes the
// snapshot.
func (s *Service) ApplyDiscount(itemID, code string) (*models.BoughtItemDiscount, error) {
	item, err := s.DB.GetBoughtItem(itemID)
	if err != nil {
		return nil, fmt.Errorf("item %s not found: %w", itemID, err)
	}
	if item.Status != models.ItemReserved && item.Status != models.ItemUnpaid {
		return nil, &DiscountInvalidError{Code: code, Reason: fmt.Sprintf("item is already %s", item.Status)}
	}

	// A code already on the item stays a no-op even when its usage
	// limit has since been reached.
	applied, err := s.DB.ListItemDiscounts(item.ID)
	if err != nil {
		return nil, err
	}
	for i := range applied {
		if applied[i].Code == code {
			return &applied[i], nil
		}
	}

	order, err := s.DB.GetOrderByID(item.OrderID)
	if err != nil {
		return nil, fmt.Errorf("order %s not found: %w", item.OrderID, err)
	}

	discount, err := s.lookupDiscount(order.EventID, code)
	if err != nil {
		return nil, err
	}

	eligible, err := s.DB.ListEligibleOptionIDs(discount.ID)
	if err != nil {
		return nil, err
	}
	if !contains(eligible, item.ItemOptionID) {
		return nil, &DiscountInvalidError{Code: code, Reason: "not eligible for this item"}
	}

	snapshot := models.BoughtItemDiscount{
		ID:           uuid.NewString(),
		BoughtItemID: item.ID,
		DiscountID:   discount.ID,
		Name:         discount.Name,
		Code:         discount.Code,
		Type:         discount.Type,
		Amount:       discount.Amount,
		AppliedAt:    s.Now(),
	}
	inserted, err := s.DB.InsertItemDiscounts([]models.BoughtItemDiscount{snapshot})
	if err != nil {
		return nil, fmt.Errorf("failed to apply discount: %w", err)
	}
	if inserted == 0 {
		// A concurrent request beat us to the snapshot; hand back the
		// stored row without counting another use.
		existing, err := s.DB.ListItemDiscounts(item.ID)
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if existing[i].Code == discount.Code {
				return &existing[i], nil
			}
		}
		return &snapshot, nil
	}
	if err := s.DB.IncrementDiscountUses(discount.ID); err != nil {
		s.logger.Warn("LEDGER", fmt.Sprintf("failed to count use of discount %s: %v", discount.Code, err))
	}

	s.logger.LogLedger("DISCOUNT", order.ID, fmt.Sprintf("applied %s to item %s", discount.Code, item.ID))
	return &snapshot, nil
}

// EnterDiscount attaches a code to the whole order: current reserved
// and unpaid eligible items get snapshots now, and items added to the
// cart later pick the code up automatically. Entering the same code
// twice is a no-op.
func (s *Service) EnterDiscount(orderID, code string) error {
	order, err := s.DB.GetOrderByID(orderID)
	if err != nil {
		return fmt.Errorf("order %s not found: %w", orderID, err)
	}

	discount, err := s.lookupDiscount(order.EventID, code)
	if err != nil {
		return err
	}

	already, err := s.DB.HasOrderDiscount(orderID, discount.ID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	eligible, err := s.DB.ListEligibleOptionIDs(discount.ID)
	if err != nil {
		return err
	}
	items, err := s.DB.ListOrderItems(orderID)
	if err != nil {
		return err
	}

	var snapshots []models.BoughtItemDiscount
	for _, item := range items {
		if item.Status != models.ItemReserved && item.Status != models.ItemUnpaid {
			continue
		}
		if !contains(eligible, item.ItemOptionID) {
			continue
		}
		snapshots = append(snapshots, models.BoughtItemDiscount{
			ID:           uuid.NewString(),
			BoughtItemID: item.ID,
			DiscountID:   discount.ID,
			Name:         discount.Name,
			Code:         discount.Code,
			Type:         discount.Type,
			Amount:       discount.Amount,
			AppliedAt:    s.Now(),
		})
	}

	od := models.OrderDiscount{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		DiscountID: discount.ID,
		EnteredAt:  s.Now(),
	}
	if err := s.DB.AddOrderDiscount(od, snapshots); err != nil {
		return fmt.Errorf("failed to enter discount: %w", err)
	}
	if err := s.DB.IncrementDiscountUses(discount.ID); err != nil {
		s.logger.Warn("LEDGER", fmt.Sprintf("failed to count use of discount %s: %v", discount.Code, err))
	}

	s.logger.LogLedger("DISCOUNT", orderID, fmt.Sprintf("entered %s, snapshotted onto %d item(s)", discount.Code, len(snapshots)))
	return nil
}

// snapshotOrderDiscounts writes snapshots for a freshly reserved item
// from codes already entered on its order.
func (s *Service) snapshotOrderDiscounts(order *models.Order, item models.BoughtItem) error {
	discounts, err := s.DB.ListOrderDiscounts(order.ID)
	if err != nil {
		return err
	}
	var snapshots []models.BoughtItemDiscount
	for _, discount := range discounts {
		eligible, err := s.DB.ListEligibleOptionIDs(discount.ID)
		if err != nil {
			return err
		}
		if !contains(eligible, item.ItemOptionID) {
			continue
		}
		snapshots = append(snapshots, models.BoughtItemDiscount{
			ID:           uuid.NewString(),
			BoughtItemID: item.ID,
			DiscountID:   discount.ID,
			Name:         discount.Name,
			Code:         discount.Code,
			Type:         discount.Type,
			Amount:       discount.Amount,
			AppliedAt:    s.Now(),
		})
	}
	_, err = s.DB.InsertItemDiscounts(snapshots)
	return err
}

func (s *Service) lookupDiscount(eventID, code string) (*models.Discount, error) {
	discount, err := s.DB.GetDiscountByCode(eventID, code)
	if err != nil {
		if isNotFound(err) {
			return nil, &DiscountInvalidError{Code: code, Reason: "unknown code"}
		}
		return nil, err
	}
	if !discount.Available(s.Now()) {
		return nil, &DiscountInvalidError{Code: code, Reason: "not currently available"}
	}
	if discount.Exhausted() {
		return nil, &DiscountInvalidError{Code: code, Reason: "usage limit reached"}
	}
	return discount, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
