package ledger_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-ledger/internal/ledger"
	"ms-ledger/internal/models"
)

func testDiscount() *models.Discount {
	return &models.Discount{
		ID:             "disc1",
		EventID:        "event1",
		Name:           "Volunteer",
		Code:           "VOLUNTEER",
		Type:           models.DiscountFlat,
		Amount:         2000,
		AvailableStart: testNow.Add(-24 * time.Hour),
		AvailableEnd:   testNow.Add(24 * time.Hour),
		MaxUses:        20,
		Uses:           3,
	}
}

func TestApplyDiscountSnapshotsTerms(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved, Price: 9500}
	discount := testDiscount()

	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{}, nil)
	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(discount, nil)
	mockDB.On("ListEligibleOptionIDs", "disc1").Return([]string{"option1", "option2"}, nil)
	mockDB.On("InsertItemDiscounts", mock.MatchedBy(func(snaps []models.BoughtItemDiscount) bool {
		return len(snaps) == 1 &&
			snaps[0].BoughtItemID == "item1" &&
			snaps[0].Code == "VOLUNTEER" &&
			snaps[0].Type == models.DiscountFlat &&
			snaps[0].Amount == int64(2000)
	})).Return(int64(1), nil)
	mockDB.On("IncrementDiscountUses", "disc1").Return(nil)

	snapshot, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	assert.NoError(t, err)
	assert.Equal(t, "Volunteer", snapshot.Name)
	assert.Equal(t, int64(2000), snapshot.Amount)
	mockDB.AssertExpectations(t)
}

func TestApplyDiscountReapplyIsNoop(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved, Price: 9500}
	stored := models.BoughtItemDiscount{ID: "snap1", BoughtItemID: "item1", Code: "VOLUNTEER", Type: models.DiscountFlat, Amount: 2000}

	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{stored}, nil)

	snapshot, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	assert.NoError(t, err)
	assert.Equal(t, "snap1", snapshot.ID)
	mockDB.AssertNotCalled(t, "InsertItemDiscounts", mock.Anything)
	mockDB.AssertNotCalled(t, "IncrementDiscountUses", "disc1")
}

func TestApplyDiscountConcurrentInsertDoesNotBurnUse(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved, Price: 9500}
	stored := models.BoughtItemDiscount{ID: "snap1", BoughtItemID: "item1", Code: "VOLUNTEER", Type: models.DiscountFlat, Amount: 2000}

	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	// Another request lands the snapshot between our check and insert.
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{}, nil).Once()
	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(testDiscount(), nil)
	mockDB.On("ListEligibleOptionIDs", "disc1").Return([]string{"option1"}, nil)
	mockDB.On("InsertItemDiscounts", mock.Anything).Return(int64(0), nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{stored}, nil).Once()

	snapshot, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	assert.NoError(t, err)
	assert.Equal(t, "snap1", snapshot.ID)
	mockDB.AssertNotCalled(t, "IncrementDiscountUses", "disc1")
}

func TestApplyDiscountUnknownCode(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved}
	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{}, nil)
	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "NOPE").Return(nil, sql.ErrNoRows)

	_, err := svc.ApplyDiscount("item1", "NOPE")

	var discErr *ledger.DiscountInvalidError
	assert.ErrorAs(t, err, &discErr)
	assert.Equal(t, "NOPE", discErr.Code)
}

func TestApplyDiscountIneligibleOption(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option9", Status: models.ItemReserved}
	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{}, nil)
	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(testDiscount(), nil)
	mockDB.On("ListEligibleOptionIDs", "disc1").Return([]string{"option1"}, nil)

	_, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	var discErr *ledger.DiscountInvalidError
	assert.ErrorAs(t, err, &discErr)
	mockDB.AssertNotCalled(t, "InsertItemDiscounts", mock.Anything)
}

func TestApplyDiscountRejectsSettledItem(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", Status: models.ItemBought}
	mockDB.On("GetBoughtItem", "item1").Return(item, nil)

	_, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	var discErr *ledger.DiscountInvalidError
	assert.ErrorAs(t, err, &discErr)
}

func TestApplyDiscountExhausted(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	used := testDiscount()
	used.MaxUses = 3
	used.Uses = 3

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved}
	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("ListItemDiscounts", "item1").Return([]models.BoughtItemDiscount{}, nil)
	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(used, nil)

	_, err := svc.ApplyDiscount("item1", "VOLUNTEER")

	var discErr *ledger.DiscountInvalidError
	assert.ErrorAs(t, err, &discErr)
	assert.Contains(t, discErr.Reason, "limit")
}

func TestEnterDiscountSnapshotsOpenItems(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	discount := testDiscount()
	items := []models.BoughtItem{
		{ID: "a", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemReserved},
		{ID: "b", OrderID: "order1", ItemOptionID: "option9", Status: models.ItemReserved}, // not eligible
		{ID: "c", OrderID: "order1", ItemOptionID: "option1", Status: models.ItemBought},   // already settled
	}

	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(discount, nil)
	mockDB.On("HasOrderDiscount", "order1", "disc1").Return(false, nil)
	mockDB.On("ListEligibleOptionIDs", "disc1").Return([]string{"option1"}, nil)
	mockDB.On("ListOrderItems", "order1").Return(items, nil)
	mockDB.On("AddOrderDiscount",
		mock.MatchedBy(func(od models.OrderDiscount) bool {
			return od.OrderID == "order1" && od.DiscountID == "disc1"
		}),
		mock.MatchedBy(func(snaps []models.BoughtItemDiscount) bool {
			return len(snaps) == 1 && snaps[0].BoughtItemID == "a"
		}),
	).Return(nil)
	mockDB.On("IncrementDiscountUses", "disc1").Return(nil)

	err := svc.EnterDiscount("order1", "VOLUNTEER")

	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestEnterDiscountTwiceIsNoop(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)
	mockDB.On("GetDiscountByCode", "event1", "VOLUNTEER").Return(testDiscount(), nil)
	mockDB.On("HasOrderDiscount", "order1", "disc1").Return(true, nil)

	err := svc.EnterDiscount("order1", "VOLUNTEER")

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "AddOrderDiscount", mock.Anything, mock.Anything)
	mockDB.AssertNotCalled(t, "IncrementDiscountUses", "disc1")
}

func TestSavingsCappedAtPrice(t *testing.T) {
	flat := models.BoughtItemDiscount{Type: models.DiscountFlat, Amount: 3000}
	assert.Equal(t, int64(2500), flat.Savings(2500))
	assert.Equal(t, int64(3000), flat.Savings(9500))

	percent := models.BoughtItemDiscount{Type: models.DiscountPercent, Amount: 50}
	assert.Equal(t, int64(4750), percent.Savings(9500))
}
