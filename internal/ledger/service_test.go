package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-ledger/internal/ledger"
	"ms-ledger/internal/ledger/db"
	"ms-ledger/internal/models"
)

// Mock implementations

type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateOrder(order models.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockDBLayer) GetOrderByID(id string) (*models.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockDBLayer) GetOrderByCode(eventID, code string) (*models.Order, error) {
	args := m.Called(eventID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockDBLayer) SetCartStartTime(orderID string, t time.Time) error {
	args := m.Called(orderID, t)
	return args.Error(0)
}

func (m *MockDBLayer) GetEvent(id string) (*models.Event, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Event), args.Error(1)
}

func (m *MockDBLayer) GetItemOption(id string) (*models.ItemOption, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ItemOption), args.Error(1)
}

func (m *MockDBLayer) GetBoughtItem(id string) (*models.BoughtItem, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BoughtItem), args.Error(1)
}

func (m *MockDBLayer) ListOrderItems(orderID string) ([]models.BoughtItem, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BoughtItem), args.Error(1)
}

func (m *MockDBLayer) CountActiveForOption(optionID string) (int, error) {
	args := m.Called(optionID)
	return args.Int(0), args.Error(1)
}

func (m *MockDBLayer) ReserveItem(item models.BoughtItem, totalNumber int) error {
	args := m.Called(item, totalNumber)
	return args.Error(0)
}

func (m *MockDBLayer) DeleteBoughtItem(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockDBLayer) MarkCartUnpaid(orderID string) ([]string, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBLayer) GetDiscountByCode(eventID, code string) (*models.Discount, error) {
	args := m.Called(eventID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Discount), args.Error(1)
}

func (m *MockDBLayer) ListEligibleOptionIDs(discountID string) ([]string, error) {
	args := m.Called(discountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBLayer) HasOrderDiscount(orderID, discountID string) (bool, error) {
	args := m.Called(orderID, discountID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDBLayer) AddOrderDiscount(od models.OrderDiscount, snapshots []models.BoughtItemDiscount) error {
	args := m.Called(od, snapshots)
	return args.Error(0)
}

func (m *MockDBLayer) InsertItemDiscounts(snapshots []models.BoughtItemDiscount) (int64, error) {
	args := m.Called(snapshots)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDBLayer) ListItemDiscounts(itemID string) ([]models.BoughtItemDiscount, error) {
	args := m.Called(itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BoughtItemDiscount), args.Error(1)
}

func (m *MockDBLayer) ListItemDiscountsForItems(itemIDs []string) ([]models.BoughtItemDiscount, error) {
	args := m.Called(itemIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.BoughtItemDiscount), args.Error(1)
}

func (m *MockDBLayer) ListOrderDiscounts(orderID string) ([]models.Discount, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Discount), args.Error(1)
}

func (m *MockDBLayer) IncrementDiscountUses(discountID string) error {
	args := m.Called(discountID)
	return args.Error(0)
}

func (m *MockDBLayer) RecordTransaction(txn models.Transaction, itemIDs []string, newStatus models.ItemStatus, clearCart bool) error {
	args := m.Called(txn, itemIDs, newStatus, clearCart)
	return args.Error(0)
}

func (m *MockDBLayer) GetTransaction(id string) (*models.Transaction, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockDBLayer) GetTransactionByRemoteID(remoteID string) (*models.Transaction, error) {
	args := m.Called(remoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockDBLayer) ConfirmTransaction(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockDBLayer) ListOrderTransactions(orderID string) ([]models.Transaction, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockDBLayer) ListTransactionsForItems(itemIDs []string) ([]models.Transaction, error) {
	args := m.Called(itemIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockDBLayer) ListTransactionItemIDs(txnID string) ([]string, error) {
	args := m.Called(txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBLayer) SumRelatedRefunds(txnID string) (int64, error) {
	args := m.Called(txnID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDBLayer) TransferItem(fromTxn models.Transaction, sourceItemID string, clone models.BoughtItem, toTxn models.Transaction) error {
	args := m.Called(fromTxn, sourceItemID, clone, toTxn)
	return args.Error(0)
}

func (m *MockDBLayer) ListOpenCarts() ([]db.OpenCart, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.OpenCart), args.Error(1)
}

func (m *MockDBLayer) ExpireCart(orderID string) ([]string, error) {
	args := m.Called(orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDBLayer) CreateAttendee(attendee models.Attendee) error {
	args := m.Called(attendee)
	return args.Error(0)
}

func (m *MockDBLayer) GetAttendee(id string) (*models.Attendee, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Attendee), args.Error(1)
}

func (m *MockDBLayer) AssignAttendee(itemID, attendeeID string) error {
	args := m.Called(itemID, attendeeID)
	return args.Error(0)
}

type MockOptionLock struct {
	mock.Mock
}

func (m *MockOptionLock) LockOption(optionID, orderID string) (bool, error) {
	args := m.Called(optionID, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockOptionLock) UnlockOption(optionID, orderID string) error {
	args := m.Called(optionID, orderID)
	return args.Error(0)
}

func (m *MockOptionLock) WaitOption(optionID, orderID string, deadline time.Duration) (bool, error) {
	args := m.Called(optionID, orderID, deadline)
	return args.Bool(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(event models.LedgerEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

// Shared fixtures

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestService(mockDB *MockDBLayer, mockLock *MockOptionLock, mockKafka *MockPublisher) *ledger.Service {
	svc := ledger.NewService(mockDB, mockLock, mockKafka)
	svc.Now = func() time.Time { return testNow }
	return svc
}

func testEvent() *models.Event {
	return &models.Event{
		ID:          "event1",
		Name:        "Spring Exchange",
		Slug:        "spring-exchange",
		Currency:    "usd",
		CartTimeout: 15,
	}
}

func testOption(price int64, total int) *models.ItemOption {
	return &models.ItemOption{
		ID:             "option1",
		ItemID:         "item1",
		Name:           "Early Bird",
		Price:          price,
		TotalNumber:    total,
		AvailableStart: testNow.Add(-24 * time.Hour),
		AvailableEnd:   testNow.Add(24 * time.Hour),
		Item: &models.Item{
			ID:          "item1",
			EventID:     "event1",
			Name:        "Full Weekend Pass",
			Description: "All classes and dances",
		},
	}
}

// Tests start here

func TestCreateOrder(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	mockDB.On("GetEvent", "event1").Return(testEvent(), nil)
	mockDB.On("CreateOrder", mock.MatchedBy(func(o models.Order) bool {
		return o.EventID == "event1" && len(o.Code) == 8
	})).Return(nil)

	order, err := svc.CreateOrder("event1", "user1", "buyer@example.com")

	assert.NoError(t, err)
	assert.Equal(t, "event1", order.EventID)
	assert.Len(t, order.Code, 8)
	assert.Equal(t, testNow, order.CreatedAt)
	mockDB.AssertExpectations(t)

	// Unknown event
	mockDB.On("GetEvent", "missing").Return(nil, errors.New("not found"))
	_, err = svc.CreateOrder("missing", "user1", "")
	assert.Error(t, err)
}

func TestLookupOrderByCode(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	mockDB.On("GetOrderByCode", "event1", "xyzw2345").Return(&models.Order{ID: "order1", EventID: "event1"}, nil)

	order, err := svc.LookupOrder("event1", "xyzw2345")
	assert.NoError(t, err)
	assert.Equal(t, "order1", order.ID)
}

func TestReserveItemSnapshotsCatalog(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLock := new(MockOptionLock)
	mockKafka := new(MockPublisher)
	svc := newTestService(mockDB, mockLock, mockKafka)

	order := &models.Order{ID: "order1", EventID: "event1"}
	option := testOption(9500, 100)

	mockDB.On("GetOrderByID", "order1").Return(order, nil)
	mockDB.On("GetEvent", "event1").Return(testEvent(), nil)
	mockDB.On("GetItemOption", "option1").Return(option, nil)
	mockLock.On("WaitOption", "option1", "order1", mock.Anything).Return(true, nil)
	mockLock.On("UnlockOption", "option1", "order1").Return(nil)
	mockDB.On("ReserveItem", mock.MatchedBy(func(item models.BoughtItem) bool {
		return item.OrderID == "order1" &&
			item.Status == models.ItemReserved &&
			item.ItemName == "Full Weekend Pass" &&
			item.ItemOptionName == "Early Bird" &&
			item.Price == int64(9500)
	}), 100).Return(nil)
	mockDB.On("ListOrderDiscounts", "order1").Return([]models.Discount{}, nil)
	mockDB.On("InsertItemDiscounts", mock.Anything).Return(int64(0), nil)
	mockDB.On("SetCartStartTime", "order1", testNow).Return(nil)
	mockKafka.On("Publish", mock.Anything).Return(nil)

	item, err := svc.ReserveItem("order1", "option1", "")

	assert.NoError(t, err)
	assert.Equal(t, models.ItemReserved, item.Status)
	assert.Equal(t, "Full Weekend Pass", item.ItemName)
	assert.Equal(t, int64(9500), item.Price)
	mockDB.AssertExpectations(t)
	mockLock.AssertExpectations(t)
}

func TestReserveItemSoldOut(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLock := new(MockOptionLock)
	svc := newTestService(mockDB, mockLock, new(MockPublisher))

	order := &models.Order{ID: "order1", EventID: "event1"}
	option := testOption(9500, 1)

	mockDB.On("GetOrderByID", "order1").Return(order, nil)
	mockDB.On("GetEvent", "event1").Return(testEvent(), nil)
	mockDB.On("GetItemOption", "option1").Return(option, nil)
	mockLock.On("WaitOption", "option1", "order1", mock.Anything).Return(true, nil)
	mockLock.On("UnlockOption", "option1", "order1").Return(nil)
	mockDB.On("ReserveItem", mock.Anything, 1).Return(db.ErrSoldOut)
	mockDB.On("CountActiveForOption", "option1").Return(1, nil)

	_, err := svc.ReserveItem("order1", "option1", "")

	var capErr *ledger.CapacityError
	assert.ErrorAs(t, err, &capErr)
	assert.Equal(t, "option1", capErr.ItemOptionID)
	assert.Equal(t, 1, capErr.Total)
	assert.Equal(t, 1, capErr.Taken)
	mockDB.AssertExpectations(t)
}

func TestReserveItemNotOnSale(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	order := &models.Order{ID: "order1", EventID: "event1"}
	option := testOption(9500, 0)
	option.AvailableEnd = testNow.Add(-time.Hour)

	mockDB.On("GetOrderByID", "order1").Return(order, nil)
	mockDB.On("GetEvent", "event1").Return(testEvent(), nil)
	mockDB.On("GetItemOption", "option1").Return(option, nil)

	_, err := svc.ReserveItem("order1", "option1", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not on sale")
}

func TestReserveItemExpiresStaleCart(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockLock := new(MockOptionLock)
	mockKafka := new(MockPublisher)
	svc := newTestService(mockDB, mockLock, mockKafka)

	// Cart started 20 minutes ago with a 15 minute timeout.
	order := &models.Order{
		ID:            "order1",
		EventID:       "event1",
		CartStartTime: testNow.Add(-20 * time.Minute),
	}
	option := testOption(9500, 0)

	mockDB.On("GetOrderByID", "order1").Return(order, nil)
	mockDB.On("GetEvent", "event1").Return(testEvent(), nil)
	mockDB.On("ExpireCart", "order1").Return([]string{"stale1"}, nil)
	mockDB.On("GetItemOption", "option1").Return(option, nil)
	mockLock.On("WaitOption", "option1", "order1", mock.Anything).Return(true, nil)
	mockLock.On("UnlockOption", "option1", "order1").Return(nil)
	mockDB.On("ReserveItem", mock.Anything, 0).Return(nil)
	mockDB.On("ListOrderDiscounts", "order1").Return([]models.Discount{}, nil)
	mockDB.On("InsertItemDiscounts", mock.Anything).Return(int64(0), nil)
	mockDB.On("SetCartStartTime", "order1", testNow).Return(nil)
	mockKafka.On("Publish", mock.Anything).Return(nil)

	_, err := svc.ReserveItem("order1", "option1", "")

	assert.NoError(t, err)
	mockDB.AssertCalled(t, "ExpireCart", "order1")
	mockDB.AssertCalled(t, "SetCartStartTime", "order1", testNow)
}

func TestRemoveFromCartStopsClock(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", Status: models.ItemReserved}
	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("DeleteBoughtItem", "item1").Return(nil)
	// No reserved items remain, so the cart clock is cleared.
	mockDB.On("ListOrderItems", "order1").Return([]models.BoughtItem{
		{ID: "item2", OrderID: "order1", Status: models.ItemBought},
	}, nil)
	mockDB.On("SetCartStartTime", "order1", time.Time{}).Return(nil)

	err := svc.RemoveFromCart("item1")
	assert.NoError(t, err)
	mockDB.AssertExpectations(t)

	// A bought item cannot be removed.
	bought := &models.BoughtItem{ID: "item3", OrderID: "order1", Status: models.ItemBought}
	mockDB.On("GetBoughtItem", "item3").Return(bought, nil)
	err = svc.RemoveFromCart("item3")
	assert.Error(t, err)
}

func TestExpireReservations(t *testing.T) {
	mockDB := new(MockDBLayer)
	mockKafka := new(MockPublisher)
	svc := newTestService(mockDB, new(MockOptionLock), mockKafka)

	stale := db.OpenCart{CartTimeout: 15}
	stale.Order = models.Order{ID: "stale", EventID: "event1", CartStartTime: testNow.Add(-30 * time.Minute)}
	fresh := db.OpenCart{CartTimeout: 15}
	fresh.Order = models.Order{ID: "fresh", EventID: "event1", CartStartTime: testNow.Add(-5 * time.Minute)}

	mockDB.On("ListOpenCarts").Return([]db.OpenCart{stale, fresh}, nil)
	mockDB.On("ExpireCart", "stale").Return([]string{"a", "b"}, nil)
	mockKafka.On("Publish", mock.MatchedBy(func(e models.LedgerEvent) bool {
		return e.Type == "reservation.expired" && e.OrderID == "stale"
	})).Return(nil)

	n, err := svc.ExpireReservations(testNow)

	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	mockDB.AssertNotCalled(t, "ExpireCart", "fresh")

	// Second sweep finds nothing to release.
	mockDB.ExpectedCalls = nil
	mockDB.On("ListOpenCarts").Return([]db.OpenCart{fresh}, nil)
	n, err = svc.ExpireReservations(testNow)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAssignItem(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	item := &models.BoughtItem{ID: "item1", OrderID: "order1", Status: models.ItemBought}
	attendee := &models.Attendee{ID: "att1", OrderID: "order1", GivenName: "Frankie", Surname: "Manning"}

	mockDB.On("GetBoughtItem", "item1").Return(item, nil)
	mockDB.On("GetAttendee", "att1").Return(attendee, nil)
	mockDB.On("AssignAttendee", "item1", "att1").Return(nil)

	assert.NoError(t, svc.AssignItem("item1", "att1"))

	// Attendee on another order is rejected.
	stranger := &models.Attendee{ID: "att2", OrderID: "other", GivenName: "Norma", Surname: "Miller"}
	mockDB.On("GetAttendee", "att2").Return(stranger, nil)
	err := svc.AssignItem("item1", "att2")
	assert.Error(t, err)
	mockDB.AssertNotCalled(t, "AssignAttendee", "item1", "att2")
}

func TestAddAttendeeDefaults(t *testing.T) {
	mockDB := new(MockDBLayer)
	svc := newTestService(mockDB, new(MockOptionLock), new(MockPublisher))

	mockDB.On("GetOrderByID", "order1").Return(&models.Order{ID: "order1"}, nil)
	mockDB.On("CreateAttendee", mock.MatchedBy(func(a models.Attendee) bool {
		return a.ID != "" && a.NameOrder == models.NameOrderGMS
	})).Return(nil)

	created, err := svc.AddAttendee(models.Attendee{
		OrderID:   "order1",
		GivenName: "Frankie",
		Surname:   "Manning",
	})

	assert.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.NameOrderGMS, created.NameOrder)
	mockDB.AssertExpectations(t)
}
