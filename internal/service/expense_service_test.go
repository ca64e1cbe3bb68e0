package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"partnerqueue/internal/database"
	"partnerqueue/internal/models"
)

// MockExpenseRepository is a mock of the domain.ExpenseRepository interface
type MockExpenseRepository struct {
	mock.Mock
}

func (m *MockExpenseRepository) GetHotelSettings(ctx context.Context) (*models.HotelSettings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HotelSettings), args.Error(1)
}

func (m *MockExpenseRepository) GetApartment(ctx context.Context, id, hotelID int64) (*models.Apartment, error) {
	args := m.Called(ctx, id, hotelID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Apartment), args.Error(1)
}

func (m *MockExpenseRepository) CreateExpense(ctx context.Context, e *models.Expense) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockExpenseRepository) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Expense), args.Error(1)
}

func (m *MockExpenseRepository) GetExpenseByNumber(ctx context.Context, expenseNo string) (*models.Expense, error) {
	args := m.Called(ctx, expenseNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Expense), args.Error(1)
}

func (m *MockExpenseRepository) ListExpenses(ctx context.Context, limit int) ([]models.Expense, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.Expense), args.Error(1)
}

func (m *MockExpenseRepository) UpdateExpense(ctx context.Context, e *models.Expense) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockExpenseRepository) DeleteExpense(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockExpenseRepository) CreateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockExpenseRepository) GetExpenseRoom(ctx context.Context, id int64) (*models.ExpenseRoom, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExpenseRoom), args.Error(1)
}

func (m *MockExpenseRepository) UpdateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockExpenseRepository) DeleteExpenseRoom(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func newTestExpenseService(repo *MockExpenseRepository) *ExpenseService {
	logger := zerolog.Nop()
	return NewExpenseService(repo, &logger)
}

func TestExpenseService_Create(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("GetHotelSettings", ctx).Return(&models.HotelSettings{HotelID: 7}, nil)
	repo.On("GetApartment", ctx, int64(1), int64(7)).Return(&models.Apartment{ID: 1, HotelID: 7}, nil)
	repo.On("GetApartment", ctx, int64(99), int64(7)).Return(nil, database.ErrNotFound)
	repo.On("CreateExpense", ctx, mock.MatchedBy(func(e *models.Expense) bool {
		return e.HotelID == 7 && len(e.Rooms) == 1 && e.Rooms[0].ApartmentID == 1
	})).Return(nil)

	e, err := svc.Create(ctx, models.CreateExpenseInput{
		ExpenseNo:   models.StringPtr("  EX-1 "),
		TotalAmount: 120.5,
		ExpenseRooms: []models.CreateExpenseRoomInput{
			{ApartmentID: 1},
			{ApartmentID: 99},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "EX-1", *e.ExpenseNo)
	assert.False(t, e.DateTime.IsZero())
	repo.AssertExpectations(t)
}

func TestExpenseService_Create_NoHotelSettings(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("GetHotelSettings", ctx).Return(nil, database.ErrNotFound)

	_, err := svc.Create(ctx, models.CreateExpenseInput{TotalAmount: 1})
	assert.ErrorIs(t, err, ErrHotelSettingsMissing)
	repo.AssertNotCalled(t, "CreateExpense", mock.Anything, mock.Anything)
}

func TestExpenseService_Create_NegativeTotal(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)

	_, err := svc.Create(context.Background(), models.CreateExpenseInput{TotalAmount: -1})
	assert.ErrorIs(t, err, ErrInvalidExpense)
	repo.AssertExpectations(t)
}

func TestExpenseService_Update(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	existing := &models.Expense{ID: 5, HotelID: 7, TotalAmount: 10, DateTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo.On("GetExpense", ctx, int64(5)).Return(existing, nil)
	repo.On("UpdateExpense", ctx, existing).Return(nil)

	total := 42.0
	e, err := svc.Update(ctx, 5, models.UpdateExpenseInput{TotalAmount: &total, Comment: models.StringPtr("fixed")})
	require.NoError(t, err)
	assert.Equal(t, 42.0, e.TotalAmount)
	assert.Equal(t, "fixed", *e.Comment)
	assert.Equal(t, 2024, e.DateTime.Year())
	repo.AssertExpectations(t)
}

func TestExpenseService_Update_Missing(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("GetExpense", ctx, int64(5)).Return(nil, database.ErrNotFound)

	_, err := svc.Update(ctx, 5, models.UpdateExpenseInput{})
	assert.ErrorIs(t, err, ErrExpenseNotFound)
}

func TestExpenseService_UpdateByNumber(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	existing := &models.Expense{ID: 5, ExpenseNo: models.StringPtr("EX-9")}
	repo.On("GetExpenseByNumber", ctx, "EX-9").Return(existing, nil)
	repo.On("GetExpenseByNumber", ctx, "EX-0").Return(nil, database.ErrNotFound)
	repo.On("UpdateExpense", ctx, existing).Return(nil)

	_, err := svc.UpdateByNumber(ctx, " EX-9 ", models.UpdateExpenseInput{Comment: models.StringPtr("x")})
	require.NoError(t, err)

	_, err = svc.UpdateByNumber(ctx, "EX-0", models.UpdateExpenseInput{})
	assert.ErrorIs(t, err, ErrExpenseNotFound)

	_, err = svc.UpdateByNumber(ctx, "  ", models.UpdateExpenseInput{})
	assert.ErrorIs(t, err, ErrInvalidExpense)
}

func TestExpenseService_Delete(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("DeleteExpense", ctx, int64(1)).Return(nil)
	repo.On("DeleteExpense", ctx, int64(2)).Return(database.ErrNotFound)
	repo.On("DeleteExpense", ctx, int64(3)).Return(errors.New("disk full"))

	assert.NoError(t, svc.Delete(ctx, 1))
	assert.ErrorIs(t, svc.Delete(ctx, 2), ErrExpenseNotFound)

	err := svc.Delete(ctx, 3)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExpenseNotFound)
}

func TestExpenseService_AddRoom(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("GetExpense", ctx, int64(5)).Return(&models.Expense{ID: 5, HotelID: 7}, nil)
	repo.On("GetExpense", ctx, int64(6)).Return(nil, database.ErrNotFound)
	repo.On("GetApartment", ctx, int64(1), int64(7)).Return(&models.Apartment{ID: 1}, nil)
	repo.On("GetApartment", ctx, int64(2), int64(7)).Return(nil, database.ErrNotFound)
	repo.On("CreateExpenseRoom", ctx, mock.AnythingOfType("*models.ExpenseRoom")).Return(nil)

	room, err := svc.AddRoom(ctx, 5, models.CreateExpenseRoomInput{ApartmentID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(5), room.ExpenseID)

	_, err = svc.AddRoom(ctx, 5, models.CreateExpenseRoomInput{ApartmentID: 2})
	assert.ErrorIs(t, err, ErrApartmentNotFound)

	_, err = svc.AddRoom(ctx, 6, models.CreateExpenseRoomInput{ApartmentID: 1})
	assert.ErrorIs(t, err, ErrExpenseNotFound)

	repo.AssertNumberOfCalls(t, "CreateExpenseRoom", 1)
}

func TestExpenseService_UpdateRoom(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	room := &models.ExpenseRoom{ID: 3, ExpenseID: 5, ApartmentID: 1}
	repo.On("GetExpenseRoom", ctx, int64(3)).Return(room, nil)
	repo.On("GetExpenseRoom", ctx, int64(4)).Return(nil, database.ErrNotFound)
	repo.On("GetExpense", ctx, int64(5)).Return(&models.Expense{ID: 5, HotelID: 7}, nil)
	repo.On("GetApartment", ctx, int64(2), int64(7)).Return(&models.Apartment{ID: 2}, nil)
	repo.On("UpdateExpenseRoom", ctx, room).Return(nil)

	apt := int64(2)
	updated, err := svc.UpdateRoom(ctx, 3, models.UpdateExpenseRoomInput{ApartmentID: &apt, Purpose: models.StringPtr("cleaning")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.ApartmentID)
	assert.Equal(t, "cleaning", *updated.Purpose)

	_, err = svc.UpdateRoom(ctx, 4, models.UpdateExpenseRoomInput{})
	assert.ErrorIs(t, err, ErrExpenseRoomNotFound)
}

func TestExpenseService_DeleteRoom(t *testing.T) {
	repo := new(MockExpenseRepository)
	svc := newTestExpenseService(repo)
	ctx := context.Background()

	repo.On("DeleteExpenseRoom", ctx, int64(3)).Return(nil)
	repo.On("DeleteExpenseRoom", ctx, int64(4)).Return(database.ErrNotFound)

	assert.NoError(t, svc.DeleteRoom(ctx, 3))
	assert.ErrorIs(t, svc.DeleteRoom(ctx, 4), ErrExpenseRoomNotFound)
}
