package domain

import (
	"context"

	"partnerqueue/internal/models"
)

// ExpenseRepository is the tenant-scoped storage used by the expense service.
// *database.DB implements it.
type ExpenseRepository interface {
	GetHotelSettings(ctx context.Context) (*models.HotelSettings, error)
	GetApartment(ctx context.Context, id, hotelID int64) (*models.Apartment, error)
	CreateExpense(ctx context.Context, e *models.Expense) error
	GetExpense(ctx context.Context, id int64) (*models.Expense, error)
	GetExpenseByNumber(ctx context.Context, expenseNo string) (*models.Expense, error)
	ListExpenses(ctx context.Context, limit int) ([]models.Expense, error)
	UpdateExpense(ctx context.Context, e *models.Expense) error
	DeleteExpense(ctx context.Context, id int64) error
	CreateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error
	GetExpenseRoom(ctx context.Context, id int64) (*models.ExpenseRoom, error)
	UpdateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error
	DeleteExpenseRoom(ctx context.Context, id int64) error
}

// ExpenseService is the domain logic replayed by queued expense operations
// and called directly when queue mode is off.
type ExpenseService interface {
	Create(ctx context.Context, in models.CreateExpenseInput) (*models.Expense, error)
	Get(ctx context.Context, id int64) (*models.Expense, error)
	List(ctx context.Context, limit int) ([]models.Expense, error)
	Update(ctx context.Context, id int64, in models.UpdateExpenseInput) (*models.Expense, error)
	UpdateByNumber(ctx context.Context, expenseNo string, in models.UpdateExpenseInput) (*models.Expense, error)
	Delete(ctx context.Context, id int64) error
	AddRoom(ctx context.Context, expenseID int64, in models.CreateExpenseRoomInput) (*models.ExpenseRoom, error)
	UpdateRoom(ctx context.Context, roomID int64, in models.UpdateExpenseRoomInput) (*models.ExpenseRoom, error)
	DeleteRoom(ctx context.Context, roomID int64) error
}

// Enqueuer records a deferred partner operation and returns its tracking token.
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (string, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
