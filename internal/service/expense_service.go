package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"partnerqueue/internal/database"
	"partnerqueue/internal/domain"
	"partnerqueue/internal/models"
)

var (
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrExpenseRoomNotFound  = errors.New("expense room not found")
	ErrApartmentNotFound    = errors.New("apartment not found")
	ErrHotelSettingsMissing = errors.New("hotel settings not found")
	ErrInvalidExpense       = errors.New("invalid expense")
)

type ExpenseService struct {
	repo   domain.ExpenseRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewExpenseService(repo domain.ExpenseRepository, logger *zerolog.Logger) *ExpenseService {
	s := &ExpenseService{repo: repo, logger: zerolog.Nop(), now: time.Now}
	if logger != nil {
		s.logger = logger.With().Str("component", "expense_service").Logger()
	}
	return s
}

// Create stores a new expense for the tenant's hotel. Rooms pointing at unknown
// apartments are skipped.
func (s *ExpenseService) Create(ctx context.Context, in models.CreateExpenseInput) (*models.Expense, error) {
	if in.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: total amount must not be negative", ErrInvalidExpense)
	}

	hs, err := s.repo.GetHotelSettings(ctx)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrHotelSettingsMissing
		}
		return nil, err
	}

	e := &models.Expense{
		HotelID:           hs.HotelID,
		ExpenseNo:         trimmed(in.ExpenseNo),
		DateTime:          in.DateTime,
		Comment:           in.Comment,
		ExpenseCategoryID: in.ExpenseCategoryID,
		TaxRate:           in.TaxRate,
		TaxAmount:         in.TaxAmount,
		TotalAmount:       in.TotalAmount,
	}
	if e.DateTime.IsZero() {
		e.DateTime = s.now()
	}

	for _, room := range in.ExpenseRooms {
		if _, err := s.repo.GetApartment(ctx, room.ApartmentID, hs.HotelID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				s.logger.Warn().Int64("apartment_id", room.ApartmentID).Msg("skipping expense room for unknown apartment")
				continue
			}
			return nil, err
		}
		e.Rooms = append(e.Rooms, models.ExpenseRoom{ApartmentID: room.ApartmentID, Purpose: room.Purpose})
	}

	if err := s.repo.CreateExpense(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *ExpenseService) Get(ctx context.Context, id int64) (*models.Expense, error) {
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrExpenseNotFound, id)
	}
	return e, nil
}

func (s *ExpenseService) List(ctx context.Context, limit int) ([]models.Expense, error) {
	return s.repo.ListExpenses(ctx, limit)
}

func (s *ExpenseService) Update(ctx context.Context, id int64, in models.UpdateExpenseInput) (*models.Expense, error) {
	e, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrExpenseNotFound, id)
	}
	return s.applyUpdate(ctx, e, in)
}

// UpdateByNumber updates the expense carrying the given business number.
func (s *ExpenseService) UpdateByNumber(ctx context.Context, expenseNo string, in models.UpdateExpenseInput) (*models.Expense, error) {
	expenseNo = strings.TrimSpace(expenseNo)
	if expenseNo == "" {
		return nil, fmt.Errorf("%w: expense number is required", ErrInvalidExpense)
	}
	e, err := s.repo.GetExpenseByNumber(ctx, expenseNo)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: number %s", ErrExpenseNotFound, expenseNo)
		}
		return nil, err
	}
	return s.applyUpdate(ctx, e, in)
}

func (s *ExpenseService) applyUpdate(ctx context.Context, e *models.Expense, in models.UpdateExpenseInput) (*models.Expense, error) {
	if in.DateTime != nil {
		e.DateTime = *in.DateTime
	}
	if in.Comment != nil {
		e.Comment = in.Comment
	}
	if in.ExpenseCategoryID != nil {
		e.ExpenseCategoryID = in.ExpenseCategoryID
	}
	if in.TaxRate != nil {
		e.TaxRate = in.TaxRate
	}
	if in.TaxAmount != nil {
		e.TaxAmount = in.TaxAmount
	}
	if in.TotalAmount != nil {
		if *in.TotalAmount < 0 {
			return nil, fmt.Errorf("%w: total amount must not be negative", ErrInvalidExpense)
		}
		e.TotalAmount = *in.TotalAmount
	}

	if err := s.repo.UpdateExpense(ctx, e); err != nil {
		return nil, notFound(err, ErrExpenseNotFound, e.ID)
	}
	return e, nil
}

func (s *ExpenseService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteExpense(ctx, id); err != nil {
		return notFound(err, ErrExpenseNotFound, id)
	}
	return nil
}

func (s *ExpenseService) AddRoom(ctx context.Context, expenseID int64, in models.CreateExpenseRoomInput) (*models.ExpenseRoom, error) {
	e, err := s.repo.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, notFound(err, ErrExpenseNotFound, expenseID)
	}
	if _, err := s.repo.GetApartment(ctx, in.ApartmentID, e.HotelID); err != nil {
		return nil, notFound(err, ErrApartmentNotFound, in.ApartmentID)
	}

	room := &models.ExpenseRoom{ExpenseID: e.ID, ApartmentID: in.ApartmentID, Purpose: in.Purpose}
	if err := s.repo.CreateExpenseRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *ExpenseService) UpdateRoom(ctx context.Context, roomID int64, in models.UpdateExpenseRoomInput) (*models.ExpenseRoom, error) {
	room, err := s.repo.GetExpenseRoom(ctx, roomID)
	if err != nil {
		return nil, notFound(err, ErrExpenseRoomNotFound, roomID)
	}

	if in.ApartmentID != nil {
		e, err := s.repo.GetExpense(ctx, room.ExpenseID)
		if err != nil {
			return nil, notFound(err, ErrExpenseNotFound, room.ExpenseID)
		}
		if _, err := s.repo.GetApartment(ctx, *in.ApartmentID, e.HotelID); err != nil {
			return nil, notFound(err, ErrApartmentNotFound, *in.ApartmentID)
		}
		room.ApartmentID = *in.ApartmentID
	}
	if in.Purpose != nil {
		room.Purpose = in.Purpose
	}

	if err := s.repo.UpdateExpenseRoom(ctx, room); err != nil {
		return nil, notFound(err, ErrExpenseRoomNotFound, roomID)
	}
	return room, nil
}

func (s *ExpenseService) DeleteRoom(ctx context.Context, roomID int64) error {
	if err := s.repo.DeleteExpenseRoom(ctx, roomID); err != nil {
		return notFound(err, ErrExpenseRoomNotFound, roomID)
	}
	return nil
}

// notFound maps a store miss to the domain sentinel and passes other errors through.
func notFound(err, sentinel error, id int64) error {
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %d", sentinel, id)
	}
	return err
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	return models.StringPtr(strings.TrimSpace(*p))
}
