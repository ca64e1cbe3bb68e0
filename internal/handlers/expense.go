package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"partnerqueue/internal/database"
	"partnerqueue/internal/domain"
	"partnerqueue/internal/models"
	"partnerqueue/internal/queue"
	"partnerqueue/internal/service"
)

// Operation keys of the expense family.
const (
	KeyExpenseCreate         = "Expense.Create"
	KeyExpenseUpdateByID     = "Expense.UpdateById"
	KeyExpenseUpdateByNumber = "Expense.UpdateByNumber"
	KeyExpenseDelete         = "Expense.Delete"
	KeyExpenseRoomAdd        = "Expense.Room.Add"
	KeyExpenseRoomUpdate     = "Expense.Room.Update"
	KeyExpenseRoomDelete     = "Expense.Room.Delete"
)

var (
	ErrMissingTarget      = errors.New("queue item has no target id")
	ErrMissingBusinessRef = errors.New("queue item has no business reference")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// ExpenseServices builds the expense service bound to one tenant database.
type ExpenseServices func(db *database.DB) domain.ExpenseService

// DefaultExpenseServices returns the factory used in production.
func DefaultExpenseServices(logger *zerolog.Logger) ExpenseServices {
	return func(db *database.DB) domain.ExpenseService {
		return service.NewExpenseService(db, logger)
	}
}

// Expense turns queued expense operations into expense service calls.
type Expense struct {
	services ExpenseServices
	logger   zerolog.Logger
}

func NewExpense(services ExpenseServices, logger *zerolog.Logger) *Expense {
	h := &Expense{services: services, logger: zerolog.Nop()}
	if logger != nil {
		h.logger = logger.With().Str("component", "expense_handlers").Logger()
	}
	return h
}

// Handlers lists one queue handler per expense operation key.
func (h *Expense) Handlers() []queue.Handler {
	return []queue.Handler{
		queue.NewHandlerFunc(KeyExpenseCreate, h.create),
		queue.NewHandlerFunc(KeyExpenseUpdateByID, h.updateByID),
		queue.NewHandlerFunc(KeyExpenseUpdateByNumber, h.updateByNumber),
		queue.NewHandlerFunc(KeyExpenseDelete, h.delete),
		queue.NewHandlerFunc(KeyExpenseRoomAdd, h.addRoom),
		queue.NewHandlerFunc(KeyExpenseRoomUpdate, h.updateRoom),
		queue.NewHandlerFunc(KeyExpenseRoomDelete, h.deleteRoom),
	}
}

// All returns every handler the application registers.
func All(services ExpenseServices, logger *zerolog.Logger) []queue.Handler {
	return NewExpense(services, logger).Handlers()
}

func (h *Expense) create(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	var in models.CreateExpenseInput
	if err := decode(item, &in); err != nil {
		return err
	}
	e, err := h.services(db).Create(ctx, in)
	if err != nil {
		return err
	}
	h.logger.Debug().Int64("expense_id", e.ID).Str("request_ref", item.RequestRef).Msg("expense created")
	return nil
}

func (h *Expense) updateByID(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	id, err := target(item)
	if err != nil {
		return err
	}
	var in models.UpdateExpenseInput
	if err := decode(item, &in); err != nil {
		return err
	}
	_, err = h.services(db).Update(ctx, id, in)
	return err
}

func (h *Expense) updateByNumber(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	if item.BusinessRef == nil || strings.TrimSpace(*item.BusinessRef) == "" {
		return fmt.Errorf("%w: request_ref=%s", ErrMissingBusinessRef, item.RequestRef)
	}
	var in models.UpdateExpenseInput
	if err := decode(item, &in); err != nil {
		return err
	}
	_, err := h.services(db).UpdateByNumber(ctx, *item.BusinessRef, in)
	return err
}

func (h *Expense) delete(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	id, err := target(item)
	if err != nil {
		return err
	}
	return h.services(db).Delete(ctx, id)
}

// addRoom targets the parent expense.
func (h *Expense) addRoom(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	expenseID, err := target(item)
	if err != nil {
		return err
	}
	var in models.CreateExpenseRoomInput
	if err := decode(item, &in); err != nil {
		return err
	}
	_, err = h.services(db).AddRoom(ctx, expenseID, in)
	return err
}

func (h *Expense) updateRoom(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	roomID, err := target(item)
	if err != nil {
		return err
	}
	var in models.UpdateExpenseRoomInput
	if err := decode(item, &in); err != nil {
		return err
	}
	_, err = h.services(db).UpdateRoom(ctx, roomID, in)
	return err
}

func (h *Expense) deleteRoom(ctx context.Context, item *models.QueueItem, db *database.DB) error {
	roomID, err := target(item)
	if err != nil {
		return err
	}
	return h.services(db).DeleteRoom(ctx, roomID)
}

func target(item *models.QueueItem) (int64, error) {
	if item.TargetID == nil || *item.TargetID <= 0 {
		return 0, fmt.Errorf("%w: request_ref=%s", ErrMissingTarget, item.RequestRef)
	}
	return *item.TargetID, nil
}

func decode(item *models.QueueItem, v any) error {
	body := strings.TrimSpace(item.PayloadJSON)
	if body == "" {
		body = "{}"
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("%w for %s request_ref=%s: %v", ErrInvalidPayload, item.Key(), item.RequestRef, err)
	}
	return nil
}
