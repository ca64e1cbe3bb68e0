package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"partnerqueue/internal/models"
)

func (db *DB) GetHotelSettings(ctx context.Context) (*models.HotelSettings, error) {
	var hs models.HotelSettings
	err := db.QueryRowContext(ctx,
		`SELECT id, hotel_id, hotel_name, created_at FROM hotel_settings ORDER BY id LIMIT 1`).
		Scan(&hs.ID, &hs.HotelID, &hs.HotelName, &hs.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get hotel settings: %w", err)
	}
	return &hs, nil
}

// SaveHotelSettings replaces the single settings row.
func (db *DB) SaveHotelSettings(ctx context.Context, hs *models.HotelSettings) error {
	now := db.Now()
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM hotel_settings`); err != nil {
			return fmt.Errorf("failed to clear hotel settings: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO hotel_settings (hotel_id, hotel_name, created_at) VALUES (?, ?, ?)`,
			hs.HotelID, hs.HotelName, now)
		if err != nil {
			return fmt.Errorf("failed to save hotel settings: %w", err)
		}
		hs.ID, _ = res.LastInsertId()
		hs.CreatedAt = now
		return nil
	})
}

func (db *DB) CreateApartment(ctx context.Context, a *models.Apartment) error {
	res, err := db.ExecContext(ctx,
		`INSERT INTO apartments (hotel_id, code, name) VALUES (?, ?, ?)`, a.HotelID, a.Code, a.Name)
	if err != nil {
		return fmt.Errorf("failed to create apartment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id
	return nil
}

// GetApartment looks the apartment up within the given hotel.
func (db *DB) GetApartment(ctx context.Context, id, hotelID int64) (*models.Apartment, error) {
	var a models.Apartment
	err := db.QueryRowContext(ctx,
		`SELECT id, hotel_id, code, name FROM apartments WHERE id = ? AND hotel_id = ?`, id, hotelID).
		Scan(&a.ID, &a.HotelID, &a.Code, &a.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get apartment: %w", err)
	}
	return &a, nil
}

// CreateExpense inserts the expense and its rooms in one transaction.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) error {
	now := db.Now()
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO expenses
            (hotel_id, expense_no, date_time, comment, expense_category_id, tax_rate, tax_amount, total_amount, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.HotelID, nullString(e.ExpenseNo), e.DateTime, nullString(e.Comment),
			nullInt64(e.ExpenseCategoryID), nullFloat64(e.TaxRate), nullFloat64(e.TaxAmount),
			e.TotalAmount, now)
		if err != nil {
			return fmt.Errorf("failed to create expense: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		e.ID = id
		e.CreatedAt = now

		for i := range e.Rooms {
			e.Rooms[i].ExpenseID = id
			if err := insertExpenseRoom(ctx, tx, &e.Rooms[i], now); err != nil {
				return err
			}
		}
		return nil
	})
}

const expenseColumns = `id, hotel_id, expense_no, date_time, comment, expense_category_id,
        tax_rate, tax_amount, total_amount, created_at, updated_at`

func (db *DB) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	return db.getExpense(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
}

func (db *DB) GetExpenseByNumber(ctx context.Context, expenseNo string) (*models.Expense, error) {
	return db.getExpense(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE expense_no = ?`, expenseNo)
}

func (db *DB) getExpense(ctx context.Context, query string, arg any) (*models.Expense, error) {
	e, err := scanExpense(db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	rooms, err := db.expenseRooms(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Rooms = rooms
	return e, nil
}

func (db *DB) ListExpenses(ctx context.Context, limit int) ([]models.Expense, error) {
	if limit <= 0 {
		limit = models.DefaultPageSize
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY date_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]models.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, *e)
	}
	return expenses, rows.Err()
}

func (db *DB) UpdateExpense(ctx context.Context, e *models.Expense) error {
	now := db.Now()
	res, err := db.ExecContext(ctx, `UPDATE expenses SET
            date_time = ?, comment = ?, expense_category_id = ?, tax_rate = ?, tax_amount = ?,
            total_amount = ?, updated_at = ?
        WHERE id = ?`,
		e.DateTime, nullString(e.Comment), nullInt64(e.ExpenseCategoryID),
		nullFloat64(e.TaxRate), nullFloat64(e.TaxAmount), e.TotalAmount, now, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	e.UpdatedAt = &now
	return nil
}

// DeleteExpense removes the expense and its rooms.
func (db *DB) DeleteExpense(ctx context.Context, id int64) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM expense_rooms WHERE expense_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete expense rooms: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (db *DB) CreateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error {
	now := db.Now()
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		return insertExpenseRoom(ctx, tx, r, now)
	})
}

func (db *DB) GetExpenseRoom(ctx context.Context, id int64) (*models.ExpenseRoom, error) {
	r, err := scanExpenseRoom(db.QueryRowContext(ctx,
		`SELECT id, expense_id, apartment_id, purpose, created_at FROM expense_rooms WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get expense room: %w", err)
	}
	return r, nil
}

func (db *DB) UpdateExpenseRoom(ctx context.Context, r *models.ExpenseRoom) error {
	res, err := db.ExecContext(ctx,
		`UPDATE expense_rooms SET apartment_id = ?, purpose = ? WHERE id = ?`,
		r.ApartmentID, nullString(r.Purpose), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update expense room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) DeleteExpenseRoom(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM expense_rooms WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete expense room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) expenseRooms(ctx context.Context, expenseID int64) ([]models.ExpenseRoom, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, expense_id, apartment_id, purpose, created_at FROM expense_rooms WHERE expense_id = ? ORDER BY id`,
		expenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get expense rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]models.ExpenseRoom, 0)
	for rows.Next() {
		r, err := scanExpenseRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense room: %w", err)
		}
		rooms = append(rooms, *r)
	}
	return rooms, rows.Err()
}

func insertExpenseRoom(ctx context.Context, tx *sql.Tx, r *models.ExpenseRoom, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO expense_rooms (expense_id, apartment_id, purpose, created_at) VALUES (?, ?, ?, ?)`,
		r.ExpenseID, r.ApartmentID, nullString(r.Purpose), now)
	if err != nil {
		return fmt.Errorf("failed to create expense room: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	return nil
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	var (
		e                  models.Expense
		expenseNo, comment sql.NullString
		categoryID         sql.NullInt64
		taxRate, taxAmount sql.NullFloat64
		updatedAt          sql.NullTime
	)
	err := row.Scan(&e.ID, &e.HotelID, &expenseNo, &e.DateTime, &comment, &categoryID,
		&taxRate, &taxAmount, &e.TotalAmount, &e.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.ExpenseNo = stringPtr(expenseNo)
	e.Comment = stringPtr(comment)
	e.ExpenseCategoryID = int64Ptr(categoryID)
	e.TaxRate = float64Ptr(taxRate)
	e.TaxAmount = float64Ptr(taxAmount)
	e.UpdatedAt = timePtr(updatedAt)
	return &e, nil
}

func scanExpenseRoom(row rowScanner) (*models.ExpenseRoom, error) {
	var (
		r       models.ExpenseRoom
		purpose sql.NullString
	)
	if err := row.Scan(&r.ID, &r.ExpenseID, &r.ApartmentID, &purpose, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Purpose = stringPtr(purpose)
	return &r, nil
}
