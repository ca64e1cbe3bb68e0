package models

import "time"

// HotelSettings holds the single settings row of a tenant database.
type HotelSettings struct {
	ID        int64     `json:"id"`
	HotelID   int64     `json:"hotelId"`
	HotelName string    `json:"hotelName"`
	CreatedAt time.Time `json:"createdAt"`
}

type Apartment struct {
	ID      int64  `json:"apartmentId"`
	HotelID int64  `json:"hotelId"`
	Code    string `json:"apartmentCode"`
	Name    string `json:"apartmentName"`
}

type Expense struct {
	ID                int64         `json:"expenseId"`
	HotelID           int64         `json:"hotelId"`
	ExpenseNo         *string       `json:"expenseNo"`
	DateTime          time.Time     `json:"dateTime"`
	Comment           *string       `json:"comment"`
	ExpenseCategoryID *int64        `json:"expenseCategoryId"`
	TaxRate           *float64      `json:"taxRate"`
	TaxAmount         *float64      `json:"taxAmount"`
	TotalAmount       float64       `json:"totalAmount"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         *time.Time    `json:"updatedAt"`
	Rooms             []ExpenseRoom `json:"expenseRooms,omitempty"`
}

type ExpenseRoom struct {
	ID          int64     `json:"expenseRoomId"`
	ExpenseID   int64     `json:"expenseId"`
	ApartmentID int64     `json:"apartmentId"`
	Purpose     *string   `json:"purpose"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateExpenseInput is the payload replayed by Expense.Create.
type CreateExpenseInput struct {
	ExpenseNo         *string                  `json:"expenseNo"`
	DateTime          time.Time                `json:"dateTime"`
	Comment           *string                  `json:"comment"`
	ExpenseCategoryID *int64                   `json:"expenseCategoryId"`
	TaxRate           *float64                 `json:"taxRate"`
	TaxAmount         *float64                 `json:"taxAmount"`
	TotalAmount       float64                  `json:"totalAmount"`
	ExpenseRooms      []CreateExpenseRoomInput `json:"expenseRooms"`
}

// UpdateExpenseInput carries only the fields to change.
type UpdateExpenseInput struct {
	DateTime          *time.Time `json:"dateTime"`
	Comment           *string    `json:"comment"`
	ExpenseCategoryID *int64     `json:"expenseCategoryId"`
	TaxRate           *float64   `json:"taxRate"`
	TaxAmount         *float64   `json:"taxAmount"`
	TotalAmount       *float64   `json:"totalAmount"`
}

type CreateExpenseRoomInput struct {
	ApartmentID int64   `json:"apartmentId"`
	Purpose     *string `json:"purpose"`
}

type UpdateExpenseRoomInput struct {
	ApartmentID *int64  `json:"apartmentId"`
	Purpose     *string `json:"purpose"`
}
