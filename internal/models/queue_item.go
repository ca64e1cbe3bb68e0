package models

import (
	"strings"
	"time"
)

// QueueItem is one durable unit of deferred partner work stored in a tenant database.
type QueueItem struct {
	ID           int64      `json:"id"`
	RequestRef   string     `json:"requestRef"`
	Partner      string     `json:"partner"`
	Operation    string     `json:"operation"`
	OperationKey *string    `json:"operationKey"`
	TargetID     *int64     `json:"targetId"`
	PayloadType  *string    `json:"payloadType"`
	BusinessRef  *string    `json:"businessRef"`
	PayloadJSON  string     `json:"payloadJson"`
	HotelID      *int64     `json:"hotelId"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"lastError"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt"`
}

// Key returns the trimmed operation key, or "" when none is set.
func (q *QueueItem) Key() string {
	if q == nil || q.OperationKey == nil {
		return ""
	}
	return strings.TrimSpace(*q.OperationKey)
}

// LogEntry is an append-only audit row written on enqueue and on every processing attempt.
type LogEntry struct {
	ID         int64     `json:"id"`
	RequestRef string    `json:"requestRef"`
	Partner    string    `json:"partner"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
	HotelID    *int64    `json:"hotelId"`
}

// EnqueueRequest is the producer-side contract for recording a deferred operation.
type EnqueueRequest struct {
	RequestRef   string
	Partner      string
	Operation    string
	OperationKey *string
	TargetID     *int64
	PayloadType  *string
	BusinessRef  *string
	PayloadJSON  string
	HotelID      *int64
}

// QueueFilter narrows List and Export queries.
type QueueFilter struct {
	Status string
	Search string
	Skip   int
	Take   int
}

// QueuePage is one page of List results.
type QueuePage struct {
	Total int64       `json:"total"`
	Items []QueueItem `json:"items"`
}

// QueueDetails bundles an item with its log history, newest first.
type QueueDetails struct {
	Item QueueItem  `json:"item"`
	Logs []LogEntry `json:"logs"`
}

// BatchResult aggregates the outcome of one batch round.
type BatchResult struct {
	Pulled    int `json:"pulled"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Add merges another round's counts into r.
func (r *BatchResult) Add(other BatchResult) {
	r.Pulled += other.Pulled
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
}

// StringPtr returns nil for blank strings.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
