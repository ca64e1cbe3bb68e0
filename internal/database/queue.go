package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"partnerqueue/internal/models"
)

const queueColumns = `id, request_ref, partner, operation, operation_key, target_id, payload_type, business_ref,
        payload_json, hotel_id, status, attempts, last_error, created_at, updated_at`

// InsertQueueItem stores a new Pending item together with its "Enqueued" log row.
// A request_ref that was ever used in this database is rejected, even after the item was deleted.
func (db *DB) InsertQueueItem(ctx context.Context, item *models.QueueItem) error {
	now := db.Now()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		var seen int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM partner_request_log WHERE request_ref = ?`, item.RequestRef).Scan(&seen)
		if err != nil {
			return fmt.Errorf("failed to check request_ref: %w", err)
		}
		if seen > 0 {
			return ErrDuplicateRequestRef
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO partner_request_queue
            (request_ref, partner, operation, operation_key, target_id, payload_type, business_ref,
             payload_json, hotel_id, status, attempts, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			item.RequestRef, item.Partner, item.Operation,
			nullString(item.OperationKey), nullInt64(item.TargetID),
			nullString(item.PayloadType), nullString(item.BusinessRef),
			item.PayloadJSON, nullInt64(item.HotelID),
			models.StatusPending, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateRequestRef
			}
			return fmt.Errorf("failed to insert queue item: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		item.ID = id

		return insertLog(ctx, tx, &models.LogEntry{
			RequestRef: item.RequestRef,
			Partner:    item.Partner,
			Operation:  item.Operation,
			Status:     models.StatusPending,
			Message:    "Enqueued",
			CreatedAt:  now,
			HotelID:    item.HotelID,
		})
	})
	if err != nil {
		return err
	}

	item.Status = models.StatusPending
	item.Attempts = 0
	item.LastError = nil
	item.CreatedAt = now
	item.UpdatedAt = nil
	return nil
}

// PendingQueueItems returns up to limit Pending items, oldest first.
func (db *DB) PendingQueueItems(ctx context.Context, limit int) ([]models.QueueItem, error) {
	if limit <= 0 {
		limit = models.DefaultBatchSize
	}
	query := `SELECT ` + queueColumns + ` FROM partner_request_queue
              WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, models.StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending queue items: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// ClaimQueueItem moves a Pending item to Processing. It reports false when another
// worker already took it or the item is no longer Pending.
func (db *DB) ClaimQueueItem(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE partner_request_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.StatusProcessing, db.Now(), id, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkProcessing sets Processing regardless of the current status. Used by manual processing.
func (db *DB) MarkProcessing(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE partner_request_queue SET status = ?, updated_at = ? WHERE id = ?`,
		models.StatusProcessing, db.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark queue item processing: %w", err)
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

// FinishQueueItem records the terminal outcome of one attempt: status, attempts+1,
// last_error, and a log row with message. Both writes share one transaction.
func (db *DB) FinishQueueItem(ctx context.Context, item *models.QueueItem, status string, lastError *string, message string) error {
	now := db.Now()

	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE partner_request_queue
             SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
             WHERE id = ?`,
			status, nullString(lastError), now, item.ID)
		if err != nil {
			return fmt.Errorf("failed to update queue item status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}

		return insertLog(ctx, tx, &models.LogEntry{
			RequestRef: item.RequestRef,
			Partner:    item.Partner,
			Operation:  item.Operation,
			Status:     status,
			Message:    message,
			CreatedAt:  now,
			HotelID:    item.HotelID,
		})
	})
	if err != nil {
		return err
	}

	item.Status = status
	item.Attempts++
	item.LastError = lastError
	item.UpdatedAt = &now
	return nil
}

func (db *DB) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	row := db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM partner_request_queue WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// QueueLogs returns the log rows of a request_ref, newest first.
func (db *DB) QueueLogs(ctx context.Context, requestRef string) ([]models.LogEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, request_ref, partner, operation, status, message, created_at, hotel_id
        FROM partner_request_log WHERE request_ref = ? ORDER BY created_at DESC, id DESC`, requestRef)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.LogEntry, 0)
	for rows.Next() {
		var (
			l                           models.LogEntry
			partner, operation, st, msg sql.NullString
			hotelID                     sql.NullInt64
		)
		if err := rows.Scan(&l.ID, &l.RequestRef, &partner, &operation, &st, &msg, &l.CreatedAt, &hotelID); err != nil {
			return nil, fmt.Errorf("failed to scan queue log: %w", err)
		}
		l.Partner = partner.String
		l.Operation = operation.String
		l.Status = st.String
		l.Message = msg.String
		l.HotelID = int64Ptr(hotelID)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListQueueItems pages through items newest first, optionally filtered by exact status
// and a case-insensitive substring over request_ref, operation and operation_key.
func (db *DB) ListQueueItems(ctx context.Context, filter models.QueueFilter) (models.QueuePage, error) {
	page := models.QueuePage{Items: make([]models.QueueItem, 0)}

	where, args := queueFilterClause(filter)

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM partner_request_queue`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("failed to count queue items: %w", err)
	}

	take := filter.Take
	if take <= 0 {
		take = models.DefaultPageSize
	}
	skip := filter.Skip
	if skip < 0 {
		skip = 0
	}

	query := `SELECT ` + queueColumns + ` FROM partner_request_queue` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, take, skip)...)
	if err != nil {
		return page, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	items, err := scanQueueItems(rows)
	if err != nil {
		return page, err
	}
	page.Items = items
	return page, nil
}

// QueueStatusCounts returns the number of items per status.
func (db *DB) QueueStatusCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(1) FROM partner_request_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteQueueItem removes the item. Its log rows are kept.
func (db *DB) DeleteQueueItem(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM partner_request_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
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

func queueFilterClause(filter models.QueueFilter) (string, []any) {
	var conds []string
	var args []any

	if s := strings.TrimSpace(filter.Status); s != "" {
		conds = append(conds, "status = ?")
		args = append(args, s)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds, `(ulower(request_ref) LIKE ? ESCAPE '\'
            OR ulower(operation) LIKE ? ESCAPE '\'
            OR ulower(COALESCE(operation_key, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func insertLog(ctx context.Context, tx *sql.Tx, l *models.LogEntry) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO partner_request_log
        (request_ref, partner, operation, status, message, created_at, hotel_id)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.RequestRef, l.Partner, l.Operation, l.Status, l.Message, l.CreatedAt, nullInt64(l.HotelID))
	if err != nil {
		return fmt.Errorf("failed to insert queue log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

func scanQueueItems(rows *sql.Rows) ([]models.QueueItem, error) {
	items := make([]models.QueueItem, 0)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item                                       models.QueueItem
		opKey, payloadType, businessRef, lastError sql.NullString
		targetID, hotelID                          sql.NullInt64
		updatedAt                                  sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.RequestRef, &item.Partner, &item.Operation, &opKey, &targetID,
		&payloadType, &businessRef, &item.PayloadJSON, &hotelID, &item.Status, &item.Attempts,
		&lastError, &item.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.OperationKey = stringPtr(opKey)
	item.TargetID = int64Ptr(targetID)
	item.PayloadType = stringPtr(payloadType)
	item.BusinessRef = stringPtr(businessRef)
	item.HotelID = int64Ptr(hotelID)
	item.LastError = stringPtr(lastError)
	item.UpdatedAt = timePtr(updatedAt)
	return &item, nil
}
