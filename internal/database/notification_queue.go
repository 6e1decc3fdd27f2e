package database

import (
	"context"
	"fmt"
	"time"

	"musicschool/internal/models"
)

const taskColumns = `id, booking_id, event, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	now := time.Now()
	id, err := insertReturningID(ctx, db.DB, `INSERT INTO notification_queue
			(booking_id, event, payload, status, retry_count, last_error, created_at, next_retry_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.BookingID,
		task.Event,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error) {
	var task models.NotificationTask
	if err := db.GetContext(ctx, &task, db.Rebind(`SELECT `+taskColumns+` FROM notification_queue WHERE id = ?`), id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotificationTaskMissing, err)
	}
	return &task, nil
}

// GetPendingNotificationTasks returns tasks that are due, oldest first. A
// processing task is due again once its lease in next_retry_at runs out, so
// work held by a crashed worker is picked up by the next poll.
// next_retry_at is written in UTC so the comparison also holds on SQLite text timestamps.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	tasks := []models.NotificationTask{}
	err := db.SelectContext(ctx, &tasks, db.Rebind(`SELECT `+taskColumns+` FROM notification_queue
		WHERE status IN (?, ?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC LIMIT ?`),
		models.TaskStatusPending, models.TaskStatusRetry, models.TaskStatusProcessing, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notification tasks: %w", err)
	}
	return tasks, nil
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	switch status {
	case models.TaskStatusRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.TaskStatusCompleted, models.TaskStatusFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	tasks := []models.NotificationTask{}
	err := db.SelectContext(ctx, &tasks, db.Rebind(`SELECT `+taskColumns+` FROM notification_queue
		WHERE status = ? ORDER BY created_at DESC`), models.TaskStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed notification tasks: %w", err)
	}
	return tasks, nil
}
