package models

import "time"

const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusRetry      = "retry"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// NotificationTask is a queued message about a booking status change.
type NotificationTask struct {
	ID          int64      `json:"id" db:"id"`
	BookingID   int64      `json:"booking_id" db:"booking_id"`
	Event       string     `json:"event" db:"event"`
	Payload     string     `json:"payload" db:"payload"`
	Status      string     `json:"status" db:"status"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	LastError   *string    `json:"last_error" db:"last_error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time `json:"processed_at" db:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at" db:"next_retry_at"`
}
