package domain

import (
	"context"
	"io"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Repository interface {
	CreateRoom(ctx context.Context, room *models.Room) error
	UpsertRoom(ctx context.Context, room *models.Room) error
	UpdateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetAllRooms(ctx context.Context) ([]models.Room, error)
	SetRoomVisibility(ctx context.Context, id string, visible bool) error
	DeleteRoom(ctx context.Context, id string) error

	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, from, to string) ([]models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	ConfirmBookingWithLock(ctx context.Context, id, version int64, roomID, adminMessage string) (*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, from, to models.BookingStatus, adminMessage string) error
	DeleteBooking(ctx context.Context, id int64) error

	PingContext(ctx context.Context) error
}

type NotificationQueue interface {
	CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error
	GetNotificationTask(ctx context.Context, id int64) (*models.NotificationTask, error)
	GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error)
	UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// DeadLetters lists notification tasks that exhausted their retries.
type DeadLetters interface {
	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier delivers a rendered notification to people outside the system.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type AvailabilityEngine interface {
	ListAvailableSlots(ctx context.Context, date string, bt models.BookingType) ([]string, error)
	ListAvailableRooms(ctx context.Context, date, startTime string, duration int, bt models.BookingType) ([]models.Room, error)
	CheckConflicts(ctx context.Context, q availability.ConflictQuery) ([]string, error)
	RoomFree(ctx context.Context, roomID, date, startTime string, duration int) (bool, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	ConfirmBooking(ctx context.Context, bookingID, version int64, roomID, adminMessage string) (*models.Booking, error)
	RejectBooking(ctx context.Context, bookingID, version int64, adminMessage string) (*models.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, version int64) (*models.Booking, error)
	DeleteBooking(ctx context.Context, bookingID int64) error
	CreateBlock(ctx context.Context, req models.BlockRequest) (*models.Booking, []string, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)
	SweepCompleted(ctx context.Context) (int, error)
}

type RoomService interface {
	GetAllRooms(ctx context.Context) ([]models.Room, error)
	GetVisibleRooms(ctx context.Context) ([]models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	CreateRoom(ctx context.Context, room *models.Room) error
	UpdateRoom(ctx context.Context, room *models.Room) error
	DeleteRoom(ctx context.Context, id string) error
}

// ScheduleExporter renders bookings in [from, to] as a spreadsheet.
type ScheduleExporter interface {
	Export(ctx context.Context, from, to string, w io.Writer) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}
