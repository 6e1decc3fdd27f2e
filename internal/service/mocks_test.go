package service

import (
	"context"
	"io"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/models"
	"musicschool/internal/timezone"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateRoom(ctx context.Context, r *models.Room) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockRepo) UpsertRoom(ctx context.Context, r *models.Room) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockRepo) UpdateRoom(ctx context.Context, r *models.Room) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockRepo) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}
func (m *mockRepo) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Room), args.Error(1)
}
func (m *mockRepo) SetRoomVisibility(ctx context.Context, id string, v bool) error {
	return m.Called(ctx, id, v).Error(0)
}
func (m *mockRepo) DeleteRoom(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) CreateBooking(ctx context.Context, b *models.Booking) error {
	return m.Called(ctx, b).Error(0)
}
func (m *mockRepo) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *mockRepo) GetBookingsByDateRange(ctx context.Context, from, to string) ([]models.Booking, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *mockRepo) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}
func (m *mockRepo) ConfirmBookingWithLock(ctx context.Context, id, v int64, roomID, msg string) (*models.Booking, error) {
	args := m.Called(ctx, id, v, roomID, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}
func (m *mockRepo) UpdateBookingStatusWithVersion(ctx context.Context, id, v int64, from, to models.BookingStatus, msg string) error {
	return m.Called(ctx, id, v, from, to, msg).Error(0)
}
func (m *mockRepo) DeleteBooking(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}
func (m *mockRepo) PingContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) ListAvailableSlots(ctx context.Context, date string, bt models.BookingType) ([]string, error) {
	args := m.Called(ctx, date, bt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *mockEngine) ListAvailableRooms(ctx context.Context, date, start string, d int, bt models.BookingType) ([]models.Room, error) {
	args := m.Called(ctx, date, start, d, bt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Room), args.Error(1)
}
func (m *mockEngine) CheckConflicts(ctx context.Context, q availability.ConflictQuery) ([]string, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockEngine) RoomFree(ctx context.Context, roomID, date, startTime string, duration int) (bool, error) {
	args := m.Called(ctx, roomID, date, startTime, duration)
	return args.Bool(0), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// nicosiaClock pins "now" to 2025-06-10 13:30 business time.
func nicosiaClock() *timezone.Clock {
	loc, err := time.LoadLocation("Europe/Nicosia")
	if err != nil {
		panic(err)
	}
	return timezone.Fixed(loc, time.Date(2025, 6, 10, 13, 30, 0, 0, loc))
}
