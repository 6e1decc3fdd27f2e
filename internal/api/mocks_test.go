package api

import (
	"context"
	"io"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockEngine struct{ mock.Mock }

func (m *mockEngine) ListAvailableSlots(ctx context.Context, date string, bt models.BookingType) ([]string, error) {
	args := m.Called(ctx, date, bt)
	slots, _ := args.Get(0).([]string)
	return slots, args.Error(1)
}

func (m *mockEngine) ListAvailableRooms(ctx context.Context, date, startTime string, duration int, bt models.BookingType) ([]models.Room, error) {
	args := m.Called(ctx, date, startTime, duration, bt)
	rooms, _ := args.Get(0).([]models.Room)
	return rooms, args.Error(1)
}

func (m *mockEngine) CheckConflicts(ctx context.Context, q availability.ConflictQuery) ([]string, error) {
	args := m.Called(ctx, q)
	conflicts, _ := args.Get(0).([]string)
	return conflicts, args.Error(1)
}

func (m *mockEngine) RoomFree(ctx context.Context, roomID, date, startTime string, duration int) (bool, error) {
	args := m.Called(ctx, roomID, date, startTime, duration)
	return args.Bool(0), args.Error(1)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return m.Called(ctx, booking).Error(0)
}

func (m *mockBookings) ConfirmBooking(ctx context.Context, id, version int64, roomID, adminMessage string) (*models.Booking, error) {
	args := m.Called(ctx, id, version, roomID, adminMessage)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) RejectBooking(ctx context.Context, id, version int64, adminMessage string) (*models.Booking, error) {
	args := m.Called(ctx, id, version, adminMessage)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) CompleteBooking(ctx context.Context, id, version int64) (*models.Booking, error) {
	args := m.Called(ctx, id, version)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) DeleteBooking(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBookings) CreateBlock(ctx context.Context, req models.BlockRequest) (*models.Booking, []string, error) {
	args := m.Called(ctx, req)
	b, _ := args.Get(0).(*models.Booking)
	conflicts, _ := args.Get(1).([]string)
	return b, conflicts, args.Error(2)
}

func (m *mockBookings) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	args := m.Called(ctx, filter)
	list, _ := args.Get(0).([]models.Booking)
	return list, args.Error(1)
}

func (m *mockBookings) SweepCompleted(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockRooms struct{ mock.Mock }

func (m *mockRooms) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]models.Room)
	return rooms, args.Error(1)
}

func (m *mockRooms) GetVisibleRooms(ctx context.Context) ([]models.Room, error) {
	args := m.Called(ctx)
	rooms, _ := args.Get(0).([]models.Room)
	return rooms, args.Error(1)
}

func (m *mockRooms) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	args := m.Called(ctx, id)
	room, _ := args.Get(0).(*models.Room)
	return room, args.Error(1)
}

func (m *mockRooms) CreateRoom(ctx context.Context, room *models.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *mockRooms) UpdateRoom(ctx context.Context, room *models.Room) error {
	return m.Called(ctx, room).Error(0)
}

func (m *mockRooms) DeleteRoom(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockExporter struct{ mock.Mock }

func (m *mockExporter) Export(ctx context.Context, from, to string, w io.Writer) error {
	args := m.Called(ctx, from, to, w)
	if data, ok := args.Get(0).([]byte); ok {
		_, _ = w.Write(data)
	}
	return args.Error(1)
}

type mockDeadLetters struct{ mock.Mock }

func (m *mockDeadLetters) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	args := m.Called(ctx)
	tasks, _ := args.Get(0).([]models.NotificationTask)
	return tasks, args.Error(1)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

type mockPinger struct{ err error }

func (p mockPinger) PingContext(context.Context) error { return p.err }
