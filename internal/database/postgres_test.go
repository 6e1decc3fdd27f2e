package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musicschool/internal/config"
	"musicschool/internal/models"
)

func setupMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Wrap(conn, config.DriverPostgres, nil), mock
}

var bookingRowColumns = []string{
	"id", "booking_date", "start_time", "duration", "booking_type", "type_label", "status",
	"room_id", "room_name", "name", "email", "phone", "notes", "admin_message", "created_at", "updated_at", "version",
}

func TestPostgres_CreateBookingUsesReturning(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`)).
		WithArgs(day, "10:00", 2, models.BookingParty, "Birthday", models.StatusPending,
			"", "", "Mia", "", "", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(41)))

	b := &models.Booking{Date: day, Time: "10:00", Duration: 2, BookingType: models.BookingParty, Type: "Birthday", Name: "Mia"}
	require.NoError(t, db.CreateBooking(context.Background(), b))
	assert.Equal(t, int64(41), b.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetConfirmedBookings(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE booking_date = $1 AND status = $2 ORDER BY booking_date, start_time, id`)).
		WithArgs(day, models.StatusConfirmed).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).
			AddRow(1, day, "10:00", 2, "band", "Rehearsal", "confirmed", "uni", "Studio", "Band", "", "", "", "", now, now, 2))

	list, err := db.GetConfirmedBookings(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "uni", list[0].RoomID)
	assert.Equal(t, models.StatusConfirmed, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetConfirmedBookingsError(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM bookings`).WillReturnError(errors.New("connection reset"))

	list, err := db.GetConfirmedBookings(context.Background(), day)
	assert.Error(t, err)
	assert.Nil(t, list)
	assert.Contains(t, err.Error(), "failed to list bookings")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ConfirmLocksRoomRow(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE id = $1`)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).
			AddRow(5, day, "10:00", 2, "band", "Rehearsal", "pending", "", "", "Band", "", "", "", "", now, now, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM rooms WHERE id = $1 FOR UPDATE`)).
		WithArgs("uni").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "type", "capacity", "description", "is_visible", "created_at", "updated_at"}).
			AddRow("uni", "Studio", "universal", 6, "", true, now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE room_id = $1 AND booking_date = $2 AND status = $3 AND id <> $4`)).
		WithArgs("uni", day, models.StatusConfirmed, int64(5)).
		WillReturnRows(sqlmock.NewRows(bookingRowColumns).
			AddRow(6, day, "11:00", 1, "individual", "Lesson", "confirmed", "uni", "Studio", "Kid", "", "", "", "", now, now, 2))
	mock.ExpectRollback()

	_, err := db.ConfirmBookingWithLock(context.Background(), 5, 1, "uni", "")
	assert.ErrorIs(t, err, ErrRoomNoLongerAvailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateStatusConcurrentModification(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookings SET status = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4 AND status = $5`)).
		WithArgs(models.StatusCompleted, sqlmock.AnyArg(), int64(3), int64(2), models.StatusConfirmed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.UpdateBookingStatusWithVersion(context.Background(), 3, 2, models.StatusConfirmed, models.StatusCompleted, "")
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}
