package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"musicschool/internal/config"
	"musicschool/internal/models"
)

const bookingColumns = `id, booking_date, start_time, duration, booking_type, type_label, status,
	room_id, room_name, name, email, phone, notes, admin_message, created_at, updated_at, version`

// CreateBooking stores the booking with whatever status the caller set.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return createBooking(ctx, db.DB, booking)
}

func createBooking(ctx context.Context, q queryer, booking *models.Booking) error {
	if booking.Status == "" {
		booking.Status = models.StatusPending
	}
	now := time.Now()
	id, err := insertReturningID(ctx, q, `INSERT INTO bookings (
				booking_date, start_time, duration, booking_type, type_label, status,
				room_id, room_name, name, email, phone, notes, admin_message,
				created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.Date,
		booking.Time,
		booking.Duration,
		booking.BookingType,
		booking.Type,
		booking.Status,
		booking.RoomID,
		booking.RoomName,
		booking.Name,
		booking.Email,
		booking.Phone,
		booking.Notes,
		booking.AdminMessage,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db.DB, id)
}

func getBooking(ctx context.Context, q queryer, id int64) (*models.Booking, error) {
	var booking models.Booking
	err := sqlx.GetContext(ctx, q, &booking, q.Rebind(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetConfirmedBookings returns the confirmed bookings of one date, ordered by
// start time.
func (db *DB) GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error) {
	return db.ListBookings(ctx, models.BookingFilter{Date: date, Status: models.StatusConfirmed})
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, from, to string) ([]models.Booking, error) {
	return db.ListBookings(ctx, models.BookingFilter{From: from, To: to})
}

func (db *DB) ListBookings(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Date != "" {
		where = append(where, "booking_date = ?")
		args = append(args, f.Date)
	}
	if f.From != "" {
		where = append(where, "booking_date >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		where = append(where, "booking_date <= ?")
		args = append(args, f.To)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, f.RoomID)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY booking_date, start_time, id`

	bookings := []models.Booking{}
	if err := db.SelectContext(ctx, &bookings, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return bookings, nil
}

// ConfirmBookingWithLock assigns room to a pending booking. The room's
// confirmed bookings are re-read inside the transaction and the write fails
// with ErrRoomNoLongerAvailable if any of them overlaps.
func (db *DB) ConfirmBookingWithLock(ctx context.Context, id, fromVersion int64, roomID, adminMessage string) (*models.Booking, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	booking, err := getBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if booking.Version != fromVersion || booking.Status != models.StatusPending {
		return nil, ErrConcurrentModification
	}

	// 1. Lock the room row so concurrent confirmations into it queue up
	roomQuery := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	if db.driver == config.DriverPostgres {
		roomQuery += ` FOR UPDATE`
	}
	var room models.Room
	err = tx.GetContext(ctx, &room, tx.Rebind(roomQuery), roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock room in tx: %w", err)
	}

	// 2. Re-check overlap against what is confirmed right now
	var taken []models.Booking
	err = tx.SelectContext(ctx, &taken, tx.Rebind(`SELECT `+bookingColumns+` FROM bookings
		WHERE room_id = ? AND booking_date = ? AND status = ? AND id <> ?`),
		roomID, booking.Date, models.StatusConfirmed, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check room in tx: %w", err)
	}
	start, end, err := booking.Span()
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", booking.ID, err)
	}
	for i := range taken {
		s, e, err := taken[i].Span()
		if err != nil {
			return nil, fmt.Errorf("booking %d: %w", taken[i].ID, err)
		}
		if s < end && start < e {
			return nil, ErrRoomNoLongerAvailable
		}
	}

	// 3. Conditional write
	now := time.Now()
	result, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE bookings
		SET status = ?, room_id = ?, room_name = ?, admin_message = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = ?`),
		models.StatusConfirmed, room.ID, room.Name, adminMessage, now, id, fromVersion, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	booking.Status = models.StatusConfirmed
	booking.RoomID = room.ID
	booking.RoomName = room.Name
	booking.AdminMessage = adminMessage
	booking.UpdatedAt = now
	booking.Version = fromVersion + 1
	return booking, nil
}

// UpdateBookingStatusWithVersion moves a booking from one status to another
// if it is still at fromVersion and in status from. An empty adminMessage
// keeps the stored one.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, from, to models.BookingStatus, adminMessage string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ? AND status = ?`
	args := []interface{}{to, time.Now(), id, fromVersion, from}
	if adminMessage != "" {
		query = `UPDATE bookings SET status = ?, admin_message = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ? AND status = ?`
		args = []interface{}{to, adminMessage, time.Now(), id, fromVersion, from}
	}

	result, err := db.ExecContext(ctx, db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// DeleteBooking removes a rejected or completed booking.
func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM bookings WHERE id = ? AND status IN (?, ?)`),
		id, models.StatusRejected, models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	if _, err := db.GetBooking(ctx, id); err != nil {
		return err
	}
	return ErrBookingNotDeletable
}
