package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"musicschool/internal/models"
)

const roomColumns = `id, name, type, capacity, description, is_visible, created_at, updated_at`

func (db *DB) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	now := time.Now()
	query := db.Rebind(`INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := db.ExecContext(ctx, query,
		room.ID, room.Name, room.Type, room.Capacity, room.Description, room.IsVisible, now, now)
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	room.CreatedAt = now
	room.UpdatedAt = now
	return nil
}

// UpsertRoom inserts the room or overwrites the mutable fields of an existing
// one with the same id.
func (db *DB) UpsertRoom(ctx context.Context, room *models.Room) error {
	now := time.Now()
	query := db.Rebind(`INSERT INTO rooms (` + roomColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			capacity = excluded.capacity,
			description = excluded.description,
			is_visible = excluded.is_visible,
			updated_at = excluded.updated_at`)
	_, err := db.ExecContext(ctx, query,
		room.ID, room.Name, room.Type, room.Capacity, room.Description, room.IsVisible, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert room %s: %w", room.ID, err)
	}
	room.UpdatedAt = now
	return nil
}

func (db *DB) UpdateRoom(ctx context.Context, room *models.Room) error {
	now := time.Now()
	query := db.Rebind(`UPDATE rooms SET name = ?, type = ?, capacity = ?, description = ?, is_visible = ?, updated_at = ?
		WHERE id = ?`)
	result, err := db.ExecContext(ctx, query,
		room.Name, room.Type, room.Capacity, room.Description, room.IsVisible, now, room.ID)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRoomNotFound
	}
	room.UpdatedAt = now
	return nil
}

func (db *DB) SetRoomVisibility(ctx context.Context, id string, visible bool) error {
	result, err := db.ExecContext(ctx, db.Rebind(`UPDATE rooms SET is_visible = ?, updated_at = ? WHERE id = ?`),
		visible, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update room visibility: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (db *DB) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := db.GetContext(ctx, &room, db.Rebind(`SELECT `+roomColumns+` FROM rooms WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

// GetAllRooms returns visible and hidden rooms alike.
func (db *DB) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	rooms := []models.Room{}
	if err := db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM rooms ORDER BY name, id`); err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	return rooms, nil
}

// DeleteRoom removes the room definition. Bookings keep their room_id and
// room_name snapshot.
func (db *DB) DeleteRoom(ctx context.Context, id string) error {
	result, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM rooms WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrRoomNotFound
	}
	return nil
}
