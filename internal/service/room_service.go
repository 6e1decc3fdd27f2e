package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"musicschool/internal/domain"
	"musicschool/internal/models"

	"github.com/rs/zerolog"
)

// RoomService keeps the room catalogue in memory and reloads it after every
// write or once the cache expires.
type RoomService struct {
	repo     domain.Repository
	logger   *zerolog.Logger
	ttl      time.Duration
	rooms    []models.Room
	loadedAt time.Time
	mu       sync.RWMutex
}

func NewRoomService(repo domain.Repository, ttl time.Duration, logger *zerolog.Logger) *RoomService {
	if ttl <= 0 {
		ttl = models.RoomsCacheTTL * time.Second
	}
	return &RoomService{repo: repo, ttl: ttl, logger: logger}
}

// SeedRooms upserts configured rooms so that a fresh database starts with a
// usable catalogue.
func (s *RoomService) SeedRooms(ctx context.Context, rooms []models.Room) error {
	for i := range rooms {
		if err := s.repo.UpsertRoom(ctx, &rooms[i]); err != nil {
			return err
		}
	}
	s.logger.Info().Int("count", len(rooms)).Msg("rooms seeded")
	return s.Refresh(ctx)
}

// GetAllRooms returns visible and hidden rooms. A copy is returned so
// callers cannot mutate the cache.
func (s *RoomService) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	s.mu.RLock()
	fresh := s.rooms != nil && time.Since(s.loadedAt) < s.ttl
	rooms := append([]models.Room(nil), s.rooms...)
	s.mu.RUnlock()
	if fresh {
		return rooms, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Room{}, s.rooms...), nil
}

func (s *RoomService) GetVisibleRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.GetAllRooms(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.IsVisible {
			visible = append(visible, r)
		}
	}
	return visible, nil
}

func (s *RoomService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	return s.repo.GetRoom(ctx, id)
}

func (s *RoomService) CreateRoom(ctx context.Context, room *models.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := s.repo.CreateRoom(ctx, room); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RoomService) UpdateRoom(ctx context.Context, room *models.Room) error {
	if err := validateRoom(room); err != nil {
		return err
	}
	if err := s.repo.UpdateRoom(ctx, room); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RoomService) SetVisibility(ctx context.Context, id string, visible bool) error {
	if err := s.repo.SetRoomVisibility(ctx, id, visible); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RoomService) DeleteRoom(ctx context.Context, id string) error {
	if err := s.repo.DeleteRoom(ctx, id); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *RoomService) Refresh(ctx context.Context) error {
	rooms, err := s.repo.GetAllRooms(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = rooms
	s.loadedAt = time.Now()
	return nil
}

// ErrInvalidRoom is returned for room definitions that fail validation.
type ErrInvalidRoom struct {
	Reason string
}

func (e *ErrInvalidRoom) Error() string { return "invalid room: " + e.Reason }

func validateRoom(room *models.Room) error {
	room.Name = strings.TrimSpace(room.Name)
	if room.Name == "" {
		return &ErrInvalidRoom{Reason: "name is required"}
	}
	rt, err := models.ParseRoomType(string(room.Type))
	if err != nil {
		return &ErrInvalidRoom{Reason: err.Error()}
	}
	room.Type = rt
	if room.Capacity <= 0 {
		return &ErrInvalidRoom{Reason: fmt.Sprintf("capacity must be positive, got %d", room.Capacity)}
	}
	return nil
}

// AvailabilitySource feeds the availability engine: rooms from the cached
// catalogue, bookings straight from the store.
type AvailabilitySource struct {
	rooms *RoomService
	repo  domain.Repository
}

func NewAvailabilitySource(rooms *RoomService, repo domain.Repository) *AvailabilitySource {
	return &AvailabilitySource{rooms: rooms, repo: repo}
}

func (a *AvailabilitySource) GetAllRooms(ctx context.Context) ([]models.Room, error) {
	return a.rooms.GetAllRooms(ctx)
}

func (a *AvailabilitySource) GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error) {
	return a.repo.GetConfirmedBookings(ctx, date)
}
