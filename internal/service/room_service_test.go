package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"musicschool/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRoomService_CacheAndRefresh(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Hour, testLogger())

	hidden := models.Room{ID: "old", Name: "Old", Type: models.RoomTypeGuitar, Capacity: 1}
	repo.On("GetAllRooms", ctx).Return([]models.Room{studio, hidden}, nil).Once()

	rooms, err := s.GetAllRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	// served from cache
	rooms, err = s.GetAllRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	visible, err := s.GetVisibleRooms(ctx)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "uni", visible[0].ID)

	repo.AssertNumberOfCalls(t, "GetAllRooms", 1)
}

func TestRoomService_ExpiredCacheReloads(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Nanosecond, testLogger())

	repo.On("GetAllRooms", ctx).Return([]models.Room{studio}, nil)

	_, err := s.GetAllRooms(ctx)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = s.GetAllRooms(ctx)
	require.NoError(t, err)

	repo.AssertNumberOfCalls(t, "GetAllRooms", 2)
}

func TestRoomService_LoadErrorPropagates(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Hour, testLogger())
	repo.On("GetAllRooms", ctx).Return(nil, errors.New("db down"))

	_, err := s.GetAllRooms(ctx)
	assert.Error(t, err)
}

func TestRoomService_CreateValidates(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Hour, testLogger())

	var invalid *ErrInvalidRoom
	err := s.CreateRoom(ctx, &models.Room{Name: "Piano", Type: "piano", Capacity: 2})
	assert.ErrorAs(t, err, &invalid)

	err = s.CreateRoom(ctx, &models.Room{Name: "Tiny", Type: models.RoomTypeDrums, Capacity: 0})
	assert.ErrorAs(t, err, &invalid)

	err = s.CreateRoom(ctx, &models.Room{Name: "  ", Type: models.RoomTypeDrums, Capacity: 3})
	assert.ErrorAs(t, err, &invalid)

	repo.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything)
}

func TestRoomService_WritesRefreshCache(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Hour, testLogger())

	room := &models.Room{Name: "Drum Cave", Type: "DRUMS", Capacity: 3, IsVisible: true}
	repo.On("CreateRoom", ctx, room).Return(nil)
	repo.On("SetRoomVisibility", ctx, "drm", false).Return(nil)
	repo.On("DeleteRoom", ctx, "drm").Return(nil)
	repo.On("GetAllRooms", ctx).Return([]models.Room{studio}, nil)

	require.NoError(t, s.CreateRoom(ctx, room))
	assert.Equal(t, models.RoomTypeDrums, room.Type)
	require.NoError(t, s.SetVisibility(ctx, "drm", false))
	require.NoError(t, s.DeleteRoom(ctx, "drm"))

	repo.AssertNumberOfCalls(t, "GetAllRooms", 3)
}

func TestRoomService_SeedRooms(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	s := NewRoomService(repo, time.Hour, testLogger())

	seed := []models.Room{studio, {ID: "gtr", Name: "Guitar", Type: models.RoomTypeGuitar, Capacity: 2, IsVisible: true}}
	repo.On("UpsertRoom", ctx, mock.Anything).Return(nil).Twice()
	repo.On("GetAllRooms", ctx).Return(seed, nil)

	require.NoError(t, s.SeedRooms(ctx, seed))
	rooms, err := s.GetAllRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 2)
	repo.AssertExpectations(t)
}

func TestAvailabilitySource(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	rooms := NewRoomService(repo, time.Hour, testLogger())
	src := NewAvailabilitySource(rooms, repo)

	repo.On("GetAllRooms", ctx).Return([]models.Room{studio}, nil)
	repo.On("GetConfirmedBookings", ctx, "2025-06-11").Return([]models.Booking{{ID: 1}}, nil)

	got, err := src.GetAllRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	bookings, err := src.GetConfirmedBookings(ctx, "2025-06-11")
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}
