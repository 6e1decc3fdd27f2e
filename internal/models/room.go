package models

import (
	"fmt"
	"strings"
	"time"
)

// RoomType describes the equipment a room is fitted with.
type RoomType string

const (
	RoomTypeDrums     RoomType = "drums"
	RoomTypeGuitar    RoomType = "guitar"
	RoomTypeUniversal RoomType = "universal"
)

// ParseRoomType accepts the room type case-insensitively.
func ParseRoomType(s string) (RoomType, error) {
	switch rt := RoomType(strings.ToLower(strings.TrimSpace(s))); rt {
	case RoomTypeDrums, RoomTypeGuitar, RoomTypeUniversal:
		return rt, nil
	default:
		return "", fmt.Errorf("unknown room type %q", s)
	}
}

type Room struct {
	ID          string    `json:"id" yaml:"id" db:"id"`
	Name        string    `json:"name" yaml:"name" db:"name"`
	Type        RoomType  `json:"type" yaml:"type" db:"type"`
	Capacity    int       `json:"capacity" yaml:"capacity" db:"capacity"`
	Description string    `json:"description,omitempty" yaml:"description" db:"description"`
	IsVisible   bool      `json:"isVisible" yaml:"is_visible" db:"is_visible"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"-" db:"updated_at"`
}
