package models

import (
	"fmt"
	"strings"
	"time"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusRejected  BookingStatus = "rejected"
	StatusCompleted BookingStatus = "completed"
)

// CanTransitionTo reports whether the booking lifecycle allows moving from s to next.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusRejected
	case StatusConfirmed:
		return next == StatusCompleted
	default:
		return false
	}
}

// Deletable reports whether a booking in this status may be removed.
func (s BookingStatus) Deletable() bool {
	return s == StatusRejected || s == StatusCompleted
}

// BookingType is the kind of session requested. It drives room eligibility.
type BookingType string

const (
	BookingIndividual BookingType = "individual"
	BookingBand       BookingType = "band"
	BookingParty      BookingType = "party"
)

// Known reports whether t is one of the recognised booking types.
func (t BookingType) Known() bool {
	switch t {
	case BookingIndividual, BookingBand, BookingParty:
		return true
	}
	return false
}

// NormalizeBookingType lower-cases and trims the raw value without rejecting
// unknown types.
func NormalizeBookingType(s string) BookingType {
	return BookingType(strings.ToLower(strings.TrimSpace(s)))
}

type Booking struct {
	ID           int64         `json:"id" db:"id"`
	Date         string        `json:"date" db:"booking_date"`
	Time         string        `json:"time" db:"start_time"`
	Duration     int           `json:"duration" db:"duration"`
	BookingType  BookingType   `json:"bookingType" db:"booking_type"`
	Type         string        `json:"type" db:"type_label"`
	Status       BookingStatus `json:"status" db:"status"`
	RoomID       string        `json:"roomId,omitempty" db:"room_id"`
	RoomName     string        `json:"roomName,omitempty" db:"room_name"`
	Name         string        `json:"name" db:"name"`
	Email        string        `json:"email,omitempty" db:"email"`
	Phone        string        `json:"phone,omitempty" db:"phone"`
	Notes        string        `json:"notes,omitempty" db:"notes"`
	AdminMessage string        `json:"adminMessage,omitempty" db:"admin_message"`
	CreatedAt    time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time     `json:"updatedAt" db:"updated_at"`
	Version      int64         `json:"version" db:"version"`
}

// StartHour returns the hour of the booking start slot.
func (b *Booking) StartHour() (int, error) {
	return ParseSlotHour(b.Time)
}

// Span returns the half-open hour range [start, end) the booking occupies.
func (b *Booking) Span() (start, end int, err error) {
	start, err = b.StartHour()
	if err != nil {
		return 0, 0, err
	}
	return start, start + b.Duration, nil
}

// ParseSlotHour parses an "HH:MM" start time and returns the hour.
// Only whole hours are valid slot starts.
func ParseSlotHour(s string) (int, error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if t.Minute() != 0 {
		return 0, fmt.Errorf("invalid time %q: slots start on the hour", s)
	}
	return t.Hour(), nil
}

// FormatSlot renders an hour as "HH:00".
func FormatSlot(hour int) string {
	return fmt.Sprintf("%02d:00", hour)
}

// BookingFilter narrows a booking listing. Zero fields are ignored; From and
// To are inclusive dates.
type BookingFilter struct {
	Date   string
	From   string
	To     string
	Status BookingStatus
	RoomID string
}
