package availability

import (
	"fmt"

	"musicschool/internal/models"
)

// Band rehearsals need a kit, so guitar rooms are out. Parties and
// individual lessons fit anywhere.
var eligibility = map[models.RoomType]map[models.BookingType]bool{
	models.RoomTypeDrums: {
		models.BookingIndividual: true,
		models.BookingBand:       true,
		models.BookingParty:      true,
	},
	models.RoomTypeGuitar: {
		models.BookingIndividual: true,
		models.BookingBand:       false,
		models.BookingParty:      true,
	},
	models.RoomTypeUniversal: {
		models.BookingIndividual: true,
		models.BookingBand:       true,
		models.BookingParty:      true,
	},
}

// Eligible reports whether a room of type rt can host bookingType.
// Unknown booking types and unknown room types are eligible.
func Eligible(rt models.RoomType, bt models.BookingType) bool {
	byType, ok := eligibility[rt]
	if !ok {
		return true
	}
	allowed, ok := byType[bt]
	if !ok {
		return true
	}
	return allowed
}

// ParseBookingType is the strict counterpart used where a new booking is
// created. Queries go through NormalizeBookingType and fail open instead.
func ParseBookingType(s string) (models.BookingType, error) {
	bt := models.NormalizeBookingType(s)
	if !bt.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedBookingType, s)
	}
	return bt, nil
}
