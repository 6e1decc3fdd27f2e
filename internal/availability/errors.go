package availability

import "errors"

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidTime     = errors.New("invalid start time")
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrUnrecognizedBookingType is returned only by ParseBookingType. The
	// engine itself treats unknown types as eligible for every room.
	ErrUnrecognizedBookingType = errors.New("unrecognized booking type")
	// ErrDataAccess wraps any failure to read rooms or bookings. Callers must
	// never turn it into an "everything is free" answer.
	ErrDataAccess = errors.New("availability data access failed")
)
