package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"musicschool/internal/metrics"
	"musicschool/internal/models"
	"musicschool/internal/timezone"
)

// Source supplies the rooms and confirmed bookings an answer is computed from.
type Source interface {
	GetAllRooms(ctx context.Context) ([]models.Room, error)
	GetConfirmedBookings(ctx context.Context, date string) ([]models.Booking, error)
}

// ConflictQuery describes a prospective block booking. RoomID selects the
// room to check; when empty every visible room eligible for BookingType is
// checked.
type ConflictQuery struct {
	Date        string
	BookingType models.BookingType
	StartTime   string
	Duration    int
	RoomID      string
}

type Engine struct {
	source Source
	clock  *timezone.Clock
	logger *zerolog.Logger
}

func NewEngine(source Source, clock *timezone.Clock, logger *zerolog.Logger) *Engine {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{source: source, clock: clock, logger: logger}
}

// ListAvailableSlots returns the start slots on date in which at least one
// visible room suitable for bt is free.
func (e *Engine) ListAvailableSlots(ctx context.Context, date string, bt models.BookingType) (slots []string, err error) {
	defer func(start time.Time) { metrics.ObserveAvailability("slots", start, err) }(time.Now())

	day, err := e.validateDate(date)
	if err != nil {
		return nil, err
	}
	e.warnUnknownType(bt)

	snap, err := e.snapshot(ctx, day)
	if err != nil {
		return nil, err
	}
	return snap.AvailableSlots(bt)
}

// ListAvailableRooms returns visible rooms suitable for bt that are free for
// the whole of [startTime, startTime+duration).
func (e *Engine) ListAvailableRooms(ctx context.Context, date, startTime string, duration int, bt models.BookingType) (rooms []models.Room, err error) {
	defer func(start time.Time) { metrics.ObserveAvailability("rooms", start, err) }(time.Now())

	day, err := e.validateDate(date)
	if err != nil {
		return nil, err
	}
	hour, err := validateRange(startTime, duration)
	if err != nil {
		return nil, err
	}
	e.warnUnknownType(bt)

	snap, err := e.snapshot(ctx, day)
	if err != nil {
		return nil, err
	}
	return snap.AvailableRooms(hour, duration, bt)
}

// CheckConflicts is advisory: it reports which hours of the requested range
// are already covered by confirmed bookings without preventing the caller
// from going ahead.
func (e *Engine) CheckConflicts(ctx context.Context, q ConflictQuery) (conflicts []string, err error) {
	defer func(start time.Time) { metrics.ObserveAvailability("conflicts", start, err) }(time.Now())

	day, err := e.validateDate(q.Date)
	if err != nil {
		return nil, err
	}
	hour, err := validateRange(q.StartTime, q.Duration)
	if err != nil {
		return nil, err
	}
	e.warnUnknownType(q.BookingType)

	snap, err := e.snapshot(ctx, day)
	if err != nil {
		return nil, err
	}

	var roomIDs []string
	if q.RoomID != "" {
		roomIDs = []string{q.RoomID}
	} else {
		for _, r := range snap.SuitableRooms(q.BookingType) {
			roomIDs = append(roomIDs, r.ID)
		}
	}
	return snap.Conflicts(roomIDs, hour, q.Duration)
}

// RoomFree reports whether roomID has no confirmed booking overlapping the
// requested range. It does not apply eligibility or visibility.
func (e *Engine) RoomFree(ctx context.Context, roomID, date, startTime string, duration int) (bool, error) {
	day, err := e.validateDate(date)
	if err != nil {
		return false, err
	}
	hour, err := validateRange(startTime, duration)
	if err != nil {
		return false, err
	}
	snap, err := e.snapshot(ctx, day)
	if err != nil {
		return false, err
	}
	occ, err := snap.occupancy()
	if err != nil {
		return false, err
	}
	return occ.freeDuring(roomID, hour, hour+duration), nil
}

func (e *Engine) snapshot(ctx context.Context, date string) (*Snapshot, error) {
	rooms, err := e.source.GetAllRooms(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("load rooms failed")
		return nil, fmt.Errorf("%w: rooms: %w", ErrDataAccess, err)
	}
	bookings, err := e.source.GetConfirmedBookings(ctx, date)
	if err != nil {
		e.logger.Error().Err(err).Str("date", date).Msg("load confirmed bookings failed")
		return nil, fmt.Errorf("%w: bookings: %w", ErrDataAccess, err)
	}
	return &Snapshot{Rooms: rooms, Bookings: bookings}, nil
}

// validateDate returns the canonical YYYY-MM-DD form used to query the store.
func (e *Engine) validateDate(date string) (string, error) {
	d, err := e.clock.ParseDate(date)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDate, err)
	}
	return d.Format(models.DateLayout), nil
}

func (e *Engine) warnUnknownType(bt models.BookingType) {
	if !bt.Known() {
		e.logger.Warn().Str("booking_type", string(bt)).Msg("unrecognized booking type, treating every room as eligible")
	}
}

// validateRange checks the start slot and duration and returns the start hour.
func validateRange(startTime string, duration int) (int, error) {
	hour, err := models.ParseSlotHour(startTime)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidTime, err)
	}
	if hour < models.FirstSlotHour || hour > models.LastSlotHour {
		return 0, fmt.Errorf("%w: %s is outside %s-%s", ErrInvalidTime, startTime,
			models.FormatSlot(models.FirstSlotHour), models.FormatSlot(models.LastSlotHour))
	}
	if duration < models.MinDuration || duration > models.MaxDuration {
		return 0, fmt.Errorf("%w: %d hours, expected %d-%d", ErrInvalidDuration, duration, models.MinDuration, models.MaxDuration)
	}
	return hour, nil
}

// ValidateRange exposes the start/duration checks to callers that create
// bookings.
func ValidateRange(startTime string, duration int) error {
	_, err := validateRange(startTime, duration)
	return err
}
