package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/database"
	"musicschool/internal/domain"
	"musicschool/internal/events"
	"musicschool/internal/metrics"
	"musicschool/internal/models"
	"musicschool/internal/timezone"

	"github.com/rs/zerolog"
)

var (
	ErrPastDate          = errors.New("booking date is in the past")
	ErrDateTooFar        = errors.New("booking date is too far ahead")
	ErrInvalidTransition = errors.New("booking status does not allow this action")
	ErrRoomRequired      = errors.New("a room must be selected to confirm a booking")
	ErrRoomNotEligible   = errors.New("room cannot host this booking")
	ErrSlotUnavailable   = errors.New("no room is free for the requested time")
	ErrMissingName       = errors.New("contact name is required")
)

const blockLabel = "Admin Block"

type BookingService struct {
	repo         domain.Repository
	engine       domain.AvailabilityEngine
	eventBus     domain.EventPublisher
	clock        *timezone.Clock
	maxDaysAhead int
	logger       *zerolog.Logger
}

func NewBookingService(
	repo domain.Repository,
	engine domain.AvailabilityEngine,
	eventBus domain.EventPublisher,
	clock *timezone.Clock,
	maxDaysAhead int,
	logger *zerolog.Logger,
) *BookingService {
	if maxDaysAhead <= 0 {
		maxDaysAhead = models.DefaultMaxDaysAhead
	}
	return &BookingService{
		repo:         repo,
		engine:       engine,
		eventBus:     eventBus,
		clock:        clock,
		maxDaysAhead: maxDaysAhead,
		logger:       logger,
	}
}

// ValidateBookingStart rejects dates outside the bookable window and slots
// that already started today.
func (s *BookingService) ValidateBookingStart(date, startTime string) error {
	day, err := s.clock.ParseDate(date)
	if err != nil {
		return fmt.Errorf("%w: %w", availability.ErrInvalidDate, err)
	}
	hour, err := models.ParseSlotHour(startTime)
	if err != nil {
		return fmt.Errorf("%w: %w", availability.ErrInvalidTime, err)
	}

	now := s.clock.Now()
	today, _ := s.clock.ParseDate(now.Format(models.DateLayout))

	// Проверяем, что дата не в прошлом
	if day.Before(today) {
		return ErrPastDate
	}
	if day.Equal(today) && hour <= now.Hour() {
		return ErrPastDate
	}

	// Проверяем максимальную дату
	if day.After(today.AddDate(0, 0, s.maxDaysAhead)) {
		return ErrDateTooFar
	}
	return nil
}

// CreateBooking stores a public booking request as pending. At least one
// suitable room must be free for the whole range at submission time.
func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	bt, err := availability.ParseBookingType(string(booking.BookingType))
	if err != nil {
		return err
	}
	booking.BookingType = bt
	booking.Name = strings.TrimSpace(booking.Name)
	if booking.Name == "" {
		return ErrMissingName
	}
	if err := availability.ValidateRange(booking.Time, booking.Duration); err != nil {
		return err
	}
	if err := s.ValidateBookingStart(booking.Date, booking.Time); err != nil {
		return err
	}

	rooms, err := s.engine.ListAvailableRooms(ctx, booking.Date, booking.Time, booking.Duration, bt)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return ErrSlotUnavailable
	}

	booking.Status = models.StatusPending
	booking.RoomID = ""
	booking.RoomName = ""
	booking.AdminMessage = ""
	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", booking.ID).Str("date", booking.Date).Str("time", booking.Time).Msg("booking request created")
	s.publishEvent(events.EventBookingCreated, *booking, "customer")
	return nil
}

// ConfirmBooking assigns roomID to a pending booking. A zero version means
// "whatever is stored now".
func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID, version int64, roomID, adminMessage string) (*models.Booking, error) {
	if roomID == "" {
		return nil, ErrRoomRequired
	}

	booking, err := s.loadForTransition(ctx, bookingID, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = booking.Version
	}

	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsVisible || !availability.Eligible(room.Type, booking.BookingType) {
		return nil, fmt.Errorf("%w: %s (%s) for %s", ErrRoomNotEligible, room.Name, room.Type, booking.BookingType)
	}

	// fast path; the locked write below re-checks
	free, err := s.engine.RoomFree(ctx, roomID, booking.Date, booking.Time, booking.Duration)
	if err != nil {
		return nil, err
	}
	if !free {
		metrics.IncConfirmation("room_taken")
		return nil, fmt.Errorf("%w: %s on %s at %s", database.ErrRoomNoLongerAvailable, room.Name, booking.Date, booking.Time)
	}

	confirmed, err := s.repo.ConfirmBookingWithLock(ctx, bookingID, version, roomID, adminMessage)
	switch {
	case errors.Is(err, database.ErrRoomNoLongerAvailable):
		metrics.IncConfirmation("room_taken")
		return nil, err
	case errors.Is(err, database.ErrConcurrentModification):
		metrics.IncConfirmation("conflict")
		return nil, err
	case err != nil:
		metrics.IncConfirmation("error")
		return nil, err
	}
	metrics.IncConfirmation("ok")

	s.publishEvent(events.EventBookingConfirmed, *confirmed, "admin")
	return confirmed, nil
}

func (s *BookingService) RejectBooking(ctx context.Context, bookingID, version int64, adminMessage string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, version, models.StatusRejected, adminMessage, events.EventBookingRejected, "admin")
}

func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, version int64) (*models.Booking, error) {
	return s.transition(ctx, bookingID, version, models.StatusCompleted, "", events.EventBookingCompleted, "admin")
}

// DeleteBooking removes a booking that reached a terminal state.
func (s *BookingService) DeleteBooking(ctx context.Context, bookingID int64) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !booking.Status.Deletable() {
		return fmt.Errorf("%w: booking %d is %s", database.ErrBookingNotDeletable, bookingID, booking.Status)
	}
	if err := s.repo.DeleteBooking(ctx, bookingID); err != nil {
		return err
	}

	s.logger.Info().Int64("booking_id", bookingID).Msg("booking deleted")
	s.publishEvent(events.EventBookingDeleted, *booking, "admin")
	return nil
}

// CreateBlock stores an admin block straight into the room as confirmed.
// Overlaps are reported back but never prevent the block.
func (s *BookingService) CreateBlock(ctx context.Context, req models.BlockRequest) (*models.Booking, []string, error) {
	if req.RoomID == "" {
		return nil, nil, ErrRoomRequired
	}
	if req.BookingType == "" {
		req.BookingType = models.BookingIndividual
	}
	room, err := s.repo.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, nil, err
	}

	conflicts, err := s.engine.CheckConflicts(ctx, availability.ConflictQuery{
		Date:        req.Date,
		BookingType: req.BookingType,
		StartTime:   req.Time,
		Duration:    req.Duration,
		RoomID:      room.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = blockLabel
	}
	block := &models.Booking{
		Date:        req.Date,
		Time:        req.Time,
		Duration:    req.Duration,
		BookingType: req.BookingType,
		Type:        blockLabel,
		Status:      models.StatusConfirmed,
		RoomID:      room.ID,
		RoomName:    room.Name,
		Name:        label,
		Notes:       req.Notes,
	}
	if err := s.repo.CreateBooking(ctx, block); err != nil {
		return nil, nil, err
	}

	if len(conflicts) > 0 {
		s.logger.Warn().Int64("booking_id", block.ID).Strs("conflicts", conflicts).Msg("block overlaps confirmed bookings")
	}
	return block, conflicts, nil
}

// SweepCompleted moves confirmed bookings whose end has passed to completed.
// Bookings changed concurrently are skipped and picked up next run.
func (s *BookingService) SweepCompleted(ctx context.Context) (int, error) {
	now := s.clock.Now()
	candidates, err := s.repo.ListBookings(ctx, models.BookingFilter{
		To:     now.Format(models.DateLayout),
		Status: models.StatusConfirmed,
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range candidates {
		b := candidates[i]
		end, err := s.bookingEnd(&b)
		if err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("skip booking with unreadable time")
			continue
		}
		if end.After(now) {
			continue
		}

		err = s.repo.UpdateBookingStatusWithVersion(ctx, b.ID, b.Version, models.StatusConfirmed, models.StatusCompleted, "")
		if errors.Is(err, database.ErrConcurrentModification) {
			continue
		}
		if err != nil {
			return swept, err
		}
		swept++

		b.Status = models.StatusCompleted
		b.Version++
		s.publishEvent(events.EventBookingCompleted, b, "system")
	}

	metrics.AddSwept(int64(swept))
	if swept > 0 {
		s.logger.Info().Int("count", swept).Msg("confirmed bookings completed")
	}
	return swept, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	return s.repo.ListBookings(ctx, filter)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, from, to string) ([]models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, from, to)
}

func (s *BookingService) bookingEnd(b *models.Booking) (time.Time, error) {
	hour, err := b.StartHour()
	if err != nil {
		return time.Time{}, err
	}
	start, err := s.clock.SlotStart(b.Date, hour)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(time.Duration(b.Duration) * time.Hour), nil
}

func (s *BookingService) loadForTransition(ctx context.Context, bookingID int64, next models.BookingStatus) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, next)
	}
	return booking, nil
}

func (s *BookingService) transition(
	ctx context.Context,
	bookingID, version int64,
	next models.BookingStatus,
	adminMessage, eventType, changedBy string,
) (*models.Booking, error) {
	booking, err := s.loadForTransition(ctx, bookingID, next)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		version = booking.Version
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, bookingID, version, booking.Status, next, adminMessage); err != nil {
		return nil, err
	}

	booking.Status = next
	booking.Version = version + 1
	if adminMessage != "" {
		booking.AdminMessage = adminMessage
	}
	s.publishEvent(eventType, *booking, changedBy)
	return booking, nil
}

func (s *BookingService) publishEvent(eventType string, booking models.Booking, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    booking.ID,
		Name:         booking.Name,
		Email:        booking.Email,
		Phone:        booking.Phone,
		Date:         booking.Date,
		Time:         booking.Time,
		Duration:     booking.Duration,
		BookingType:  string(booking.BookingType),
		Label:        booking.Type,
		Status:       string(booking.Status),
		RoomID:       booking.RoomID,
		RoomName:     booking.RoomName,
		AdminMessage: booking.AdminMessage,
		ChangedBy:    changedBy,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
