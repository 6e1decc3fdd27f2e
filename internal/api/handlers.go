package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/export"
	"musicschool/internal/models"
)

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Health.PingContext(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleAvailability answers with the free start slots for a date or, when
// startTime/duration are given, with the conflicts of that range.
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := strings.TrimSpace(q.Get("date"))
	bt := models.NormalizeBookingType(q.Get("type"))

	startTime := strings.TrimSpace(q.Get("startTime"))
	rawDuration := strings.TrimSpace(q.Get("duration"))
	if startTime != "" || rawDuration != "" {
		duration, err := parseDuration(rawDuration)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		conflicts, err := s.svc.Engine.CheckConflicts(r.Context(), availability.ConflictQuery{
			Date:        date,
			BookingType: bt,
			StartTime:   startTime,
			Duration:    duration,
			RoomID:      strings.TrimSpace(q.Get("roomId")),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conflicts": nonNil(conflicts)})
		return
	}

	slots, err := s.svc.Engine.ListAvailableSlots(r.Context(), date, bt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"availableSlots": nonNil(slots)})
}

// handleFreeRooms lists rooms that can take a booking for the whole range.
func (s *HTTPServer) handleFreeRooms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duration, err := parseDuration(q.Get("duration"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	rooms, err := s.svc.Engine.ListAvailableRooms(r.Context(),
		strings.TrimSpace(q.Get("date")),
		strings.TrimSpace(q.Get("time")),
		duration,
		models.NormalizeBookingType(q.Get("type")),
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms)})
}

func (s *HTTPServer) handleVisibleRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.Rooms.GetVisibleRooms(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms)})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	if !s.allowSubmission(r) {
		writeError(w, http.StatusTooManyRequests, "too many booking requests, try again later")
		return
	}

	var req createBookingRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}

	booking := req.toBooking()
	if err := s.svc.Bookings.CreateBooking(r.Context(), booking); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": booking})
}

// allowSubmission applies the per-client submission quota. A failing store
// lets the request through.
func (s *HTTPServer) allowSubmission(r *http.Request) bool {
	limit := s.cfg.RateLimit.SubmissionsPerWindow
	if s.svc.Submissions == nil || limit <= 0 {
		return true
	}
	allowed, err := s.svc.Submissions.CheckRateLimit(r.Context(), "submit:"+clientIP(r), limit, s.cfg.RateLimit.SubmissionWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("submission limiter unavailable")
		return true
	}
	return allowed
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		Date:   strings.TrimSpace(q.Get("date")),
		From:   strings.TrimSpace(q.Get("from")),
		To:     strings.TrimSpace(q.Get("to")),
		Status: models.BookingStatus(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		RoomID: strings.TrimSpace(q.Get("roomId")),
	}

	bookings, err := s.svc.Bookings.ListBookings(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": nonNil(bookings)})
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	booking, err := s.svc.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleConfirmBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.ConfirmBooking(r.Context(), id, req.Version, strings.TrimSpace(req.RoomID), req.AdminMessage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleRejectBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.RejectBooking(r.Context(), id, req.Version, req.AdminMessage)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleCompleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.CompleteBooking(r.Context(), id, req.Version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Bookings.DeleteBooking(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateBlock stores an admin block. Conflicts are advisory and
// returned next to the created booking.
func (s *HTTPServer) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}

	block, conflicts, err := s.svc.Bookings.CreateBlock(r.Context(), req.toModel())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": block, "conflicts": nonNil(conflicts)})
}

func (s *HTTPServer) handleAllRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.svc.Rooms.GetAllRooms(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": nonNil(rooms)})
}

func (s *HTTPServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}

	room := req.toRoom()
	if err := s.svc.Rooms.CreateRoom(r.Context(), room); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *HTTPServer) handleUpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}

	room := req.toRoom()
	room.ID = r.PathValue("id")
	if err := s.svc.Rooms.UpdateRoom(r.Context(), room); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *HTTPServer) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Rooms.DeleteRoom(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.svc.Exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from == "" || to == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	// buffered so that a failure can still be reported as JSON
	var buf bytes.Buffer
	if err := s.svc.Exporter.Export(r.Context(), from, to, &buf); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(from, to)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return 0, false
	}
	return id, true
}

func parseDuration(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: duration is required", availability.ErrInvalidDuration)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", availability.ErrInvalidDuration, raw)
	}
	return n, nil
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *HTTPServer) handleFailedNotifications(w http.ResponseWriter, r *http.Request) {
	if s.svc.DeadLetters == nil {
		writeError(w, http.StatusNotImplemented, "notification queue is not configured")
		return
	}
	tasks, err := s.svc.DeadLetters.GetFailedNotificationTasks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": nonNil(tasks)})
}
