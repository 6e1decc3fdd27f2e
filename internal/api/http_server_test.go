package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/config"
	"musicschool/internal/database"
	"musicschool/internal/models"
	"musicschool/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	engine   *mockEngine
	bookings *mockBookings
	rooms    *mockRooms
	exporter *mockExporter
	dead     *mockDeadLetters
	store    *mockStore
	ts       *httptest.Server
}

func newTestAPI(t *testing.T, cfg config.APIConfig) *testAPI {
	t.Helper()
	api := &testAPI{
		engine:   &mockEngine{},
		bookings: &mockBookings{},
		rooms:    &mockRooms{},
		exporter: &mockExporter{},
		dead:     &mockDeadLetters{},
		store:    &mockStore{},
	}
	logger := zerolog.Nop()
	srv := NewHTTPServer(cfg, Services{
		Engine:      api.engine,
		Bookings:    api.bookings,
		Rooms:       api.rooms,
		Exporter:    api.exporter,
		Submissions: api.store,
		DeadLetters: api.dead,
		Health:      mockPinger{},
	}, &logger)
	api.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(api.ts.Close)
	return api
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers ...string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	resp := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDMetadataKey))

	resp = api.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzUnavailable(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewHTTPServer(config.APIConfig{}, Services{Health: mockPinger{err: errors.New("db down")}}, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAvailabilitySlots(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.engine.On("ListAvailableSlots", mock.Anything, "2025-06-12", models.BookingBand).
		Return([]string{"09:00", "10:00"}, nil)

	resp := api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=Band", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AvailableSlots []string `json:"availableSlots"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, []string{"09:00", "10:00"}, body.AvailableSlots)
}

func TestAvailabilityEmptyListIsArray(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.engine.On("ListAvailableSlots", mock.Anything, "2025-06-12", models.BookingParty).Return(nil, nil)

	resp := api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=party", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"availableSlots":[]}`, string(raw))
}

func TestAvailabilityConflicts(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.engine.On("CheckConflicts", mock.Anything, availability.ConflictQuery{
		Date:        "2025-06-12",
		BookingType: models.BookingIndividual,
		StartTime:   "10:00",
		Duration:    2,
		RoomID:      "room-1",
	}).Return([]string{"10:00"}, nil)

	resp := api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=individual&startTime=10:00&duration=2&roomId=room-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Conflicts []string `json:"conflicts"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, []string{"10:00"}, body.Conflicts)
}

func TestAvailabilityErrors(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.engine.On("ListAvailableSlots", mock.Anything, "bad", models.BookingBand).
		Return(nil, fmt.Errorf("%w: bad", availability.ErrInvalidDate))
	api.engine.On("ListAvailableSlots", mock.Anything, "2025-06-12", models.BookingBand).
		Return(nil, fmt.Errorf("%w: boom", availability.ErrDataAccess))

	resp := api.do(t, http.MethodGet, "/availability?date=bad&type=band", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=band&startTime=10:00&duration=two", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=band", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "internal error", body["error"])
}

func TestFreeRooms(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.engine.On("ListAvailableRooms", mock.Anything, "2025-06-12", "10:00", 2, models.BookingBand).
		Return([]models.Room{{ID: "drums-1", Name: "Drums", Type: models.RoomTypeDrums, Capacity: 5}}, nil)

	resp := api.do(t, http.MethodGet, "/rooms?date=2025-06-12&time=10:00&duration=2&type=band", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []models.Room `json:"rooms"`
	}
	decodeJSON(t, resp, &body)
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "drums-1", body.Rooms[0].ID)
}

func TestCreateBooking(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{SubmissionsPerWindow: 3, SubmissionWindow: time.Hour}}

	t.Run("Created", func(t *testing.T) {
		api := newTestAPI(t, cfg)
		api.store.On("CheckRateLimit", mock.Anything, "submit:127.0.0.1", 3, time.Hour).Return(true, nil)
		api.bookings.On("CreateBooking", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
			return b.Date == "2025-06-12" && b.Time == "10:00" && b.Duration == 2 && b.Name == "Anna"
		})).Run(func(args mock.Arguments) {
			b := args.Get(1).(*models.Booking)
			b.ID = 42
			b.Status = models.StatusPending
		}).Return(nil)

		resp := api.do(t, http.MethodPost, "/api/v1/bookings",
			`{"date":"2025-06-12","time":"10:00","duration":2,"bookingType":"band","name":"Anna","email":"anna@example.com"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var body struct {
			Booking models.Booking `json:"booking"`
		}
		decodeJSON(t, resp, &body)
		assert.Equal(t, int64(42), body.Booking.ID)
		assert.Equal(t, models.StatusPending, body.Booking.Status)
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		api := newTestAPI(t, cfg)
		api.store.On("CheckRateLimit", mock.Anything, mock.Anything, 3, time.Hour).Return(true, nil)

		resp := api.do(t, http.MethodPost, "/api/v1/bookings", `{"date":"2025-06-12","time":"10:00","duration":2,"bookingType":"band"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = api.do(t, http.MethodPost, "/api/v1/bookings", `{"date":"2025-06-12","unknown":true}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		api.bookings.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	})

	t.Run("ServiceRejects", func(t *testing.T) {
		api := newTestAPI(t, cfg)
		api.store.On("CheckRateLimit", mock.Anything, mock.Anything, 3, time.Hour).Return(true, nil)
		api.bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(service.ErrSlotUnavailable)

		resp := api.do(t, http.MethodPost, "/api/v1/bookings",
			`{"date":"2025-06-12","time":"10:00","duration":2,"bookingType":"band","name":"Anna"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("SubmissionLimit", func(t *testing.T) {
		api := newTestAPI(t, cfg)
		api.store.On("CheckRateLimit", mock.Anything, mock.Anything, 3, time.Hour).Return(false, nil)

		resp := api.do(t, http.MethodPost, "/api/v1/bookings", `{}`)
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})

	t.Run("LimiterDownLetsThrough", func(t *testing.T) {
		api := newTestAPI(t, cfg)
		api.store.On("CheckRateLimit", mock.Anything, mock.Anything, 3, time.Hour).Return(false, errors.New("redis down"))
		api.bookings.On("CreateBooking", mock.Anything, mock.Anything).Return(nil)

		resp := api.do(t, http.MethodPost, "/api/v1/bookings",
			`{"date":"2025-06-12","time":"10:00","duration":1,"bookingType":"individual","name":"Anna"}`)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})
}

func TestAdminBookingLifecycle(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})

	confirmed := &models.Booking{ID: 7, Status: models.StatusConfirmed, RoomID: "drums-1", Version: 2}
	api.bookings.On("ConfirmBooking", mock.Anything, int64(7), int64(1), "drums-1", "see you").Return(confirmed, nil)
	api.bookings.On("RejectBooking", mock.Anything, int64(8), int64(0), "").Return(&models.Booking{ID: 8, Status: models.StatusRejected}, nil)
	api.bookings.On("CompleteBooking", mock.Anything, int64(7), int64(2)).Return(&models.Booking{ID: 7, Status: models.StatusCompleted}, nil)
	api.bookings.On("DeleteBooking", mock.Anything, int64(7)).Return(nil)
	api.bookings.On("GetBooking", mock.Anything, int64(99)).Return(nil, database.ErrBookingNotFound)

	resp := api.do(t, http.MethodPost, "/admin/bookings/7/confirm", `{"version":1,"roomId":"drums-1","adminMessage":"see you"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Booking models.Booking `json:"booking"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, models.StatusConfirmed, body.Booking.Status)

	resp = api.do(t, http.MethodPost, "/admin/bookings/8/reject", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/admin/bookings/7/complete", `{"version":2}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/admin/bookings/7", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/bookings/99", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/bookings/abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	api.bookings.AssertExpectations(t)
}

func TestConfirmErrors(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.bookings.On("ConfirmBooking", mock.Anything, int64(1), int64(0), "drums-1", "").
		Return(nil, fmt.Errorf("confirm: %w", database.ErrRoomNoLongerAvailable))

	resp := api.do(t, http.MethodPost, "/admin/bookings/1/confirm", `{"roomId":"drums-1"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/admin/bookings/1/confirm", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListBookingsFilter(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	filter := models.BookingFilter{From: "2025-06-01", To: "2025-06-30", Status: models.StatusPending, RoomID: "drums-1"}
	api.bookings.On("ListBookings", mock.Anything, filter).Return([]models.Booking{{ID: 1}, {ID: 2}}, nil)

	resp := api.do(t, http.MethodGet, "/admin/bookings?from=2025-06-01&to=2025-06-30&status=Pending&roomId=drums-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Bookings []models.Booking `json:"bookings"`
	}
	decodeJSON(t, resp, &body)
	assert.Len(t, body.Bookings, 2)
}

func TestCreateBlock(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	req := models.BlockRequest{Date: "2025-06-12", Time: "10:00", Duration: 2, RoomID: "drums-1", BookingType: models.BookingBand, Label: "Maintenance"}
	api.bookings.On("CreateBlock", mock.Anything, req).
		Return(&models.Booking{ID: 5, Status: models.StatusConfirmed, Type: "Admin Block"}, []string{"11:00"}, nil)

	resp := api.do(t, http.MethodPost, "/admin/blocks",
		`{"date":"2025-06-12","time":"10:00","duration":2,"roomId":"drums-1","bookingType":"BAND","label":"Maintenance"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Booking   models.Booking `json:"booking"`
		Conflicts []string       `json:"conflicts"`
	}
	decodeJSON(t, resp, &body)
	assert.Equal(t, int64(5), body.Booking.ID)
	assert.Equal(t, []string{"11:00"}, body.Conflicts)
}

func TestAdminRooms(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.rooms.On("GetAllRooms", mock.Anything).Return([]models.Room{{ID: "a"}, {ID: "b", IsVisible: false}}, nil)
	api.rooms.On("CreateRoom", mock.Anything, mock.MatchedBy(func(r *models.Room) bool {
		return r.Name == "Studio" && r.IsVisible && r.Capacity == 4
	})).Return(nil)
	api.rooms.On("UpdateRoom", mock.Anything, mock.MatchedBy(func(r *models.Room) bool {
		return r.ID == "studio" && !r.IsVisible
	})).Return(nil)
	api.rooms.On("DeleteRoom", mock.Anything, "studio").Return(nil)
	api.rooms.On("DeleteRoom", mock.Anything, "ghost").Return(database.ErrRoomNotFound)

	resp := api.do(t, http.MethodGet, "/admin/rooms", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/admin/rooms", `{"name":"Studio","type":"universal","capacity":4}`)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/admin/rooms", `{"name":"Studio","type":"universal","capacity":0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/admin/rooms/studio", `{"name":"Studio","type":"universal","capacity":4,"isVisible":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/admin/rooms/studio", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/admin/rooms/ghost", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidRoomIsBadRequest(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.rooms.On("CreateRoom", mock.Anything, mock.Anything).Return(&service.ErrInvalidRoom{Reason: "unknown room type"})

	resp := api.do(t, http.MethodPost, "/admin/rooms", `{"name":"Odd","type":"piano","capacity":2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	api.exporter.On("Export", mock.Anything, "2025-06-01", "2025-06-07", mock.Anything).Return([]byte("xlsx-bytes"), nil)

	resp := api.do(t, http.MethodGet, "/admin/export?from=2025-06-01&to=2025-06-07", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "schedule_2025-06-01_to_2025-06-07.xlsx")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("xlsx-bytes"), raw))

	resp = api.do(t, http.MethodGet, "/admin/export?from=2025-06-01", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFailedNotifications(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{})
	lastErr := "telegram: 502"
	api.dead.On("GetFailedNotificationTasks", mock.Anything).Return([]models.NotificationTask{
		{ID: 7, BookingID: 3, Event: "booking.confirmed", Status: models.TaskStatusFailed, RetryCount: 5, LastError: &lastErr},
	}, nil).Once()

	resp := api.do(t, http.MethodGet, "/admin/notifications/failed", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Tasks []models.NotificationTask `json:"tasks"`
	}
	decodeJSON(t, resp, &body)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, int64(7), body.Tasks[0].ID)
	require.NotNil(t, body.Tasks[0].LastError)
	assert.Equal(t, lastErr, *body.Tasks[0].LastError)

	api.dead.On("GetFailedNotificationTasks", mock.Anything).Return(nil, errors.New("db gone")).Once()
	resp = api.do(t, http.MethodGet, "/admin/notifications/failed", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAdminAuth(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "admin-key", Extra: "admin-extra"},
				{Key: "rooms-key", Extra: "rooms-extra", Permissions: []string{permAdminRooms}},
			},
		},
	}
	api := newTestAPI(t, cfg)
	api.bookings.On("ListBookings", mock.Anything, mock.Anything).Return([]models.Booking{}, nil)
	api.rooms.On("GetAllRooms", mock.Anything).Return([]models.Room{}, nil)
	api.engine.On("ListAvailableSlots", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	resp := api.do(t, http.MethodGet, "/admin/bookings", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/bookings", "", "X-API-Key", "admin-key", "X-API-Extra", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/bookings", "", "X-API-Key", "admin-key", "X-API-Extra", "admin-extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/bookings", "", "X-API-Key", "rooms-key", "X-API-Extra", "rooms-extra")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/admin/rooms", "", "X-API-Key", "rooms-key", "X-API-Extra", "rooms-extra")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// public endpoints stay open
	resp = api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=band", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPRateLimit(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}})
	api.engine.On("ListAvailableSlots", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	resp := api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=band", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/availability?date=2025-06-12&type=band", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// health checks are never limited
	resp = api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
