package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"musicschool/internal/config"
	"musicschool/internal/domain"
	"musicschool/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Services are the collaborators the HTTP API serves. Submissions,
// Exporter and DeadLetters may be nil.
type Services struct {
	Engine      domain.AvailabilityEngine
	Bookings    domain.BookingService
	Rooms       domain.RoomService
	Exporter    domain.ScheduleExporter
	Submissions domain.RateLimitStore
	DeadLetters domain.DeadLetters
	Health      domain.Pinger
}

// HTTPServer exposes the public booking API and the admin API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Services
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, svc: svc, logger: &httpLogger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	mux.HandleFunc("GET /availability", srv.handleAvailability)
	mux.HandleFunc("GET /rooms", srv.handleFreeRooms)
	mux.HandleFunc("GET /api/v1/rooms", srv.handleVisibleRooms)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)

	mux.HandleFunc("GET /admin/bookings", srv.handleListBookings)
	mux.HandleFunc("GET /admin/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("POST /admin/bookings/{id}/confirm", srv.handleConfirmBooking)
	mux.HandleFunc("POST /admin/bookings/{id}/reject", srv.handleRejectBooking)
	mux.HandleFunc("POST /admin/bookings/{id}/complete", srv.handleCompleteBooking)
	mux.HandleFunc("DELETE /admin/bookings/{id}", srv.handleDeleteBooking)
	mux.HandleFunc("POST /admin/blocks", srv.handleCreateBlock)

	mux.HandleFunc("GET /admin/rooms", srv.handleAllRooms)
	mux.HandleFunc("POST /admin/rooms", srv.handleCreateRoom)
	mux.HandleFunc("PUT /admin/rooms/{id}", srv.handleUpdateRoom)
	mux.HandleFunc("DELETE /admin/rooms/{id}", srv.handleDeleteRoom)
	mux.HandleFunc("GET /admin/export", srv.handleExport)
	mux.HandleFunc("GET /admin/notifications/failed", srv.handleFailedNotifications)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// fail writes err as a JSON error. Server-side failures are logged and
// reported without detail.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, validationMessage(err))
}

// HTTPAuth provides API-key auth for the admin endpoints and per-client rate
// limiting for everything except health checks.
type HTTPAuth struct {
	cfg     config.APIConfig
	auth    *authenticator
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, auth: newAuthenticator(cfg.Auth), limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled && strings.HasPrefix(r.URL.Path, "/admin/") {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(a.auth.extraHeader))
	_, err := a.auth.authenticate(apiKey, extra, requiredPermissionHTTP(r.URL.Path))
	return err
}

func requiredPermissionHTTP(path string) string {
	switch {
	case strings.HasPrefix(path, "/admin/rooms"):
		return permAdminRooms
	case strings.HasPrefix(path, "/admin/export"):
		return permAdminExport
	case strings.HasPrefix(path, "/admin/"):
		return permAdminBookings
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader)); apiKey != "" {
		return apiKey
	}
	return clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := strings.TrimSpace(r.Header.Get(requestIDMetadataKey))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDMetadataKey, requestID)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		// set by the mux once a route matched
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint, recorder.status)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
