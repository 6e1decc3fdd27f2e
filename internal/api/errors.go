package api

import (
	"errors"
	"net/http"

	"musicschool/internal/availability"
	"musicschool/internal/database"
	"musicschool/internal/export"
	"musicschool/internal/service"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var badRequestErrors = []error{
	availability.ErrInvalidDate,
	availability.ErrInvalidTime,
	availability.ErrInvalidDuration,
	availability.ErrUnrecognizedBookingType,
	service.ErrPastDate,
	service.ErrDateTooFar,
	service.ErrRoomRequired,
	service.ErrMissingName,
	export.ErrInvalidRange,
	errInvalidBody,
}

var conflictErrors = []error{
	database.ErrRoomNoLongerAvailable,
	database.ErrConcurrentModification,
	database.ErrBookingNotDeletable,
	service.ErrInvalidTransition,
	service.ErrRoomNotEligible,
	service.ErrSlotUnavailable,
}

// statusForError maps domain errors onto HTTP status codes. Anything not
// recognised, data access failures included, is a 500.
func statusForError(err error) int {
	var invalidRoom *service.ErrInvalidRoom
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &invalidRoom), errors.As(err, &validationErrs):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// grpcError converts a domain error into a gRPC status error.
func grpcError(err error) error {
	switch statusForError(err) {
	case http.StatusBadRequest:
		return status.Error(codes.InvalidArgument, err.Error())
	case http.StatusNotFound:
		return status.Error(codes.NotFound, err.Error())
	case http.StatusConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
