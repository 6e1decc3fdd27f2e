package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"musicschool/internal/models"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type createBookingRequest struct {
	Date        string `json:"date" validate:"required"`
	Time        string `json:"time" validate:"required"`
	Duration    int    `json:"duration" validate:"required"`
	BookingType string `json:"bookingType" validate:"required"`
	Type        string `json:"type" validate:"max=100"`
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email,max=200"`
	Phone       string `json:"phone" validate:"omitempty,max=50"`
	Notes       string `json:"notes" validate:"max=2000"`
}

func (r createBookingRequest) toBooking() *models.Booking {
	return &models.Booking{
		Date:        strings.TrimSpace(r.Date),
		Time:        strings.TrimSpace(r.Time),
		Duration:    r.Duration,
		BookingType: models.BookingType(r.BookingType),
		Type:        strings.TrimSpace(r.Type),
		Name:        r.Name,
		Email:       strings.TrimSpace(r.Email),
		Phone:       strings.TrimSpace(r.Phone),
		Notes:       r.Notes,
	}
}

type confirmRequest struct {
	Version      int64  `json:"version" validate:"gte=0"`
	RoomID       string `json:"roomId" validate:"required"`
	AdminMessage string `json:"adminMessage" validate:"max=2000"`
}

type rejectRequest struct {
	Version      int64  `json:"version" validate:"gte=0"`
	AdminMessage string `json:"adminMessage" validate:"max=2000"`
}

type completeRequest struct {
	Version int64 `json:"version" validate:"gte=0"`
}

type blockRequest struct {
	Date        string `json:"date" validate:"required"`
	Time        string `json:"time" validate:"required"`
	Duration    int    `json:"duration" validate:"required"`
	RoomID      string `json:"roomId" validate:"required"`
	BookingType string `json:"bookingType"`
	Label       string `json:"label" validate:"max=200"`
	Notes       string `json:"notes" validate:"max=2000"`
}

func (r blockRequest) toModel() models.BlockRequest {
	return models.BlockRequest{
		Date:        strings.TrimSpace(r.Date),
		Time:        strings.TrimSpace(r.Time),
		Duration:    r.Duration,
		RoomID:      strings.TrimSpace(r.RoomID),
		BookingType: models.NormalizeBookingType(r.BookingType),
		Label:       r.Label,
		Notes:       r.Notes,
	}
}

type roomRequest struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	Name        string `json:"name" validate:"required,max=100"`
	Type        string `json:"type" validate:"required"`
	Capacity    int    `json:"capacity" validate:"required,min=1"`
	Description string `json:"description" validate:"max=2000"`
	IsVisible   *bool  `json:"isVisible"`
}

func (r roomRequest) toRoom() *models.Room {
	visible := true
	if r.IsVisible != nil {
		visible = *r.IsVisible
	}
	return &models.Room{
		ID:          strings.TrimSpace(r.ID),
		Name:        r.Name,
		Type:        models.RoomType(r.Type),
		Capacity:    r.Capacity,
		Description: r.Description,
		IsVisible:   visible,
	}
}

var errInvalidBody = errors.New("invalid JSON body")

// decodeBody reads a JSON body into dst and validates it. An empty body is
// accepted for requests whose fields are all optional.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("%w: %w", errInvalidBody, err)
		}
	}
	return validate.Struct(dst)
}

// validationMessage renders validator errors as "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
