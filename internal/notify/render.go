// Package notify turns booking events into short messages and delivers them.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"musicschool/internal/events"
	"musicschool/internal/models"
)

var subjects = map[string]string{
	events.EventBookingCreated:   "New booking request",
	events.EventBookingConfirmed: "Booking confirmed",
	events.EventBookingRejected:  "Booking rejected",
	events.EventBookingCompleted: "Booking completed",
	events.EventBookingDeleted:   "Booking deleted",
}

// Render builds the notification for an event payload as stored in the queue.
func Render(eventType string, payload []byte) (models.Notification, error) {
	var p events.BookingEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.Notification{}, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	subject, ok := subjects[eventType]
	if !ok {
		subject = "Booking update"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s #%d\n", subject, p.BookingID)
	if p.Name != "" {
		fmt.Fprintf(&sb, "Name: %s\n", p.Name)
	}
	fmt.Fprintf(&sb, "When: %s %s, %dh\n", p.Date, p.Time, p.Duration)
	fmt.Fprintf(&sb, "Type: %s", p.BookingType)
	if p.Label != "" {
		fmt.Fprintf(&sb, " (%s)", p.Label)
	}
	sb.WriteString("\n")
	if p.RoomName != "" {
		fmt.Fprintf(&sb, "Room: %s\n", p.RoomName)
	}
	if p.AdminMessage != "" {
		fmt.Fprintf(&sb, "Message: %s\n", p.AdminMessage)
	}

	return models.Notification{
		BookingID: p.BookingID,
		Event:     eventType,
		Subject:   subject,
		Text:      strings.TrimRight(sb.String(), "\n"),
		Email:     p.Email,
		Phone:     p.Phone,
	}, nil
}
