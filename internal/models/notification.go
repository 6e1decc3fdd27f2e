package models

// Notification is a rendered message about one booking.
type Notification struct {
	BookingID int64
	Event     string
	Subject   string
	Text      string
	// Recipient contact, used by channels that reach the customer.
	Email string
	Phone string
}

// BlockRequest is an admin-created booking that occupies a room directly.
type BlockRequest struct {
	Date        string
	Time        string
	Duration    int
	RoomID      string
	BookingType BookingType
	Label       string
	Notes       string
}
