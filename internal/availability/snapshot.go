package availability

import (
	"fmt"
	"sort"

	"musicschool/internal/models"
)

// Snapshot is the state one availability decision is computed from: the room
// catalogue and the bookings of a single date.
type Snapshot struct {
	Rooms    []models.Room
	Bookings []models.Booking
}

// occupancy maps room id to the half-open hour ranges taken by confirmed
// bookings.
type occupancy map[string][]span

type span struct {
	start, end int
	booking    *models.Booking
}

func (s span) covers(hour int) bool { return s.start <= hour && hour < s.end }

func (s span) overlaps(start, end int) bool { return s.start < end && start < s.end }

func (s *Snapshot) occupancy() (occupancy, error) {
	occ := make(occupancy)
	for i := range s.Bookings {
		b := &s.Bookings[i]
		if b.Status != models.StatusConfirmed || b.RoomID == "" {
			continue
		}
		start, end, err := b.Span()
		if err != nil {
			return nil, fmt.Errorf("%w: booking %d: %v", ErrDataAccess, b.ID, err)
		}
		occ[b.RoomID] = append(occ[b.RoomID], span{start: start, end: end, booking: b})
	}
	for id := range occ {
		spans := occ[id]
		sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	}
	return occ, nil
}

func (o occupancy) freeAt(roomID string, hour int) bool {
	for _, sp := range o[roomID] {
		if sp.covers(hour) {
			return false
		}
	}
	return true
}

func (o occupancy) freeDuring(roomID string, start, end int) bool {
	for _, sp := range o[roomID] {
		if sp.overlaps(start, end) {
			return false
		}
	}
	return true
}

// SuitableRooms returns visible rooms eligible for bt, in catalogue order.
func (s *Snapshot) SuitableRooms(bt models.BookingType) []models.Room {
	out := make([]models.Room, 0, len(s.Rooms))
	for _, r := range s.Rooms {
		if r.IsVisible && Eligible(r.Type, bt) {
			out = append(out, r)
		}
	}
	return out
}

// AvailableSlots returns every fixed slot in which at least one suitable room
// is free.
func (s *Snapshot) AvailableSlots(bt models.BookingType) ([]string, error) {
	occ, err := s.occupancy()
	if err != nil {
		return nil, err
	}
	rooms := s.SuitableRooms(bt)

	slots := make([]string, 0, len(models.SlotHours()))
	for _, hour := range models.SlotHours() {
		for _, r := range rooms {
			if occ.freeAt(r.ID, hour) {
				slots = append(slots, models.FormatSlot(hour))
				break
			}
		}
	}
	return slots, nil
}

// AvailableRooms returns suitable rooms with no confirmed booking overlapping
// [start, start+duration).
func (s *Snapshot) AvailableRooms(start, duration int, bt models.BookingType) ([]models.Room, error) {
	occ, err := s.occupancy()
	if err != nil {
		return nil, err
	}
	end := start + duration

	out := make([]models.Room, 0)
	for _, r := range s.SuitableRooms(bt) {
		if occ.freeDuring(r.ID, start, end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Conflicts lists "HH:00 - name" for every hour of [start, start+duration)
// that a confirmed booking in one of roomIDs already covers.
func (s *Snapshot) Conflicts(roomIDs []string, start, duration int) ([]string, error) {
	occ, err := s.occupancy()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0)
	for hour := start; hour < start+duration; hour++ {
		for _, id := range roomIDs {
			for _, sp := range occ[id] {
				if sp.covers(hour) {
					out = append(out, fmt.Sprintf("%s - %s", models.FormatSlot(hour), displayName(sp.booking)))
				}
			}
		}
	}
	return out, nil
}

func displayName(b *models.Booking) string {
	if b.Name != "" {
		return b.Name
	}
	if b.Type != "" {
		return b.Type
	}
	return fmt.Sprintf("booking #%d", b.ID)
}
