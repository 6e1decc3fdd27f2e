// Package export renders the room schedule as an Excel workbook.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"musicschool/internal/models"
	"musicschool/internal/timezone"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	scheduleSheet = "Schedule"
	bookingsSheet = "Bookings"

	// MaxRangeDays bounds a single export.
	MaxRangeDays = 62
)

var ErrInvalidRange = errors.New("invalid export range")

// Source supplies rooms and bookings for the export.
type Source interface {
	GetAllRooms(ctx context.Context) ([]models.Room, error)
	GetBookingsByDateRange(ctx context.Context, from, to string) ([]models.Booking, error)
}

type ScheduleExporter struct {
	source Source
	clock  *timezone.Clock
	logger *zerolog.Logger
}

func NewScheduleExporter(source Source, clock *timezone.Clock, logger *zerolog.Logger) *ScheduleExporter {
	return &ScheduleExporter{source: source, clock: clock, logger: logger}
}

// Export writes a workbook covering [from, to] to w. The Schedule sheet has
// one row per date and room with the 12 hourly slots as columns; Bookings
// lists every booking in the range regardless of status.
func (e *ScheduleExporter) Export(ctx context.Context, from, to string, w io.Writer) error {
	f, err := e.build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// ExportToFile saves the workbook under dir and returns its path.
func (e *ScheduleExporter) ExportToFile(ctx context.Context, from, to, dir string) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, FileName(from, to))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}

// FileName is the suggested name for an export of [from, to].
func FileName(from, to string) string {
	return fmt.Sprintf("schedule_%s_to_%s.xlsx", from, to)
}

func (e *ScheduleExporter) build(ctx context.Context, from, to string) (*excelize.File, error) {
	start, end, err := e.parseRange(from, to)
	if err != nil {
		return nil, err
	}

	rooms, err := e.source.GetAllRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting rooms: %w", err)
	}
	bookings, err := e.source.GetBookingsByDateRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", scheduleSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(bookingsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}

	styles, err := newStyles(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	writeSchedule(f, styles, start, end, rooms, bookings)
	writeBookingList(f, styles, bookings)
	return f, nil
}

func (e *ScheduleExporter) parseRange(from, to string) (time.Time, time.Time, error) {
	start, err := e.clock.ParseDate(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	end, err := e.clock.ParseDate(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to, from)
	}
	if end.Sub(start) > MaxRangeDays*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxRangeDays)
	}
	return start, end, nil
}

type styles struct {
	header    int
	room      int
	confirmed int
	completed int
	pending   int
}

func newStyles(f *excelize.File) (styles, error) {
	var s styles
	var err error
	cell := func(color string) (int, error) {
		return f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
		})
	}

	if s.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	}); err != nil {
		return s, err
	}
	if s.room, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	}); err != nil {
		return s, err
	}
	if s.confirmed, err = cell("#C6EFCE"); err != nil {
		return s, err
	}
	if s.completed, err = cell("#D9D9D9"); err != nil {
		return s, err
	}
	if s.pending, err = cell("#FFEB9C"); err != nil {
		return s, err
	}
	return s, nil
}

func writeSchedule(f *excelize.File, st styles, start, end time.Time, rooms []models.Room, bookings []models.Booking) {
	header := []interface{}{"Date", "Room"}
	for _, h := range models.SlotHours() {
		header = append(header, models.FormatSlot(h))
	}
	_ = f.SetSheetRow(scheduleSheet, "A1", &header)
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	_ = f.SetCellStyle(scheduleSheet, "A1", lastCol+"1", st.header)

	// date -> room -> hour -> booking
	occupied := make(map[string]map[string]map[int]models.Booking)
	for _, b := range bookings {
		if b.Status != models.StatusConfirmed && b.Status != models.StatusCompleted {
			continue
		}
		hour, err := b.StartHour()
		if err != nil {
			continue
		}
		if occupied[b.Date] == nil {
			occupied[b.Date] = make(map[string]map[int]models.Booking)
		}
		if occupied[b.Date][b.RoomID] == nil {
			occupied[b.Date][b.RoomID] = make(map[int]models.Booking)
		}
		for h := hour; h < hour+b.Duration; h++ {
			occupied[b.Date][b.RoomID][h] = b
		}
	}

	row := 2
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(models.DateLayout)
		for _, room := range rooms {
			byHour := occupied[date][room.ID]
			if !room.IsVisible && len(byHour) == 0 {
				continue
			}

			dateCell, _ := excelize.CoordinatesToCellName(1, row)
			roomCell, _ := excelize.CoordinatesToCellName(2, row)
			_ = f.SetCellValue(scheduleSheet, dateCell, date)
			_ = f.SetCellValue(scheduleSheet, roomCell, room.Name)
			_ = f.SetCellStyle(scheduleSheet, dateCell, roomCell, st.room)

			for i, h := range models.SlotHours() {
				b, ok := byHour[h]
				if !ok {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(3+i, row)
				_ = f.SetCellValue(scheduleSheet, cell, occupantName(b))
				style := st.confirmed
				if b.Status == models.StatusCompleted {
					style = st.completed
				}
				_ = f.SetCellStyle(scheduleSheet, cell, cell, style)
			}
			row++
		}
	}

	_ = f.SetColWidth(scheduleSheet, "A", "A", 12)
	_ = f.SetColWidth(scheduleSheet, "B", "B", 20)
	_ = f.SetColWidth(scheduleSheet, "C", lastCol, 16)
	_ = f.SetPanes(scheduleSheet, &excelize.Panes{Freeze: true, XSplit: 2, YSplit: 1, TopLeftCell: "C2", ActivePane: "bottomRight"})
}

func writeBookingList(f *excelize.File, st styles, bookings []models.Booking) {
	header := []interface{}{"ID", "Date", "Time", "Hours", "Booking type", "Label", "Status", "Room", "Name", "Email", "Phone", "Notes", "Admin message"}
	_ = f.SetSheetRow(bookingsSheet, "A1", &header)
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	_ = f.SetCellStyle(bookingsSheet, "A1", lastCol+"1", st.header)

	for i, b := range bookings {
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		values := []interface{}{
			b.ID, b.Date, b.Time, b.Duration, string(b.BookingType), b.Type, string(b.Status),
			b.RoomName, b.Name, b.Email, b.Phone, b.Notes, b.AdminMessage,
		}
		_ = f.SetSheetRow(bookingsSheet, cell, &values)
		if b.Status == models.StatusPending {
			endCell, _ := excelize.CoordinatesToCellName(len(values), row)
			_ = f.SetCellStyle(bookingsSheet, cell, endCell, st.pending)
		}
	}

	_ = f.SetColWidth(bookingsSheet, "A", "H", 14)
	_ = f.SetColWidth(bookingsSheet, "I", lastCol, 22)
}

func occupantName(b models.Booking) string {
	switch {
	case b.Name != "":
		return b.Name
	case b.Type != "":
		return b.Type
	default:
		return fmt.Sprintf("booking #%d", b.ID)
	}
}
