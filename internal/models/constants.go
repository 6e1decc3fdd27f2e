package models

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

const (
	// FirstSlotHour первый час расписания
	FirstSlotHour = 9
	// LastSlotHour последний час, с которого можно начать занятие
	LastSlotHour = 20

	MinDuration = 1
	MaxDuration = 8
)

const (
	// BusinessTimezone часовой пояс школы
	BusinessTimezone = "Europe/Nicosia"

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// RoomsCacheTTL время жизни кэша комнат в памяти
	RoomsCacheTTL = 5 * 60 // 5 минут в секундах

	// DefaultMaxDaysAhead насколько вперед можно бронировать
	DefaultMaxDaysAhead = 90
)

// SlotHours returns the fixed daily start hours in chronological order.
func SlotHours() []int {
	hours := make([]int, 0, LastSlotHour-FirstSlotHour+1)
	for h := FirstSlotHour; h <= LastSlotHour; h++ {
		hours = append(hours, h)
	}
	return hours
}
