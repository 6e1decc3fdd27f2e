package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "musicschool"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	availabilityQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "availability_queries_total",
			Help:      "Availability engine calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	availabilityLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_query_seconds",
			Help:      "Availability engine latency.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	confirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_confirmations_total",
			Help:      "Booking confirmation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	sweptBookings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_completed_by_sweep_total",
			Help:      "Confirmed bookings moved to completed by the periodic sweep.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			availabilityQueries,
			availabilityLatency,
			confirmations,
			notifications,
			sweptBookings,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveAvailability records one engine call.
func ObserveAvailability(operation string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	availabilityQueries.WithLabelValues(operation, result).Inc()
	availabilityLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func IncConfirmation(outcome string) {
	confirmations.WithLabelValues(outcome).Inc()
}

func IncNotification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

func AddSwept(n int64) {
	if n > 0 {
		sweptBookings.Add(float64(n))
	}
}
