package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"musicschool/internal/domain"
	"musicschool/internal/events"
	"musicschool/internal/metrics"
	"musicschool/internal/models"
	"musicschool/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	notificationQueueKey      = "musicschool:notifications"
	notificationDeadLetterKey = "musicschool:notifications:deadletter"

	defaultProcessingLease = 5 * time.Minute
)

// NotificationWorker delivers booking status notifications. Every task is
// persisted first; Redis or the in-memory channel only shortens the wait,
// the database poll picks up anything they lose.
type NotificationWorker struct {
	queue         domain.NotificationQueue
	notifier      domain.Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan int64
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	lease         time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewNotificationWorker builds a worker; redisClient may be nil.
func NewNotificationWorker(
	queue domain.NotificationQueue,
	notifier domain.Notifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		queue:         queue,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		local:         make(chan int64, models.WorkerQueueSize),
		redisQueueKey: notificationQueueKey,
		deadLetterKey: notificationDeadLetterKey,
		pollInterval:  2 * time.Second,
		lease:         defaultProcessingLease,
		batchSize:     20,
		logger:        logger,
	}
}

// Subscribe attaches the worker to the status transition events.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	bus.Subscribe(func(ev *events.Event) error {
		return w.Enqueue(context.Background(), ev.Type, ev.Payload)
	}, events.StatusEvents...)
}

// Enqueue persists a notification task and schedules it for delivery.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}
	var p events.BookingEventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if p.BookingID == 0 {
		return errors.New("booking id is required")
	}

	task := models.NotificationTask{
		BookingID: p.BookingID,
		Event:     eventType,
		Payload:   string(payload),
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.queue.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		err := w.redis.LPush(ctx, w.redisQueueKey, task.ID).Err()
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, using memory queue")
	}

	select {
	case w.local <- task.ID:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if id, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, id)
			continue
		}
		if id, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, id)
			continue
		}

		tasks, err := w.queue.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
		}
		if err != nil || len(tasks) == 0 {
			w.wait(ctx)
			continue
		}
		for i := range tasks {
			w.processTask(ctx, tasks[i].ID)
		}
	}
}

func (w *NotificationWorker) wait(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *NotificationWorker) tryLocalQueue() (int64, bool) {
	select {
	case id := <-w.local:
		return id, true
	default:
		return 0, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (int64, bool) {
	if w.redis == nil {
		return 0, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("redis BRPOP error")
		}
		return 0, false
	}
	if len(res) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(res[1], 10, 64)
	if err != nil {
		w.logger.Error().Err(err).Str("value", res[1]).Msg("decode redis task id")
		return 0, false
	}
	return id, true
}

// processTask reloads the task so a delivery seen through two paths is
// handled once.
func (w *NotificationWorker) processTask(ctx context.Context, id int64) {
	task, err := w.queue.GetNotificationTask(ctx, id)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", id).Msg("load notification task")
		return
	}
	if !claimable(task, time.Now()) {
		return
	}
	if task.Status == models.TaskStatusProcessing {
		w.logger.Warn().Int64("task_id", task.ID).Msg("reclaiming notification task with expired lease")
	}

	lease := time.Now().UTC().Add(w.lease)
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusProcessing, "", &lease); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark processing")
		return
	}

	msg, err := notify.Render(task.Event, []byte(task.Payload))
	if err != nil {
		w.failTask(ctx, task, err)
		return
	}

	if err := w.notifier.Notify(ctx, msg); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncNotification("sent")
}

// claimable reports whether the task may be delivered now: it is waiting, or
// a previous claim on it has expired.
func claimable(task *models.NotificationTask, now time.Time) bool {
	switch task.Status {
	case models.TaskStatusPending, models.TaskStatusRetry:
		return true
	case models.TaskStatusProcessing:
		return task.NextRetryAt == nil || !task.NextRetryAt.After(now)
	default:
		return false
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	// stored in UTC so SQLite compares timestamps textually in one zone
	nextTime := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("notification delivery failed")
	metrics.IncNotification("retry")
}

func (w *NotificationWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	if err := w.queue.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Msg("notification dead-lettered")
	metrics.IncNotification("failed")
	w.pushDeadLetter(ctx, task)
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
