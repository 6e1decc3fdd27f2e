package notify

import (
	"context"
	"errors"
	"fmt"

	"musicschool/internal/domain"
	"musicschool/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the application log. Used when no
// delivery channel is configured.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg models.Notification) error {
	n.logger.Info().
		Int64("booking_id", msg.BookingID).
		Str("event", msg.Event).
		Str("subject", msg.Subject).
		Msg(msg.Text)
	return nil
}

// TelegramNotifier posts notifications to the admin chats.
type TelegramNotifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	logger  *zerolog.Logger
}

func NewTelegramNotifier(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatIDs: chatIDs, logger: logger}
}

// Notify sends to every admin chat; the task is retried if any chat failed.
func (n *TelegramNotifier) Notify(ctx context.Context, msg models.Notification) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
		if _, err := n.bot.Send(tgMsg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Int64("booking_id", msg.BookingID).Msg("telegram send failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// Multi fans a notification out to several notifiers.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, msg models.Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
