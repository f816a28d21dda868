// Package notify alerts operators about recordings that need manual
// reconciliation.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

// Notifier receives partial-success events
type Notifier interface {
	PartialSuccess(ctx context.Context, event *model.RecordingEvent) error
}

// Nop drops every alert. Used when no chat is configured.
type Nop struct{}

func (Nop) PartialSuccess(context.Context, *model.RecordingEvent) error {
	return nil
}

// Telegram sends alerts to a single chat through the Bot API
type Telegram struct {
	tb   *tele.Bot
	chat *tele.Chat
}

type Option func(*tele.Settings)

// WithAPIURL points the bot at another Bot API server
func WithAPIURL(url string) Option {
	return func(s *tele.Settings) { s.URL = url }
}

// NewTelegram creates a send-only bot. It never polls for updates.
func NewTelegram(token string, chatID int64, opts ...Option) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	pref := tele.Settings{
		Token:   token,
		Offline: true,
	}
	for _, opt := range opts {
		opt(&pref)
	}

	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	logger.Info("Telegram notifier created", zap.Int64("chat_id", chatID))

	return &Telegram{
		tb:   tb,
		chat: &tele.Chat{ID: chatID},
	}, nil
}

func (t *Telegram) PartialSuccess(ctx context.Context, event *model.RecordingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.tb.Send(t.chat, FormatPartial(event)); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}

	logger.Info("Partial success alert sent",
		zap.String("key", event.Key),
		zap.String("prompt_id", event.PromptID))

	return nil
}

// FormatPartial renders the alert text
func FormatPartial(event *model.RecordingEvent) string {
	var b strings.Builder
	b.WriteString("Recording stored but prompt queue not advanced\n")
	fmt.Fprintf(&b, "prompt: %s\n", event.PromptID)
	fmt.Fprintf(&b, "key: %s\n", event.Key)
	fmt.Fprintf(&b, "url: %s", event.URL)
	if event.Error != nil {
		fmt.Fprintf(&b, "\nerror: %s", *event.Error)
	}
	return b.String()
}
