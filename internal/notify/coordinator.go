// Package notify maintains at most one live escalation notification per
// conversation in the manager Telegram channel and maps its buttons back onto
// conversation pause state.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/EZEN13/vk-travel-bot/internal/assistant"
	"github.com/EZEN13/vk-travel-bot/internal/store"
	"github.com/EZEN13/vk-travel-bot/internal/telegram"
	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

// Operator acknowledgment toasts. Each outcome has a distinct text so the
// operator knows what happened.
const (
	ackPaused     = "Бот поставлен на паузу"
	ackResumed    = "Бот снова отвечает"
	ackStoreError = "Ошибка: не удалось изменить состояние бота"
)

// ChannelTransport is the subset of the Telegram client the coordinator uses.
type ChannelTransport interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (int64, error)
	EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	EditReplyMarkup(ctx context.Context, chatID, messageID int64, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Pauser is the pause/resume slice of the conversation store.
type Pauser interface {
	Pause(ctx context.Context, conversationID string, reason store.PauseReason) error
	Resume(ctx context.Context, conversationID string) error
}

// LeadData is everything the manager needs to pick up a conversation.
type LeadData struct {
	ConversationID    string
	Name              string
	Phone             string
	ContactPreference string
	Summary           assistant.LeadSummary
}

// Coordinator owns the conversation-to-notification mapping. The mapping is
// process-local: after a restart the next escalation creates a fresh
// notification instead of editing the old one.
type Coordinator struct {
	channel ChannelTransport
	pauser  Pauser
	chatID  int64
	logger  *logging.Logger
	tracer  trace.Tracer

	mu   sync.Mutex
	live map[string]int64
}

// NewCoordinator creates a notification coordinator for one manager chat.
func NewCoordinator(channel ChannelTransport, pauser Pauser, chatID int64, logger *logging.Logger) *Coordinator {
	if channel == nil {
		panic("notify: channel transport cannot be nil")
	}
	if pauser == nil {
		panic("notify: pauser cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		channel: channel,
		pauser:  pauser,
		chatID:  chatID,
		logger:  logger,
		tracer:  otel.Tracer("vk-travel-bot.internal.notify"),
		live:    make(map[string]int64),
	}
}

// NotifyLead posts or updates the escalation notification for a shared phone number.
func (c *Coordinator) NotifyLead(ctx context.Context, lead LeadData) error {
	ctx, span := c.tracer.Start(ctx, "notify.lead")
	defer span.End()

	text := renderLead("🔥 Новая заявка", lead)
	return c.postOrUpdate(ctx, lead.ConversationID, text)
}

// NotifyManagerRequest posts or updates the notification for an explicit human request.
func (c *Coordinator) NotifyManagerRequest(ctx context.Context, lead LeadData) error {
	ctx, span := c.tracer.Start(ctx, "notify.manager_request")
	defer span.End()

	text := renderLead("🙋 Клиент просит менеджера", lead)
	return c.postOrUpdate(ctx, lead.ConversationID, text)
}

// postOrUpdate collapses repeated triggers into one evolving notification. An
// edit failure (message too old, deleted) falls back to a fresh send and the
// remembered id is replaced.
func (c *Coordinator) postOrUpdate(ctx context.Context, conversationID, text string) error {
	markup := pauseMarkup(conversationID)

	c.mu.Lock()
	messageID, exists := c.live[conversationID]
	c.mu.Unlock()

	if exists {
		err := c.channel.EditMessage(ctx, c.chatID, messageID, text, markup)
		if err == nil {
			return nil
		}
		c.logger.Warn("notification edit failed, sending fresh", "error", err, "conversation_id", conversationID)
	}

	newID, err := c.channel.SendMessage(ctx, c.chatID, text, markup)
	if err != nil {
		return fmt.Errorf("notify: send notification: %w", err)
	}
	c.mu.Lock()
	c.live[conversationID] = newID
	c.mu.Unlock()
	return nil
}

// HandleCallback maps a pause/resume button press onto store state and swaps
// the controls. Store unavailability is surfaced to the operator, not swallowed.
func (c *Coordinator) HandleCallback(ctx context.Context, q telegram.CallbackQuery) {
	ctx, span := c.tracer.Start(ctx, "notify.callback")
	defer span.End()

	action, conversationID, ok := strings.Cut(q.Data, ":")
	if !ok || conversationID == "" {
		c.logger.Warn("unrecognized callback data", "data", q.Data)
		return
	}

	var ack string
	var nextMarkup *telegram.InlineKeyboardMarkup
	switch action {
	case "pause":
		if err := c.pauser.Pause(ctx, conversationID, store.PauseTelegramButton); err != nil {
			c.logger.Error("pause via button failed", "error", err, "conversation_id", conversationID)
			ack = ackStoreError
		} else {
			ack = ackPaused
			nextMarkup = resumeMarkup(conversationID)
		}
	case "resume":
		if err := c.pauser.Resume(ctx, conversationID); err != nil {
			c.logger.Error("resume via button failed", "error", err, "conversation_id", conversationID)
			ack = ackStoreError
		} else {
			ack = ackResumed
			nextMarkup = pauseMarkup(conversationID)
		}
	default:
		c.logger.Warn("unrecognized callback action", "action", action)
		return
	}

	if err := c.channel.AnswerCallback(ctx, q.ID, ack); err != nil {
		c.logger.Error("failed to answer callback", "error", err)
	}
	if nextMarkup != nil {
		if err := c.channel.EditReplyMarkup(ctx, q.Message.Chat.ID, q.Message.MessageID, nextMarkup); err != nil {
			c.logger.Error("failed to swap notification controls", "error", err, "conversation_id", conversationID)
		}
	}
}

func pauseMarkup(conversationID string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "⏸ Остановить бота", CallbackData: "pause:" + conversationID},
		}},
	}
}

func resumeMarkup(conversationID string) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "▶️ Включить бота", CallbackData: "resume:" + conversationID},
		}},
	}
}

func renderLead(title string, lead LeadData) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	writeField(&sb, "Имя", lead.Name)
	writeField(&sb, "Телефон", lead.Phone)
	writeField(&sb, "Как связаться", lead.ContactPreference)
	writeField(&sb, "Направление", lead.Summary.Destination)
	writeField(&sb, "Даты", lead.Summary.Dates)
	writeField(&sb, "Пожелания", lead.Summary.Preferences)
	writeField(&sb, "Состав", lead.Summary.PartySize)
	writeField(&sb, "Бюджет", lead.Summary.Budget)
	writeField(&sb, "Город вылета", lead.Summary.DepartureCity)
	writeField(&sb, "Детали", lead.Summary.Details)
	sb.WriteString("\nДиалог: ")
	sb.WriteString(lead.ConversationID)
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	sb.WriteString(label)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\n")
}
