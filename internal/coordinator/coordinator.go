// Package coordinator orchestrates the per-event conversation pipeline:
// ownership classification, pause gating, assistant invocation, persistence,
// reply dispatch, and manager escalation.
package coordinator

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/EZEN13/vk-travel-bot/internal/assistant"
	"github.com/EZEN13/vk-travel-bot/internal/escalation"
	"github.com/EZEN13/vk-travel-bot/internal/notify"
	"github.com/EZEN13/vk-travel-bot/internal/observability/metrics"
	"github.com/EZEN13/vk-travel-bot/internal/store"
	"github.com/EZEN13/vk-travel-bot/internal/vk"
	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

const emptyTextPrompt = "Пожалуйста, отправьте текстовое сообщение, и я помогу подобрать тур 🙂"

// Messenger is the slice of the VK client the pipeline uses.
type Messenger interface {
	SendMessage(ctx context.Context, peerID int64, text string) (int64, error)
	SetTyping(ctx context.Context, peerID int64) error
	GetUser(ctx context.Context, userID int64) (*vk.User, error)
}

// Notifier is the escalation surface of the notification coordinator.
type Notifier interface {
	NotifyLead(ctx context.Context, lead notify.LeadData) error
	NotifyManagerRequest(ctx context.Context, lead notify.LeadData) error
}

// Coordinator runs each inbound event to completion independently. There is no
// cross-event coordination beyond shared store state.
type Coordinator struct {
	store        store.Store
	messenger    Messenger
	assistant    assistant.Assistant
	notifier     Notifier
	groupID      int64
	historyLimit int
	logger       *logging.Logger
	tracer       trace.Tracer
	metrics      *metrics.ConversationMetrics
}

// Config wires the coordinator's collaborators.
type Config struct {
	Store        store.Store
	Messenger    Messenger
	Assistant    assistant.Assistant
	Notifier     Notifier
	GroupID      int64
	HistoryLimit int
	Logger       *logging.Logger
	Metrics      *metrics.ConversationMetrics
}

// New creates the conversation coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Store == nil {
		panic("coordinator: store cannot be nil")
	}
	if cfg.Messenger == nil {
		panic("coordinator: messenger cannot be nil")
	}
	if cfg.Assistant == nil {
		panic("coordinator: assistant cannot be nil")
	}
	if cfg.Notifier == nil {
		panic("coordinator: notifier cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = store.DefaultHistoryLimit
	}
	return &Coordinator{
		store:        cfg.Store,
		messenger:    cfg.Messenger,
		assistant:    cfg.Assistant,
		notifier:     cfg.Notifier,
		groupID:      cfg.GroupID,
		historyLimit: limit,
		logger:       logger,
		tracer:       otel.Tracer("vk-travel-bot.internal.coordinator"),
		metrics:      cfg.Metrics,
	}
}

// HandleEvent processes one webhook event to completion. The webhook response
// was already sent; failures here are only visible via logs and metrics.
func (c *Coordinator) HandleEvent(ctx context.Context, event vk.Event) {
	ctx, span := c.tracer.Start(ctx, "coordinator.handle_event")
	defer span.End()
	span.SetAttributes(attribute.String("vk.event_type", event.Type))

	eventID := event.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	logger := &logging.Logger{Logger: c.logger.With("event_id", eventID, "event_type", event.Type)}

	msg, err := vk.ParseMessage(event)
	if err != nil {
		logger.Error("failed to parse event", "error", err)
		c.metrics.ObserveInbound(event.Type, "malformed")
		return
	}
	conversationID := strconv.FormatInt(msg.PeerID, 10)
	span.SetAttributes(attribute.String("conversation_id", conversationID))
	logger = &logging.Logger{Logger: logger.With("conversation_id", conversationID)}

	// Outbound traffic surfaces back through the same event stream. Reflected
	// "reply" events and messages authored as the group are operator territory
	// unless the bot itself sent them.
	if event.Type == vk.EventMessageReply || c.isGroupAuthored(msg) {
		c.handleOperatorMessage(ctx, logger, event.Type, msg, conversationID)
		return
	}

	if c.store.IsPaused(ctx, conversationID) {
		logger.Info("conversation paused, skipping")
		c.metrics.ObserveInbound(event.Type, "paused")
		return
	}

	if msg.Text == "" {
		if id, err := c.messenger.SendMessage(ctx, msg.PeerID, emptyTextPrompt); err != nil {
			logger.Error("failed to send empty-text prompt", "error", err)
		} else if err := c.store.TrackBotMessage(ctx, id); err != nil {
			logger.Error("failed to track bot message", "error", err, "message_id", id)
		}
		c.metrics.ObserveInbound(event.Type, "empty_text")
		return
	}

	userName := c.fetchUserName(ctx, logger, msg.FromID)
	if err := c.messenger.SetTyping(ctx, msg.PeerID); err != nil {
		logger.Warn("failed to set typing indicator", "error", err)
	}
	history := c.store.GetHistory(ctx, conversationID, c.historyLimit)

	start := time.Now()
	reply, err := c.assistant.Reply(ctx, msg.Text, userName, history)
	if err != nil {
		logger.Error("assistant invocation failed", "error", err)
		c.metrics.ObserveInbound(event.Type, "assistant_error")
		return
	}
	c.metrics.ObserveAssistantLatency(time.Since(start).Seconds())

	// A storage hiccup must not blind the customer: log and keep going.
	if err := c.store.SaveMessage(ctx, conversationID, store.RoleUser, msg.Text); err != nil {
		logger.Error("failed to save inbound message", "error", err)
	}
	if err := c.store.SaveMessage(ctx, conversationID, store.RoleAssistant, reply.Text); err != nil {
		logger.Error("failed to save assistant reply", "error", err)
	}

	messageID, err := c.messenger.SendMessage(ctx, msg.PeerID, reply.Text)
	if err != nil {
		logger.Error("failed to send reply", "error", err)
		c.metrics.ObserveInbound(event.Type, "send_error")
		return
	}
	if err := c.store.TrackBotMessage(ctx, messageID); err != nil {
		logger.Error("failed to track bot message", "error", err, "message_id", messageID)
	}

	c.escalateIfNeeded(ctx, logger, msg, conversationID, userName, reply.WantsHuman, history)
	c.metrics.ObserveInbound(event.Type, "replied")
}

// isGroupAuthored reports whether the message was sent as the community itself
// (the negative group id convention).
func (c *Coordinator) isGroupAuthored(msg vk.Message) bool {
	if msg.FromID >= 0 {
		return false
	}
	return c.groupID == 0 || msg.FromID == -c.groupID
}

// handleOperatorMessage distinguishes a human operator writing from the group
// account (pause the bot) from the bot's own echoes (expected noise).
func (c *Coordinator) handleOperatorMessage(ctx context.Context, logger *logging.Logger, eventType string, msg vk.Message, conversationID string) {
	messageID := msg.ID
	if messageID == 0 {
		messageID = msg.ConversationMessageID
	}
	if c.store.IsBotMessage(ctx, messageID) {
		c.metrics.ObserveInbound(eventType, "bot_echo")
		return
	}

	reason := store.PauseManager
	if eventType == vk.EventMessageReply {
		reason = store.PauseManagerReply
	}
	if err := c.store.Pause(ctx, conversationID, reason); err != nil {
		logger.Error("failed to pause after operator message", "error", err, "reason", reason)
		c.metrics.ObserveInbound(eventType, "pause_error")
		return
	}
	logger.Info("operator took over conversation", "reason", reason)
	c.metrics.ObserveInbound(eventType, "operator_pause")
}

func (c *Coordinator) fetchUserName(ctx context.Context, logger *logging.Logger, userID int64) string {
	user, err := c.messenger.GetUser(ctx, userID)
	if err != nil {
		logger.Warn("failed to fetch sender profile", "error", err, "user_id", userID)
		return ""
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}

// escalateIfNeeded runs the hand-off sub-path. A shared phone number wins over
// the human-request marker when both are present. Failures are logged and never
// rolled back into the reply path.
func (c *Coordinator) escalateIfNeeded(ctx context.Context, logger *logging.Logger, msg vk.Message, conversationID, userName string, wantsHuman bool, history []store.Message) {
	phone, hasPhone := escalation.ExtractPhone(msg.Text)
	if !hasPhone && !wantsHuman {
		return
	}

	summary, err := c.assistant.Summarize(ctx, history, msg.Text)
	if err != nil {
		logger.Error("lead summary failed, escalation skipped", "error", err)
		c.metrics.ObserveEscalation("summary_error")
		return
	}
	lead := notify.LeadData{
		ConversationID: conversationID,
		Name:           userName,
		Summary:        summary,
	}

	if hasPhone {
		lead.Phone = phone
		pref, err := c.assistant.ExtractContactPreference(ctx, msg.Text)
		if err != nil {
			logger.Warn("contact preference extraction failed", "error", err)
		} else {
			lead.ContactPreference = pref
		}
		if err := c.notifier.NotifyLead(ctx, lead); err != nil {
			logger.Error("lead notification failed", "error", err)
			c.metrics.ObserveEscalation("lead_error")
			return
		}
		logger.Info("lead escalated", "phone", phone)
		c.metrics.ObserveEscalation("lead")
		return
	}

	if err := c.notifier.NotifyManagerRequest(ctx, lead); err != nil {
		logger.Error("manager request notification failed", "error", err)
		c.metrics.ObserveEscalation("manager_request_error")
		return
	}
	logger.Info("manager request escalated")
	c.metrics.ObserveEscalation("manager_request")
}
