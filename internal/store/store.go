package store

import (
	"context"
	"time"
)

// Role identifies the author of a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PauseReason records why the bot was muted for a conversation.
type PauseReason string

const (
	PauseManager        PauseReason = "manager"
	PauseManagerReply   PauseReason = "manager_reply"
	PauseTelegramButton PauseReason = "telegram_button"
	PauseAuto           PauseReason = "auto"
)

// Message is a single history entry. Immutable once stored.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// DefaultHistoryLimit bounds how much context is replayed to the assistant.
	DefaultHistoryLimit = 20

	// DefaultPauseTTL is how long a pause survives before it lapses on read.
	DefaultPauseTTL = 48 * time.Hour

	// botMessageCap bounds the bot-message dedupe set; oldest ids are evicted past it.
	botMessageCap = 1000
)

// Store tracks conversation history, pause state, and the bot-message dedupe set.
// Both backends implement the full contract, so the durable deployment keeps
// operator hand-off detection across restarts.
type Store interface {
	// Init performs idempotent setup (schema creation or ping).
	Init(ctx context.Context) error

	// SaveMessage appends one history entry.
	SaveMessage(ctx context.Context, conversationID string, role Role, content string) error

	// GetHistory returns up to limit most recent messages, oldest first.
	// Read failures degrade to an empty history, never an error.
	GetHistory(ctx context.Context, conversationID string, limit int) []Message

	// Pause upserts the pause record for a conversation; last reason wins.
	Pause(ctx context.Context, conversationID string, reason PauseReason) error

	// Resume deletes the pause record; no-op if absent.
	Resume(ctx context.Context, conversationID string) error

	// IsPaused reports whether the bot is muted. A pause older than the TTL is
	// cleared as a side effect and reported as not paused.
	IsPaused(ctx context.Context, conversationID string) bool

	// TrackBotMessage records a platform message id as bot-authored.
	TrackBotMessage(ctx context.Context, messageID int64) error

	// IsBotMessage reports whether the id was previously tracked.
	IsBotMessage(ctx context.Context, messageID int64) bool

	// CleanOldHistory drops history older than daysToKeep. Best effort: failures
	// are logged, never propagated.
	CleanOldHistory(ctx context.Context, daysToKeep int)

	// Close releases backend resources. Idempotent.
	Close()
}
