package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

// DB is the subset of pgxpool.Pool the store needs. pgxmock satisfies it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore is the durable backend.
type PostgresStore struct {
	db       DB
	logger   *logging.Logger
	tracer   trace.Tracer
	pauseTTL time.Duration
	now      func() time.Time
}

// NewPostgresStore creates a store backed by a pgx pool.
func NewPostgresStore(db DB, logger *logging.Logger) *PostgresStore {
	if db == nil {
		panic("store: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresStore{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("vk-travel-bot.internal.store.postgres"),
		pauseTTL: DefaultPauseTTL,
		now:      time.Now,
	}
}

// WithPauseTTL overrides the pause expiry window.
func (s *PostgresStore) WithPauseTTL(d time.Duration) *PostgresStore {
	if d > 0 {
		s.pauseTTL = d
	}
	return s
}

// Init creates the schema if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.init")
	defer span.End()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages (conversation_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at
			ON messages (created_at)`,
		`CREATE TABLE IF NOT EXISTS pauses (
			conversation_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			paused_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bot_messages (
			message_id BIGINT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			span.RecordError(err)
			return fmt.Errorf("store: schema init failed: %w", err)
		}
	}
	return nil
}

// SaveMessage appends one history row.
func (s *PostgresStore) SaveMessage(ctx context.Context, conversationID string, role Role, content string) error {
	ctx, span := s.tracer.Start(ctx, "store.save_message")
	defer span.End()

	query := `INSERT INTO messages (conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.Exec(ctx, query, conversationID, string(role), content, s.now().UTC()); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to save message", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// GetHistory returns the most recent messages, oldest first. A read failure
// degrades to no memory rather than blocking the reply.
func (s *PostgresStore) GetHistory(ctx context.Context, conversationID string, limit int) []Message {
	ctx, span := s.tracer.Start(ctx, "store.get_history")
	defer span.End()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `
		SELECT role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, conversationID, limit)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to load history", "error", err, "conversation_id", conversationID)
		return nil
	}
	defer rows.Close()

	var newestFirst []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to scan history row", "error", err, "conversation_id", conversationID)
			return nil
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to read history", "error", err, "conversation_id", conversationID)
		return nil
	}

	history := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		history = append(history, newestFirst[i])
	}
	return history
}

// Pause upserts the pause record; a repeated pause overwrites the prior one.
func (s *PostgresStore) Pause(ctx context.Context, conversationID string, reason PauseReason) error {
	ctx, span := s.tracer.Start(ctx, "store.pause")
	defer span.End()

	query := `
		INSERT INTO pauses (conversation_id, reason, paused_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id)
		DO UPDATE SET reason = EXCLUDED.reason, paused_at = EXCLUDED.paused_at
	`
	if _, err := s.db.Exec(ctx, query, conversationID, string(reason), s.now().UTC()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: pause: %w", err)
	}
	s.logger.Info("conversation paused", "conversation_id", conversationID, "reason", reason)
	return nil
}

// Resume removes the pause record.
func (s *PostgresStore) Resume(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "store.resume")
	defer span.End()

	if _, err := s.db.Exec(ctx, `DELETE FROM pauses WHERE conversation_id = $1`, conversationID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: resume: %w", err)
	}
	s.logger.Info("conversation resumed", "conversation_id", conversationID)
	return nil
}

// IsPaused reports the pause state, lazily expiring stale records.
func (s *PostgresStore) IsPaused(ctx context.Context, conversationID string) bool {
	ctx, span := s.tracer.Start(ctx, "store.is_paused")
	defer span.End()

	var pausedAt time.Time
	err := s.db.QueryRow(ctx, `SELECT paused_at FROM pauses WHERE conversation_id = $1`, conversationID).Scan(&pausedAt)
	if err != nil {
		if err != pgx.ErrNoRows {
			span.RecordError(err)
			s.logger.Error("failed to check pause state", "error", err, "conversation_id", conversationID)
		}
		return false
	}
	if s.now().Sub(pausedAt) > s.pauseTTL {
		if err := s.Resume(ctx, conversationID); err != nil {
			s.logger.Error("failed to expire stale pause", "error", err, "conversation_id", conversationID)
		}
		return false
	}
	return true
}

// TrackBotMessage records an outbound message id as bot-authored. The durable
// backend keeps the full set; the retention sweep bounds its growth.
func (s *PostgresStore) TrackBotMessage(ctx context.Context, messageID int64) error {
	ctx, span := s.tracer.Start(ctx, "store.track_bot_message")
	defer span.End()

	query := `INSERT INTO bot_messages (message_id) VALUES ($1) ON CONFLICT DO NOTHING`
	if _, err := s.db.Exec(ctx, query, messageID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: track bot message: %w", err)
	}
	return nil
}

// IsBotMessage reports whether the id was tracked as bot-authored.
func (s *PostgresStore) IsBotMessage(ctx context.Context, messageID int64) bool {
	ctx, span := s.tracer.Start(ctx, "store.is_bot_message")
	defer span.End()

	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bot_messages WHERE message_id = $1)`, messageID).Scan(&exists)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to check bot message", "error", err, "message_id", messageID)
		return false
	}
	return exists
}

// CleanOldHistory drops rows older than the cutoff. Startup must not fail over
// this maintenance step, so errors are logged only.
func (s *PostgresStore) CleanOldHistory(ctx context.Context, daysToKeep int) {
	ctx, span := s.tracer.Start(ctx, "store.clean_old_history")
	defer span.End()

	if daysToKeep <= 0 {
		return
	}
	cutoff := s.now().UTC().AddDate(0, 0, -daysToKeep)
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("history cleanup failed", "error", err)
		return
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM bot_messages WHERE created_at < $1`, cutoff); err != nil {
		span.RecordError(err)
		s.logger.Error("bot message cleanup failed", "error", err)
	}
	s.logger.Info("old history cleaned", "deleted", tag.RowsAffected(), "days_kept", daysToKeep)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}
