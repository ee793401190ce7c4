package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

const botMessagesKey = "bot_messages"

// RedisStore is the volatile backend. History keys carry a TTL matching the
// retention window, so CleanOldHistory has nothing left to sweep.
type RedisStore struct {
	client     *redis.Client
	logger     *logging.Logger
	tracer     trace.Tracer
	pauseTTL   time.Duration
	historyTTL time.Duration
	now        func() time.Time
}

// NewRedisStore creates a store backed by redis.
func NewRedisStore(client *redis.Client, logger *logging.Logger) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisStore{
		client:     client,
		logger:     logger,
		tracer:     otel.Tracer("vk-travel-bot.internal.store.redis"),
		pauseTTL:   DefaultPauseTTL,
		historyTTL: 30 * 24 * time.Hour,
		now:        time.Now,
	}
}

// WithPauseTTL overrides the pause expiry window.
func (s *RedisStore) WithPauseTTL(d time.Duration) *RedisStore {
	if d > 0 {
		s.pauseTTL = d
	}
	return s
}

// Init verifies the backend is reachable.
func (s *RedisStore) Init(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: redis unreachable: %w", err)
	}
	return nil
}

func historyKey(conversationID string) string {
	return "history:" + conversationID
}

func pauseKey(conversationID string) string {
	return "pause:" + conversationID
}

// SaveMessage appends one history entry and refreshes the retention TTL.
func (s *RedisStore) SaveMessage(ctx context.Context, conversationID string, role Role, content string) error {
	ctx, span := s.tracer.Start(ctx, "store.save_message")
	defer span.End()

	data, err := json.Marshal(Message{Role: role, Content: content, CreatedAt: s.now().UTC()})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: marshal message: %w", err)
	}
	key := historyKey(conversationID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, s.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to save message", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// GetHistory returns the most recent messages, oldest first.
func (s *RedisStore) GetHistory(ctx context.Context, conversationID string, limit int) []Message {
	ctx, span := s.tracer.Start(ctx, "store.get_history")
	defer span.End()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	raw, err := s.client.LRange(ctx, historyKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		span.RecordError(err)
		s.logger.Error("failed to load history", "error", err, "conversation_id", conversationID)
		return nil
	}
	history := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to decode history entry", "error", err, "conversation_id", conversationID)
			continue
		}
		history = append(history, m)
	}
	return history
}

// Pause upserts the pause record; last reason wins.
func (s *RedisStore) Pause(ctx context.Context, conversationID string, reason PauseReason) error {
	ctx, span := s.tracer.Start(ctx, "store.pause")
	defer span.End()

	fields := map[string]any{
		"reason":    string(reason),
		"paused_at": s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, pauseKey(conversationID), fields).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: pause: %w", err)
	}
	s.logger.Info("conversation paused", "conversation_id", conversationID, "reason", reason)
	return nil
}

// Resume removes the pause record.
func (s *RedisStore) Resume(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "store.resume")
	defer span.End()

	if err := s.client.Del(ctx, pauseKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: resume: %w", err)
	}
	s.logger.Info("conversation resumed", "conversation_id", conversationID)
	return nil
}

// IsPaused reports the pause state, lazily expiring stale records.
func (s *RedisStore) IsPaused(ctx context.Context, conversationID string) bool {
	ctx, span := s.tracer.Start(ctx, "store.is_paused")
	defer span.End()

	raw, err := s.client.HGet(ctx, pauseKey(conversationID), "paused_at").Result()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
			s.logger.Error("failed to check pause state", "error", err, "conversation_id", conversationID)
		}
		return false
	}
	pausedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("invalid paused_at value", "error", err, "conversation_id", conversationID)
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

// TrackBotMessage records an outbound message id, evicting the oldest entries
// once the set exceeds the cap.
func (s *RedisStore) TrackBotMessage(ctx context.Context, messageID int64) error {
	ctx, span := s.tracer.Start(ctx, "store.track_bot_message")
	defer span.End()

	member := strconv.FormatInt(messageID, 10)
	score := float64(s.now().UnixNano())
	if err := s.client.ZAdd(ctx, botMessagesKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: track bot message: %w", err)
	}
	count, err := s.client.ZCard(ctx, botMessagesKey).Result()
	if err != nil {
		span.RecordError(err)
		return nil
	}
	if count > botMessageCap {
		if err := s.client.ZRemRangeByRank(ctx, botMessagesKey, 0, count-botMessageCap-1).Err(); err != nil {
			span.RecordError(err)
			s.logger.Error("failed to trim bot message set", "error", err)
		}
	}
	return nil
}

// IsBotMessage reports whether the id was tracked as bot-authored.
func (s *RedisStore) IsBotMessage(ctx context.Context, messageID int64) bool {
	ctx, span := s.tracer.Start(ctx, "store.is_bot_message")
	defer span.End()

	err := s.client.ZScore(ctx, botMessagesKey, strconv.FormatInt(messageID, 10)).Err()
	if err != nil {
		if err != redis.Nil {
			span.RecordError(err)
			s.logger.Error("failed to check bot message", "error", err, "message_id", messageID)
		}
		return false
	}
	return true
}

// CleanOldHistory aligns the history TTL with the retention window. Entries
// expire on their own, so there is nothing to delete in bulk.
func (s *RedisStore) CleanOldHistory(ctx context.Context, daysToKeep int) {
	if daysToKeep > 0 {
		s.historyTTL = time.Duration(daysToKeep) * 24 * time.Hour
	}
	s.logger.Debug("history retention via key TTL", "days_kept", daysToKeep)
}

// Close releases the client.
func (s *RedisStore) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Error("failed to close redis client", "error", err)
	}
}
