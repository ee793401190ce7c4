package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock, nil), mock
}

func TestPostgresStore_SaveMessage(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("INSERT INTO messages").
		WithArgs("555", "user", "привет", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveMessage(ctx, "555", RoleUser, "привет"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMessageError(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("INSERT INTO messages").
		WithArgs("555", "user", "привет", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))

	err := s.SaveMessage(ctx, "555", RoleUser, "привет")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save message")
}

func TestPostgresStore_GetHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	now := time.Now()
	// The query returns newest first; the store must hand back oldest first.
	rows := pgxmock.NewRows([]string{"role", "content", "created_at"}).
		AddRow("user", "C", now).
		AddRow("assistant", "B", now.Add(-time.Minute)).
		AddRow("user", "A", now.Add(-2*time.Minute))
	mock.ExpectQuery("SELECT role, content, created_at").
		WithArgs("555", 3).
		WillReturnRows(rows)

	history := s.GetHistory(ctx, "555", 3)
	require.Len(t, history, 3)
	assert.Equal(t, "A", history[0].Content)
	assert.Equal(t, "B", history[1].Content)
	assert.Equal(t, "C", history[2].Content)
}

func TestPostgresStore_GetHistoryDegradesOnError(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectQuery("SELECT role, content, created_at").
		WithArgs("555", 5).
		WillReturnError(errors.New("database down"))

	assert.Empty(t, s.GetHistory(ctx, "555", 5))
}

func TestPostgresStore_PauseUpsert(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("INSERT INTO pauses").
		WithArgs("555", "manager", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Pause(ctx, "555", PauseManager))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsPaused(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectQuery("SELECT paused_at FROM pauses").
		WithArgs("555").
		WillReturnRows(pgxmock.NewRows([]string{"paused_at"}).AddRow(time.Now().Add(-time.Hour)))

	assert.True(t, s.IsPaused(ctx, "555"))
}

func TestPostgresStore_IsPausedAutoExpiry(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectQuery("SELECT paused_at FROM pauses").
		WithArgs("555").
		WillReturnRows(pgxmock.NewRows([]string{"paused_at"}).AddRow(time.Now().Add(-49 * time.Hour)))
	mock.ExpectExec("DELETE FROM pauses").
		WithArgs("555").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.False(t, s.IsPaused(ctx, "555"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsPausedNoRecord(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectQuery("SELECT paused_at FROM pauses").
		WithArgs("555").
		WillReturnRows(pgxmock.NewRows([]string{"paused_at"}))

	assert.False(t, s.IsPaused(ctx, "555"))
}

func TestPostgresStore_BotMessageTracking(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("INSERT INTO bot_messages").
		WithArgs(int64(42)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	require.NoError(t, s.TrackBotMessage(ctx, 42))
	assert.True(t, s.IsBotMessage(ctx, 42))
}

func TestPostgresStore_CleanOldHistoryLogsOnly(t *testing.T) {
	ctx := context.Background()
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("DELETE FROM messages").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("timeout"))

	// Must not panic or propagate; startup depends on that.
	s.CleanOldHistory(ctx, 30)
}
