package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ashureev/batchbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockPostgres(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *testClock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := newTestClock()
	return newPostgresStore(db, Options{SystemPrompt: "system prompt", Now: clock.Now}), mock, clock
}

func TestPostgresStoreFailures(t *testing.T) {
	diskErr := errors.New("connection reset by peer")
	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		call  func(s *PostgresStore) error
	}{
		{
			name: "load session",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT state_json FROM sessions").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				_, err := s.LoadSession(context.Background(), "sess-1")
				return err
			},
		},
		{
			name: "corrupt session row",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT state_json FROM sessions").
					WillReturnRows(sqlmock.NewRows([]string{"state_json"}).AddRow(`{"current_bot_state":"NAPPING"}`))
			},
			call: func(s *PostgresStore) error {
				_, err := s.LoadSession(context.Background(), "sess-1")
				return err
			},
		},
		{
			name: "save session",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO sessions").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				return s.SaveSession(context.Background(), domain.NewSession("sess-1", "", time.Now()), time.Hour)
			},
		},
		{
			name: "save summary",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO result_summaries").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				return s.SaveSummary(context.Background(), "sess-1", domain.ResultSummary{}, time.Minute)
			},
		},
		{
			name: "load summary",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT summary_json FROM result_summaries").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				_, err := s.LoadSummary(context.Background(), "sess-1")
				return err
			},
		},
		{
			name: "delete summary",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM result_summaries").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				return s.DeleteSummary(context.Background(), "sess-1")
			},
		},
		{
			name: "delete session rolls back",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("DELETE FROM result_summaries").WillReturnError(diskErr)
				mock.ExpectRollback()
			},
			call: func(s *PostgresStore) error {
				return s.DeleteSession(context.Background(), "sess-1")
			},
		},
		{
			name: "delete expired",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM sessions WHERE expires_at").WillReturnResult(sqlmock.NewResult(0, 2))
				mock.ExpectExec("DELETE FROM result_summaries WHERE expires_at").WillReturnError(diskErr)
			},
			call: func(s *PostgresStore) error {
				_, err := s.DeleteExpired(context.Background())
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, _ := mockPostgres(t)
			tt.setup(mock)

			err := tt.call(s)

			assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStoreSaveSessionUpserts(t *testing.T) {
	s, mock, clock := mockPostgres(t)
	sess := sampleSession(clock)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (session_id) DO UPDATE SET")).
		WithArgs("sess-1", "owner@example.com", "AWAITING_BATCH_CONFIRMATION", sqlmock.AnyArg(),
			clock.Now().Add(2*time.Hour), sess.CreatedAt, clock.Now()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SaveSession(context.Background(), sess, 2*time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreReadsHonourExpiry(t *testing.T) {
	s, mock, clock := mockPostgres(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE session_id = $1 AND expires_at > $2")).
		WithArgs("sess-1", clock.Now()).
		WillReturnRows(sqlmock.NewRows([]string{"state_json"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT summary_json FROM result_summaries WHERE session_id = $1 AND expires_at > $2")).
		WithArgs("sess-1", clock.Now()).
		WillReturnRows(sqlmock.NewRows([]string{"summary_json"}))

	sess, err := s.LoadSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateGathering, sess.State)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "system prompt", sess.History[0].Content)

	sum, err := s.LoadSummary(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSummaryRoundTrip(t *testing.T) {
	s, mock, clock := mockPostgres(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO result_summaries (session_id, summary_json, expires_at)")).
		WithArgs("sess-1", sqlmock.AnyArg(), clock.Now().Add(5*time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT summary_json FROM result_summaries").
		WillReturnRows(sqlmock.NewRows([]string{"summary_json"}).
			AddRow(`{"successes":["Ravi added"],"validation_errors":[],"action_errors":["Gaurav not found"]}`))

	require.NoError(t, s.SaveSummary(ctx, "sess-1", domain.ResultSummary{Successes: []string{"Ravi added"}}, 5*time.Minute))
	sum, err := s.LoadSummary(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, []string{"Ravi added"}, sum.Successes)
	assert.Equal(t, []string{"Gaurav not found"}, sum.ActionErrors)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteExpiredCountsBothTables(t *testing.T) {
	s, mock, clock := mockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= $1")).
		WithArgs(clock.Now()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM result_summaries WHERE expires_at <= $1")).
		WithArgs(clock.Now()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteSessionCommits(t *testing.T) {
	s, mock, _ := mockPostgres(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE session_id = $1")).
		WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM result_summaries WHERE session_id = $1")).
		WithArgs("sess-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteSession(context.Background(), "sess-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
