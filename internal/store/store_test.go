package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joginder1706/backend-socket/internal/chat"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

var lostConn = &pq.Error{Code: "08006", Message: "connection failure"}

const (
	insertMessageSQL = `(?s)^\s*INSERT\s+INTO\s+messages\s*\(sender_id,.*restricted\).*RETURNING\s+id\s*$`
	upsertChatSQL    = `(?s)INSERT\s+INTO\s+chats.*ON\s+CONFLICT\s+\(chat_id\)\s+DO\s+UPDATE`
)

func TestSaveMessage(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(insertMessageSQL).
		WithArgs(int64(9), int64(2), "hello", sqlmock.AnyArg(), ts, true, false, true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectExec(upsertChatSQL).
		WithArgs("2-9", int64(2), int64(9), int64(77), ts).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.SaveMessage(context.Background(), &chat.Message{
		SenderID:     9,
		ReceiverID:   2,
		Text:         "hello",
		Timestamp:    ts,
		IsRead:       true,
		IsRestricted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMessage_ChatFailureRollsBackMessage(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(insertMessageSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectExec(upsertChatSQL).
		WillReturnError(&pq.Error{Code: "23503", Message: "foreign key violation"})
	mock.ExpectRollback()

	_, err := s.SaveMessage(context.Background(), &chat.Message{SenderID: 1, ReceiverID: 2, Text: "x"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMessage_RetriesOnceAfterConnectionLoss(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(insertMessageSQL).WillReturnError(lostConn)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(insertMessageSQL).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectExec(upsertChatSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := s.SaveMessage(context.Background(), &chat.Message{SenderID: 1, ReceiverID: 2, Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMessage_SecondFailureIsReturned(t *testing.T) {
	s, mock := newStoreWithMock(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(insertMessageSQL).WillReturnError(lostConn)
		mock.ExpectRollback()
	}

	_, err := s.SaveMessage(context.Background(), &chat.Message{SenderID: 1, ReceiverID: 2, Text: "x"})
	require.Error(t, err)
	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMessage_QueryErrorNotRetried(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(insertMessageSQL).
		WillReturnError(&pq.Error{Code: "23502", Message: "null value"})
	mock.ExpectRollback()

	_, err := s.SaveMessage(context.Background(), &chat.Message{SenderID: 1, ReceiverID: 2})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountMessagesSentToday(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+COUNT\(\*\)\s+FROM\s+messages.*date_trunc\('day',\s*now\(\)\)`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountMessagesSentToday(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestMarkRead(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`UPDATE\s+messages\s+SET\s+is_read\s*=\s*false,\s*is_pinned\s*=\s*false`).
		WithArgs(int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkRead(context.Background(), 8))

	mock.ExpectExec(`UPDATE\s+messages`).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.MarkRead(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetUnread(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`UPDATE\s+messages\s+SET\s+is_read\s*=\s*\$2`).
		WithArgs(int64(8), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.SetUnread(context.Background(), 8, true))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFilterProfile(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+filter_data\s+FROM\s+filter_data`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"filter_data"}).
			AddRow([]byte(`{"blockedWords":["crypto"],"distance":25,"ageRange":[18,25],"profileTypes":[4]}`)))

	p, err := s.GetFilterProfile(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, []string{"crypto"}, p.BlockedWords)
	require.NotNil(t, p.Distance)
	assert.Equal(t, 25.0, *p.Distance)
	assert.Equal(t, []int{18, 25}, p.AgeRange)
	assert.Equal(t, []int64{4}, p.ProfileTypes)
}

func TestGetFilterProfile_None(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+filter_data`).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)
	p, err := s.GetFilterProfile(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, p)

	mock.ExpectQuery(`SELECT\s+filter_data`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"filter_data"}).AddRow(nil))
	p, err = s.GetFilterProfile(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetLocationAndAttributes(t *testing.T) {
	s, mock := newStoreWithMock(t)
	cols := []string{"latitude", "longitude", "age", "height", "ethnicity", "array"}

	mock.ExpectQuery(`(?s)SELECT\s+u\.latitude.*FROM\s+users\s+u`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(40.5, -73.9, int64(29), "5'10", "Asian", "{3,7}"))

	a, err := s.GetLocationAndAttributes(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, a.HasLocation())
	assert.Equal(t, 40.5, *a.Latitude)
	assert.Equal(t, 29, *a.Age)
	assert.Equal(t, "5'10", a.Height)
	assert.Equal(t, "Asian", a.Ethnicity)
	assert.Equal(t, []int64{3, 7}, a.CategoryIDs)
}

func TestGetLocationAndAttributes_MissingCoordinates(t *testing.T) {
	s, mock := newStoreWithMock(t)
	cols := []string{"latitude", "longitude", "age", "height", "ethnicity", "array"}

	mock.ExpectQuery(`FROM\s+users\s+u`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(40.5, nil, nil, nil, nil, "{}"))

	a, err := s.GetLocationAndAttributes(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, a.HasLocation())
	assert.Nil(t, a.Age)
	assert.Empty(t, a.CategoryIDs)

	mock.ExpectQuery(`FROM\s+users\s+u`).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)
	a, err = s.GetLocationAndAttributes(context.Background(), 2)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestGetPlanTier(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+plan\s+FROM\s+places`).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"plan"}).AddRow(" Premium "))
	tier, err := s.GetPlanTier(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "premium", tier)

	mock.ExpectQuery(`SELECT\s+plan\s+FROM\s+places`).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)
	tier, err = s.GetPlanTier(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "", tier)
}

func TestGetDailyFreeLimit(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`SELECT\s+value\s+FROM\s+app_settings`).WithArgs(DailyFreeLimitSetting).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("15"))
	n, err := s.GetDailyFreeLimit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	mock.ExpectQuery(`SELECT\s+value\s+FROM\s+app_settings`).WillReturnError(sql.ErrNoRows)
	_, err = s.GetDailyFreeLimit(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`SELECT\s+value\s+FROM\s+app_settings`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("lots"))
	_, err = s.GetDailyFreeLimit(context.Background())
	assert.Error(t, err)
}

func TestWithReconnect_CancelledContextNotRetried(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err = s.withReconnect(ctx, "query", func() error {
		calls++
		return &net.OpError{Op: "read", Err: errors.New("i/o timeout")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMessage_CancelledContext(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SaveMessage(ctx, &chat.Message{SenderID: 1, ReceiverID: 2, Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", sql.ErrConnDone, true},
		{"pq class 08", lostConn, true},
		{"pq constraint", &pq.Error{Code: "23505"}, false},
		{"net error", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"no rows", sql.ErrNoRows, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped deadline", &net.OpError{Op: "read", Err: context.DeadlineExceeded}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isConnectionError(tt.err))
		})
	}
}
