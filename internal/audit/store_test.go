package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joginder1706/backend-socket/internal/moderation"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

const insertPattern = `(?s)INSERT\s+INTO\s+moderation_events\s*\(kind,\s*sender_id,\s*receiver_id,\s*message_id,\s*reasons,\s*term,\s*hints,\s*created_at\)`

func TestRecord_Rejected(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(insertPattern).
		WithArgs("rejected", int64(1), int64(2), nil, "{\"blocked_keyword\"}", "escort", "{}", time.UnixMilli(1700000000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Record(context.Background(), moderation.FlaggedEvent{
		Kind:       moderation.KindRejected,
		SenderID:   1,
		ReceiverID: 2,
		Reasons:    []string{moderation.ReasonKeyword},
		Term:       "escort",
		Ts:         1700000000000,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_Restricted(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(insertPattern).
		WithArgs("restricted", int64(3), int64(4), int64(55), sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	err := s.Record(context.Background(), moderation.FlaggedEvent{
		Kind:       moderation.KindRestricted,
		SenderID:   3,
		ReceiverID: 4,
		MessageID:  55,
		Reasons:    []string{"distance", "age"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_InvalidKind(t *testing.T) {
	s, mock := newStoreWithMock(t)

	err := s.Record(context.Background(), moderation.FlaggedEvent{Kind: "spam"})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(insertPattern).WillReturnError(errors.New("db down"))

	err := s.Record(context.Background(), moderation.FlaggedEvent{Kind: moderation.KindRejected, SenderID: 1, ReceiverID: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: insert: db down")
}

func TestCountRecent(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+COUNT\(\*\)\s+FROM\s+moderation_events`).
		WithArgs(int64(7), int64(86400)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := s.CountRecent(context.Background(), 7, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
