package powerdns

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stackdio/stackd/internal/provider"
)

type mockDB struct {
	mock.Mock
}

func (m *mockDB) Begin(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(pgx.Tx), args.Error(1)
}

// mockTx implements the pgx.Tx methods the backend touches; the embedded
// interface covers the rest.
type mockTx struct {
	pgx.Tx
	mock.Mock
}

func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockTx) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

func (m *mockTx) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockTx) Rollback(ctx context.Context) error {
	m.Called(ctx)
	return nil
}

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error { return m.scanFunc(dest...) }

func zoneRow(id int) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*int)) = id
		return nil
	}}
}

func TestRecordType(t *testing.T) {
	assert.Equal(t, "A", recordType("10.0.0.1"))
	assert.Equal(t, "AAAA", recordType("2001:db8::1"))
	assert.Equal(t, "CNAME", recordType("ec2-1.compute.amazonaws.com"))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	db := &mockDB{}
	tx := &mockTx{}
	b := New(db, "stacks.example.com.", 0)

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("QueryRow", ctx, `SELECT id FROM domains WHERE name = $1`, []any{"stacks.example.com"}).Return(zoneRow(3))
	tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool { return sql[:6] == "DELETE" }), []any{3, "web-1.stacks.example.com"}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)
	tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool { return sql[:6] == "INSERT" }),
		[]any{3, "web-1.stacks.example.com", "CNAME", "ec2-1.compute.amazonaws.com", 300, nil}).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)
	tx.On("Commit", ctx).Return(nil)
	tx.On("Rollback", ctx)

	err := b.Register(ctx, []provider.Record{{Name: "web-1.stacks.example.com", Target: "ec2-1.compute.amazonaws.com"}})
	require.NoError(t, err)
	assert.Equal(t, "stacks.example.com", b.Zone())
	tx.AssertExpectations(t)
}

func TestRegister_MissingZone(t *testing.T) {
	ctx := context.Background()
	db := &mockDB{}
	tx := &mockTx{}
	b := New(db, "stacks.example.com", 60)

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(&mockRow{
		scanFunc: func(dest ...any) error { return pgx.ErrNoRows },
	})
	tx.On("Rollback", ctx)

	err := b.Register(ctx, []provider.Record{{Name: "a.stacks.example.com", Target: "10.0.0.1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	db := &mockDB{}
	tx := &mockTx{}
	b := New(db, "stacks.example.com", 60)
	names := []string{"a.stacks.example.com", "b.stacks.example.com"}

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("QueryRow", ctx, mock.Anything, mock.Anything).Return(zoneRow(9))
	tx.On("Exec", ctx, mock.AnythingOfType("string"), []any{9, names}).Return(pgconn.NewCommandTag("DELETE 2"), nil)
	tx.On("Commit", ctx).Return(nil)
	tx.On("Rollback", ctx)

	require.NoError(t, b.Unregister(ctx, names))
	tx.AssertExpectations(t)
}

func TestUnregister_BeginError(t *testing.T) {
	ctx := context.Background()
	db := &mockDB{}
	db.On("Begin", ctx).Return(nil, errors.New("connection refused"))

	err := New(db, "z", 60).Unregister(ctx, []string{"a.z"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestEmptyBatchesSkipDatabase(t *testing.T) {
	db := &mockDB{}
	b := New(db, "z", 60)
	require.NoError(t, b.Register(context.Background(), nil))
	require.NoError(t, b.Unregister(context.Background(), nil))
	db.AssertNotCalled(t, "Begin", mock.Anything)
}
