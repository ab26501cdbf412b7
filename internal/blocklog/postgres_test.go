package blocklog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/seqd/internal/models"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresAppendGenesis(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(0, models.BlockID{}, "genesis")
	payload, err := block.Marshal()
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(height\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec(`INSERT INTO blocks`).
		WithArgs(int64(0), block.ID[:], block.Parent[:], payload).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), block))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendExtendsTip(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(6, models.BlockID{1}, "next")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(height\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(5)))
	mock.ExpectExec(`INSERT INTO blocks`).
		WithArgs(int64(6), block.ID[:], block.Parent[:], sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), block))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendHeightGap(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(7, models.BlockID{1}, "gap")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(height\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(5)))
	mock.ExpectRollback()

	assert.ErrorIs(t, store.Append(context.Background(), block), ErrHeightConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendIdempotent(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(3, models.BlockID{1}, "replayed")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(height\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(5)))
	mock.ExpectQuery(`SELECT id FROM blocks WHERE height`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(block.ID[:]))
	mock.ExpectRollback()

	require.NoError(t, store.Append(context.Background(), block))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendContentConflict(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(3, models.BlockID{1}, "mine")
	other := testBlock(3, models.BlockID{1}, "theirs")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(height\) FROM blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(5)))
	mock.ExpectQuery(`SELECT id FROM blocks WHERE height`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(other.ID[:]))
	mock.ExpectRollback()

	assert.ErrorIs(t, store.Append(context.Background(), block), ErrHeightConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(4, models.BlockID{1}, "stored")
	payload, err := block.Marshal()
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM blocks WHERE height`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := store.Get(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, block.ID, got.ID)
	assert.Equal(t, uint64(4), got.Height)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT payload FROM blocks WHERE height`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := store.Get(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTip(t *testing.T) {
	store, mock := newMockStore(t)
	block := testBlock(9, models.BlockID{1}, "tip")
	payload, err := block.Marshal()
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM blocks ORDER BY height DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := store.Tip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.Height)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTipEmpty(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT payload FROM blocks ORDER BY height DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	_, err := store.Tip(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
	assert.NoError(t, mock.ExpectationsWereMet())
}
