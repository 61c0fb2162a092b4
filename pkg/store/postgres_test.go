package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM records WHERE kind = $1 AND id = $2`)).
		WithArgs(KindBoundary, "bnd-1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"bnd-1"}`)))

	s := NewPostgresStore(db)
	data, err := s.Get(context.Background(), KindBoundary, "bnd-1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"bnd-1"}`, string(data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM records WHERE kind = $1 AND id = $2`)).
		WithArgs(KindBoundary, "bnd-missing").
		WillReturnError(sql.ErrNoRows)

	s := NewPostgresStore(db)
	_, err = s.Get(context.Background(), KindBoundary, "bnd-missing")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStorePutUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WithArgs(KindSurface, "srf-1", []byte(`{"id":"srf-1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgresStore(db)
	require.NoError(t, s.Put(context.Background(), KindSurface, "srf-1", []byte(`{"id":"srf-1"}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM records WHERE kind = $1 AND id = $2`)).
		WithArgs(KindPolicy, "pol-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s := NewPostgresStore(db)
	err = s.Delete(context.Background(), KindPolicy, "pol-missing")
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreScan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"data"}).
		AddRow([]byte(`{"id":"att-1"}`)).
		AddRow([]byte(`{"id":"att-2"}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM records WHERE kind = $1 ORDER BY id ASC`)).
		WithArgs(KindAttestation).
		WillReturnRows(rows)

	s := NewPostgresStore(db)
	out, err := s.Scan(context.Background(), KindAttestation)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, `{"id":"att-1"}`, string(out[0]))
	assert.NoError(t, mock.ExpectationsWereMet())
}
