package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSQLTx(t *testing.T) {
	t.Parallel()

	t.Run("commits on success", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE profiles").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = WithSQLTx(context.Background(), db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
			_, execErr := tx.ExecContext(context.Background(), "UPDATE profiles SET role = 'admin'")
			return execErr
		}})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithSQLTx(context.Background(), db, SQLTxConfig{Fn: func(*sql.Tx) error { return boom }})
		require.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		t.Parallel()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin().WillReturnError(errors.New("no connection"))
		err = WithSQLTx(context.Background(), db, SQLTxConfig{Fn: func(*sql.Tx) error { return nil }})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "begin tx")
	})

	t.Run("requires fn", func(t *testing.T) {
		t.Parallel()
		require.Error(t, WithSQLTx(context.Background(), nil, SQLTxConfig{}))
	})
}
