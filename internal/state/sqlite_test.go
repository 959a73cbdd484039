package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leaplint/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore()
	require.NoError(t, store.Open(":memory:"))
	assert.Equal(t, ":memory:", store.Path())
	require.NoError(t, store.Close())
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	version, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// idempotent
	require.NoError(t, store.Migrate())
}

func TestSQLiteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leaplint.db")
	defs := []core.CustomRuleDefinition{{Name: "a", Source: "1"}, {Name: "b", Source: "2"}}

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), defs))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, defs, got)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore()

	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, errNotOpened)

	err = store.Save(context.Background(), nil)
	require.ErrorIs(t, err, errNotOpened)

	require.ErrorIs(t, store.Migrate(), errNotOpened)
}

func TestSQLiteStore_Failures(t *testing.T) {
	boom := errors.New("driver exploded")
	defs := []core.CustomRuleDefinition{{Name: "a", Source: "1"}, {Name: "b", Source: "2"}}

	tests := []struct {
		name   string
		op     string
		expect func(mock sqlmock.Sqlmock)
		call   func(s *SQLiteStore) error
	}{
		{
			name: "query fails",
			op:   OpLoad,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT name, source FROM custom_rules").WillReturnError(boom)
			},
			call: func(s *SQLiteStore) error {
				_, err := s.Load(context.Background())
				return err
			},
		},
		{
			name: "row fails",
			op:   OpLoad,
			expect: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"name", "source"}).
					AddRow("a", "1").
					AddRow("b", "2").
					RowError(1, boom)
				mock.ExpectQuery("SELECT name, source FROM custom_rules").WillReturnRows(rows)
			},
			call: func(s *SQLiteStore) error {
				_, err := s.Load(context.Background())
				return err
			},
		},
		{
			name: "begin fails",
			op:   OpSave,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(boom)
			},
			call: func(s *SQLiteStore) error { return s.Save(context.Background(), defs) },
		},
		{
			name: "clear fails",
			op:   OpSave,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM custom_rules").WillReturnError(boom)
				mock.ExpectRollback()
			},
			call: func(s *SQLiteStore) error { return s.Save(context.Background(), defs) },
		},
		{
			name: "insert fails midway",
			op:   OpSave,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM custom_rules").WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectExec("INSERT INTO custom_rules").
					WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "a", "1").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO custom_rules").
					WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "b", "2").
					WillReturnError(boom)
				mock.ExpectRollback()
			},
			call: func(s *SQLiteStore) error { return s.Save(context.Background(), defs) },
		},
		{
			name: "commit fails",
			op:   OpSave,
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("DELETE FROM custom_rules").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("INSERT INTO custom_rules").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectExec("INSERT INTO custom_rules").WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit().WillReturnError(boom)
			},
			call: func(s *SQLiteStore) error { return s.Save(context.Background(), defs) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.expect(mock)
			err = tt.call(NewSQLiteStoreWithDB(db))

			var pe *core.PersistenceError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.op, pe.Op)
			assert.ErrorIs(t, err, boom)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
