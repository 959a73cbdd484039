package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leaplint/pkg/core"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore keeps custom rules in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// NewSQLiteStoreWithDB wraps an already opened connection.
// The caller is responsible for running migrations.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// OpenSQLite opens path and brings its schema up to date.
func OpenSQLite(path string) (*SQLiteStore, error) {
	s := NewSQLiteStore()
	if err := s.Open(path); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path passed to Open.
func (s *SQLiteStore) Path() string { return s.path }

// Load returns the stored definitions in their saved order.
func (s *SQLiteStore) Load(ctx context.Context) ([]core.CustomRuleDefinition, error) {
	if s.db == nil {
		return nil, persistenceError(OpLoad, errNotOpened)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, source FROM custom_rules ORDER BY position`)
	if err != nil {
		return nil, persistenceError(OpLoad, fmt.Errorf("failed to query custom rules: %w", err))
	}
	defer func() { _ = rows.Close() }()

	defs := []core.CustomRuleDefinition{}
	for rows.Next() {
		var def core.CustomRuleDefinition
		if err := rows.Scan(&def.Name, &def.Source); err != nil {
			return nil, persistenceError(OpLoad, fmt.Errorf("failed to scan custom rule: %w", err))
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError(OpLoad, fmt.Errorf("failed to read custom rules: %w", err))
	}
	return defs, nil
}

// Save replaces the stored list in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, defs []core.CustomRuleDefinition) error {
	if s.db == nil {
		return persistenceError(OpSave, errNotOpened)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM custom_rules`); err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to clear custom rules: %w", err))
	}

	for i, def := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO custom_rules (id, position, name, source) VALUES (?, ?, ?, ?)`,
			generateID(), i, def.Name, def.Source,
		); err != nil {
			return persistenceError(OpSave, fmt.Errorf("failed to insert custom rule %s: %w", def.Name, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return persistenceError(OpSave, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}
