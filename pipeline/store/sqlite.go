package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// Layouts live in a single-file database, which makes it a good fit for
// development, local pipelines and prototyping before moving to a shared
// MySQL store. WAL mode is enabled so readers are not blocked by the
// single writer.
//
// For testing, use the in-memory database:
//
//	st, err := store.NewSQLiteStore(":memory:")
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	st := &SQLiteStore{db: db, path: path}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_layouts (
			name TEXT NOT NULL PRIMARY KEY,
			layout TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create graph_layouts table: %w", err)
	}
	return nil
}

// SaveLayout upserts layout under name.
func (s *SQLiteStore) SaveLayout(ctx context.Context, name string, layout Layout) error {
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_layouts (name, layout) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET layout = excluded.layout, updated_at = CURRENT_TIMESTAMP
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}
	return nil
}

// LoadLayout retrieves the layout saved under name.
func (s *SQLiteStore) LoadLayout(ctx context.Context, name string) (Layout, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT layout FROM graph_layouts WHERE name = ?", name).Scan(&data)
	if err == sql.ErrNoRows {
		return Layout{}, ErrNotFound
	}
	if err != nil {
		return Layout{}, fmt.Errorf("failed to load layout: %w", err)
	}

	var layout Layout
	if err := json.Unmarshal([]byte(data), &layout); err != nil {
		return Layout{}, fmt.Errorf("failed to unmarshal layout: %w", err)
	}
	return layout, nil
}

// ListLayouts returns the saved layout names in lexical order.
func (s *SQLiteStore) ListLayouts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM graph_layouts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list layouts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan layout name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteLayout removes the layout saved under name.
func (s *SQLiteStore) DeleteLayout(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM graph_layouts WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete layout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
