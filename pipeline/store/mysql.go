package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for shared layout storage across workers: a pipeline fit on
// one machine can be exported and rehydrated on another. Uses connection
// pooling and server-side upserts.
//
// The DSN format is the go-sql-driver format, e.g.
//
//	user:password@tcp(localhost:3306)/pipelines?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to the database at dsn, verifies the connection
// and migrates the schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore{db: db}
	if err := st.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return st, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_layouts (
			name VARCHAR(255) NOT NULL PRIMARY KEY,
			layout LONGTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create graph_layouts table: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveLayout upserts layout under name.
func (s *MySQLStore) SaveLayout(ctx context.Context, name string, layout Layout) error {
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_layouts (name, layout) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE layout = VALUES(layout)
	`, name, string(data))
	if err != nil {
		return fmt.Errorf("failed to save layout: %w", err)
	}
	return nil
}

// LoadLayout retrieves the layout saved under name.
func (s *MySQLStore) LoadLayout(ctx context.Context, name string) (Layout, error) {
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
func (s *MySQLStore) ListLayouts(ctx context.Context) ([]string, error) {
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
func (s *MySQLStore) DeleteLayout(ctx context.Context, name string) error {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
