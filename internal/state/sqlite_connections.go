package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveConnection inserts or replaces a named connection.
func (s *SQLiteStore) SaveConnection(c *Connection) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO connections
		 (name, type, host, port, database, username, password, path, base_url, token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.Type, c.Host, c.Port, c.Database, c.Username, c.Password, c.Path, c.BaseURL, c.Token, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	c.CreatedAt = now
	return nil
}

// GetConnection retrieves a connection by name.
func (s *SQLiteStore) GetConnection(name string) (*Connection, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	c := &Connection{}
	err := s.db.QueryRow(
		`SELECT name, type, host, port, database, username, password, path, base_url, token, created_at
		 FROM connections WHERE name = ?`, name,
	).Scan(&c.Name, &c.Type, &c.Host, &c.Port, &c.Database, &c.Username, &c.Password, &c.Path, &c.BaseURL, &c.Token, &c.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

// ListConnections retrieves all named connections ordered by name.
func (s *SQLiteStore) ListConnections() ([]*Connection, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT name, type, host, port, database, username, password, path, base_url, token, created_at
		 FROM connections ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		c := &Connection{}
		if err := rows.Scan(&c.Name, &c.Type, &c.Host, &c.Port, &c.Database, &c.Username, &c.Password, &c.Path, &c.BaseURL, &c.Token, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// DeleteConnection removes a named connection.
func (s *SQLiteStore) DeleteConnection(name string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if _, err := s.db.Exec(`DELETE FROM connections WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}
