package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveNode inserts a node definition and returns its assigned id.
func (s *SQLiteStore) SaveNode(n *NodeRecord) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO nodes (name, query_text, connection_ref, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		n.Name, n.QueryText, n.ConnectionRef, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save node: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get node id: %w", err)
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	return id, nil
}

// GetNode retrieves a node by id.
func (s *SQLiteStore) GetNode(id int64) (*NodeRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	return s.scanNode(s.db.QueryRow(
		`SELECT id, name, query_text, connection_ref, created_at, updated_at FROM nodes WHERE id = ?`, id,
	), fmt.Sprintf("%d", id))
}

// GetNodeByName retrieves a node by its unique name.
func (s *SQLiteStore) GetNodeByName(name string) (*NodeRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	return s.scanNode(s.db.QueryRow(
		`SELECT id, name, query_text, connection_ref, created_at, updated_at FROM nodes WHERE name = ?`, name,
	), name)
}

func (s *SQLiteStore) scanNode(row *sql.Row, key string) (*NodeRecord, error) {
	n := &NodeRecord{}
	err := row.Scan(&n.ID, &n.Name, &n.QueryText, &n.ConnectionRef, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node not found: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return n, nil
}

// ListNodes retrieves all node definitions ordered by name.
func (s *SQLiteStore) ListNodes() ([]*NodeRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, name, query_text, connection_ref, created_at, updated_at FROM nodes ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		n := &NodeRecord{}
		if err := rows.Scan(&n.ID, &n.Name, &n.QueryText, &n.ConnectionRef, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpdateNodeQuery replaces a node's query text.
func (s *SQLiteStore) UpdateNodeQuery(id int64, queryText string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.Exec(
		`UPDATE nodes SET query_text = ?, updated_at = ? WHERE id = ?`,
		queryText, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("node not found: %d", id)
	}
	return nil
}

// DeleteNode removes a node definition. Its execution history stays.
func (s *SQLiteStore) DeleteNode(id int64) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	if _, err := s.db.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}
