package state

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordExecution appends one run or fetch record. Recording is
// best-effort: failures are logged, never surfaced, so history writes
// cannot fail an execution.
func (s *SQLiteStore) RecordExecution(nodeID int64, operation, backendID, status string, rows int64, elapsed time.Duration, errMsg string) {
	if s.db == nil {
		return
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}

	_, err := s.db.Exec(
		`INSERT INTO executions (id, node_id, operation, backend, status, rows, elapsed_ms, error, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		generateID(), nodeID, operation, backendID, status, rows, elapsed.Milliseconds(), errPtr, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Warn("failed to record execution", "node_id", nodeID, "error", err)
	}
}

// ListExecutions retrieves execution history, most recent first. A zero
// nodeID lists across all nodes.
func (s *SQLiteStore) ListExecutions(nodeID int64, limit int) ([]*Execution, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, node_id, operation, backend, status, rows, elapsed_ms, error, started_at
	          FROM executions`
	args := []any{}
	if nodeID != 0 {
		query += ` WHERE node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e := &Execution{}
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.NodeID, &e.Operation, &e.Backend, &e.Status, &e.Rows, &e.ElapsedMs, &errMsg, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}
