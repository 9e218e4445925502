package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/querydeck-io/querydeck/internal/backend"
	"github.com/querydeck-io/querydeck/internal/fetchstate"
)

// SaveFetchState persists a node's pagination progress so a later
// process can continue the fetch. In-flight flags are not persisted.
func (s *SQLiteStore) SaveFetchState(st fetchstate.State) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	contKind, contValue := encodeContinuation(st.Continuation)
	schemaJSON, err := json.Marshal(st.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO fetch_states
		 (node_id, engine_id, total_rows, fetched_rows, has_more, cont_kind, cont_value, original_query, schema_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.NodeID, st.EngineID, st.TotalRows, st.FetchedRows, st.HasMoreRows,
		contKind, contValue, st.OriginalQuery, string(schemaJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save fetch state: %w", err)
	}
	return nil
}

// LoadFetchStates retrieves all persisted fetch states.
func (s *SQLiteStore) LoadFetchStates() ([]fetchstate.State, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT node_id, engine_id, total_rows, fetched_rows, has_more, cont_kind, cont_value, original_query, schema_json
		 FROM fetch_states`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load fetch states: %w", err)
	}
	defer rows.Close()

	var states []fetchstate.State
	for rows.Next() {
		var st fetchstate.State
		var total sql.NullInt64
		var contKind, contValue, schemaJSON string
		if err := rows.Scan(&st.NodeID, &st.EngineID, &total, &st.FetchedRows, &st.HasMoreRows,
			&contKind, &contValue, &st.OriginalQuery, &schemaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan fetch state: %w", err)
		}
		if total.Valid {
			v := total.Int64
			st.TotalRows = &v
		}
		st.Continuation = decodeContinuation(contKind, contValue)
		if err := json.Unmarshal([]byte(schemaJSON), &st.Schema); err != nil {
			return nil, fmt.Errorf("failed to decode schema: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// DeleteFetchState removes a node's persisted fetch state.
func (s *SQLiteStore) DeleteFetchState(nodeID int64) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if _, err := s.db.Exec(`DELETE FROM fetch_states WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("failed to delete fetch state: %w", err)
	}
	return nil
}

func encodeContinuation(c backend.Continuation) (kind, value string) {
	if tok, ok := c.Cursor(); ok {
		return "cursor", tok
	}
	if off, ok := c.Offset(); ok && !c.IsZero() {
		return "offset", strconv.FormatUint(off, 10)
	}
	return "", ""
}

func decodeContinuation(kind, value string) backend.Continuation {
	switch kind {
	case "cursor":
		return backend.CursorToken(value)
	case "offset":
		off, _ := strconv.ParseUint(value, 10, 64)
		return backend.OffsetToken(off)
	}
	return backend.Continuation{}
}
