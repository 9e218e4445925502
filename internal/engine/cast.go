package engine

import (
	"strconv"
	"strings"

	"github.com/querydeck-io/querydeck/internal/backend"
)

// castRows converts loose wire values (everything rendered as strings)
// into the Go types the schema declares, so the local store gets typed
// columns instead of VARCHAR everywhere. Values that fail to parse keep
// their string form rather than failing the whole page. Temporal types
// stay as strings; the local engine casts them at table creation.
func castRows(rows [][]any, schema backend.Schema) [][]any {
	if len(rows) == 0 {
		return rows
	}

	for _, row := range rows {
		for i, v := range row {
			if i >= len(schema) {
				break
			}
			s, ok := v.(string)
			if !ok || v == nil {
				continue
			}
			row[i] = castValue(s, schema[i].Type)
		}
	}
	return rows
}

func castValue(s, colType string) any {
	switch normalizeType(colType) {
	case "INTEGER":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "FLOAT":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "BOOLEAN":
		if b, err := strconv.ParseBool(strings.ToLower(s)); err == nil {
			return b
		}
	}
	return s
}

// normalizeType collapses backend type name variants into the three
// families castValue handles.
func normalizeType(colType string) string {
	t := strings.ToUpper(colType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}

	switch t {
	case "INT", "INTEGER", "INT2", "INT4", "INT8", "BIGINT", "SMALLINT", "TINYINT", "NUMBER":
		return "INTEGER"
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL", "NUMERIC", "DECIMAL":
		return "FLOAT"
	case "BOOL", "BOOLEAN":
		return "BOOLEAN"
	}
	return t
}
