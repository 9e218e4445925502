package backend

import "fmt"

// continuationKind discriminates the Continuation union.
type continuationKind int

const (
	contNone continuationKind = iota
	contCursor
	contOffset
)

// Continuation is an opaque pagination token: either a cursor string
// issued by the backend or a row offset computed by the coordinator.
// Representing the two as a tagged union keeps a backend adapter from
// misinterpreting the continuation type it is handed.
//
// The zero value means "start from the beginning".
type Continuation struct {
	kind   continuationKind
	cursor string
	offset uint64
}

// CursorToken wraps a backend-issued cursor string.
func CursorToken(token string) Continuation {
	return Continuation{kind: contCursor, cursor: token}
}

// OffsetToken wraps a coordinator-computed row offset.
func OffsetToken(offset uint64) Continuation {
	return Continuation{kind: contOffset, offset: offset}
}

// IsZero reports whether this is the start-of-result continuation.
func (c Continuation) IsZero() bool {
	return c.kind == contNone
}

// Cursor returns the cursor string. ok is false if the continuation is
// not a cursor token.
func (c Continuation) Cursor() (token string, ok bool) {
	return c.cursor, c.kind == contCursor
}

// Offset returns the row offset. ok is false if the continuation is not
// an offset token. The zero continuation reports offset 0, ok true, so
// offset backends can treat a first-page request uniformly.
func (c Continuation) Offset() (offset uint64, ok bool) {
	if c.kind == contNone {
		return 0, true
	}
	return c.offset, c.kind == contOffset
}

// String renders the continuation for logs and state persistence.
func (c Continuation) String() string {
	switch c.kind {
	case contCursor:
		return fmt.Sprintf("cursor:%s", c.cursor)
	case contOffset:
		return fmt.Sprintf("offset:%d", c.offset)
	default:
		return ""
	}
}
