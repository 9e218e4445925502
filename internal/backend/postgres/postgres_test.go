package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck-io/querydeck/internal/backend"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		config   backend.Config
		expected string
	}{
		{
			name: "basic connection",
			config: backend.Config{
				Host:     "localhost",
				Port:     5432,
				Database: "testdb",
				Username: "user",
				Password: "pass",
			},
			expected: "host=localhost port=5432 dbname=testdb sslmode=disable user=user password=pass",
		},
		{
			name: "with custom sslmode",
			config: backend.Config{
				Host:     "prod.example.com",
				Port:     5432,
				Database: "proddb",
				Username: "admin",
				Options:  map[string]string{"sslmode": "require"},
			},
			expected: "host=prod.example.com port=5432 dbname=proddb sslmode=require user=admin",
		},
		{
			name: "defaults",
			config: backend.Config{
				Database: "mydb",
			},
			expected: "host=localhost port=5432 dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, buildDSN(tt.config))
		})
	}
}

func TestBackend_Identity(t *testing.T) {
	b := NewFromDB(nil, backend.Config{Name: "analytics"}, nil)
	assert.Equal(t, "postgres:analytics", b.ID())
	assert.Equal(t, backend.KindOffsetPaginated, b.Kind())

	b = NewFromDB(nil, backend.Config{}, nil)
	assert.Equal(t, "postgres", b.ID())
}

func TestBackend_NotConnected(t *testing.T) {
	b := NewFromDB(nil, backend.Config{}, nil)

	_, err := b.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, backend.ErrNotConnected)

	_, err = b.ExecutePage(context.Background(), "SELECT 1", 10, backend.Continuation{})
	assert.ErrorIs(t, err, backend.ErrNotConnected)
}

func TestBackend_ExecutePage_FirstPage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT \* FROM events\) AS subq`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`SELECT \* FROM \(SELECT \* FROM events\) AS subq LIMIT 2 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, "a").
			AddRow(2, "b"))

	b := NewFromDB(db, backend.Config{Name: "wh"}, nil)
	page, err := b.ExecutePage(context.Background(), "SELECT * FROM events", 2, backend.Continuation{})
	require.NoError(t, err)

	assert.Len(t, page.Rows, 2)
	require.NotNil(t, page.TotalRows)
	assert.Equal(t, int64(5), *page.TotalRows)
	assert.True(t, page.HasMore)

	off, ok := page.Next.Offset()
	require.True(t, ok)
	assert.Equal(t, uint64(2), off)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_ExecutePage_Continuation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Continuation pages skip the COUNT.
	mock.ExpectQuery(`SELECT \* FROM \(SELECT \* FROM events\) AS subq LIMIT 2 OFFSET 4`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(5, "e"))

	b := NewFromDB(db, backend.Config{}, nil)
	page, err := b.ExecutePage(context.Background(), "SELECT * FROM events", 2, backend.OffsetToken(4))
	require.NoError(t, err)

	assert.Len(t, page.Rows, 1)
	assert.Nil(t, page.TotalRows)
	// Short page with no known total means exhausted.
	assert.False(t, page.HasMore)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackend_ExecutePage_FullPageWithoutTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT \* FROM \(SELECT \* FROM events\) AS subq LIMIT 2 OFFSET 2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))

	b := NewFromDB(db, backend.Config{}, nil)
	page, err := b.ExecutePage(context.Background(), "SELECT * FROM events", 2, backend.OffsetToken(2))
	require.NoError(t, err)

	// A full page without a known total assumes more may remain.
	assert.True(t, page.HasMore)
}

func TestBackend_ExecutePage_RejectsCursor(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewFromDB(db, backend.Config{}, nil)
	_, err = b.ExecutePage(context.Background(), "SELECT 1", 10, backend.CursorToken("tok"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor continuation")
}

func TestBackend_ExecutePage_TrailingSemicolon(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT 1\) AS subq`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT \* FROM \(SELECT 1\) AS subq LIMIT 10 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	b := NewFromDB(db, backend.Config{}, nil)
	_, err = b.ExecutePage(context.Background(), "SELECT 1;", 10, backend.Continuation{})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
