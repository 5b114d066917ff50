package stores

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pe "wuyrush.io/plakat/errors"
)

var pgTestColumns = []string{"id", "title", "description", "latitude", "longitude", "created_at", "expires_at"}

func newTestPostgresGateway(t *testing.T) (*PostgresGateway, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresGateway(db, ""), mock
}

func TestPostgresGateway_List(t *testing.T) {
	g, mock := newTestPostgresGateway(t)
	created := time.Date(2025, time.November, 1, 8, 0, 0, 0, time.UTC)
	expires := time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(pgTestColumns).
		AddRow("b5d5b1c6-5a9e-4a4c-8d0e-1b1f0d6b8f01", "B", nil, 1.0, 2.0, created.Add(time.Hour), nil).
		AddRow("0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11", "A", "am Zaun", 52.5, 13.4, created, expires)
	mock.ExpectQuery(`(?s)^SELECT .+ FROM pins ORDER BY created_at DESC$`).WillReturnRows(rows)

	rs, err := g.List(context.Background())
	require.Nil(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, Record{
		"id":          "b5d5b1c6-5a9e-4a4c-8d0e-1b1f0d6b8f01",
		"title":       "B",
		"description": nil,
		"latitude":    1.0,
		"longitude":   2.0,
		"created_at":  "2025-11-01T09:00:00Z",
	}, rs[0])
	assert.Equal(t, "am Zaun", rs[1]["description"])
	assert.Equal(t, "2025-12-01", rs[1]["expires_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGateway_ListFailure(t *testing.T) {
	g, mock := newTestPostgresGateway(t)
	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection reset"))

	_, err := g.List(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeDependencyFailure, err.Code)
	assert.Equal(t, "error listing pins", err.Error(), "backend detail should not leak into the message")
}

func TestPostgresGateway_Insert(t *testing.T) {
	g, mock := newTestPostgresGateway(t)
	created := time.Date(2025, time.November, 1, 8, 0, 0, 0, time.UTC)
	q := `(?s)^INSERT\s+INTO\s+pins\s*\(id,\s*title,\s*description,\s*latitude,\s*longitude,\s*expires_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*RETURNING .+$`
	mock.ExpectQuery(q).
		WithArgs(sqlmock.AnyArg(), "A", nil, 52.5, 13.4, "2025-12-01").
		WillReturnRows(sqlmock.NewRows(pgTestColumns).
			AddRow("0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11", "A", nil, 52.5, 13.4, created, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)))

	desc := ""
	r, err := g.Insert(context.Background(), Record{"title": "A", "description": &desc, "latitude": 52.5, "longitude": 13.4, "expires_at": "2025-12-01"})
	require.Nil(t, err)
	assert.Equal(t, "0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11", r.ID())
	assert.Equal(t, "2025-11-01T08:00:00Z", r["created_at"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGateway_Delete(t *testing.T) {
	const id = "0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11"
	tcs := []struct {
		name     string
		id       string
		setup    func(mock sqlmock.Sqlmock)
		expected bool
		errCode  pe.ErrCode
	}{
		{
			name: "Matched",
			id:   id,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM pins WHERE id = $1`)).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
			},
			expected: true,
		},
		{
			name: "NothingMatched",
			id:   id,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM pins WHERE id = $1`)).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			expected: false,
		},
		{
			name:     "NotAnID",
			id:       "nope",
			setup:    func(mock sqlmock.Sqlmock) {},
			expected: false,
		},
		{
			name: "BackendFailure",
			id:   id,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`DELETE`).WillReturnError(sql.ErrConnDone)
			},
			errCode: pe.ErrCodeDependencyFailure,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			g, mock := newTestPostgresGateway(t)
			c.setup(mock)
			ok, err := g.Delete(context.Background(), c.id)
			if c.errCode != "" {
				require.NotNil(t, err)
				assert.Equal(t, c.errCode, err.Code)
			} else {
				require.Nil(t, err)
			}
			assert.Equal(t, c.expected, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresGateway_Migrate(t *testing.T) {
	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	g, _ := newTestPostgresGateway(t)
	called := false
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		called = true
		assert.Equal(t, ".", dir)
		return nil
	}
	assert.Nil(t, g.Migrate(context.Background()))
	assert.True(t, called)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err := g.Migrate(context.Background())
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeDependencyFailure, err.Code)
}

func TestPostgresGateway_DecodeNotification(t *testing.T) {
	payload := `{"type":"DELETE","new":null,"old":{"id":"0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11","title":"A","description":null,"latitude":52.5,"longitude":13.4,"created_at":"2025-11-01T08:00:00.123456+00:00","expires_at":"2025-12-01"}}`
	c, err := decodePgNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, ChangeDelete, c.Type)
	assert.Nil(t, c.New)
	assert.Equal(t, "0f5c2a0e-3b41-4a4f-9d55-3b0a8a9d2c11", c.Old.ID())

	_, err = decodePgNotification("not json")
	assert.Error(t, err)
}
