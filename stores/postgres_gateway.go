package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"wuyrush.io/plakat/common/logging"
	pe "wuyrush.io/plakat/errors"
	"wuyrush.io/plakat/stores/migrations"
)

const (
	pgChangesChannel = "pins_changes"
	pgColumns        = `id, title, description, latitude, longitude, created_at, expires_at`
	pgDateLayout     = "2006-01-02"
)

// PostgresGateway is a Gateway driven by a postgres table. Change notifications are emitted by a table
// trigger through pg_notify and received on a dedicated connection LISTENing to them.
type PostgresGateway struct {
	DB *sql.DB
	// DSN is used to open the LISTEN connection of each subscription
	DSN string
}

func NewPostgresGateway(db *sql.DB, dsn string) *PostgresGateway {
	return &PostgresGateway{DB: db, DSN: dsn}
}

// OpenPostgres opens a connection pool via the pgx stdlib driver
func OpenPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate brings the schema of the pins table up to date
func (g *PostgresGateway) Migrate(ctx context.Context) *pe.PinErr {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return pe.ErrServiceFailure("error setting migration dialect").WithCause(err)
	}
	if err := gooseUpContext(ctx, g.DB, "."); err != nil {
		logging.WithFuncName().WithError(err).Error("error migrating pins table")
		return pe.ErrDependencyFailure("error migrating pins table").WithCause(err)
	}
	return nil
}

func (g *PostgresGateway) List(ctx context.Context) ([]Record, *pe.PinErr) {
	const errMsg = "error listing pins"
	clog := logging.WithFuncName()
	rows, err := g.DB.QueryContext(ctx, `SELECT `+pgColumns+` FROM pins ORDER BY created_at DESC`)
	if err != nil {
		clog.WithError(err).Error("error querying pins")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	defer rows.Close()
	rs := []Record{}
	for rows.Next() {
		r, err := scanPgRow(rows)
		if err != nil {
			clog.WithError(err).Error("error scanning pin row")
			return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
		}
		rs = append(rs, r)
	}
	if err := rows.Err(); err != nil {
		clog.WithError(err).Error("error iterating pin rows")
		return nil, pe.ErrDependencyFailure(errMsg).WithCause(err)
	}
	return rs, nil
}

func (g *PostgresGateway) Insert(ctx context.Context, r Record) (Record, *pe.PinErr) {
	id := uuid.New().String()
	clog := logging.WithFuncName().WithField("pinID", id)
	row := g.DB.QueryRowContext(ctx,
		`INSERT INTO pins (id, title, description, latitude, longitude, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+pgColumns,
		id, r["title"], nullableString(r["description"]), r["latitude"], r["longitude"], nullableString(r["expires_at"]))
	stored, err := scanPgRow(row)
	if err != nil {
		clog.WithError(err).Error("error inserting pin")
		return nil, pe.ErrDependencyFailure("error saving pin").WithCause(err)
	}
	return stored, nil
}

func (g *PostgresGateway) Delete(ctx context.Context, id string) (bool, *pe.PinErr) {
	clog := logging.WithFuncName().WithField("pinID", id)
	// ids are uuids; anything else can't match a row
	if _, err := uuid.Parse(id); err != nil {
		clog.Debug("not a pin id, nothing to delete")
		return false, nil
	}
	res, err := g.DB.ExecContext(ctx, `DELETE FROM pins WHERE id = $1`, id)
	if err != nil {
		clog.WithError(err).Error("error deleting pin")
		return false, pe.ErrDependencyFailure("error deleting pin").WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, pe.ErrDependencyFailure("error deleting pin").WithCause(err)
	}
	return n > 0, nil
}

func (g *PostgresGateway) Subscribe(ctx context.Context) (Subscription, *pe.PinErr) {
	clog := logging.WithFuncName()
	conn, err := pgx.Connect(ctx, g.DSN)
	if err != nil {
		clog.WithError(err).Error("error opening listen connection")
		return nil, pe.ErrDependencyFailure("error subscribing to pin changes").WithCause(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgChangesChannel); err != nil {
		conn.Close(context.Background())
		clog.WithError(err).Error("error listening to pin changes")
		return nil, pe.ErrDependencyFailure("error subscribing to pin changes").WithCause(err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &pgSub{conn: conn, ch: make(chan Change), cancel: cancel, done: make(chan struct{})}
	go s.pump(subCtx)
	return s, nil
}

func (g *PostgresGateway) Close() *pe.PinErr {
	if err := g.DB.Close(); err != nil {
		return pe.ErrServiceFailure("failed close postgres connection pool").WithCause(err)
	}
	return nil
}

type pgSub struct {
	conn   *pgx.Conn
	ch     chan Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// pump owns the listen connection until ctx is done
func (s *pgSub) pump(ctx context.Context) {
	clog := logging.WithFuncName()
	defer close(s.done)
	defer close(s.ch)
	defer s.conn.Close(context.Background())
	for {
		n, err := s.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				clog.WithError(err).Error("lost pin change notifications")
			}
			return
		}
		c, err := decodePgNotification(n.Payload)
		if err != nil {
			clog.WithError(err).Warn("ignoring malformed change notification")
			continue
		}
		select {
		case s.ch <- c:
		case <-ctx.Done():
			return
		}
	}
}

func (s *pgSub) Changes() <-chan Change {
	return s.ch
}

func (s *pgSub) Close() *pe.PinErr {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// decodePgNotification turns the payload built by the pins trigger into a Change. Row timestamps are
// rendered by postgres' json functions and are read as-is.
func decodePgNotification(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPgRow(s rowScanner) (Record, error) {
	var (
		id, title string
		desc      sql.NullString
		lat, lng  float64
		createdAt time.Time
		expiresAt sql.NullTime
	)
	if err := s.Scan(&id, &title, &desc, &lat, &lng, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	r := Record{
		"id":          id,
		"title":       title,
		"description": nil,
		"latitude":    lat,
		"longitude":   lng,
		"created_at":  createdAt.UTC().Format(time.RFC3339Nano),
	}
	if desc.Valid {
		r["description"] = desc.String
	}
	if expiresAt.Valid {
		r["expires_at"] = expiresAt.Time.Format(pgDateLayout)
	}
	return r, nil
}

// nullableString maps absent or empty values to SQL NULL
func nullableString(v interface{}) interface{} {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil
		}
		return s
	case *string:
		if s == nil || *s == "" {
			return nil
		}
		return *s
	default:
		return nil
	}
}
