package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/passvault/internal/dbx"
	"github.com/dmitrijs2005/passvault/internal/server/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Dialect describes one supported SQL engine.
type Dialect struct {
	Driver string // database/sql driver name
	Goose  string // goose dialect
	Insert string
}

var (
	Postgres = Dialect{
		Driver: "pgx",
		Goose:  "pgx",
		Insert: `INSERT INTO audit_log (id, session_id, username, command, success, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	}
	SQLite = Dialect{
		Driver: "sqlite",
		Goose:  "sqlite3",
		Insert: `INSERT INTO audit_log (id, session_id, username, command, success, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	}
)

// DialectFor maps a configured driver name onto a Dialect.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres", "pgx", "":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported audit driver %q", name)
}

var (
	sqlOpen        = sql.Open
	gooseUpContext = func(ctx context.Context, db *sql.DB, dialect string) error {
		goose.SetBaseFS(migrations.Migrations)
		if err := goose.SetDialect(dialect); err != nil {
			return err
		}
		return goose.UpContext(ctx, db, ".")
	}
)

// SQLRecorder inserts records into the audit_log table.
type SQLRecorder struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLRecorder connects to dsn, applies migrations and returns a recorder
// that owns the connection pool.
func OpenSQLRecorder(ctx context.Context, dialect Dialect, dsn string) (*SQLRecorder, error) {
	db, err := sqlOpen(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping audit db: %w", err)
	}
	if err := gooseUpContext(ctx, db, dialect.Goose); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return NewSQLRecorder(db, dialect), nil
}

func NewSQLRecorder(db *sql.DB, dialect Dialect) *SQLRecorder {
	return &SQLRecorder{db: db, dialect: dialect}
}

func (s *SQLRecorder) insert(ctx context.Context, q dbx.DBTX, r Record) error {
	_, err := q.ExecContext(ctx, s.dialect.Insert,
		r.ID, r.SessionID, r.User, r.Command, r.Success, r.Message, r.Time)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *SQLRecorder) Record(ctx context.Context, r Record) error {
	return s.insert(ctx, s.db, r)
}

// RecordBatch stores rs in a single transaction.
func (s *SQLRecorder) RecordBatch(ctx context.Context, rs []Record) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, r := range rs {
			if err := s.insert(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLRecorder) Close() error {
	return s.db.Close()
}
