// Package sqlite provides a file-backed object store for single-node
// deployments where running PostgreSQL is overkill.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"praxis/internal/core/apperror"
	"praxis/internal/core/object"
	"praxis/internal/core/tx"
)

var _ tx.TransactionalResource = (*Store)(nil)

var qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

// Store persists objects in a single SQLite file. Like the PostgreSQL
// store it holds at most one physical transaction at a time.
type Store struct {
	db      *sql.DB
	path    string
	current *sql.Tx
}

// Open opens (or creates) the database at path. Use ":memory:" for an
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperror.NewStore("open sqlite database", err)
	}

	// SQLite works best with a single connection for writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperror.NewStore("ping sqlite database", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.path != ":memory:" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

// CreateSchema installs the objects table. Idempotent.
func (s *Store) CreateSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS objects (
			oid        TEXT PRIMARY KEY,
			class      TEXT NOT NULL,
			version    INTEGER NOT NULL,
			state      TEXT,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_objects_class ON objects (class);
	`)
	if err != nil {
		return apperror.NewStore("create schema", err)
	}
	return nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) executor() executor {
	if s.current != nil {
		return s.current
	}
	return s.db
}

// --- tx.TransactionalResource ---

func (s *Store) StartTransaction(ctx context.Context) error {
	if s.current != nil {
		return apperror.NewInternal("physical transaction already open")
	}
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperror.NewStore("begin transaction", err)
	}
	s.current = sqltx
	return nil
}

func (s *Store) EndTransaction(ctx context.Context) error {
	if s.current == nil {
		return apperror.NewInternal("no physical transaction to end")
	}
	err := s.current.Commit()
	s.current = nil
	if err != nil {
		return apperror.NewStore("commit transaction", err)
	}
	return nil
}

func (s *Store) AbortTransaction(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	err := s.current.Rollback()
	s.current = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return apperror.NewStore("rollback transaction", err)
	}
	return nil
}

// --- tx.CommandContext ---

func (s *Store) InsertObject(ctx context.Context, a *object.Adapter) error {
	state, err := marshalState(a)
	if err != nil {
		return err
	}
	oid := object.NewOid(a.Oid().Class, a.Oid().ID)

	query, args, err := qb.Insert("objects").
		Columns("oid", "class", "version", "state", "updated_at").
		Values(oid.String(), oid.Class, a.Version(), state, time.Now().UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build insert").WithCause(err)
	}
	if _, err := s.executor().ExecContext(ctx, query, args...); err != nil {
		return apperror.NewStore("insert object "+oid.String(), err)
	}
	return nil
}

func (s *Store) UpdateObject(ctx context.Context, a *object.Adapter) error {
	state, err := marshalState(a)
	if err != nil {
		return err
	}
	oid := a.Oid()

	query, args, err := qb.Update("objects").
		Set("state", state).
		Set("version", a.Version()+1).
		Set("updated_at", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(squirrel.Eq{"oid": oid.String(), "version": a.Version()}).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build update").WithCause(err)
	}
	res, err := s.executor().ExecContext(ctx, query, args...)
	if err != nil {
		return apperror.NewStore("update object "+oid.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewConcurrentModification(oid.String())
	}
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, a *object.Adapter) error {
	oid := a.Oid()

	query, args, err := qb.Delete("objects").
		Where(squirrel.Eq{"oid": oid.String(), "version": a.Version()}).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build delete").WithCause(err)
	}
	res, err := s.executor().ExecContext(ctx, query, args...)
	if err != nil {
		return apperror.NewStore("delete object "+oid.String(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewConcurrentModification(oid.String())
	}
	return nil
}

// --- reads ---

// GetObject fetches one object's state and version by oid.
func (s *Store) GetObject(ctx context.Context, oid object.Oid) (object.Attributes, int, error) {
	query, args, err := qb.Select("state", "version").
		From("objects").
		Where(squirrel.Eq{"oid": oid.String()}).
		ToSql()
	if err != nil {
		return nil, 0, apperror.NewInternal("build select").WithCause(err)
	}
	var (
		raw     sql.NullString
		version int
	)
	if err := s.executor().QueryRowContext(ctx, query, args...).Scan(&raw, &version); err != nil {
		return nil, 0, apperror.NewStore("get object "+oid.String(), err)
	}
	var attrs object.Attributes
	if raw.Valid {
		if err := json.Unmarshal([]byte(raw.String), &attrs); err != nil {
			return nil, 0, apperror.NewInternal("unmarshal object state").WithCause(err)
		}
	}
	return attrs, version, nil
}

func marshalState(a *object.Adapter) (string, error) {
	state, err := a.Snapshot()
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", apperror.NewInternal("marshal object state").WithCause(err)
	}
	return string(raw), nil
}
