package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"praxis/internal/core/apperror"
	"praxis/internal/core/object"
	"praxis/internal/core/tx"
	"praxis/pkg/logger"
)

// Compile-time check that ObjectStore is a usable transactional resource.
var _ tx.TransactionalResource = (*ObjectStore)(nil)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Querier is the subset of pgx both pool and transaction satisfy.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ObjectStore persists domain objects in a single `objects` table keyed by
// oid, with an optimistic-lock version column and the serialized state as
// JSONB. It holds at most one physical transaction at a time, so each
// session gets its own instance.
type ObjectStore struct {
	pool    *Pool
	current pgx.Tx
	log     *logger.Logger
}

// NewObjectStore creates a store over the given pool.
func NewObjectStore(pool *Pool, log *logger.Logger) *ObjectStore {
	if log == nil {
		log = logger.Default()
	}
	return &ObjectStore{pool: pool, log: log.WithComponent("pg-store")}
}

// Querier returns the open physical transaction when one exists, otherwise
// the pool. The audit trail and outbox write through this so their rows join
// the unit of work's physical transaction.
func (s *ObjectStore) Querier() Querier {
	if s.current != nil {
		return s.current
	}
	return s.pool
}

// --- tx.TransactionalResource ---

func (s *ObjectStore) StartTransaction(ctx context.Context) error {
	if s.current != nil {
		return apperror.NewInternal("physical transaction already open")
	}
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperror.NewStore("begin transaction", err)
	}
	s.current = pgtx
	return nil
}

func (s *ObjectStore) EndTransaction(ctx context.Context) error {
	if s.current == nil {
		return apperror.NewInternal("no physical transaction to end")
	}
	err := s.current.Commit(ctx)
	s.current = nil
	if err != nil {
		return apperror.NewStore("commit transaction", err)
	}
	return nil
}

func (s *ObjectStore) AbortTransaction(ctx context.Context) error {
	if s.current == nil {
		return nil
	}
	// Use a background context so rollback completes even if the original
	// context was cancelled.
	err := s.current.Rollback(context.Background())
	s.current = nil
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return apperror.NewStore("rollback transaction", err)
	}
	return nil
}

// --- tx.CommandContext ---

func (s *ObjectStore) InsertObject(ctx context.Context, a *object.Adapter) error {
	state, err := a.Snapshot()
	if err != nil {
		return err
	}
	oid := object.NewOid(a.Oid().Class, a.Oid().ID)

	sql, args, err := psql.Insert("objects").
		Columns("oid", "class", "version", "state", "updated_at").
		Values(oid.String(), oid.Class, a.Version(), state, time.Now().UTC()).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build insert").WithCause(err)
	}
	if _, err := s.Querier().Exec(ctx, sql, args...); err != nil {
		return apperror.NewStore("insert object "+oid.String(), err)
	}
	return nil
}

func (s *ObjectStore) UpdateObject(ctx context.Context, a *object.Adapter) error {
	state, err := a.Snapshot()
	if err != nil {
		return err
	}
	oid := a.Oid()

	sql, args, err := psql.Update("objects").
		Set("state", state).
		Set("version", a.Version()+1).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"oid": oid.String(), "version": a.Version()}).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build update").WithCause(err)
	}
	tag, err := s.Querier().Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStore("update object "+oid.String(), err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(oid.String())
	}
	return nil
}

func (s *ObjectStore) DeleteObject(ctx context.Context, a *object.Adapter) error {
	oid := a.Oid()

	sql, args, err := psql.Delete("objects").
		Where(squirrel.Eq{"oid": oid.String(), "version": a.Version()}).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build delete").WithCause(err)
	}
	tag, err := s.Querier().Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewStore("delete object "+oid.String(), err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(oid.String())
	}
	return nil
}

// --- reads ---

// ObjectRow is the stored representation of one domain object.
type ObjectRow struct {
	Oid       string            `db:"oid"`
	Class     string            `db:"class"`
	Version   int               `db:"version"`
	State     object.Attributes `db:"state"`
	UpdatedAt time.Time         `db:"updated_at"`
}

// GetObject fetches one object row by oid.
func (s *ObjectStore) GetObject(ctx context.Context, oid object.Oid) (*ObjectRow, error) {
	sql, args, err := psql.Select("oid", "class", "version", "state", "updated_at").
		From("objects").
		Where(squirrel.Eq{"oid": oid.String()}).
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("build select").WithCause(err)
	}
	var row ObjectRow
	if err := pgxscan.Get(ctx, s.Querier(), &row, sql, args...); err != nil {
		return nil, apperror.NewStore("get object "+oid.String(), err)
	}
	return &row, nil
}

// ListObjects fetches all rows of one class, oldest first.
func (s *ObjectStore) ListObjects(ctx context.Context, class string) ([]ObjectRow, error) {
	sql, args, err := psql.Select("oid", "class", "version", "state", "updated_at").
		From("objects").
		Where(squirrel.Eq{"class": class}).
		OrderBy("oid").
		ToSql()
	if err != nil {
		return nil, apperror.NewInternal("build select").WithCause(err)
	}
	var rows []ObjectRow
	if err := pgxscan.Select(ctx, s.Querier(), &rows, sql, args...); err != nil {
		return nil, apperror.NewStore("list objects "+class, err)
	}
	return rows, nil
}

// CreateSchema installs the store's tables. Idempotent.
func (s *ObjectStore) CreateSchema(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS objects (
			oid        TEXT PRIMARY KEY,
			class      TEXT NOT NULL,
			version    INT NOT NULL,
			state      JSONB,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_objects_class ON objects (class);

		CREATE TABLE IF NOT EXISTS sys_audit (
			id                 UUID PRIMARY KEY,
			oid                TEXT NOT NULL,
			class              TEXT NOT NULL,
			user_id            TEXT NOT NULL,
			changes            JSONB,
			changes_compressed BYTEA,
			compression_algo   TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sys_audit_oid ON sys_audit (oid, created_at);

		CREATE TABLE IF NOT EXISTS sys_outbox (
			id            UUID PRIMARY KEY,
			event_type    TEXT NOT NULL,
			identifier    TEXT,
			oid           TEXT,
			payload       TEXT NOT NULL,
			status        TEXT NOT NULL,
			retry_count   INT NOT NULL DEFAULT 0,
			last_error    TEXT,
			next_retry_at TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL,
			published_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_sys_outbox_status ON sys_outbox (status, created_at);
	`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return apperror.NewStore("create schema", err)
	}
	return nil
}
