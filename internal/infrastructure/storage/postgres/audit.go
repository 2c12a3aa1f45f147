package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"praxis/internal/core/apperror"
	"praxis/internal/core/audit"
	"praxis/internal/core/id"
	"praxis/internal/core/object"
	"praxis/pkg/logger"
)

var _ audit.Auditor = (*AuditTrail)(nil)

// compressionThreshold is the serialized-changes size above which entries
// are stored zstd-compressed instead of as plain JSONB.
const compressionThreshold = 10 * 1024

// AuditTrail records object changes in the sys_audit table. Writes go
// through the object store's querier, so an entry written during commit
// lands in the same physical transaction as the object change it describes.
type AuditTrail struct {
	store   *ObjectStore
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	log     *logger.Logger
}

// NewAuditTrail creates an audit trail bound to the given store.
func NewAuditTrail(store *ObjectStore, log *logger.Logger) (*AuditTrail, error) {
	if log == nil {
		log = logger.Default()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, apperror.NewInternal("create zstd encoder").WithCause(err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperror.NewInternal("create zstd decoder").WithCause(err)
	}
	return &AuditTrail{
		store:   store,
		encoder: enc,
		decoder: dec,
		log:     log.WithComponent("audit"),
	}, nil
}

// ObjectChanged implements audit.Auditor.
func (t *AuditTrail) ObjectChanged(ctx context.Context, e audit.Entry) error {
	raw, err := json.Marshal(e.Changes)
	if err != nil {
		return apperror.NewInternal("marshal audit changes").WithCause(err)
	}

	var (
		changes    []byte
		compressed []byte
		algo       = "none"
	)
	if len(raw) > compressionThreshold {
		compressed = t.encoder.EncodeAll(raw, nil)
		algo = "zstd"
	} else {
		changes = raw
	}

	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	sql, args, err := psql.Insert("sys_audit").
		Columns("id", "oid", "class", "user_id", "changes", "changes_compressed", "compression_algo", "created_at").
		Values(id.New(), e.Oid, e.Class, e.User, changes, compressed, algo, at).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build audit insert").WithCause(err)
	}
	if _, err := t.store.Querier().Exec(ctx, sql, args...); err != nil {
		return apperror.NewStore("insert audit entry for "+e.Oid, err)
	}
	return nil
}

// AuditRow is one persisted audit entry.
type AuditRow struct {
	ID                id.ID     `db:"id"`
	Oid               string    `db:"oid"`
	Class             string    `db:"class"`
	UserID            string    `db:"user_id"`
	Changes           []byte    `db:"changes"`
	ChangesCompressed []byte    `db:"changes_compressed"`
	CompressionAlgo   string    `db:"compression_algo"`
	CreatedAt         time.Time `db:"created_at"`
}

// ChangeSet decodes the row's changes, decompressing when needed.
func (t *AuditTrail) ChangeSet(row AuditRow) (object.Attributes, error) {
	raw := row.Changes
	if row.CompressionAlgo == "zstd" {
		decoded, err := t.decoder.DecodeAll(row.ChangesCompressed, nil)
		if err != nil {
			return nil, apperror.NewInternal("decompress audit changes").WithCause(err)
		}
		raw = decoded
	}
	var attrs object.Attributes
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, apperror.NewInternal("unmarshal audit changes").WithCause(err)
	}
	return attrs, nil
}

// History returns the audit entries for one object, newest first.
func (t *AuditTrail) History(ctx context.Context, oid object.Oid, limit int) ([]AuditRow, error) {
	q := psql.Select("id", "oid", "class", "user_id", "changes", "changes_compressed", "compression_algo", "created_at").
		From("sys_audit").
		Where(squirrel.Eq{"oid": oid.String()}).
		OrderBy("created_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.NewInternal("build audit select").WithCause(err)
	}
	var rows []AuditRow
	if err := pgxscan.Select(ctx, t.store.Querier(), &rows, sql, args...); err != nil {
		return nil, apperror.NewStore("load audit history for "+oid.String(), err)
	}
	return rows, nil
}
