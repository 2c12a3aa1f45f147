package postgres

import (
	"context"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"praxis/internal/core/apperror"
	"praxis/internal/core/id"
	"praxis/internal/core/publish"
	"praxis/pkg/logger"
)

var _ publish.Service = (*Outbox)(nil)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

const maxRetries = 5

// OutboxMessage is one canonical event waiting in the transactional outbox.
type OutboxMessage struct {
	ID          id.ID        `db:"id"`
	EventType   string       `db:"event_type"`
	Identifier  *string      `db:"identifier"`
	Oid         *string      `db:"oid"`
	Payload     string       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt *time.Time   `db:"published_at"`
}

// Outbox persists canonical events into sys_outbox. Writes go through the
// object store's querier, so events recorded during commit land in the same
// physical transaction as the object changes they describe and are only
// visible to the relay once that transaction commits.
type Outbox struct {
	store *ObjectStore
}

// NewOutbox creates an outbox bound to the given store.
func NewOutbox(store *ObjectStore) *Outbox {
	return &Outbox{store: store}
}

// Publish implements publish.Service.
func (o *Outbox) Publish(ctx context.Context, ev publish.CanonicalEvent) error {
	var identifier, oid *string
	if ev.Identifier != "" {
		identifier = &ev.Identifier
	}
	if ev.Oid != "" {
		oid = &ev.Oid
	}

	sql, args, err := psql.Insert("sys_outbox").
		Columns("id", "event_type", "identifier", "oid", "payload", "status", "created_at").
		Values(id.New(), string(ev.Kind), identifier, oid, ev.Text, OutboxStatusPending, time.Now().UTC()).
		ToSql()
	if err != nil {
		return apperror.NewInternal("build outbox insert").WithCause(err)
	}
	if _, err := o.store.Querier().Exec(ctx, sql, args...); err != nil {
		return apperror.NewStore("insert outbox message", err)
	}
	return nil
}

// OutboxHandler delivers one outbox message to its destination.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxRelay drains pending messages from sys_outbox and hands them to a
// handler. Runs outside any session, directly on the pool.
type OutboxRelay struct {
	pool      *Pool
	batchSize int
	handler   OutboxHandler
	log       *logger.Logger
}

// NewOutboxRelay creates a relay.
func NewOutboxRelay(pool *Pool, batchSize int, handler OutboxHandler, log *logger.Logger) *OutboxRelay {
	if log == nil {
		log = logger.Default()
	}
	return &OutboxRelay{
		pool:      pool,
		batchSize: batchSize,
		handler:   handler,
		log:       log.WithComponent("outbox-relay"),
	}
}

// ProcessBatch fetches due pending messages and processes them. Returns the
// number successfully delivered.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	var messages []*OutboxMessage
	err := pgxscan.Select(ctx, r.pool, &messages, `
		SELECT id, event_type, identifier, oid, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at
		FROM sys_outbox
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, OutboxStatusPending, r.batchSize)
	if err != nil {
		return 0, apperror.NewStore("fetch outbox messages", err)
	}

	processed := 0
	for _, msg := range messages {
		if err := r.processMessage(ctx, msg); err != nil {
			r.log.Warnw("outbox message delivery failed",
				"message_id", id.Short(msg.ID),
				"event_type", msg.EventType,
				"retry_count", msg.RetryCount,
				"error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage) error {
	if err := r.handler.Handle(ctx, msg); err != nil {
		// Linear backoff per attempt; messages over the retry limit are
		// parked as failed for operator attention.
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		errStr := err.Error()

		_, updateErr := r.pool.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, errStr, nextRetry, maxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return apperror.NewStore("record outbox delivery failure", updateErr)
		}
		return err
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	if err != nil {
		return apperror.NewStore("mark outbox message published", err)
	}
	return nil
}

// Requeue resets failed messages back to pending so delivery is retried
// from scratch. Returns the number requeued.
func (r *OutboxRelay) Requeue(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, retry_count = 0, next_retry_at = NULL
		WHERE status = $2
	`, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		return 0, apperror.NewStore("requeue failed outbox messages", err)
	}
	return tag.RowsAffected(), nil
}
