package tx

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"praxis/internal/core/apperror"
	"praxis/internal/core/audit"
	"praxis/internal/core/id"
	"praxis/internal/core/publish"
	"praxis/pkg/logger"
)

var tracer = otel.Tracer("praxis/tx")

// Manager owns the current transaction for a session. Re-entrant start/end
// calls collapse onto a single physical transaction via a nesting counter;
// any failure on the commit path downgrades the outcome to an abort.
//
// A session may be driven by more than one physical thread over its lifetime,
// so all mutating entry points are serialized on an internal mutex.
type Manager struct {
	mu sync.Mutex

	session   Session
	resource  TransactionalResource
	persistor EnlistedObjectDirtying

	auditor   audit.Auditor      // optional
	publisher *publish.Publisher // optional

	level int
	seq   int

	// Current or most recently completed transaction.
	transaction *Transaction

	log *logger.Logger
}

// Options configures the optional Manager collaborators.
type Options struct {
	Auditor   audit.Auditor
	Publisher *publish.Publisher
	Logger    *logger.Logger
}

// NewManager wires a manager over its store and dirty-object discoverer.
func NewManager(resource TransactionalResource, persistor EnlistedObjectDirtying, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		resource:  resource,
		persistor: persistor,
		auditor:   opts.Auditor,
		publisher: opts.Publisher,
		log:       log.WithComponent("tx-manager"),
	}
}

// SetSession injects the owning session. Must happen before Open.
func (m *Manager) SetSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

// Open readies the manager. A session must already be assigned.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return apperror.NewInternal("session is required before open")
	}
	return nil
}

// Close aborts any still-open transaction and detaches the session. Abort
// failures during teardown are logged and swallowed: teardown must complete
// even when the store is unhealthy.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transaction != nil && !m.transaction.State().IsComplete() {
		if err := m.abortLocked(ctx); err != nil {
			m.log.Errorw("failure during abort", "error", err)
		}
	}
	m.session = nil
}

// Transaction returns the current or most recently completed transaction,
// or nil if none was ever started.
func (m *Manager) Transaction() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transaction
}

// TransactionLevel returns the current nesting level.
func (m *Manager) TransactionLevel() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// InTransaction reports whether a transaction exists and is not complete.
func (m *Manager) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inTransactionLocked()
}

func (m *Manager) inTransactionLocked() bool {
	return m.transaction != nil && !m.transaction.State().IsComplete()
}

// StartTransaction begins a unit of work. If no transaction exists, or the
// existing one is complete, a fresh transaction (with fresh message broker
// and update notifier) is created and the physical transaction begins;
// nested calls only bump the nesting counter.
func (m *Manager) StartTransaction(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "transaction.start")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	noneInProgress := false
	if m.transaction == nil || m.transaction.State().IsComplete() {
		noneInProgress = true

		user := ""
		if m.session != nil {
			user = m.session.User()
		}
		m.transaction = newTransaction(m.seq, user, m.resource, m.auditor, m.publisher, NewMessageBroker(), NewUpdateNotifier())
		m.seq++
		m.level = 0

		if err := m.resource.StartTransaction(ctx); err != nil {
			_ = m.transaction.Abort()
			return apperror.NewStore("start physical transaction", err)
		}
	}

	m.level++
	m.log.Debugw("start transaction",
		"level_from", m.level-1, "level_to", m.level,
		"created", noneInProgress, "tx_id", id.Short(m.transaction.ID()))
	return nil
}

// FlushTransaction enqueues commands for all dirty objects and executes the
// queue without ending the transaction.
//
// The returned bool is reserved for "anything flushed" and is always false.
func (m *Manager) FlushTransaction(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Debugw("flush transaction")
	if m.transaction != nil && !m.transaction.State().IsComplete() {
		if err := m.persistor.ObjectChangedAllDirty(ctx, m.transaction); err != nil {
			m.transaction.recordException(err)
		}
		m.transaction.Flush(ctx)
	}
	return false, nil
}

// EndTransaction closes one nesting level. When the outermost level closes,
// the commit protocol runs: dirty-flush, then commit (which flushes, audits,
// publishes, and ends the physical transaction) — re-checking the
// transaction's exceptions after each step, because the store may raise
// lazily at any of them. Any exception converts the commit into an abort and
// the consolidated cause is returned; it is never swallowed.
//
// Calling EndTransaction without a matching StartTransaction is a caller
// bug: the anomaly is logged, the level resets to 0, and an error is
// returned.
func (m *Manager) EndTransaction(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "transaction.end")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Debugw("end transaction", "level_from", m.level, "level_to", m.level-1)

	m.level--
	if m.level > 0 {
		return nil
	}
	if m.level < 0 {
		m.log.Errorw("end transaction called without matching start", "level", m.level)
		m.level = 0
		return apperror.NewNesting("no transaction running to end")
	}

	t := m.transaction
	if t == nil {
		return apperror.NewNoTransaction("no transaction to end")
	}

	// The store may raise at flush, commit, or physical end; after each step
	// re-check rather than assuming the previous one was clean.
	exceptions := t.ExceptionsIfAny()

	if len(exceptions) == 0 {
		m.log.Debugw("end transaction: committing", "tx_id", id.Short(t.ID()))
		if err := m.persistor.ObjectChangedAllDirty(ctx, t); err != nil {
			t.recordException(err)
		}
		exceptions = t.ExceptionsIfAny()
	}

	if len(exceptions) == 0 {
		if err := t.Commit(ctx); err != nil {
			t.recordException(err)
		}
		exceptions = t.ExceptionsIfAny()
	}

	if len(exceptions) > 0 {
		m.log.Debugw("end transaction: aborting instead", "exceptions", len(exceptions))
		if err := m.abortLocked(ctx); err != nil {
			t.recordException(err)
		}
		return consolidate(t.ExceptionsIfAny())
	}

	return nil
}

// AbortTransaction aborts the current transaction and the physical
// transaction behind it. Safe to call when no transaction is in progress.
func (m *Manager) AbortTransaction(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "transaction.abort")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(ctx)
}

func (m *Manager) abortLocked(ctx context.Context) error {
	if m.transaction == nil || m.transaction.State().IsComplete() {
		return nil
	}
	if err := m.transaction.Abort(); err != nil {
		return err
	}
	m.level = 0
	if err := m.resource.AbortTransaction(ctx); err != nil {
		return apperror.NewStore("abort physical transaction", err)
	}
	return nil
}

// AddCommand appends a persistence command to the current transaction.
func (m *Manager) AddCommand(cmd PersistenceCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inTransactionLocked() {
		return apperror.NewNoTransaction("no current transaction to add command to")
	}
	return m.transaction.AddCommand(cmd)
}

// consolidate turns the exception list into the single error surfaced to the
// caller: the sole cause verbatim, otherwise the concatenated messages
// wrapping all causes.
func consolidate(exceptions []error) error {
	if len(exceptions) == 0 {
		return nil
	}
	if len(exceptions) == 1 {
		return exceptions[0]
	}
	var buf strings.Builder
	for _, e := range exceptions {
		buf.WriteString(e.Error())
		buf.WriteString("\n")
	}
	return apperror.NewCommitFailed(buf.String(), errors.Join(exceptions...))
}

// ----------------------------------------------------------------------
// Transactional execution
// ----------------------------------------------------------------------

// Work is a unit of work with callback hooks run by ExecuteWithinTransaction.
// Only Execute is required.
type Work struct {
	Pre       func(ctx context.Context) error
	Execute   func(ctx context.Context) error
	OnSuccess func(ctx context.Context)
	OnFailure func(ctx context.Context)
}

// ExecuteWithinTransaction runs the work in a transaction. If one is already
// in progress the work joins it — the outer caller stays responsible for the
// final commit or abort. Otherwise this call starts a transaction, commits on
// success, and aborts on failure.
//
// On failure the original error always propagates; a secondary abort failure
// is logged and returned wrapped together with it, never masking it.
func (m *Manager) ExecuteWithinTransaction(ctx context.Context, w Work) error {
	initiallyInTransaction := m.InTransaction()

	ctx, span := tracer.Start(ctx, "unit-of-work",
		trace.WithAttributes(attribute.Bool("tx.owner", !initiallyInTransaction)))
	defer span.End()

	if !initiallyInTransaction {
		if err := m.StartTransaction(ctx); err != nil {
			return err
		}
	}
	if t := m.Transaction(); t != nil {
		ctx = logger.WithTransactionID(ctx, id.Short(t.ID()))
	}

	err := m.runWork(ctx, w)
	if err == nil {
		if w.OnSuccess != nil {
			w.OnSuccess(ctx)
		}
		if !initiallyInTransaction {
			return m.EndTransaction(ctx)
		}
		return nil
	}

	if w.OnFailure != nil {
		w.OnFailure(ctx)
	}
	if !initiallyInTransaction {
		if abortErr := m.AbortTransaction(ctx); abortErr != nil {
			m.log.Errorw("abort failure after exception", "error", abortErr)
			return apperror.NewAbortFailed(abortErr, err)
		}
	}
	return err
}

func (m *Manager) runWork(ctx context.Context, w Work) error {
	if w.Pre != nil {
		if err := w.Pre(ctx); err != nil {
			return err
		}
	}
	if w.Execute == nil {
		return nil
	}
	return w.Execute(ctx)
}

// ExecuteReturning runs fn within a transaction, returning its computed
// value. Same joining and abort semantics as ExecuteWithinTransaction.
func ExecuteReturning[T any](ctx context.Context, m *Manager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.ExecuteWithinTransaction(ctx, Work{
		Execute: func(ctx context.Context) error {
			var err error
			result, err = fn(ctx)
			return err
		},
	})
	return result, err
}
