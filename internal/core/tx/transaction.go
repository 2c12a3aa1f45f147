package tx

import (
	"context"
	"time"

	"praxis/internal/core/apperror"
	"praxis/internal/core/audit"
	"praxis/internal/core/id"
	"praxis/internal/core/publish"
	"praxis/pkg/logger"
)

// ActionInvocation describes an invoked action queued for publication at
// commit.
type ActionInvocation struct {
	Target     string
	Identifier string
	Args       []string
	Result     string
}

// Transaction is a single unit of work: an ordered queue of deferred
// persistence commands plus the auditing and publishing work performed at
// commit. Created and exclusively mutated by its Manager.
type Transaction struct {
	id    id.ID
	seq   int
	state State
	user  string

	commands   []PersistenceCommand
	exceptions []error
	actions    []ActionInvocation

	resource  TransactionalResource
	auditor   audit.Auditor      // optional
	publisher *publish.Publisher // optional

	broker   *MessageBroker
	notifier *UpdateNotifier

	startedAt   time.Time
	completedAt time.Time
}

func newTransaction(seq int, user string, resource TransactionalResource, auditor audit.Auditor, publisher *publish.Publisher, broker *MessageBroker, notifier *UpdateNotifier) *Transaction {
	return &Transaction{
		id:        id.New(),
		seq:       seq,
		state:     StateInProgress,
		user:      user,
		resource:  resource,
		auditor:   auditor,
		publisher: publisher,
		broker:    broker,
		notifier:  notifier,
		startedAt: time.Now().UTC(),
	}
}

func (t *Transaction) ID() id.ID                 { return t.id }
func (t *Transaction) Sequence() int             { return t.seq }
func (t *Transaction) State() State              { return t.state }
func (t *Transaction) MessageBroker() *MessageBroker {
	return t.broker
}
func (t *Transaction) UpdateNotifier() *UpdateNotifier {
	return t.notifier
}

// ExceptionsIfAny returns the accumulated exceptions. This list is the single
// source of truth for "did anything go wrong": the manager inspects it after
// every commit phase.
func (t *Transaction) ExceptionsIfAny() []error {
	return t.exceptions
}

func (t *Transaction) recordException(err error) {
	t.exceptions = append(t.exceptions, err)
}

// AddCommand appends a persistence command, coalescing redundant work on the
// same object:
//   - a save for an object with a pending create or save is dropped (the
//     pending command will write current state anyway); a save for an object
//     with a pending destroy is rejected;
//   - a destroy cancels a pending save;
//   - a destroy of an object with a pending create removes both — the object
//     is never persisted at all.
func (t *Transaction) AddCommand(cmd PersistenceCommand) error {
	if t.state.IsComplete() {
		return apperror.NewTransactionDone("cannot add command, transaction " + t.state.String())
	}

	target := cmd.OnAdapter()
	switch cmd.Kind() {
	case KindSave:
		for _, existing := range t.commands {
			if existing.OnAdapter() != target {
				continue
			}
			switch existing.Kind() {
			case KindCreate, KindSave:
				// pending command already writes current state
				return nil
			case KindDestroy:
				return apperror.NewInternal("cannot save " + target.Oid().String() + ", destroy pending")
			}
		}
	case KindDestroy:
		for i, existing := range t.commands {
			if existing.OnAdapter() != target {
				continue
			}
			t.commands = append(t.commands[:i], t.commands[i+1:]...)
			if existing.Kind() == KindCreate {
				// never persisted, nothing to destroy
				return nil
			}
			break
		}
	}

	t.commands = append(t.commands, cmd)
	switch cmd.Kind() {
	case KindDestroy:
		t.notifier.AddDisposedObject(target)
	default:
		t.notifier.AddChangedObject(target)
	}
	return nil
}

// EnqueueAction queues an invoked action for publication at commit.
func (t *Transaction) EnqueueAction(inv ActionInvocation) error {
	if t.state.IsComplete() {
		return apperror.NewTransactionDone("cannot enqueue action, transaction " + t.state.String())
	}
	t.actions = append(t.actions, inv)
	return nil
}

// Flush executes all queued commands in enqueue order against the store. It
// never raises: command failures are recorded for the manager to inspect.
// The queue is drained either way; failed work is not retried, abort follows.
func (t *Transaction) Flush(ctx context.Context) {
	if t.state.IsComplete() {
		return
	}
	commands := t.commands
	t.commands = nil

	for _, cmd := range commands {
		logger.Debug(ctx, "execute command", "kind", cmd.Kind().String(), "oid", cmd.OnAdapter().Oid().String())
		if err := cmd.Execute(ctx, t.resource); err != nil {
			t.recordException(apperror.NewCommandFailed(cmd.OnAdapter().Oid().String(), err))
			return
		}
	}
}

// Commit flushes remaining commands, runs the auditing and publishing hooks,
// ends the physical transaction, and transitions to COMMITTED. The terminal
// state is reached only once every phase is clean: any recorded exception,
// including a physical-end failure, leaves the transaction IN_PROGRESS with
// the physical transaction still open so the manager can downgrade to an
// abort and roll it back.
//
// Calling Commit with exceptions already pending, or from a terminal state,
// is a programming error; the manager checks before calling.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.state.IsComplete() {
		return apperror.NewTransactionDone("cannot commit, transaction " + t.state.String())
	}
	if len(t.exceptions) > 0 {
		return apperror.NewInternal("commit attempted with pending exceptions")
	}

	t.Flush(ctx)

	if len(t.exceptions) == 0 {
		t.doAudit(ctx)
	}
	if len(t.exceptions) == 0 {
		t.doPublish(ctx)
	}
	if len(t.exceptions) == 0 {
		if err := t.resource.EndTransaction(ctx); err != nil {
			t.recordException(apperror.NewStore("end physical transaction", err))
		}
	}
	if len(t.exceptions) > 0 {
		return nil
	}

	t.state = StateCommitted
	t.completedAt = time.Now().UTC()
	return nil
}

func (t *Transaction) doAudit(ctx context.Context) {
	if t.auditor == nil {
		return
	}
	now := time.Now().UTC()
	for _, a := range t.notifier.ChangedObjects() {
		changes, err := a.ChangedAttributes()
		if err != nil {
			t.recordException(err)
			return
		}
		entry := audit.Entry{
			User:    t.user,
			Oid:     a.Oid().String(),
			Class:   a.Oid().Class,
			Changes: changes,
			At:      now,
		}
		if err := t.auditor.ObjectChanged(ctx, entry); err != nil {
			t.recordException(apperror.NewStore("audit object change", err))
			return
		}
	}
}

func (t *Transaction) doPublish(ctx context.Context) {
	if t.publisher == nil {
		return
	}
	for _, a := range t.notifier.ChangedObjects() {
		if err := t.publisher.PublishChangedObject(ctx, a.Oid().String()); err != nil {
			t.recordException(apperror.NewStore("publish changed object", err))
			return
		}
	}
	for _, a := range t.notifier.DisposedObjects() {
		if err := t.publisher.PublishChangedObject(ctx, a.Oid().String()); err != nil {
			t.recordException(apperror.NewStore("publish disposed object", err))
			return
		}
	}
	for _, inv := range t.actions {
		if err := t.publisher.PublishAction(ctx, inv.Target, inv.Identifier, inv.Args, inv.Result); err != nil {
			t.recordException(apperror.NewStore("publish action", err))
			return
		}
	}
}

// Abort transitions to ABORTED. Queued commands are discarded, never
// executed. Aborting an already-aborted transaction is a no-op; aborting a
// committed one is a programming error.
func (t *Transaction) Abort() error {
	switch t.state {
	case StateAborted:
		return nil
	case StateCommitted:
		return apperror.NewTransactionDone("cannot abort, transaction COMMITTED")
	}
	t.commands = nil
	t.state = StateAborted
	t.completedAt = time.Now().UTC()
	return nil
}
