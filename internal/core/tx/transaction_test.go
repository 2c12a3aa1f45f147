package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praxis/internal/core/apperror"
	"praxis/internal/core/audit"
	"praxis/internal/core/object"
	"praxis/internal/core/publish"
)

type captureAuditor struct {
	entries []audit.Entry
	err     error
}

func (c *captureAuditor) ObjectChanged(ctx context.Context, e audit.Entry) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, e)
	return nil
}

type captureService struct {
	events []publish.CanonicalEvent
	err    error
}

func (c *captureService) Publish(ctx context.Context, ev publish.CanonicalEvent) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

func newTestTransaction(store *fakeStore, auditor audit.Auditor, publisher *publish.Publisher) *Transaction {
	return newTransaction(0, "tester", store, auditor, publisher, NewMessageBroker(), NewUpdateNotifier())
}

func TestTransactionStateMachine(t *testing.T) {
	store := &fakeStore{}
	ctx := context.Background()

	t.Run("commit is terminal", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		assert.Equal(t, StateInProgress, tr.State())
		require.NoError(t, tr.Commit(ctx))
		assert.Equal(t, StateCommitted, tr.State())

		require.Error(t, tr.Commit(ctx))
		require.Error(t, tr.Abort())
		require.Error(t, tr.AddCommand(NewCreateCommand(object.NewAdapter("Invoice", &testDoc{}))))
	})

	t.Run("abort is terminal but repeatable", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		require.NoError(t, tr.Abort())
		assert.Equal(t, StateAborted, tr.State())

		require.NoError(t, tr.Abort(), "repeated abort is a no-op")
		require.Error(t, tr.Commit(ctx))
	})
}

func TestAddCommandCoalescing(t *testing.T) {
	store := &fakeStore{}

	t.Run("save after create is dropped", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.NewAdapter("Invoice", &testDoc{Name: "a"})
		require.NoError(t, tr.AddCommand(NewCreateCommand(a)))
		require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
		assert.Len(t, tr.commands, 1)
		assert.Equal(t, KindCreate, tr.commands[0].Kind())
	})

	t.Run("save after save is dropped", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
		require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
		require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
		assert.Len(t, tr.commands, 1)
	})

	t.Run("destroy cancels pending save", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
		require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
		require.NoError(t, tr.AddCommand(NewDestroyCommand(a)))
		require.Len(t, tr.commands, 1)
		assert.Equal(t, KindDestroy, tr.commands[0].Kind())
	})

	t.Run("save after destroy is rejected", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
		require.NoError(t, tr.AddCommand(NewDestroyCommand(a)))

		err := tr.AddCommand(NewSaveCommand(a))
		require.Error(t, err)
		require.Len(t, tr.commands, 1)
		assert.Equal(t, KindDestroy, tr.commands[0].Kind())
	})

	t.Run("destroy after create removes both", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.NewAdapter("Invoice", &testDoc{})
		require.NoError(t, tr.AddCommand(NewCreateCommand(a)))
		require.NoError(t, tr.AddCommand(NewDestroyCommand(a)))
		assert.Empty(t, tr.commands, "never-persisted object needs no store work")
	})

	t.Run("distinct objects never coalesce", func(t *testing.T) {
		tr := newTestTransaction(store, nil, nil)
		a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
		b := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000b"), &testDoc{}, 1)
		require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
		require.NoError(t, tr.AddCommand(NewSaveCommand(b)))
		assert.Len(t, tr.commands, 2)
	})
}

func TestFlushExecutesInOrder(t *testing.T) {
	store := &fakeStore{}
	tr := newTestTransaction(store, nil, nil)
	ctx := context.Background()

	created := object.NewAdapter("Invoice", &testDoc{Name: "new"})
	saved := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{Name: "old"}, 1)

	require.NoError(t, tr.AddCommand(NewCreateCommand(created)))
	require.NoError(t, tr.AddCommand(NewSaveCommand(saved)))

	tr.Flush(ctx)
	require.Empty(t, tr.ExceptionsIfAny())
	require.Len(t, store.inserted, 1)
	require.Len(t, store.updated, 1)

	assert.Equal(t, object.StatePersistent, created.State())
	assert.False(t, created.Oid().IsTransient())
	assert.Equal(t, 2, saved.Version())
}

func TestFlushRecordsCommandFailure(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("duplicate key")}
	tr := newTestTransaction(store, nil, nil)
	ctx := context.Background()

	a := object.NewAdapter("Invoice", &testDoc{})
	require.NoError(t, tr.AddCommand(NewCreateCommand(a)))

	tr.Flush(ctx)
	exceptions := tr.ExceptionsIfAny()
	require.Len(t, exceptions, 1)
	assert.True(t, apperror.Is(exceptions[0], apperror.CodeCommandFailed))
	assert.Contains(t, exceptions[0].Error(), "duplicate key")
	assert.Equal(t, StateInProgress, tr.State(), "manager decides the abort, not the flush")
}

func TestCommitPhysicalEndFailureStaysInProgress(t *testing.T) {
	store := &fakeStore{endErr: errors.New("disk full")}
	tr := newTestTransaction(store, nil, nil)

	require.NoError(t, tr.Commit(context.Background()))
	assert.Equal(t, StateInProgress, tr.State(), "terminal state needs a clean physical end")
	require.Len(t, tr.ExceptionsIfAny(), 1)
	assert.Contains(t, tr.ExceptionsIfAny()[0].Error(), "disk full")

	require.NoError(t, tr.Abort(), "stays abortable so the physical transaction can roll back")
}

func TestCommitEndsPhysicalTransaction(t *testing.T) {
	store := &fakeStore{}
	tr := newTestTransaction(store, nil, nil)

	require.NoError(t, tr.Commit(context.Background()))
	assert.Equal(t, StateCommitted, tr.State())
	assert.Equal(t, 1, store.ends)
}

func TestCommitRefusesWithPendingExceptions(t *testing.T) {
	store := &fakeStore{}
	tr := newTestTransaction(store, nil, nil)

	tr.recordException(errors.New("earlier failure"))
	err := tr.Commit(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateInProgress, tr.State())
}

func TestCommitAudits(t *testing.T) {
	store := &fakeStore{}
	auditor := &captureAuditor{}
	tr := newTestTransaction(store, auditor, nil)
	ctx := context.Background()

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{Name: "before", Amount: 1}, 1)
	a.MarkDirty()
	a.Object().(*testDoc).Amount = 2

	require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
	require.NoError(t, tr.Commit(ctx))

	require.Len(t, auditor.entries, 1)
	entry := auditor.entries[0]
	assert.Equal(t, "tester", entry.User)
	assert.Equal(t, a.Oid().String(), entry.Oid)
	assert.Equal(t, "Invoice", entry.Class)
	assert.Contains(t, entry.Changes, "amount")
	assert.NotContains(t, entry.Changes, "name", "unchanged attributes stay out of the diff")
}

func TestCommitAuditFailureBlocksCommit(t *testing.T) {
	store := &fakeStore{}
	auditor := &captureAuditor{err: errors.New("audit store down")}
	tr := newTestTransaction(store, auditor, nil)

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
	a.MarkDirty()
	require.NoError(t, tr.AddCommand(NewSaveCommand(a)))

	require.NoError(t, tr.Commit(context.Background()))
	assert.Equal(t, StateInProgress, tr.State())
	assert.NotEmpty(t, tr.ExceptionsIfAny())
}

func TestCommitPublishesChangesAndActions(t *testing.T) {
	store := &fakeStore{}
	svc := &captureService{}
	publisher := publish.NewPublisher(svc, publish.Options{})
	tr := newTestTransaction(store, nil, publisher)
	ctx := context.Background()

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
	require.NoError(t, tr.AddCommand(NewSaveCommand(a)))
	require.NoError(t, tr.EnqueueAction(ActionInvocation{
		Target:     a.Oid().String(),
		Identifier: "Invoice#approve()",
		Args:       []string{"true"},
		Result:     "",
	}))

	require.NoError(t, tr.Commit(ctx))
	assert.Equal(t, StateCommitted, tr.State())

	require.Len(t, svc.events, 2)
	assert.Equal(t, publish.KindChangedObject, svc.events[0].Kind)
	assert.Equal(t, a.Oid().String(), svc.events[0].Oid)
	assert.Equal(t, publish.KindAction, svc.events[1].Kind)
	assert.Equal(t, "Invoice#approve()", svc.events[1].Identifier)
}

func TestCommitPublishFailureBlocksCommit(t *testing.T) {
	store := &fakeStore{}
	svc := &captureService{err: errors.New("broker unreachable")}
	publisher := publish.NewPublisher(svc, publish.Options{})
	tr := newTestTransaction(store, nil, publisher)

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{}, 1)
	require.NoError(t, tr.AddCommand(NewSaveCommand(a)))

	require.NoError(t, tr.Commit(context.Background()))
	assert.Equal(t, StateInProgress, tr.State())
	assert.NotEmpty(t, tr.ExceptionsIfAny())
}

func TestAbortDiscardsCommands(t *testing.T) {
	store := &fakeStore{}
	tr := newTestTransaction(store, nil, nil)

	a := object.NewAdapter("Invoice", &testDoc{})
	require.NoError(t, tr.AddCommand(NewCreateCommand(a)))
	require.NoError(t, tr.Abort())

	tr.Flush(context.Background())
	assert.Empty(t, store.inserted, "aborted work must never reach the store")
}

func TestMessageBrokerDrains(t *testing.T) {
	b := NewMessageBroker()
	b.AddMessage("posted")
	b.AddWarning("stock low")

	assert.Equal(t, []string{"posted"}, b.Messages())
	assert.Empty(t, b.Messages(), "reading drains the queue")
	assert.Equal(t, []string{"stock low"}, b.Warnings())
}

func TestUpdateNotifierDeduplicates(t *testing.T) {
	n := NewUpdateNotifier()
	a := object.NewAdapter("Invoice", &testDoc{})

	n.AddChangedObject(a)
	n.AddChangedObject(a)
	assert.Len(t, n.ChangedObjects(), 1)

	n.AddDisposedObject(a)
	assert.Len(t, n.DisposedObjects(), 1)
}
