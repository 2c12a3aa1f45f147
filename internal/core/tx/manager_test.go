package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"praxis/internal/core/apperror"
	"praxis/internal/core/object"
)

// Mock objects

type fakeStore struct {
	starts int
	ends   int
	aborts int

	startErr error
	endErr   error
	abortErr error

	insertErr error
	updateErr error
	deleteErr error

	inserted []string
	updated  []string
	deleted  []string
}

func (s *fakeStore) StartTransaction(ctx context.Context) error {
	s.starts++
	return s.startErr
}

func (s *fakeStore) EndTransaction(ctx context.Context) error {
	s.ends++
	return s.endErr
}

func (s *fakeStore) AbortTransaction(ctx context.Context) error {
	s.aborts++
	return s.abortErr
}

func (s *fakeStore) InsertObject(ctx context.Context, a *object.Adapter) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, a.Oid().String())
	return nil
}

func (s *fakeStore) UpdateObject(ctx context.Context, a *object.Adapter) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = append(s.updated, a.Oid().String())
	return nil
}

func (s *fakeStore) DeleteObject(ctx context.Context, a *object.Adapter) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, a.Oid().String())
	return nil
}

type fakeSession struct{}

func (fakeSession) SessionID() string { return "test-session" }
func (fakeSession) User() string      { return "tester" }

func newTestManager(store *fakeStore) (*Manager, *Persistor) {
	persistor := NewPersistor()
	m := NewManager(store, persistor, Options{})
	m.SetSession(fakeSession{})
	persistor.Bind(m)
	return m, persistor
}

type testDoc struct {
	Name   string `json:"name"`
	Amount int    `json:"amount"`
}

func mustOid(t *testing.T, s string) object.Oid {
	t.Helper()
	oid, err := object.ParseOid(s)
	require.NoError(t, err)
	return oid
}

func TestStartEndCommitsOnce(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.EndTransaction(ctx))

	assert.Equal(t, 1, store.starts)
	assert.Equal(t, 1, store.ends)
	assert.Equal(t, 0, store.aborts)
	assert.Equal(t, StateCommitted, m.Transaction().State())
	assert.Equal(t, 0, m.TransactionLevel())
}

func TestNestedStartEndSinglePhysical(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.StartTransaction(ctx))
	assert.Equal(t, 3, m.TransactionLevel())
	assert.Equal(t, 1, store.starts)

	require.NoError(t, m.EndTransaction(ctx))
	require.NoError(t, m.EndTransaction(ctx))
	assert.Equal(t, 0, store.ends, "inner ends must not commit")
	assert.True(t, m.InTransaction())

	require.NoError(t, m.EndTransaction(ctx))
	assert.Equal(t, 1, store.ends)
	assert.False(t, m.InTransaction())
}

func TestInTransactionTracksState(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	assert.False(t, m.InTransaction())
	require.NoError(t, m.StartTransaction(ctx))
	assert.True(t, m.InTransaction())
	require.NoError(t, m.EndTransaction(ctx))
	assert.False(t, m.InTransaction())

	// completed transaction stays observable
	assert.NotNil(t, m.Transaction())
}

func TestEndWithoutStart(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	err := m.EndTransaction(ctx)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeTransactionNesting))
	assert.Equal(t, 0, m.TransactionLevel())

	// manager remains usable
	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.EndTransaction(ctx))
	assert.Equal(t, 1, store.ends)
}

func TestSequentialTransactionsGetFreshEntities(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	first := m.Transaction()
	require.NoError(t, m.EndTransaction(ctx))

	require.NoError(t, m.StartTransaction(ctx))
	second := m.Transaction()
	require.NoError(t, m.EndTransaction(ctx))

	assert.NotSame(t, first, second)
	assert.Equal(t, 0, first.Sequence())
	assert.Equal(t, 1, second.Sequence())
	assert.Equal(t, 2, store.starts)
	assert.Equal(t, 2, store.ends)
}

func TestPhysicalStartFailure(t *testing.T) {
	store := &fakeStore{startErr: errors.New("connection refused")}
	m, _ := newTestManager(store)
	ctx := context.Background()

	err := m.StartTransaction(ctx)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeStore))
	assert.Equal(t, StateAborted, m.Transaction().State())
}

func TestPhysicalEndFailureAborts(t *testing.T) {
	store := &fakeStore{endErr: errors.New("disk full")}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	err := m.EndTransaction(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, StateAborted, m.Transaction().State())
	assert.Equal(t, 1, store.aborts)
}

func TestDirtyFlushOrderOnCommit(t *testing.T) {
	store := &fakeStore{}
	m, persistor := newTestManager(store)
	ctx := context.Background()

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{Name: "a"}, 1)
	b := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000b"), &testDoc{Name: "b"}, 1)
	persistor.Enlist(a)
	persistor.Enlist(b)

	require.NoError(t, m.StartTransaction(ctx))
	a.MarkDirty()
	b.MarkDirty()
	require.NoError(t, m.EndTransaction(ctx))

	require.Len(t, store.updated, 2)
	assert.Equal(t, a.Oid().String(), store.updated[0])
	assert.Equal(t, b.Oid().String(), store.updated[1])
	assert.False(t, a.IsDirty())
	assert.Equal(t, 2, a.Version())
}

func TestFlushFailureAbortsWithCause(t *testing.T) {
	store := &fakeStore{updateErr: errors.New("version conflict")}
	m, persistor := newTestManager(store)
	ctx := context.Background()

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{Name: "a"}, 1)
	persistor.Enlist(a)

	require.NoError(t, m.StartTransaction(ctx))
	a.MarkDirty()

	err := m.EndTransaction(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version conflict")
	assert.Equal(t, StateAborted, m.Transaction().State())
	assert.Equal(t, 1, store.aborts)
	assert.Equal(t, 0, store.ends, "failed commit must not end the physical transaction")
}

func TestExplicitFlushKeepsTransactionOpen(t *testing.T) {
	store := &fakeStore{}
	m, persistor := newTestManager(store)
	ctx := context.Background()

	a := object.RecreateAdapter(mustOid(t, "Invoice:018f4a00-0000-7000-8000-00000000000a"), &testDoc{Name: "a"}, 1)
	persistor.Enlist(a)

	require.NoError(t, m.StartTransaction(ctx))
	a.MarkDirty()

	flushed, err := m.FlushTransaction(ctx)
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Len(t, store.updated, 1)
	assert.True(t, m.InTransaction())

	require.NoError(t, m.EndTransaction(ctx))
	assert.Len(t, store.updated, 1, "flushed work must not run twice")
}

func TestAbortTransaction(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.AbortTransaction(ctx))
	assert.Equal(t, StateAborted, m.Transaction().State())
	assert.Equal(t, 1, store.aborts)
	assert.Equal(t, 0, m.TransactionLevel())

	// second abort is a no-op
	require.NoError(t, m.AbortTransaction(ctx))
	assert.Equal(t, 1, store.aborts)
}

func TestAbortAfterCommitIsNoop(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	require.NoError(t, m.EndTransaction(ctx))

	require.NoError(t, m.AbortTransaction(ctx))
	assert.Equal(t, 0, store.aborts)
	assert.Equal(t, StateCommitted, m.Transaction().State())
}

func TestAbortWithoutTransaction(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	require.NoError(t, m.AbortTransaction(context.Background()))
	assert.Equal(t, 0, store.aborts)
}

func TestAddCommandRequiresTransaction(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	a := object.NewAdapter("Invoice", &testDoc{Name: "a"})
	err := m.AddCommand(NewCreateCommand(a))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeNoTransaction))
}

func TestCloseAbortsOpenTransaction(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	m.Close(ctx)
	assert.Equal(t, StateAborted, m.Transaction().State())
	assert.Equal(t, 1, store.aborts)
}

func TestCloseSwallowsAbortFailure(t *testing.T) {
	store := &fakeStore{abortErr: errors.New("store gone")}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	m.Close(ctx) // must not panic or propagate
	assert.Equal(t, 1, store.aborts)
}

func TestConsolidateSingleCauseVerbatim(t *testing.T) {
	cause := errors.New("the one failure")
	err := consolidate([]error{cause})
	assert.Same(t, cause, err)
}

func TestConsolidateMultipleCauses(t *testing.T) {
	first := errors.New("first failure")
	second := errors.New("second failure")
	err := consolidate([]error{first, second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first failure")
	assert.Contains(t, err.Error(), "second failure")
	assert.True(t, errors.Is(err, first))
	assert.True(t, errors.Is(err, second))
}

func TestExecuteWithinTransactionCommits(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	ran := false
	successRan := false
	err := m.ExecuteWithinTransaction(context.Background(), Work{
		Execute: func(ctx context.Context) error {
			ran = true
			assert.True(t, m.InTransaction())
			return nil
		},
		OnSuccess: func(ctx context.Context) { successRan = true },
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, successRan)
	assert.Equal(t, 1, store.ends)
	assert.False(t, m.InTransaction())
}

func TestExecuteWithinTransactionPropagatesError(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	boom := errors.New("domain rule violated")
	failureRan := false
	err := m.ExecuteWithinTransaction(context.Background(), Work{
		Execute:   func(ctx context.Context) error { return boom },
		OnFailure: func(ctx context.Context) { failureRan = true },
	})
	assert.Same(t, boom, err)
	assert.True(t, failureRan)
	assert.Equal(t, 1, store.aborts)
	assert.Equal(t, 0, store.ends)
}

func TestExecuteWithinTransactionPreFailureSkipsExecute(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	preErr := errors.New("precondition failed")
	executed := false
	err := m.ExecuteWithinTransaction(context.Background(), Work{
		Pre:     func(ctx context.Context) error { return preErr },
		Execute: func(ctx context.Context) error { executed = true; return nil },
	})
	assert.Same(t, preErr, err)
	assert.False(t, executed)
	assert.Equal(t, 1, store.aborts)
}

func TestExecuteWithinTransactionAbortFailureWrapsOriginal(t *testing.T) {
	store := &fakeStore{abortErr: errors.New("rollback failed")}
	m, _ := newTestManager(store)

	boom := errors.New("domain rule violated")
	err := m.ExecuteWithinTransaction(context.Background(), Work{
		Execute: func(ctx context.Context) error { return boom },
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeAbortFailed))
	assert.True(t, errors.Is(err, boom), "original error must stay reachable")
	assert.Contains(t, err.Error(), "rollback failed")
}

func TestExecuteWithinTransactionJoinsExisting(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	outer := m.Transaction()

	err := m.ExecuteWithinTransaction(ctx, Work{
		Execute: func(ctx context.Context) error {
			assert.Same(t, outer, m.Transaction())
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.starts, "joined work must not open another physical transaction")
	assert.Equal(t, 0, store.ends, "joined work must leave commit to the outer caller")
	assert.True(t, m.InTransaction())

	require.NoError(t, m.EndTransaction(ctx))
}

func TestExecuteWithinTransactionJoinedFailureLeavesOuterOpen(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)
	ctx := context.Background()

	require.NoError(t, m.StartTransaction(ctx))
	boom := errors.New("inner failure")
	err := m.ExecuteWithinTransaction(ctx, Work{
		Execute: func(ctx context.Context) error { return boom },
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 0, store.aborts, "joined work must not abort the outer transaction")
	assert.True(t, m.InTransaction())

	require.NoError(t, m.AbortTransaction(ctx))
}

func TestExecuteReturning(t *testing.T) {
	store := &fakeStore{}
	m, _ := newTestManager(store)

	got, err := ExecuteReturning(context.Background(), m, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, store.ends)

	boom := errors.New("no result")
	_, err = ExecuteReturning(context.Background(), m, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	assert.Same(t, boom, err)
}

func TestOpenRequiresSession(t *testing.T) {
	m := NewManager(&fakeStore{}, NewPersistor(), Options{})
	require.Error(t, m.Open())

	m.SetSession(fakeSession{})
	require.NoError(t, m.Open())
}
