package tx

import "context"

// TransactionalResource abstracts the physical data store: it can begin, end
// and abort a physical transaction, and executes queued persistence commands
// through its CommandContext during flush.
//
// Implementations may raise errors lazily — at flush, at end, or not at all —
// so the manager re-checks the transaction's exception list after every
// phase rather than trusting any single call.
type TransactionalResource interface {
	CommandContext

	StartTransaction(ctx context.Context) error
	EndTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
}

// EnlistedObjectDirtying discovers objects mutated during the unit of work
// and enqueues their persistence commands via the supplied adder. The
// manager invokes it before commit and on explicit flush.
type EnlistedObjectDirtying interface {
	ObjectChangedAllDirty(ctx context.Context, adder CommandAdder) error
}

// Session is the manager's view of its owning session.
type Session interface {
	SessionID() string
	User() string
}
