package session

import (
	"context"
	"sync"

	"praxis/internal/core/apperror"
	"praxis/internal/core/security"
	"praxis/internal/core/tx"
)

// ReplacePolicy governs whether an installed ambient context may be
// superseded by a new one. Tests need replacement to reset global state;
// production forbids accidental replacement.
type ReplacePolicy int

const (
	NotReplaceable ReplacePolicy = iota
	Replaceable
)

// ClosePolicy governs opening a session while one is already open: stricter
// environments raise, some viewers silently close the old session first.
type ClosePolicy int

const (
	ExplicitClose ClosePolicy = iota
	AutoClose
)

// Context is the ambient session registry: a process-wide holder for the
// zero-or-one active session, installed as a guarded singleton. It is shared
// mutable state and demands lifecycle discipline: open before use, close
// exactly once, never use after close.
type Context struct {
	factory *Factory
	replace ReplacePolicy
	close   ClosePolicy

	mu      sync.Mutex
	current *Session
}

var (
	instanceMu sync.Mutex
	instance   *Context
)

// NewContext installs a new ambient context. Fails if one is already
// installed and it is not replaceable.
func NewContext(factory *Factory, replace ReplacePolicy, close ClosePolicy) (*Context, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil && instance.replace != Replaceable {
		return nil, &apperror.AppError{
			Code:    apperror.CodeContextInstalled,
			Message: "ambient context already set up and cannot be replaced",
		}
	}
	instance = &Context{factory: factory, replace: replace, close: close}
	return instance, nil
}

// Instance returns the installed ambient context.
func Instance() (*Context, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return nil, &apperror.AppError{
			Code:    apperror.CodeNoContext,
			Message: "no ambient context installed",
		}
	}
	return instance, nil
}

// Reset uninstalls the ambient context so another can be created. Test use
// only.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// Replaceable reports the installed replace policy.
func (c *Context) Replaceable() bool { return c.replace == Replaceable }

// AutoCloseable reports the installed close policy.
func (c *Context) AutoCloseable() bool { return c.close == AutoClose }

// OpenSession opens a new session and binds it as current. If a session is
// already open: with AutoClose the old one is closed first, otherwise this
// fails.
func (c *Context) OpenSession(ctx context.Context, auth *security.AuthenticationSession) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if c.close != AutoClose {
			return nil, apperror.NewSessionOpen("session already open and context not configured for autoclose")
		}
		c.current.Close(ctx)
		c.current = nil
	}

	s, err := c.factory.OpenSession(ctx, auth)
	if err != nil {
		return nil, err
	}
	c.current = s
	return s, nil
}

// CloseSession closes the current session. No-op when nothing is open.
func (c *Context) CloseSession(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.current.Close(ctx)
	c.current = nil
}

// InSession reports whether a session is currently open.
func (c *Context) InSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Session returns the current session. Fails with a descriptive error when
// none is open: callers must never need to nil-check ambient lookups.
func (c *Context) Session() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, apperror.NewNoSession("no session opened for this context")
	}
	return c.current, nil
}

// TransactionManager returns the current session's transaction manager.
func (c *Context) TransactionManager() (*tx.Manager, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	return s.TransactionManager(), nil
}

// CurrentTransaction returns the current session's current transaction.
// Fails when no session is open or no transaction was ever started.
func (c *Context) CurrentTransaction() (*tx.Transaction, error) {
	s, err := c.Session()
	if err != nil {
		return nil, err
	}
	t := s.CurrentTransaction()
	if t == nil {
		return nil, apperror.NewNoTransaction("no current transaction")
	}
	return t, nil
}

// InTransaction reports whether a session is open with a transaction in
// progress.
func (c *Context) InTransaction() bool {
	s, err := c.Session()
	if err != nil {
		return false
	}
	return s.TransactionManager().InTransaction()
}

// ----------------------------------------------------------------------
// Static convenience accessors over the installed context
// ----------------------------------------------------------------------

// OpenSession opens a session on the installed ambient context.
func OpenSession(ctx context.Context, auth *security.AuthenticationSession) (*Session, error) {
	c, err := Instance()
	if err != nil {
		return nil, err
	}
	return c.OpenSession(ctx, auth)
}

// CloseSession closes the current session of the installed context, if any.
func CloseSession(ctx context.Context) {
	c, err := Instance()
	if err != nil {
		return
	}
	c.CloseSession(ctx)
}

// Current returns the current session of the installed context.
func Current() (*Session, error) {
	c, err := Instance()
	if err != nil {
		return nil, err
	}
	return c.Session()
}

// TransactionManager returns the current session's manager via the installed
// context.
func TransactionManager() (*tx.Manager, error) {
	c, err := Instance()
	if err != nil {
		return nil, err
	}
	return c.TransactionManager()
}

// CurrentTransaction returns the current transaction via the installed
// context.
func CurrentTransaction() (*tx.Transaction, error) {
	c, err := Instance()
	if err != nil {
		return nil, err
	}
	return c.CurrentTransaction()
}

// InSession reports whether the installed context has an open session.
func InSession() bool {
	c, err := Instance()
	if err != nil {
		return false
	}
	return c.InSession()
}

// InTransaction reports whether the installed context has a transaction in
// progress.
func InTransaction() bool {
	c, err := Instance()
	if err != nil {
		return false
	}
	return c.InTransaction()
}
