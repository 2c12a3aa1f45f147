// Package session provides the runtime session and the ambient context that
// gives static-style access to "the current session / transaction /
// transaction manager" without explicit parameter threading.
package session

import (
	"context"

	"praxis/internal/core/id"
	"praxis/internal/core/security"
	"praxis/internal/core/tx"
	"praxis/pkg/logger"
)

// Session is one logical user interaction with the runtime: an
// authentication session plus a transaction manager over an object store.
// Open before use, close exactly once, never use after close.
type Session struct {
	id      id.ID
	auth    *security.AuthenticationSession
	manager *tx.Manager
	store   tx.TransactionalResource

	persistor *tx.Persistor
	closed    bool
	log       *logger.Logger
}

// ID returns the session identifier.
func (s *Session) ID() id.ID { return s.id }

// SessionID implements tx.Session.
func (s *Session) SessionID() string { return s.id.String() }

// User implements tx.Session: the acting user's id.
func (s *Session) User() string {
	if s.auth == nil {
		return ""
	}
	return s.auth.UserID
}

// AuthenticationSession returns the authentication this session acts under.
func (s *Session) AuthenticationSession() *security.AuthenticationSession {
	return s.auth
}

// TransactionManager returns the session's transaction manager.
func (s *Session) TransactionManager() *tx.Manager {
	return s.manager
}

// Persistor returns the session's object persistor.
func (s *Session) Persistor() *tx.Persistor {
	return s.persistor
}

// Store returns the session's object store.
func (s *Session) Store() tx.TransactionalResource {
	return s.store
}

// CurrentTransaction returns the current or most recently completed
// transaction, or nil if none was started.
func (s *Session) CurrentTransaction() *tx.Transaction {
	return s.manager.Transaction()
}

func (s *Session) open() error {
	s.manager.SetSession(s)
	return s.manager.Open()
}

// Close shuts the session down, aborting any still-open transaction.
// Idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	s.manager.Close(ctx)
	s.log.Debugw("session closed", "session_id", id.Short(s.id))
}

// Closed reports whether Close ran.
func (s *Session) Closed() bool { return s.closed }
