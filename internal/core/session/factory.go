package session

import (
	"context"

	"praxis/internal/core/audit"
	"praxis/internal/core/id"
	"praxis/internal/core/publish"
	"praxis/internal/core/security"
	"praxis/internal/core/tx"
	"praxis/pkg/logger"
)

// StoreProvider hands out the object store a new session will run against.
// Stores holding one physical transaction at a time should return a fresh
// instance per call; stores safe for reuse may return a shared one.
type StoreProvider func(ctx context.Context) (tx.TransactionalResource, error)

// Factory builds sessions, wiring the store, persistor, and the optional
// auditing and publishing collaborators into each one.
type Factory struct {
	Stores    StoreProvider
	Auditor   audit.Auditor      // optional
	Publisher *publish.Publisher // optional
	Logger    *logger.Logger
}

// OpenSession authenticates nothing itself: callers pass an already-minted
// authentication session. The returned session is open and ready.
func (f *Factory) OpenSession(ctx context.Context, auth *security.AuthenticationSession) (*Session, error) {
	store, err := f.Stores(ctx)
	if err != nil {
		return nil, err
	}

	log := f.Logger
	if log == nil {
		log = logger.Default()
	}

	persistor := tx.NewPersistor()
	manager := tx.NewManager(store, persistor, tx.Options{
		Auditor:   f.Auditor,
		Publisher: f.Publisher,
		Logger:    log,
	})
	persistor.Bind(manager)

	s := &Session{
		id:        id.New(),
		auth:      auth,
		manager:   manager,
		store:     store,
		persistor: persistor,
		log:       log.WithComponent("session"),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	s.log.Debugw("session opened", "session_id", id.Short(s.id), "user", s.User())
	return s, nil
}
