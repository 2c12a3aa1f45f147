package tx

import (
	"context"
	"sort"
	"sync"

	"praxis/internal/core/apperror"
	"praxis/internal/core/object"
	"praxis/pkg/logger"
)

// Persistor tracks the adapters enlisted in a session and turns their dirty
// state into persistence commands. It implements EnlistedObjectDirtying for
// the manager's dirty-flush, and exposes the explicit persistence verbs
// application code calls.
//
// Commands are always enqueued with the internal mutex released, so the
// adder's own lock (the Manager's, for the explicit verbs) never nests
// inside it.
type Persistor struct {
	mu       sync.Mutex
	enlisted map[string]*object.Adapter
	adder    CommandAdder
}

// NewPersistor returns an empty persistor. Bind must be called before the
// explicit verbs are used.
func NewPersistor() *Persistor {
	return &Persistor{enlisted: make(map[string]*object.Adapter)}
}

// Bind attaches the command sink, normally the session's Manager.
func (p *Persistor) Bind(adder CommandAdder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adder = adder
}

func (p *Persistor) boundAdder() (CommandAdder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.adder == nil {
		return nil, apperror.NewInternal("persistor not bound to a transaction manager")
	}
	return p.adder, nil
}

// Enlist registers an adapter so dirty-flush discovers it.
func (p *Persistor) Enlist(a *object.Adapter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enlisted[a.Oid().ID.String()] = a
}

// MakePersistent enqueues the create command for a transient object and
// enlists it.
func (p *Persistor) MakePersistent(a *object.Adapter) error {
	adder, err := p.boundAdder()
	if err != nil {
		return err
	}
	if a.State() != object.StateTransient {
		return apperror.NewInternal("object already persistent: " + a.Oid().String())
	}
	if err := adder.AddCommand(NewCreateCommand(a)); err != nil {
		return err
	}
	p.Enlist(a)
	return nil
}

// Destroy enqueues the destroy command for an object.
func (p *Persistor) Destroy(a *object.Adapter) error {
	adder, err := p.boundAdder()
	if err != nil {
		return err
	}
	if err := adder.AddCommand(NewDestroyCommand(a)); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.enlisted, a.Oid().ID.String())
	p.mu.Unlock()
	return nil
}

// ObjectChangedAllDirty enqueues a command for every enlisted dirty adapter:
// create for still-transient objects, save otherwise. Oid order keeps the
// command sequence deterministic.
func (p *Persistor) ObjectChangedAllDirty(ctx context.Context, adder CommandAdder) error {
	p.mu.Lock()
	oids := make([]string, 0, len(p.enlisted))
	for oid := range p.enlisted {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	adapters := make([]*object.Adapter, 0, len(oids))
	for _, oid := range oids {
		adapters = append(adapters, p.enlisted[oid])
	}
	p.mu.Unlock()

	for _, a := range adapters {
		if !a.IsDirty() || a.State() == object.StateDestroyed {
			continue
		}
		var cmd PersistenceCommand
		if a.State() == object.StateTransient {
			cmd = NewCreateCommand(a)
		} else {
			cmd = NewSaveCommand(a)
		}
		logger.Debug(ctx, "enqueue dirty object", "kind", cmd.Kind().String(), "oid", a.Oid().String())
		if err := adder.AddCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}
