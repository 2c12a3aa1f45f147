// Package tx implements the unit-of-work transaction core: a transaction
// entity with a deferred persistence-command queue and an
// IN_PROGRESS → COMMITTED | ABORTED state machine, and a session-scoped
// manager collapsing re-entrant start/end calls onto one physical
// transaction against a pluggable object store.
package tx

import (
	"context"
	"fmt"

	"praxis/internal/core/object"
)

// Kind classifies persistence commands.
type Kind int

const (
	KindCreate Kind = iota
	KindSave
	KindDestroy
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindSave:
		return "save"
	case KindDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CommandContext is the store-side execution surface handed to commands at
// flush. Implemented by every object store.
type CommandContext interface {
	InsertObject(ctx context.Context, a *object.Adapter) error
	UpdateObject(ctx context.Context, a *object.Adapter) error
	DeleteObject(ctx context.Context, a *object.Adapter) error
}

// PersistenceCommand is one deferred mutation against one domain object.
// Owned by the enqueuing transaction until flush, when it executes against
// the store's command context.
type PersistenceCommand interface {
	Kind() Kind
	OnAdapter() *object.Adapter
	Execute(ctx context.Context, store CommandContext) error
}

// CommandAdder accepts persistence commands; implemented by Transaction and,
// with locking, by Manager.
type CommandAdder interface {
	AddCommand(cmd PersistenceCommand) error
}

type createCommand struct{ adapter *object.Adapter }
type saveCommand struct{ adapter *object.Adapter }
type destroyCommand struct{ adapter *object.Adapter }

// NewCreateCommand persists a transient object for the first time.
func NewCreateCommand(a *object.Adapter) PersistenceCommand {
	return &createCommand{adapter: a}
}

// NewSaveCommand writes the current state of a persistent object.
func NewSaveCommand(a *object.Adapter) PersistenceCommand {
	return &saveCommand{adapter: a}
}

// NewDestroyCommand deletes a persistent object.
func NewDestroyCommand(a *object.Adapter) PersistenceCommand {
	return &destroyCommand{adapter: a}
}

func (c *createCommand) Kind() Kind                 { return KindCreate }
func (c *createCommand) OnAdapter() *object.Adapter { return c.adapter }

func (c *createCommand) Execute(ctx context.Context, store CommandContext) error {
	if err := store.InsertObject(ctx, c.adapter); err != nil {
		return err
	}
	c.adapter.MarkPersistent()
	c.adapter.ClearDirty()
	return nil
}

func (c *saveCommand) Kind() Kind                 { return KindSave }
func (c *saveCommand) OnAdapter() *object.Adapter { return c.adapter }

func (c *saveCommand) Execute(ctx context.Context, store CommandContext) error {
	if err := store.UpdateObject(ctx, c.adapter); err != nil {
		return err
	}
	c.adapter.BumpVersion()
	c.adapter.ClearDirty()
	return nil
}

func (c *destroyCommand) Kind() Kind                 { return KindDestroy }
func (c *destroyCommand) OnAdapter() *object.Adapter { return c.adapter }

func (c *destroyCommand) Execute(ctx context.Context, store CommandContext) error {
	if err := store.DeleteObject(ctx, c.adapter); err != nil {
		return err
	}
	c.adapter.MarkDestroyed()
	return nil
}
