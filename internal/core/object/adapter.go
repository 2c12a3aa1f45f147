package object

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Adapter wraps an arbitrary domain value with the state the runtime tracks
// for it: identity, resolve state, dirtiness, and an optimistic-lock version.
//
// Adapters are owned by a single session and are not safe for concurrent use;
// the transaction manager serializes all mutation paths.
type Adapter struct {
	oid     Oid
	value   any
	state   ResolveState
	dirty   bool
	version int

	// snapshot taken when the adapter first went dirty, for audit diffs
	pre Attributes
}

// NewAdapter wraps a fresh, never-persisted domain value.
func NewAdapter(class string, value any) *Adapter {
	return &Adapter{
		oid:     NewTransientOid(class),
		value:   value,
		state:   StateTransient,
		version: 1,
	}
}

// RecreateAdapter wraps a value recreated from a store row.
func RecreateAdapter(oid Oid, value any, version int) *Adapter {
	return &Adapter{
		oid:     oid,
		value:   value,
		state:   StatePersistent,
		version: version,
	}
}

func (a *Adapter) Oid() Oid            { return a.oid }
func (a *Adapter) Object() any         { return a.value }
func (a *Adapter) State() ResolveState { return a.state }
func (a *Adapter) Version() int        { return a.version }
func (a *Adapter) IsDirty() bool       { return a.dirty }

// MarkDirty records that the domain value changed in this unit of work.
// The first call captures a pre-change snapshot for audit diffs.
func (a *Adapter) MarkDirty() {
	if !a.dirty {
		a.pre, _ = a.Snapshot()
	}
	a.dirty = true
}

// ClearDirty resets the dirty flag; called after the object's persistence
// command executed. The pre-change snapshot is kept until the next dirty
// cycle overwrites it, because commit-time auditing diffs against it after
// the command ran.
func (a *Adapter) ClearDirty() {
	a.dirty = false
}

// PreSnapshot returns the state captured when the adapter last went dirty,
// or nil when it never was.
func (a *Adapter) PreSnapshot() Attributes {
	return a.pre
}

// MarkPersistent transitions transient → persistent after a successful
// create command.
func (a *Adapter) MarkPersistent() {
	a.oid = a.oid.makePersistent()
	a.state = StatePersistent
}

// MarkDestroyed transitions to the destroyed state after a successful
// destroy command.
func (a *Adapter) MarkDestroyed() {
	a.state = StateDestroyed
	a.dirty = false
}

// BumpVersion increments the optimistic-lock version; stores call this after
// a successful update.
func (a *Adapter) BumpVersion() {
	a.version++
}

// SetVersion overwrites the version, used when re-reading store rows.
func (a *Adapter) SetVersion(v int) {
	a.version = v
}

// Snapshot serializes the domain value into an attribute map. Numbers decode
// via json.Number so decimal precision survives the round trip.
func (a *Adapter) Snapshot() (Attributes, error) {
	raw, err := json.Marshal(a.value)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", a.oid, err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var result map[string]any
	if err := decoder.Decode(&result); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", a.oid, err)
	}
	return result, nil
}

// ChangedAttributes diffs the pre-dirty snapshot against the current state.
// Returns the full current snapshot when no pre-snapshot exists.
func (a *Adapter) ChangedAttributes() (Attributes, error) {
	post, err := a.Snapshot()
	if err != nil {
		return nil, err
	}
	if a.pre == nil {
		return post, nil
	}
	return Diff(a.pre, post), nil
}

// Diff calculates the difference between old and new attribute states.
// Each changed key maps to {"old": ..., "new": ...}.
func Diff(oldState, newState Attributes) Attributes {
	changes := make(Attributes)
	for key, newVal := range newState {
		oldVal, existed := oldState[key]
		if !existed || fmt.Sprint(oldVal) != fmt.Sprint(newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, oldVal := range oldState {
		if _, exists := newState[key]; !exists {
			changes[key] = map[string]any{"old": oldVal, "new": nil}
		}
	}
	return changes
}

func (a *Adapter) String() string {
	return fmt.Sprintf("%s [%s, v%d]", a.oid, a.state, a.version)
}
