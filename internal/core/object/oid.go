// Package object provides the minimal domain-object model the transaction
// runtime needs: stable object identities, adapters tracking resolve state
// and dirtiness, and precision-safe attribute maps.
package object

import (
	"fmt"

	"praxis/internal/core/id"
)

// ResolveState describes where an adapted object stands relative to the store.
type ResolveState int

const (
	// StateTransient means the object has never been persisted.
	StateTransient ResolveState = iota
	// StatePersistent means the object has a row in the store.
	StatePersistent
	// StateDestroyed means the object has been deleted from the store.
	StateDestroyed
)

func (s ResolveState) String() string {
	switch s {
	case StateTransient:
		return "transient"
	case StatePersistent:
		return "persistent"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("ResolveState(%d)", int(s))
	}
}

// Oid is the stable identity of a domain object: a class alias plus a
// UUIDv7. Transient oids carry a marker prefix in their string form so
// published events distinguish never-persisted targets.
type Oid struct {
	Class     string
	ID        id.ID
	transient bool
}

// NewTransientOid mints an oid for a not-yet-persisted object.
func NewTransientOid(class string) Oid {
	return Oid{Class: class, ID: id.New(), transient: true}
}

// NewOid builds an oid for an object already known to the store.
func NewOid(class string, objectID id.ID) Oid {
	return Oid{Class: class, ID: objectID}
}

// ParseOid reverses String. Accepts both transient and persistent forms.
func ParseOid(s string) (Oid, error) {
	transient := false
	if len(s) > 2 && s[:2] == "T~" {
		transient = true
		s = s[2:]
	}
	var class, raw string
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			class, raw = s[:i], s[i+1:]
			break
		}
	}
	if class == "" || raw == "" {
		return Oid{}, fmt.Errorf("malformed oid %q", s)
	}
	objectID, err := id.Parse(raw)
	if err != nil {
		return Oid{}, fmt.Errorf("malformed oid %q: %w", s, err)
	}
	return Oid{Class: class, ID: objectID, transient: transient}, nil
}

// IsTransient reports whether the oid still carries the transient marker.
func (o Oid) IsTransient() bool {
	return o.transient
}

// String encodes the oid as "CLASS:uuid", with a "T~" prefix while transient.
// This encoding is what canonical published events embed.
func (o Oid) String() string {
	if o.transient {
		return "T~" + o.Class + ":" + o.ID.String()
	}
	return o.Class + ":" + o.ID.String()
}

// makePersistent drops the transient marker. Called by the adapter when the
// object's create command executes.
func (o Oid) makePersistent() Oid {
	o.transient = false
	return o
}
