// Package audit defines the auditing sink the transaction core notifies at
// commit time. The sink is an optional collaborator: a nil Auditor simply
// skips auditing, it is never an error.
package audit

import (
	"context"
	"time"

	"praxis/internal/core/object"
)

// Entry describes one changed object at commit.
type Entry struct {
	User    string
	Oid     string
	Class   string
	Changes object.Attributes
	At      time.Time
}

// Auditor receives an Entry for every object changed in a committed unit of
// work. Implementations decide the storage format; failures are recorded
// against the transaction like any other commit-phase failure.
type Auditor interface {
	ObjectChanged(ctx context.Context, e Entry) error
}
