package tx

import "praxis/internal/core/object"

// UpdateNotifier collects the adapters changed or disposed during a unit of
// work so viewers can refresh after commit. One notifier per transaction.
type UpdateNotifier struct {
	changed  []*object.Adapter
	disposed []*object.Adapter
}

// NewUpdateNotifier returns an empty notifier.
func NewUpdateNotifier() *UpdateNotifier {
	return &UpdateNotifier{}
}

// AddChangedObject records a created or updated adapter, deduplicated by oid.
func (n *UpdateNotifier) AddChangedObject(a *object.Adapter) {
	for _, existing := range n.changed {
		if existing == a {
			return
		}
	}
	n.changed = append(n.changed, a)
}

// AddDisposedObject records a destroyed adapter.
func (n *UpdateNotifier) AddDisposedObject(a *object.Adapter) {
	for _, existing := range n.disposed {
		if existing == a {
			return
		}
	}
	n.disposed = append(n.disposed, a)
}

// ChangedObjects returns the recorded changed adapters in order.
func (n *UpdateNotifier) ChangedObjects() []*object.Adapter {
	return n.changed
}

// DisposedObjects returns the recorded disposed adapters in order.
func (n *UpdateNotifier) DisposedObjects() []*object.Adapter {
	return n.disposed
}
