// Package memstore provides an in-memory object store for tests and
// exploration runs. It honors the same transactional contract as the
// PostgreSQL store: changes made inside a physical transaction are rolled
// back wholesale on abort.
package memstore

import (
	"context"
	"sync"

	"praxis/internal/core/apperror"
	"praxis/internal/core/object"
	"praxis/internal/core/tx"
)

var _ tx.TransactionalResource = (*Store)(nil)

type record struct {
	class   string
	version int
	state   object.Attributes
}

// Store keeps objects in a map keyed by oid string. One physical
// transaction at a time, like its PostgreSQL counterpart.
type Store struct {
	mu       sync.Mutex
	objects  map[string]record
	snapshot map[string]record // set while a physical transaction is open
}

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string]record)}
}

func cloneObjects(src map[string]record) map[string]record {
	dst := make(map[string]record, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// --- tx.TransactionalResource ---

func (s *Store) StartTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return apperror.NewInternal("physical transaction already open")
	}
	s.snapshot = cloneObjects(s.objects)
	return nil
}

func (s *Store) EndTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return apperror.NewInternal("no physical transaction to end")
	}
	s.snapshot = nil
	return nil
}

func (s *Store) AbortTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	s.objects = s.snapshot
	s.snapshot = nil
	return nil
}

// --- tx.CommandContext ---

func (s *Store) InsertObject(ctx context.Context, a *object.Adapter) error {
	state, err := a.Snapshot()
	if err != nil {
		return err
	}
	oid := object.NewOid(a.Oid().Class, a.Oid().ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[oid.String()]; exists {
		return apperror.NewStore("insert object "+oid.String(), apperror.NewInternal("object already exists"))
	}
	s.objects[oid.String()] = record{class: oid.Class, version: a.Version(), state: state}
	return nil
}

func (s *Store) UpdateObject(ctx context.Context, a *object.Adapter) error {
	state, err := a.Snapshot()
	if err != nil {
		return err
	}
	key := a.Oid().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.objects[key]
	if !ok || existing.version != a.Version() {
		return apperror.NewConcurrentModification(key)
	}
	existing.version = a.Version() + 1
	existing.state = state
	s.objects[key] = existing
	return nil
}

func (s *Store) DeleteObject(ctx context.Context, a *object.Adapter) error {
	key := a.Oid().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.objects[key]
	if !ok || existing.version != a.Version() {
		return apperror.NewConcurrentModification(key)
	}
	delete(s.objects, key)
	return nil
}

// --- reads ---

// Get returns the stored state and version of one object.
func (s *Store) Get(oid object.Oid) (object.Attributes, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.objects[oid.String()]
	if !ok {
		return nil, 0, false
	}
	return rec.state, rec.version, true
}

// Count returns the number of stored objects.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Classes returns stored oid strings of one class.
func (s *Store) Classes(class string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oids []string
	for key, rec := range s.objects {
		if rec.class == class {
			oids = append(oids, key)
		}
	}
	return oids
}
