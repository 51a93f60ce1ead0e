// Package registry owns the persisted list of Component ids the Application
// Processor is allowed to boot.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aspect-build/apgate/internal/logx"
)

var (
	ErrUninitialized = errors.New("registry not initialized")
	ErrStorage       = errors.New("storage fault")
	ErrNotFound      = errors.New("component not found")
	ErrCapacity      = errors.New("registry capacity exceeded")
)

// Registry is the durable, capacity-bounded authorization list. No copy of
// the entry is cached: every call reads the store.
type Registry struct {
	mu          sync.Mutex
	store       Store
	seed        []uint32
	magic       uint32
	initialized bool
}

// New returns a registry over store. seed is the provisioned authorized id
// list used to format a blank or foreign store.
func New(store Store, seed []uint32) *Registry {
	return &Registry{
		store: store,
		seed:  append([]uint32(nil), seed...),
	}
}

// Init validates the store against magic, formatting a fresh entry from the
// seed when the store is blank or carries another magic.
func (r *Registry) Init(magic uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.seed) > Capacity {
		return fmt.Errorf("%w: %d provisioned ids, capacity %d", ErrCapacity, len(r.seed), Capacity)
	}

	if err := r.store.Initialize(); err != nil {
		return fmt.Errorf("%w: initialize: %w", ErrStorage, err)
	}

	e, err := r.store.Read()
	switch {
	case errors.Is(err, ErrBlank):
		logx.Infof("registry: blank store, formatting with %d provisioned ids", len(r.seed))
	case err != nil:
		return fmt.Errorf("%w: read: %w", ErrStorage, err)
	case e.Valid(magic):
		r.magic = magic
		r.initialized = true
		logx.Debugf("registry: found entry magic=0x%04x count=%d", e.Magic, e.Count)
		return nil
	default:
		logx.Warnf("registry: magic 0x%x does not match 0x%x, reformatting", e.Magic, magic)
	}

	fresh := Entry{Magic: magic, Count: uint32(len(r.seed))}
	copy(fresh.IDs[:], r.seed)
	if err := r.commit(fresh); err != nil {
		return err
	}

	r.magic = magic
	r.initialized = true
	return nil
}

// List returns a snapshot of the live ids.
func (r *Registry) List() ([]uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.read()
	if err != nil {
		return nil, err
	}
	return e.Live(), nil
}

// Swap replaces the first occurrence of oldID with newID and persists the
// result. The count never changes.
func (r *Registry) Swap(oldID, newID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.read()
	if err != nil {
		return err
	}

	idx := -1
	for i, id := range e.IDs[:e.Count] {
		if id == oldID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: 0x%08x", ErrNotFound, oldID)
	}

	e.IDs[idx] = newID
	if err := r.commit(e); err != nil {
		return err
	}
	logx.Infof("registry: slot %d 0x%08x -> 0x%08x", idx, oldID, newID)
	return nil
}

func (r *Registry) read() (Entry, error) {
	if !r.initialized {
		return Entry{}, ErrUninitialized
	}
	e, err := r.store.Read()
	if err != nil {
		return Entry{}, fmt.Errorf("%w: read: %w", ErrStorage, err)
	}
	if err := r.store.Poll(); err != nil {
		return Entry{}, fmt.Errorf("%w: poll: %w", ErrStorage, err)
	}
	if !e.Valid(r.magic) {
		return Entry{}, fmt.Errorf("%w: entry no longer valid (magic=0x%x count=%d)", ErrStorage, e.Magic, e.Count)
	}
	return e, nil
}

// commit writes e, polls for completion and reads it back. The write only
// counts once the durable copy is proven equal to e.
func (r *Registry) commit(e Entry) error {
	if err := r.store.Write(e); err != nil {
		return fmt.Errorf("%w: write: %w", ErrStorage, err)
	}
	if err := r.store.Poll(); err != nil {
		return fmt.Errorf("%w: poll: %w", ErrStorage, err)
	}
	got, err := r.store.Read()
	if err != nil {
		return fmt.Errorf("%w: read back: %w", ErrStorage, err)
	}
	if got != e {
		return fmt.Errorf("%w: read back does not match written entry", ErrStorage)
	}
	return nil
}
