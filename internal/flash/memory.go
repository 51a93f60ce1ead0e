package flash

import (
	"errors"
	"sync"

	"github.com/aspect-build/apgate/internal/registry"
)

var ErrInjected = errors.New("injected storage fault")

// MemoryStore is a registry.Store held in RAM. The Fail* fields inject faults
// for tests.
type MemoryStore struct {
	mu      sync.Mutex
	image   []byte
	writes  int
	lastErr error

	FailInit  bool
	FailWrite bool
	FailPoll  bool
	// DropWrites makes Write report success without persisting, so a
	// read-back sees the previous image.
	DropWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Initialize() error {
	if m.FailInit {
		return ErrInjected
	}
	return nil
}

func (m *MemoryStore) Read() (registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.image == nil {
		return registry.Entry{}, registry.ErrBlank
	}
	var e registry.Entry
	if err := e.UnmarshalBinary(m.image); err != nil {
		return registry.Entry{}, err
	}
	m.lastErr = nil
	return e, nil
}

func (m *MemoryStore) Write(e registry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrite {
		m.lastErr = ErrInjected
		return ErrInjected
	}
	m.writes++
	m.lastErr = nil
	if m.DropWrites {
		return nil
	}
	img, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	m.image = img
	return nil
}

func (m *MemoryStore) Poll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPoll {
		return ErrInjected
	}
	return m.lastErr
}

// Writes reports how many writes have been accepted.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Erase returns the store to the blank state.
func (m *MemoryStore) Erase() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.image = nil
}
