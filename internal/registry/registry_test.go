package registry_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/aspect-build/apgate/internal/flash"
	"github.com/aspect-build/apgate/internal/registry"
)

const testMagic = 0x4B1D

var seed = []uint32{0x1001, 0x1002, 0x1003}

func newRegistry(t *testing.T) (*registry.Registry, *flash.MemoryStore) {
	t.Helper()
	store := flash.NewMemoryStore()
	r := registry.New(store, seed)
	if err := r.Init(testMagic); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r, store
}

func TestInitFormatsBlankStore(t *testing.T) {
	r, store := newRegistry(t)

	ids, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(ids, seed) {
		t.Fatalf("List = %#x, want %#x", ids, seed)
	}
	if store.Writes() != 1 {
		t.Errorf("Writes = %d, want 1", store.Writes())
	}
}

func TestInitKeepsExistingEntry(t *testing.T) {
	store := flash.NewMemoryStore()
	existing := registry.Entry{Magic: testMagic, Count: 2}
	copy(existing.IDs[:], []uint32{0xaaaa, 0xbbbb})
	store.Write(existing)

	r := registry.New(store, seed)
	if err := r.Init(testMagic); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ids, _ := r.List()
	if !reflect.DeepEqual(ids, []uint32{0xaaaa, 0xbbbb}) {
		t.Fatalf("List = %#x, want existing entry", ids)
	}
	if store.Writes() != 1 {
		t.Errorf("Init rewrote a valid entry")
	}
}

func TestInitReformatsForeignMagic(t *testing.T) {
	store := flash.NewMemoryStore()
	store.Write(registry.Entry{Magic: 0xdead, Count: 1})

	r := registry.New(store, seed)
	if err := r.Init(testMagic); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ids, _ := r.List()
	if !reflect.DeepEqual(ids, seed) {
		t.Fatalf("List = %#x, want seed", ids)
	}
}

func TestInitCapacity(t *testing.T) {
	big := make([]uint32, registry.Capacity+1)
	r := registry.New(flash.NewMemoryStore(), big)
	if err := r.Init(testMagic); !errors.Is(err, registry.ErrCapacity) {
		t.Fatalf("Init: err = %v, want ErrCapacity", err)
	}
}

func TestInitStorageFault(t *testing.T) {
	store := flash.NewMemoryStore()
	store.FailInit = true
	r := registry.New(store, seed)
	if err := r.Init(testMagic); !errors.Is(err, registry.ErrStorage) {
		t.Fatalf("Init: err = %v, want ErrStorage", err)
	}
	if _, err := r.List(); !errors.Is(err, registry.ErrUninitialized) {
		t.Fatalf("List after failed Init: err = %v, want ErrUninitialized", err)
	}
}

func TestUninitialized(t *testing.T) {
	r := registry.New(flash.NewMemoryStore(), seed)
	if _, err := r.List(); !errors.Is(err, registry.ErrUninitialized) {
		t.Errorf("List: err = %v, want ErrUninitialized", err)
	}
	if err := r.Swap(0x1001, 0x2001); !errors.Is(err, registry.ErrUninitialized) {
		t.Errorf("Swap: err = %v, want ErrUninitialized", err)
	}
}

func TestSwapSequence(t *testing.T) {
	r, _ := newRegistry(t)

	swaps := []struct{ old, new uint32 }{
		{0x1002, 0x2002},
		{0x1001, 0x2001},
		{0x2002, 0x1003}, // creates a duplicate of slot 2
		{0x1003, 0x4004}, // first occurrence only
	}
	want := append([]uint32(nil), seed...)
	for _, s := range swaps {
		if err := r.Swap(s.old, s.new); err != nil {
			t.Fatalf("Swap(%#x, %#x): %v", s.old, s.new, err)
		}
		for i, id := range want {
			if id == s.old {
				want[i] = s.new
				break
			}
		}
		got, err := r.List()
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("after Swap(%#x, %#x): List = %#x, want %#x", s.old, s.new, got, want)
		}
		if len(got) != len(seed) {
			t.Fatalf("count changed: %d", len(got))
		}
	}
	if want[1] != 0x4004 || want[2] != 0x1003 {
		t.Fatalf("unexpected final list %#x", want)
	}
}

func TestSwapNotFound(t *testing.T) {
	r, store := newRegistry(t)
	before := store.Writes()

	err := r.Swap(0x9999, 0x2002)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("Swap: err = %v, want ErrNotFound", err)
	}
	if store.Writes() != before {
		t.Errorf("Swap wrote to storage on NotFound")
	}
	ids, _ := r.List()
	if !reflect.DeepEqual(ids, seed) {
		t.Errorf("List changed after failed swap: %#x", ids)
	}
}

func TestSwapWriteFault(t *testing.T) {
	r, store := newRegistry(t)
	store.FailWrite = true

	if err := r.Swap(0x1001, 0x2001); !errors.Is(err, registry.ErrStorage) {
		t.Fatalf("Swap: err = %v, want ErrStorage", err)
	}
	store.FailWrite = false
	ids, _ := r.List()
	if !reflect.DeepEqual(ids, seed) {
		t.Errorf("List changed after failed write: %#x", ids)
	}
}

func TestSwapReadBackMismatch(t *testing.T) {
	r, store := newRegistry(t)
	store.DropWrites = true

	if err := r.Swap(0x1001, 0x2001); !errors.Is(err, registry.ErrStorage) {
		t.Fatalf("Swap: err = %v, want ErrStorage on unverified write", err)
	}
}

func TestEntryBinaryRoundTrip(t *testing.T) {
	e := registry.Entry{Magic: testMagic, Count: 2}
	e.IDs[0], e.IDs[1], e.IDs[31] = 0x01020304, 0xfffffffe, 7

	b, err := e.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(b) != registry.EntrySize {
		t.Fatalf("len = %d, want %d", len(b), registry.EntrySize)
	}
	if b[0] != 0x1D || b[1] != 0x4B || b[8] != 0x04 {
		t.Errorf("layout not little-endian: % x", b[:12])
	}

	var got registry.Entry
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != e {
		t.Fatalf("round trip = %+v, want %+v", got, e)
	}
	if err := got.UnmarshalBinary(b[:10]); err == nil {
		t.Fatal("expected error for short buffer")
	}
}
