package registry

import (
	"encoding/binary"
	"fmt"
)

// Capacity is the fixed number of id slots in a persisted entry.
const Capacity = 32

// EntrySize is the size of the binary flash layout: magic, count, ids.
const EntrySize = 4 + 4 + 4*Capacity

// Entry is the persisted registry record. IDs[:Count] are live, in insertion
// order; slot 0 is the primary slot.
type Entry struct {
	Magic uint32
	Count uint32
	IDs   [Capacity]uint32
}

// Live returns a copy of the live ids.
func (e Entry) Live() []uint32 {
	n := e.Count
	if n > Capacity {
		n = Capacity
	}
	out := make([]uint32, n)
	copy(out, e.IDs[:n])
	return out
}

// Valid reports whether e carries the given magic and a sane count.
func (e Entry) Valid(magic uint32) bool {
	return e.Magic == magic && e.Count <= Capacity
}

// MarshalBinary encodes e in the little-endian flash layout.
func (e Entry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint32(buf[0:], e.Magic)
	binary.LittleEndian.PutUint32(buf[4:], e.Count)
	for i, id := range e.IDs {
		binary.LittleEndian.PutUint32(buf[8+4*i:], id)
	}
	return buf, nil
}

// UnmarshalBinary decodes the little-endian flash layout.
func (e *Entry) UnmarshalBinary(data []byte) error {
	if len(data) != EntrySize {
		return fmt.Errorf("registry entry: got %d bytes, want %d", len(data), EntrySize)
	}
	e.Magic = binary.LittleEndian.Uint32(data[0:])
	e.Count = binary.LittleEndian.Uint32(data[4:])
	for i := range e.IDs {
		e.IDs[i] = binary.LittleEndian.Uint32(data[8+4*i:])
	}
	return nil
}
