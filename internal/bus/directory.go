// Package bus enumerates peripheral addresses that answer on the shared I2C
// bus.
package bus

import (
	"iter"

	"tinygo.org/x/drivers"
)

const (
	// FirstAddress and LastAddress bound the usable 7-bit address range;
	// 0x00-0x07 and 0x78-0x7F are reserved by the I2C specification.
	FirstAddress = 0x08
	LastAddress  = 0x77
)

// Blacklist holds addresses taken by other on-board peripherals of the
// reference board.
var Blacklist = map[uint8]bool{
	0x18: true,
	0x28: true,
	0x36: true,
}

// Directory probes a bus for present devices.
type Directory struct {
	bus drivers.I2C
}

func NewDirectory(bus drivers.I2C) *Directory {
	return &Directory{bus: bus}
}

// ProbeAll yields every non-blacklisted address whose one-byte write
// transaction completes without a bus error. A device that NACKs is skipped
// without retry. Each call performs one fresh pass.
func (d *Directory) ProbeAll() iter.Seq[uint8] {
	return func(yield func(uint8) bool) {
		if d.bus == nil {
			return
		}
		probe := []byte{0}
		for addr := FirstAddress; addr <= LastAddress; addr++ {
			a := uint8(addr)
			if Blacklist[a] {
				continue
			}
			if err := d.bus.Tx(uint16(a), probe, nil); err != nil {
				continue
			}
			if !yield(a) {
				return
			}
		}
	}
}
