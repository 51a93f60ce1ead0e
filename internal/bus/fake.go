package bus

import (
	"errors"
	"sync"
)

var ErrNack = errors.New("i2c: address not acknowledged")

// Tx is one recorded transaction on a Fake bus.
type Tx struct {
	Addr uint16
	W    []byte
}

// Fake is an in-memory drivers.I2C. Devices are the addresses that ACK.
type Fake struct {
	mu      sync.Mutex
	devices map[uint16]bool
	log     []Tx
}

func NewFake(addrs ...uint8) *Fake {
	f := &Fake{devices: make(map[uint16]bool)}
	for _, a := range addrs {
		f.devices[uint16(a)] = true
	}
	return f
}

func (f *Fake) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.log = append(f.log, Tx{Addr: addr, W: append([]byte(nil), w...)})
	if !f.devices[addr] {
		return ErrNack
	}
	for i := range r {
		r[i] = 0
	}
	return nil
}

// Transactions returns a copy of the transaction log.
func (f *Fake) Transactions() []Tx {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tx(nil), f.log...)
}
