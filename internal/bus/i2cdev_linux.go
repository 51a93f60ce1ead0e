//go:build linux

package bus

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave is the i2c-dev ioctl selecting the target address (linux/i2c-dev.h).
const i2cSlave = 0x0703

// I2CDev drives a Linux i2c-dev character device such as /dev/i2c-1.
type I2CDev struct {
	mu sync.Mutex
	fd int
}

// OpenI2CDev opens an i2c-dev adapter.
func OpenI2CDev(path string) (*I2CDev, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &I2CDev{fd: fd}, nil
}

// Tx writes w then reads len(r) bytes from addr.
func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := unix.IoctlSetInt(d.fd, i2cSlave, int(addr)); err != nil {
		return fmt.Errorf("i2c select 0x%02x: %w", addr, err)
	}
	if len(w) > 0 {
		if _, err := unix.Write(d.fd, w); err != nil {
			return fmt.Errorf("i2c write 0x%02x: %w", addr, err)
		}
	}
	if len(r) > 0 {
		if _, err := unix.Read(d.fd, r); err != nil {
			return fmt.Errorf("i2c read 0x%02x: %w", addr, err)
		}
	}
	return nil
}

func (d *I2CDev) Close() error {
	return unix.Close(d.fd)
}
