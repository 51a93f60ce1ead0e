//go:build !linux

package bus

import "fmt"

// I2CDev is only available on Linux.
type I2CDev struct{}

func OpenI2CDev(path string) (*I2CDev, error) {
	return nil, fmt.Errorf("open %s: i2c-dev is only supported on linux", path)
}

func (d *I2CDev) Tx(addr uint16, w, r []byte) error {
	return fmt.Errorf("i2c-dev unsupported")
}

func (d *I2CDev) Close() error { return nil }
