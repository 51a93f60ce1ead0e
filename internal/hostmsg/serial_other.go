//go:build !linux

package hostmsg

import (
	"fmt"
	"os"
)

// OpenSerial is only implemented on Linux.
func OpenSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("open %s: serial ports are only supported on linux", path)
}
