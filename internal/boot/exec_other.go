//go:build !unix

package boot

import "errors"

func execImage(string, []string, []string) error {
	return errors.New("boot: exec hand-off is only supported on unix")
}
