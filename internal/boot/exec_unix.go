//go:build unix

package boot

import "golang.org/x/sys/unix"

func execImage(path string, argv, env []string) error {
	return unix.Exec(path, argv, env)
}
