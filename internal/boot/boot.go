// Package boot performs the one-way hand-off from the command loop to the
// post-boot image.
package boot

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/aspect-build/apgate/internal/logx"
)

// Booter transfers control away from the dispatcher. A successful Boot of a
// real image does not return.
type Booter interface {
	Boot(ctx context.Context, msg string) error
}

// MessageEnv carries the provisioned boot message into the post-boot image.
const MessageEnv = "APGATE_BOOT_MSG"

// Exec replaces the current process with the image at Path.
type Exec struct {
	Path string
	Args []string
}

func (e *Exec) Boot(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(e.Path); err != nil {
		return fmt.Errorf("boot image: %w", err)
	}
	argv := append([]string{e.Path}, e.Args...)
	env := append(os.Environ(), MessageEnv+"="+msg)
	logx.Infof("booting %s", e.Path)
	return execImage(e.Path, argv, env)
}

// Halt records the hand-off and parks. It is used when no post-boot image is
// configured.
type Halt struct {
	mu     sync.Mutex
	booted bool
	msg    string
}

func (h *Halt) Boot(_ context.Context, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.booted = true
	h.msg = msg
	logx.Infof("boot hand-off complete, no image configured")
	return nil
}

// Booted reports whether Boot was called, and with which message.
func (h *Halt) Booted() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.booted, h.msg
}
