// Package dispatch runs the device command loop: it reads one command at a
// time from the host link, gates the sensitive ones, and drives the registry,
// bus directory, secure channel and boot hand-off.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aspect-build/apgate/internal/auth"
	"github.com/aspect-build/apgate/internal/boot"
	"github.com/aspect-build/apgate/internal/bus"
	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/logx"
	"github.com/aspect-build/apgate/internal/registry"
	"github.com/aspect-build/apgate/internal/secure"
)

// ErrBooted is returned by Run and Step once control has been handed to the
// boot image. The dispatcher must not be used again.
var ErrBooted = errors.New("dispatcher handed off to boot")

// LineSize bounds a command line.
const LineSize = 64

// Config wires a Dispatcher. Registry and Booter are required for an
// Application Processor identity and unused for a Component.
type Config struct {
	Channel   *hostmsg.Channel
	Identity  *identity.Identity
	Registry  *registry.Registry
	Directory *bus.Directory
	Secure    secure.Channel
	Booter    boot.Booter
	Mode      Mode
}

type Dispatcher struct {
	ch     *hostmsg.Channel
	id     *identity.Identity
	reg    *registry.Registry
	dir    *bus.Directory
	sc     secure.Channel
	booter boot.Booter
	mode   Mode

	token *auth.Gate
	pin   *auth.Gate

	started bool
	booted  bool
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Channel == nil {
		return nil, errors.New("dispatch: channel is required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("dispatch: identity is required")
	}

	d := &Dispatcher{
		ch:     cfg.Channel,
		id:     cfg.Identity,
		reg:    cfg.Registry,
		dir:    cfg.Directory,
		sc:     cfg.Secure,
		booter: cfg.Booter,
		mode:   cfg.Mode,
	}
	if d.dir == nil {
		d.dir = bus.NewDirectory(nil)
	}
	if d.sc == nil {
		d.sc = secure.Unimplemented{}
	}

	if d.id.IsAP() {
		if d.reg == nil {
			return nil, errors.New("dispatch: registry is required for an application processor")
		}
		if d.booter == nil {
			return nil, errors.New("dispatch: booter is required for an application processor")
		}
		ap := d.id.AP()
		d.token = auth.NewGate("Token", ap.Token)
		d.pin = auth.NewGate("Pin", ap.Pin)
	}
	return d, nil
}

// Run serves commands until the host link closes, ctx is cancelled, or a boot
// hand-off completes. ctx is only checked between commands; a command waiting
// on host input blocks until the input arrives.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.Step(ctx)
		if errors.Is(err, io.EOF) {
			logx.Infof("host link closed")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Step serves exactly one command.
func (d *Dispatcher) Step(ctx context.Context) error {
	if d.booted {
		return ErrBooted
	}

	booting, err := d.serve(ctx)
	if err != nil {
		return err
	}
	if !booting {
		return nil
	}

	// The link handle has been released; nothing else is written to it.
	d.booted = true
	if err := d.booter.Boot(ctx, d.id.BootMsg()); err != nil {
		return fmt.Errorf("boot hand-off: %w", err)
	}
	return ErrBooted
}

// serve borrows the link for the duration of one command and reports whether
// the command was a successful boot.
func (d *Dispatcher) serve(ctx context.Context) (bool, error) {
	conn, err := d.ch.Acquire()
	if err != nil {
		return false, err
	}
	defer conn.Release()

	r := &responder{conn: conn}
	if !d.started {
		d.started = true
		if d.id.IsAP() {
			r.debugf("Application Processor Started")
		} else {
			r.debugf("Component Started")
		}
	}
	r.debugf("Enter Command: ")
	if r.err != nil {
		return false, r.err
	}

	buf := make([]byte, LineSize)
	n, err := conn.ReadLine("", buf)
	if errors.Is(err, hostmsg.ErrOverflow) {
		logx.Warnf("command line longer than %d bytes", LineSize)
		r.errorf("%s", ErrParse)
		return false, r.err
	}
	if err != nil {
		return false, err
	}

	cmd, err := d.receive(conn, string(buf[:n]))
	if err != nil {
		if errors.Is(err, ErrParse) {
			logx.Warnf("rejected command: %v", err)
			r.errorf("%s", ErrParse)
			return false, r.err
		}
		return false, err
	}
	logx.Debugf("command %s", cmd.Name())

	var booting bool
	if d.id.IsAP() {
		booting = d.handleAP(ctx, r, cmd)
	} else {
		d.handleComponent(r, cmd)
	}
	return booting && r.err == nil, r.err
}

// receive decodes the command line and, in prompt mode, solicits the
// command's arguments one at a time.
func (d *Dispatcher) receive(conn *hostmsg.Conn, raw string) (Command, error) {
	line := hostmsg.ParseLine(raw, 0)
	specs, known := arguments[line.Command]
	if !known {
		return Unrecognized{Raw: raw}, nil
	}
	if d.mode == ModeBatch || line.Trailing != "" || len(specs) == 0 {
		return ParseBatch(raw)
	}

	args := make([]string, 0, len(specs))
	var overflow error
	for _, spec := range specs {
		if err := conn.Ack(); err != nil {
			return nil, err
		}
		buf := make([]byte, spec.size)
		n, err := conn.ReadArg(buf)
		if errors.Is(err, hostmsg.ErrOverflow) {
			// Keep soliciting so the host stays in step.
			overflow = fmt.Errorf("%w: %s too long", ErrParse, spec.name)
			args = append(args, "")
			continue
		}
		if err != nil {
			return nil, err
		}
		args = append(args, string(buf[:n]))
	}
	if overflow != nil {
		return nil, overflow
	}
	return decode(line.Command, args)
}

func (d *Dispatcher) handleAP(ctx context.Context, r *responder, cmd Command) bool {
	switch c := cmd.(type) {
	case List:
		d.list(r)
	case Boot:
		r.infof("AP>%s", d.id.BootMsg())
		r.successf("Boot")
		return true
	case Replace:
		d.replace(r, c)
	case Attest:
		d.attest(ctx, r, c)
	case Unrecognized:
		r.errorf("Unrecognized command '%s'", c.Raw)
	}
	return false
}

func (d *Dispatcher) list(r *responder) {
	ids, err := d.reg.List()
	if err != nil {
		logx.Errorf("list: %v", err)
		r.errorf("Flash %v", err)
		return
	}
	for _, id := range ids {
		r.infof("P>0x%08x", id)
	}
	for addr := range d.dir.ProbeAll() {
		r.infof("F>0x%08x", addr)
	}
	r.successf("List")
}

func (d *Dispatcher) replace(r *responder, c Replace) {
	if err := d.token.Allow(c.Token); err != nil {
		logx.Warnf("replace rejected: %v", err)
		r.errorf("%s", d.token.Denial())
		return
	}

	err := d.reg.Swap(c.OldID, c.NewID)
	switch {
	case err == nil:
		logx.Infof("replaced component 0x%08x with 0x%08x", c.OldID, c.NewID)
		r.successf("Replace")
	case errors.Is(err, registry.ErrNotFound):
		r.errorf("Component not found")
	default:
		logx.Errorf("replace: %v", err)
		r.errorf("Flash %v", err)
	}
}

func (d *Dispatcher) attest(ctx context.Context, r *responder, c Attest) {
	if err := d.pin.Allow(c.Pin); err != nil {
		logx.Warnf("attest rejected: %v", err)
		r.errorf("%s", d.pin.Denial())
		return
	}

	rec, err := secure.Attest(ctx, d.sc, c.ComponentID)
	switch {
	case errors.Is(err, secure.ErrNotImplemented):
		r.debugf("secure channel not available, attestation fields left empty")
		rec = secure.AttestationRecord{}
	case err != nil:
		logx.Errorf("attest 0x%08x: %v", c.ComponentID, err)
		r.errorf("Failed to attest component")
		return
	}

	r.infof("C>0x%x", c.ComponentID)
	r.infof("LOC>%s", rec.Location)
	r.infof("DATE>%s", rec.Date)
	r.infof("CUST>%s", rec.Customer)
	r.successf("Attest")
}

// handleComponent serves the Component role. It answers list with its own
// id; boot, replace and attest are negotiated by the Application Processor
// over the bus and are refused here.
func (d *Dispatcher) handleComponent(r *responder, cmd Command) {
	switch c := cmd.(type) {
	case List:
		r.infof("C>0x%x", d.id.Component().ID)
		r.successf("List")
	case Boot:
		r.ack()
		r.errorf("Component does not support %s", cmd.Name())
	case Replace, Attest:
		r.errorf("Component does not support %s", cmd.Name())
	case Unrecognized:
		r.errorf("Unrecognized command '%s'", c.Raw)
	}
}

// responder writes tagged lines, keeping the first write error.
type responder struct {
	conn *hostmsg.Conn
	err  error
}

func (r *responder) emit(tag hostmsg.Tag, format string, args ...any) {
	if r.err == nil {
		r.err = r.conn.Emit(tag, format, args...)
	}
}

func (r *responder) ack() {
	if r.err == nil {
		r.err = r.conn.Ack()
	}
}

func (r *responder) errorf(format string, args ...any)   { r.emit(hostmsg.TagError, format, args...) }
func (r *responder) successf(format string, args ...any) { r.emit(hostmsg.TagSuccess, format, args...) }
func (r *responder) infof(format string, args ...any)    { r.emit(hostmsg.TagInfo, format, args...) }
func (r *responder) debugf(format string, args ...any)   { r.emit(hostmsg.TagDebug, format, args...) }
