// Package hostmsg frames the half-duplex, human-readable command protocol
// spoken over the host serial link.
//
// Inbound, the host sends lines terminated by a carriage return. Outbound,
// the device writes tagged lines:
//
//	%error: <text>%
//	%success: <text>%
//	%info: <text>%
//	%debug: <text>%
//	%ack%
package hostmsg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Tag classifies an outbound line.
type Tag string

const (
	TagError   Tag = "error"
	TagSuccess Tag = "success"
	TagInfo    Tag = "info"
	TagDebug   Tag = "debug"
)

func (t Tag) valid() bool {
	switch t {
	case TagError, TagSuccess, TagInfo, TagDebug:
		return true
	}
	return false
}

var (
	ErrOverflow    = errors.New("input exceeded buffer")
	ErrUnavailable = errors.New("serial link already borrowed")
	ErrReleased    = errors.New("serial handle used after release")
)

// Options controls outbound presentation.
type Options struct {
	// BoardName prefixes each transcript line when Transcript is set.
	BoardName string
	// Transcript renders newlines as "\n\r<board>| " for readable debug
	// captures. Otherwise newlines are sent as "\n\r".
	Transcript bool
}

// Channel owns the serial transport. At most one Conn is live at a time.
type Channel struct {
	mu    sync.Mutex
	r     *bufio.Reader
	w     io.Writer
	inUse bool
}

// New wraps rw. The Channel takes ownership: nothing else may read from or
// write to rw afterwards.
func New(rw io.ReadWriter, opts Options) *Channel {
	nl := "\n\r"
	if opts.Transcript {
		nl = "\n\r" + opts.BoardName + "| "
	}
	return &Channel{
		r: bufio.NewReader(rw),
		w: &newlineWriter{out: rw, nl: []byte(nl)},
	}
}

// Acquire borrows the transport. It fails with ErrUnavailable while another
// Conn is outstanding instead of blocking. Callers must defer Release.
func (c *Channel) Acquire() (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inUse {
		return nil, ErrUnavailable
	}
	c.inUse = true
	return &Conn{ch: c}, nil
}

// Conn is a borrowed handle on the serial transport.
type Conn struct {
	ch       *Channel
	released bool
}

// Release returns the handle to its Channel. Calling it more than once is a
// no-op.
func (c *Conn) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	c.ch.mu.Lock()
	c.ch.inUse = false
	c.ch.mu.Unlock()
}

// ReadLine writes prompt and reads one line into buf, returning the number of
// bytes stored (terminator excluded). If more than len(buf) bytes precede the
// terminator, the rest of the line is consumed and ErrOverflow is returned;
// buf must then be treated as invalid.
func (c *Conn) ReadLine(prompt string, buf []byte) (int, error) {
	if c.released {
		return 0, ErrReleased
	}
	if prompt != "" {
		if err := c.Prompt(prompt); err != nil {
			return 0, err
		}
	}
	return c.read(buf)
}

// ReadArg reads one solicited argument into buf. Overflow is reported the
// same way as ReadLine.
func (c *Conn) ReadArg(buf []byte) (int, error) {
	if c.released {
		return 0, ErrReleased
	}
	return c.read(buf)
}

func (c *Conn) read(buf []byte) (int, error) {
	n := 0
	overflow := false
	for {
		b, err := c.ch.r.ReadByte()
		if err != nil {
			return n, err
		}
		switch {
		case b == '\r':
			if overflow {
				return n, ErrOverflow
			}
			return n, nil
		case b == '\n':
			// Tolerate CRLF hosts.
		case n == len(buf):
			overflow = true
		default:
			buf[n] = b
			n++
		}
	}
}

// Emit writes one tagged line: %<tag>: <text>%.
func (c *Conn) Emit(tag Tag, format string, args ...any) error {
	if c.released {
		return ErrReleased
	}
	if !tag.valid() {
		return fmt.Errorf("hostmsg: invalid tag %q", tag)
	}
	text := fmt.Sprintf(format, args...)
	_, err := fmt.Fprintf(c.ch.w, "%%%s: %s%%\n", tag, text)
	return err
}

// Ack writes %ack%.
func (c *Conn) Ack() error {
	if c.released {
		return ErrReleased
	}
	_, err := io.WriteString(c.ch.w, "%ack%\n")
	return err
}

// Prompt writes text with no tag and no terminator.
func (c *Conn) Prompt(text string) error {
	if c.released {
		return ErrReleased
	}
	_, err := io.WriteString(c.ch.w, text)
	return err
}

func (c *Conn) Errorf(format string, args ...any) error {
	return c.Emit(TagError, format, args...)
}

func (c *Conn) Successf(format string, args ...any) error {
	return c.Emit(TagSuccess, format, args...)
}

func (c *Conn) Infof(format string, args ...any) error {
	return c.Emit(TagInfo, format, args...)
}

func (c *Conn) Debugf(format string, args ...any) error {
	return c.Emit(TagDebug, format, args...)
}

// newlineWriter expands '\n' into the configured newline sequence.
type newlineWriter struct {
	out io.Writer
	nl  []byte
}

func (w *newlineWriter) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' {
			out = append(out, w.nl...)
			continue
		}
		out = append(out, b)
	}
	if _, err := w.out.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
