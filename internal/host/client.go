// Package host drives a device's command protocol from the host side.
package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
	"github.com/aspect-build/apgate/internal/logx"
)

var ErrProtocol = errors.New("protocol violation")

// DeviceError is a command that ended with an error line.
type DeviceError struct {
	Command string
	Message string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: device error: %s", e.Command, e.Message)
}

// Result collects the lines a device sent for one command.
type Result struct {
	Info    []string
	Debug   []string
	Success string
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Client speaks to one device. It is not safe for concurrent use.
type Client struct {
	w     io.Writer
	r     *bufio.Reader
	dl    deadliner
	batch bool
}

// Option configures a Client.
type Option func(*Client)

// WithBatch sends arguments on the command line instead of answering acks.
func WithBatch() Option {
	return func(c *Client) { c.batch = true }
}

// New returns a client over rw. If rw supports read deadlines, the context
// deadline of each call is applied to it.
func New(rw io.ReadWriter, opts ...Option) *Client {
	c := &Client{w: rw, r: bufio.NewReader(rw)}
	if dl, ok := rw.(deadliner); ok {
		c.dl = dl
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends command and its arguments and collects responses up to the
// terminal success or error line.
func (c *Client) Do(ctx context.Context, command string, args ...string) (*Result, error) {
	if c.dl != nil {
		deadline, _ := ctx.Deadline()
		if err := c.dl.SetReadDeadline(deadline); err != nil {
			logx.Debugf("read deadline unsupported: %v", err)
		}
	}

	pending := args
	line := command
	if c.batch && len(args) > 0 {
		line = command + " " + strings.Join(args, " ")
		pending = nil
	}
	if err := c.send(line); err != nil {
		return nil, err
	}

	res := &Result{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.next()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", command, err)
		}

		switch {
		case resp.Ack:
			if len(pending) == 0 {
				return nil, fmt.Errorf("%w: %s: unexpected ack", ErrProtocol, command)
			}
			if err := c.send(pending[0]); err != nil {
				return nil, err
			}
			pending = pending[1:]
		case resp.Tag == hostmsg.TagInfo:
			res.Info = append(res.Info, resp.Text)
		case resp.Tag == hostmsg.TagDebug:
			res.Debug = append(res.Debug, resp.Text)
		case resp.Tag == hostmsg.TagSuccess:
			res.Success = resp.Text
			return res, nil
		case resp.Tag == hostmsg.TagError:
			return res, &DeviceError{Command: command, Message: resp.Text}
		}
	}
}

func (c *Client) send(s string) error {
	logx.Debugf("host -> %q", s)
	if _, err := io.WriteString(c.w, s+"\r"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// next returns the next tagged line, skipping prompts and transcript noise.
func (c *Client) next() (hostmsg.Response, error) {
	for {
		line, err := c.r.ReadString('\n')
		if resp, ok := hostmsg.ParseResponse(line); ok {
			logx.Debugf("device <- %q", strings.TrimSpace(line))
			return resp, nil
		}
		if err != nil {
			return hostmsg.Response{}, err
		}
	}
}

// Listing is the decoded output of list.
type Listing struct {
	Provisioned []uint32
	Found       []uint32
}

func (c *Client) List(ctx context.Context) (*Listing, error) {
	res, err := c.Do(ctx, "list")
	if err != nil {
		return nil, err
	}
	var l Listing
	for _, line := range res.Info {
		prefix, value, ok := strings.Cut(line, ">")
		if !ok {
			continue
		}
		id, err := identity.ParseID(value)
		if err != nil {
			return nil, fmt.Errorf("%w: list line %q: %w", ErrProtocol, line, err)
		}
		switch prefix {
		case "P":
			l.Provisioned = append(l.Provisioned, id)
		case "F", "C":
			l.Found = append(l.Found, id)
		}
	}
	return &l, nil
}

// Boot asks the device to boot and returns its boot message.
func (c *Client) Boot(ctx context.Context) (string, error) {
	res, err := c.Do(ctx, "boot")
	if err != nil {
		return "", err
	}
	for _, line := range res.Info {
		if msg, ok := strings.CutPrefix(line, "AP>"); ok {
			return msg, nil
		}
	}
	return "", nil
}

// Replace swaps oldID for newID in the device's registry.
func (c *Client) Replace(ctx context.Context, token string, newID, oldID uint32) error {
	_, err := c.Do(ctx, "replace", token, FormatID(newID), FormatID(oldID))
	return err
}

// Attestation is the decoded output of attest.
type Attestation struct {
	ComponentID uint32
	Location    string
	Date        string
	Customer    string
}

func (c *Client) Attest(ctx context.Context, pin string, componentID uint32) (*Attestation, error) {
	res, err := c.Do(ctx, "attest", pin, FormatID(componentID))
	if err != nil {
		return nil, err
	}
	a := &Attestation{}
	for _, line := range res.Info {
		key, value, _ := strings.Cut(line, ">")
		switch key {
		case "C":
			if a.ComponentID, err = identity.ParseID(value); err != nil {
				return nil, fmt.Errorf("%w: attest line %q: %w", ErrProtocol, line, err)
			}
		case "LOC":
			a.Location = value
		case "DATE":
			a.Date = value
		case "CUST":
			a.Customer = value
		}
	}
	return a, nil
}

// FormatID renders an id the way the device expects it.
func FormatID(id uint32) string {
	return fmt.Sprintf("0x%x", id)
}
