package hostmsg

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

// pipe is an io.ReadWriter with scripted input and captured output.
type pipe struct {
	in  *strings.Reader
	out bytes.Buffer
}

func newPipe(input string) *pipe {
	return &pipe{in: strings.NewReader(input)}
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func acquire(t *testing.T, ch *Channel) *Conn {
	t.Helper()
	conn, err := ch.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(conn.Release)
	return conn
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		raw      string
		arity    int
		command  string
		args     []string
		trailing string
	}{
		{"replace TOKEN123 0x1A 0x1B", 3, "replace", []string{"TOKEN123", "0x1A", "0x1B"}, ""},
		{"attest PIN 0x2C extra tokens", 2, "attest", []string{"PIN", "0x2C extra tokens"}, ""},
		{"replace a b c d e", 3, "replace", []string{"a", "b", "c d e"}, ""},
		{"  list", 0, "list", nil, ""},
		{"list now", 0, "list", nil, "now"},
		{"replace  tok   0x1  0x2", 3, "replace", []string{"tok", "0x1", "0x2"}, ""},
		{"attest 1234 ", 2, "attest", []string{"1234"}, ""},
		{"", 3, "", nil, ""},
		{"x a b c d", 9, "x", []string{"a", "b", "c d"}, ""},
	}
	for _, tt := range tests {
		got := ParseLine(tt.raw, tt.arity)
		if got.Command != tt.command || !reflect.DeepEqual(got.Args, tt.args) || got.Trailing != tt.trailing {
			t.Errorf("ParseLine(%q, %d) = %+v, want {%q %q %q}", tt.raw, tt.arity, got, tt.command, tt.args, tt.trailing)
		}
	}
}

func TestReadLine(t *testing.T) {
	p := newPipe("list\rboot\r\n")
	conn := acquire(t, New(p, Options{}))

	buf := make([]byte, 16)
	n, err := conn.ReadLine("Enter Command: ", buf)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if string(buf[:n]) != "list" {
		t.Errorf("line = %q, want list", buf[:n])
	}
	if p.out.String() != "Enter Command: " {
		t.Errorf("prompt = %q", p.out.String())
	}

	n, err = conn.ReadLine("", buf)
	if err != nil || string(buf[:n]) != "boot" {
		t.Fatalf("second ReadLine = %q, %v", buf[:n], err)
	}
}

func TestReadLineOverflow(t *testing.T) {
	long := strings.Repeat("A", 100)
	p := newPipe(long + "\rnext\r")
	conn := acquire(t, New(p, Options{}))

	buf := make([]byte, 8)
	n, err := conn.ReadLine("", buf)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("ReadLine: err = %v, want ErrOverflow", err)
	}
	if n != len(buf) {
		t.Errorf("n = %d, want %d", n, len(buf))
	}

	// The overflowing line was drained; the stream is aligned on the next one.
	n, err = conn.ReadLine("", buf)
	if err != nil || string(buf[:n]) != "next" {
		t.Fatalf("ReadLine after overflow = %q, %v", buf[:n], err)
	}
}

func TestReadArgExactFitIsNotOverflow(t *testing.T) {
	conn := acquire(t, New(newPipe("123456\r1234567\r"), Options{}))

	buf := make([]byte, 6)
	n, err := conn.ReadArg(buf)
	if err != nil || string(buf[:n]) != "123456" {
		t.Fatalf("ReadArg = %q, %v", buf[:n], err)
	}
	if _, err := conn.ReadArg(buf); !errors.Is(err, ErrOverflow) {
		t.Fatalf("ReadArg: err = %v, want ErrOverflow", err)
	}
}

func TestReadEOF(t *testing.T) {
	conn := acquire(t, New(newPipe("partial"), Options{}))
	if _, err := conn.ReadArg(make([]byte, 16)); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadArg: err = %v, want io.EOF", err)
	}
}

func TestEmit(t *testing.T) {
	p := newPipe("")
	conn := acquire(t, New(p, Options{}))

	conn.Infof("P>0x%08x", 0x1001)
	conn.Ack()
	conn.Successf("List")

	want := "%info: P>0x00001001%\n\r%ack%\n\r%success: List%\n\r"
	if got := p.out.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
	if err := conn.Emit(Tag("warn"), "x"); err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestEmitTranscript(t *testing.T) {
	p := newPipe("")
	conn := acquire(t, New(p, Options{BoardName: "A", Transcript: true}))

	conn.Errorf("Incorrect Pin")
	want := "%error: Incorrect Pin%\n\rA| "
	if got := p.out.String(); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}

	resp, ok := ParseResponse("\rA| %error: Incorrect Pin%")
	if !ok || resp.Tag != TagError || resp.Text != "Incorrect Pin" {
		t.Fatalf("ParseResponse = %+v, %v", resp, ok)
	}
}

func TestSingleBorrower(t *testing.T) {
	ch := New(newPipe("a\r"), Options{})

	first, err := ch.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := ch.Acquire(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("second Acquire: err = %v, want ErrUnavailable", err)
	}

	first.Release()
	first.Release()
	if _, err := first.ReadArg(make([]byte, 4)); !errors.Is(err, ErrReleased) {
		t.Fatalf("ReadArg after Release: err = %v, want ErrReleased", err)
	}

	second, err := ch.Acquire()
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	second.Release()
}

func TestReleaseOnEarlyReturn(t *testing.T) {
	ch := New(newPipe(""), Options{})
	handler := func() error {
		conn, err := ch.Acquire()
		if err != nil {
			return err
		}
		defer conn.Release()
		return errors.New("handler failed")
	}
	_ = handler()
	if _, err := ch.Acquire(); err != nil {
		t.Fatalf("handle leaked after early return: %v", err)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		line string
		want Response
		ok   bool
	}{
		{"%ack%", Response{Ack: true}, true},
		{"%info: F>0x00000024%\r", Response{Tag: TagInfo, Text: "F>0x00000024"}, true},
		{"Enter Command: %success: List%", Response{Tag: TagSuccess, Text: "List"}, true},
		{"%debug: Application Processor Started%", Response{Tag: TagDebug, Text: "Application Processor Started"}, true},
		{"%info: 50%% done%", Response{Tag: TagInfo, Text: "50%% done"}, true},
		{"no tags here", Response{}, false},
		{"%bogus: x%", Response{}, false},
		{"%", Response{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseResponse(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseResponse(%q) = %+v, %v; want %+v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}
