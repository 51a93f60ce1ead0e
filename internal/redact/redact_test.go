package redact

import (
	"bytes"
	"testing"
)

func TestMaskingWriter_Basic(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"123456", "tok3n-value"})

	mw.Write([]byte("pin=123456 token=tok3n-value end"))
	mw.Flush()

	want := "pin=[REDACTED] token=[REDACTED] end"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskingWriter_ChunkBoundary(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{"0123abcd"})

	mw.Write([]byte("rx 0123"))
	mw.Write([]byte("abcd\r"))
	mw.Flush()

	want := "rx [REDACTED]\r"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaskingWriter_NoSecrets(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMaskingWriter(&buf, []string{""})

	mw.Write([]byte("passthrough"))
	mw.Flush()

	if got := buf.String(); got != "passthrough" {
		t.Fatalf("got %q, want %q", got, "passthrough")
	}
}

func TestMaskingWriter_String(t *testing.T) {
	mw := NewMaskingWriter(nil, []string{"AAA", "BBB"})
	got := mw.String("AAA and BBB and AAA")
	want := "[REDACTED] and [REDACTED] and [REDACTED]"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
