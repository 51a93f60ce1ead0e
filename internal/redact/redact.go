// Package redact masks provisioned secrets out of byte streams before they
// reach logs or debug transcripts.
package redact

import (
	"io"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const Placeholder = "[REDACTED]"

// MaskingWriter wraps an io.Writer and replaces any occurrence of a secret
// with Placeholder. Matches that span Write() boundaries are caught by
// holding back up to maxSecretLen-1 bytes until the next Write or Flush.
type MaskingWriter struct {
	mu           sync.Mutex
	out          io.Writer
	matcher      aho.AhoCorasick
	secrets      []string
	maxSecretLen int
	buf          []byte
}

// NewMaskingWriter creates a MaskingWriter for the given secrets. Empty
// secrets are ignored; with none left, writes pass through unmodified.
func NewMaskingWriter(out io.Writer, secrets []string) *MaskingWriter {
	var filtered []string
	for _, s := range secrets {
		if len(s) > 0 {
			filtered = append(filtered, s)
		}
	}

	mw := &MaskingWriter{
		out:     out,
		secrets: filtered,
	}
	if len(filtered) == 0 {
		return mw
	}

	for _, s := range filtered {
		if len(s) > mw.maxSecretLen {
			mw.maxSecretLen = len(s)
		}
	}

	builder := aho.NewAhoCorasickBuilder(aho.Opts{})
	mw.matcher = builder.Build(filtered)
	return mw
}

// Write implements io.Writer.
func (mw *MaskingWriter) Write(p []byte) (int, error) {
	if len(mw.secrets) == 0 {
		return mw.out.Write(p)
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	mw.buf = append(mw.buf, p...)
	if err := mw.process(false); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush writes out anything still held back.
func (mw *MaskingWriter) Flush() error {
	if len(mw.secrets) == 0 {
		return nil
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	return mw.process(true)
}

// String masks s in one shot.
func (mw *MaskingWriter) String(s string) string {
	if len(mw.secrets) == 0 {
		return s
	}
	var out []byte
	pos := 0
	for _, m := range mw.matcher.FindAll(s) {
		if m.Start() < pos {
			continue
		}
		out = append(out, s[pos:m.Start()]...)
		out = append(out, Placeholder...)
		pos = m.End()
	}
	out = append(out, s[pos:]...)
	return string(out)
}

func (mw *MaskingWriter) process(flushAll bool) error {
	if len(mw.buf) == 0 {
		return nil
	}

	safeEnd := len(mw.buf)
	if !flushAll {
		safeEnd = len(mw.buf) - (mw.maxSecretLen - 1)
		if safeEnd <= 0 {
			return nil
		}
	}

	// Search the whole buffer so matches straddling safeEnd are seen.
	matches := mw.matcher.FindAll(string(mw.buf))

	var result []byte
	pos := 0
	consumedEnd := safeEnd

	for _, m := range matches {
		start, end := m.Start(), m.End()
		if start < pos {
			continue
		}
		if start >= safeEnd && !flushAll {
			break
		}

		result = append(result, mw.buf[pos:start]...)
		result = append(result, Placeholder...)
		pos = end
		if end > consumedEnd {
			consumedEnd = end
		}
	}

	if pos < safeEnd {
		result = append(result, mw.buf[pos:safeEnd]...)
	}
	if len(result) > 0 {
		if _, err := mw.out.Write(result); err != nil {
			return err
		}
	}

	remaining := make([]byte, len(mw.buf)-consumedEnd)
	copy(remaining, mw.buf[consumedEnd:])
	mw.buf = remaining
	return nil
}
