package flash

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aspect-build/apgate/internal/registry"
	"golang.org/x/crypto/blake2b"
)

// imageSize is the on-disk size: the flash layout followed by its
// BLAKE2b-256 digest.
const imageSize = registry.EntrySize + blake2b.Size256

var ErrCorrupt = errors.New("flash image checksum mismatch")

// FileStore persists the registry entry as a single image file. Writes go to
// a temporary file that is synced and renamed over the image, so a reader
// sees either the old or the new entry.
type FileStore struct {
	path    string
	lastErr error
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create flash directory: %w", err)
	}
	return nil
}

func (f *FileStore) Read() (registry.Entry, error) {
	e, err := f.read()
	f.lastErr = err
	return e, err
}

func (f *FileStore) read() (registry.Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return registry.Entry{}, registry.ErrBlank
	}
	if err != nil {
		return registry.Entry{}, fmt.Errorf("read flash image: %w", err)
	}
	if len(data) == 0 || isErased(data) {
		return registry.Entry{}, registry.ErrBlank
	}
	if len(data) != imageSize {
		return registry.Entry{}, fmt.Errorf("flash image %s: got %d bytes, want %d", f.path, len(data), imageSize)
	}

	body, sum := data[:registry.EntrySize], data[registry.EntrySize:]
	want := blake2b.Sum256(body)
	if !bytes.Equal(sum, want[:]) {
		return registry.Entry{}, fmt.Errorf("%w: %s", ErrCorrupt, f.path)
	}

	var e registry.Entry
	if err := e.UnmarshalBinary(body); err != nil {
		return registry.Entry{}, err
	}
	return e, nil
}

func (f *FileStore) Write(e registry.Entry) error {
	f.lastErr = f.write(e)
	return f.lastErr
}

func (f *FileStore) write(e registry.Entry) error {
	body, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	sum := blake2b.Sum256(body)
	img := append(body, sum[:]...)

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".flash-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp image: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace flash image: %w", err)
	}
	return nil
}

func (f *FileStore) Poll() error {
	return f.lastErr
}

func isErased(data []byte) bool {
	for _, b := range data {
		if b != 0xff {
			return false
		}
	}
	return true
}
