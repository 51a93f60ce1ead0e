package registry

import "errors"

// ErrBlank is returned by Store.Read when the medium holds no entry (erased
// flash, missing file, empty table).
var ErrBlank = errors.New("storage blank")

// Store is the persistent storage primitive behind the registry. Calls are
// synchronous and may fail; Poll reports completion status of the last write
// and must be checked before a read-back is trusted.
type Store interface {
	// Initialize prepares the backing medium.
	Initialize() error
	// Read returns the stored entry, or ErrBlank.
	Read() (Entry, error)
	// Write replaces the stored entry.
	Write(e Entry) error
	// Poll reports whether the last operation completed successfully.
	Poll() error
}
