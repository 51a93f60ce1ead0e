package flash

import (
	"fmt"
	"strings"

	"github.com/aspect-build/apgate/internal/registry"
)

// Open builds a store from a spec string: "memory", "file:<path>" or
// "sqlite:<path>". The returned close func releases backend resources.
func Open(spec string) (registry.Store, func() error, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	noop := func() error { return nil }

	switch kind {
	case "memory":
		return NewMemoryStore(), noop, nil
	case "file":
		if arg == "" {
			return nil, nil, fmt.Errorf("store %q: missing path", spec)
		}
		return NewFileStore(arg), noop, nil
	case "sqlite":
		if arg == "" {
			return nil, nil, fmt.Errorf("store %q: missing path", spec)
		}
		s, err := NewSQLiteStore(arg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q (expected memory|file:<path>|sqlite:<path>)", kind)
	}
}
