package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aspect-build/apgate/internal/auth"
	"github.com/aspect-build/apgate/internal/hostmsg"
	"github.com/aspect-build/apgate/internal/identity"
)

// ErrParse reports a command line or argument that could not be decoded. Its
// text is what the host sees.
var ErrParse = errors.New("input could not be parsed")

// Mode selects how replace and attest receive their arguments.
type Mode int

const (
	// ModePrompt solicits each argument separately, acknowledging the
	// command and every argument but the last with %ack%.
	ModePrompt Mode = iota
	// ModeBatch expects every argument on the command line.
	ModeBatch
)

func (m Mode) String() string {
	if m == ModeBatch {
		return "batch"
	}
	return "prompt"
}

// ParseMode accepts "prompt" or "batch". An empty value selects ModePrompt.
func ParseMode(v string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "prompt":
		return ModePrompt, nil
	case "batch":
		return ModeBatch, nil
	default:
		return 0, fmt.Errorf("invalid argument mode %q (valid: prompt, batch)", v)
	}
}

// Command is one decoded host request.
type Command interface {
	Name() string
}

type (
	List struct{}
	Boot struct{}

	Replace struct {
		Token auth.Credential
		NewID uint32
		OldID uint32
	}

	Attest struct {
		Pin         auth.Credential
		ComponentID uint32
	}

	// Unrecognized carries the raw line of a command word outside the
	// recognized set.
	Unrecognized struct {
		Raw string
	}
)

func (List) Name() string         { return "list" }
func (Boot) Name() string         { return "boot" }
func (Replace) Name() string      { return "replace" }
func (Attest) Name() string       { return "attest" }
func (Unrecognized) Name() string { return "unrecognized" }

// Receive buffer sizes for solicited arguments. Longer values are rejected.
const (
	TokenSize = 16
	PinSize   = 6
	IDSize    = 16
)

// argSpec describes one solicited argument: its receive buffer size.
type argSpec struct {
	name string
	size int
}

var arguments = map[string][]argSpec{
	"list": nil,
	"boot": nil,
	"replace": {
		{"token", TokenSize},
		{"new id", IDSize},
		{"old id", IDSize},
	},
	"attest": {
		{"pin", PinSize},
		{"component id", IDSize},
	},
}

// decode builds the command for word from its already-split arguments. It is
// shared by both argument modes.
func decode(word string, args []string) (Command, error) {
	want := len(arguments[word])
	if len(args) != want {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrParse, word, want, len(args))
	}
	for i, a := range args {
		if len(a) > arguments[word][i].size {
			return nil, fmt.Errorf("%w: %s too long", ErrParse, arguments[word][i].name)
		}
	}

	switch word {
	case "list":
		return List{}, nil
	case "boot":
		return Boot{}, nil
	case "replace":
		newID, err := identity.ParseID(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		oldID, err := identity.ParseID(args[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		return Replace{Token: auth.Credential(args[0]), NewID: newID, OldID: oldID}, nil
	case "attest":
		id, err := identity.ParseID(args[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		return Attest{Pin: auth.Credential(args[0]), ComponentID: id}, nil
	}
	return nil, fmt.Errorf("%w: unknown command %q", ErrParse, word)
}

// ParseBatch decodes a full command line in batch mode.
func ParseBatch(raw string) (Command, error) {
	word := hostmsg.ParseLine(raw, 0).Command
	specs, ok := arguments[word]
	if !ok {
		return Unrecognized{Raw: raw}, nil
	}
	line := hostmsg.ParseLine(raw, len(specs))
	if line.Trailing != "" {
		return nil, fmt.Errorf("%w: %s takes no arguments", ErrParse, word)
	}
	return decode(word, line.Args)
}
