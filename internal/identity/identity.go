// Package identity resolves which device role an image was provisioned for
// and exposes that role's constants.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Role is the provisioned device role.
type Role uint8

const (
	RoleComponent Role = iota
	RoleAP
)

func (r Role) String() string {
	switch r {
	case RoleComponent:
		return "component"
	case RoleAP:
		return "ap"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a provisioning role tag to a Role.
func ParseRole(tag string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "component", "comp", "0":
		return RoleComponent, nil
	case "ap", "application_processor", "application-processor", "1":
		return RoleAP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, tag)
	}
}

var (
	ErrInvalidRole     = errors.New("invalid device role")
	ErrMissingConstant = errors.New("missing provisioned constant")
)

// Component holds the constants provisioned into a Component image.
type Component struct {
	ID                  uint32
	BootMsg             string
	AttestationLoc      string
	AttestationDate     string
	AttestationCustomer string
}

// AP holds the constants provisioned into an Application Processor image.
type AP struct {
	Pin           string
	Token         string
	BootMsg       string
	AuthorizedIDs []uint32
}

// Source is the read-only view of the build-time provisioning data.
type Source interface {
	Role() (Role, error)
	Component() (Component, error)
	AP() (AP, error)
}

// Identity is the resolved, immutable identity of this device. Exactly one
// of the role payloads is set.
type Identity struct {
	role Role
	comp *Component
	ap   *AP
}

// Resolve queries src once and validates the constants for its role.
func Resolve(src Source) (*Identity, error) {
	role, err := src.Role()
	if err != nil {
		return nil, err
	}

	switch role {
	case RoleComponent:
		c, err := src.Component()
		if err != nil {
			return nil, fmt.Errorf("read component constants: %w", err)
		}
		if c.ID == 0 {
			return nil, fmt.Errorf("%w: component id", ErrMissingConstant)
		}
		return &Identity{role: role, comp: &c}, nil
	case RoleAP:
		a, err := src.AP()
		if err != nil {
			return nil, fmt.Errorf("read ap constants: %w", err)
		}
		if a.Pin == "" {
			return nil, fmt.Errorf("%w: ap pin", ErrMissingConstant)
		}
		if a.Token == "" {
			return nil, fmt.Errorf("%w: ap token", ErrMissingConstant)
		}
		ids := make([]uint32, len(a.AuthorizedIDs))
		copy(ids, a.AuthorizedIDs)
		a.AuthorizedIDs = ids
		return &Identity{role: role, ap: &a}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, role)
	}
}

// Role reports the provisioned role.
func (id *Identity) Role() Role { return id.role }

// IsAP reports whether this is an Application Processor image.
func (id *Identity) IsAP() bool { return id.role == RoleAP }

// AP returns the Application Processor constants. Calling it on a Component
// identity is a programming error.
func (id *Identity) AP() AP {
	if id.ap == nil {
		panic("identity: AP constants requested on a " + id.role.String() + " image")
	}
	a := *id.ap
	a.AuthorizedIDs = append([]uint32(nil), id.ap.AuthorizedIDs...)
	return a
}

// Component returns the Component constants. Calling it on an AP identity is
// a programming error.
func (id *Identity) Component() Component {
	if id.comp == nil {
		panic("identity: Component constants requested on an " + id.role.String() + " image")
	}
	return *id.comp
}

// BootMsg returns the provisioned boot message for either role.
func (id *Identity) BootMsg() string {
	if id.ap != nil {
		return id.ap.BootMsg
	}
	return id.comp.BootMsg
}

// Secrets lists the provisioned values that must never appear in logs.
func (id *Identity) Secrets() []string {
	if id.ap == nil {
		return nil
	}
	return []string{id.ap.Pin, id.ap.Token}
}

// Provider resolves the identity on first use and caches it for the life of
// the process.
type Provider struct {
	src  Source
	once sync.Once
	id   *Identity
	err  error
}

func NewProvider(src Source) *Provider {
	return &Provider{src: src}
}

// Get returns the resolved identity. The Source is queried exactly once.
func (p *Provider) Get() (*Identity, error) {
	p.once.Do(func() {
		p.id, p.err = Resolve(p.src)
	})
	return p.id, p.err
}
