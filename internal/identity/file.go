package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// provisionFile is the on-disk layout written by the packaging step.
//
//	role: ap
//	ap:
//	  pin: "123456"
//	  token: "0123456789abcdef"
//	  boot_msg: "AP boot"
//	  authorized_ids: ["0x11111124", "0x11111125"]
type provisionFile struct {
	Role      string         `yaml:"role" json:"role"`
	AP        *apFile        `yaml:"ap,omitempty" json:"ap,omitempty"`
	Component *componentFile `yaml:"component,omitempty" json:"component,omitempty"`
}

type apFile struct {
	Pin           string   `yaml:"pin" json:"pin"`
	Token         string   `yaml:"token" json:"token"`
	BootMsg       string   `yaml:"boot_msg" json:"boot_msg"`
	AuthorizedIDs []string `yaml:"authorized_ids" json:"authorized_ids"`
}

type componentFile struct {
	ID                  string `yaml:"id" json:"id"`
	BootMsg             string `yaml:"boot_msg" json:"boot_msg"`
	AttestationLoc      string `yaml:"attestation_loc" json:"attestation_loc"`
	AttestationDate     string `yaml:"attestation_date" json:"attestation_date"`
	AttestationCustomer string `yaml:"attestation_customer" json:"attestation_customer"`
}

// FileSource is a Source read from a provisioning file. YAML is the default
// format; files ending in .json or .jsonc are parsed as JSON with comments.
type FileSource struct {
	path string
	f    provisionFile
}

// LoadFile reads and decodes the provisioning file at path.
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provisioning file: %w", err)
	}

	var f provisionFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse provisioning file %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("parse provisioning file %s: %w", path, err)
		}
	}
	return &FileSource{path: path, f: f}, nil
}

func (s *FileSource) Role() (Role, error) {
	return ParseRole(s.f.Role)
}

func (s *FileSource) Component() (Component, error) {
	c := s.f.Component
	if c == nil {
		return Component{}, fmt.Errorf("%w: component section in %s", ErrMissingConstant, s.path)
	}
	id, err := ParseID(c.ID)
	if err != nil {
		return Component{}, fmt.Errorf("component id: %w", err)
	}
	return Component{
		ID:                  id,
		BootMsg:             c.BootMsg,
		AttestationLoc:      c.AttestationLoc,
		AttestationDate:     c.AttestationDate,
		AttestationCustomer: c.AttestationCustomer,
	}, nil
}

func (s *FileSource) AP() (AP, error) {
	a := s.f.AP
	if a == nil {
		return AP{}, fmt.Errorf("%w: ap section in %s", ErrMissingConstant, s.path)
	}
	ids := make([]uint32, 0, len(a.AuthorizedIDs))
	for _, raw := range a.AuthorizedIDs {
		id, err := ParseID(raw)
		if err != nil {
			return AP{}, fmt.Errorf("authorized id: %w", err)
		}
		ids = append(ids, id)
	}
	return AP{
		Pin:           a.Pin,
		Token:         a.Token,
		BootMsg:       a.BootMsg,
		AuthorizedIDs: ids,
	}, nil
}

// ParseID parses a 0x-prefixed hexadecimal component id.
func ParseID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return 0, fmt.Errorf("invalid id %q: expected 0x-prefixed hex", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uint32(v), nil
}
