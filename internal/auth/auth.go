// Package auth gates sensitive commands behind provisioned secrets.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/aspect-build/apgate/internal/redact"
)

var ErrMismatch = errors.New("credential mismatch")

// Credential is a secret presented by the host or provisioned on the device.
// Its String form is masked so it can be passed to loggers safely.
type Credential []byte

func (c Credential) String() string { return redact.Placeholder }

// Check compares presented against expected in constant time. Lengths are
// not hidden.
func Check(presented, expected Credential) error {
	if subtle.ConstantTimeCompare(presented, expected) != 1 {
		return ErrMismatch
	}
	return nil
}

// Gate binds a provisioned secret to the operation it protects.
type Gate struct {
	label    string
	expected Credential
}

// NewGate returns a Gate for label ("Token", "Pin").
func NewGate(label, secret string) *Gate {
	return &Gate{label: label, expected: Credential(secret)}
}

// Label names the secret the gate checks.
func (g *Gate) Label() string { return g.label }

// Allow reports ErrMismatch, wrapped with the gate label, unless presented
// matches the provisioned secret.
func (g *Gate) Allow(presented Credential) error {
	if err := Check(presented, g.expected); err != nil {
		return fmt.Errorf("%s: %w", g.label, err)
	}
	return nil
}

// Denial is the operator-facing message for a failed check.
func (g *Gate) Denial() string {
	return "Incorrect " + g.label
}
