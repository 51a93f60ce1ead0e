// Package secure is the seam for authenticated request/response exchanges
// between the Application Processor and a Component over the board bus.
//
// No handshake or payload protection lives here. Channel implementations
// supply that; this package defines the contract, the message codec, and two
// implementations: Unimplemented, the production default, and Loopback, an
// in-memory peer set for tests and bench setups.
package secure

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned by the default channel. Callers must
	// treat it as "not wired up", never as an empty success.
	ErrNotImplemented = errors.New("secure channel not implemented")
	// ErrCommunication covers any failed exchange: no peer, bus error, or a
	// response that does not decode.
	ErrCommunication = errors.New("secure channel communication failure")
)

// Channel exchanges one request payload for one response payload with the
// Component at addr.
type Channel interface {
	Exchange(ctx context.Context, addr uint8, request []byte) ([]byte, error)
}

// Unimplemented is the Channel used when no secure transport is compiled in.
type Unimplemented struct{}

func (Unimplemented) Exchange(_ context.Context, _ uint8, _ []byte) ([]byte, error) {
	return nil, ErrNotImplemented
}

// AddressFor maps a Component id to its bus address: the id's low byte.
func AddressFor(componentID uint32) uint8 {
	return uint8(componentID & 0xff)
}

// Attest asks the Component with componentID for its attestation record.
// ErrNotImplemented from ch is returned unwrapped so callers can match it
// directly; every other failure wraps ErrCommunication.
func Attest(ctx context.Context, ch Channel, componentID uint32) (AttestationRecord, error) {
	req, err := Marshal(Request{Op: OpAttest, ComponentID: componentID})
	if err != nil {
		return AttestationRecord{}, fmt.Errorf("encode attest request: %w", err)
	}

	resp, err := ch.Exchange(ctx, AddressFor(componentID), req)
	if errors.Is(err, ErrNotImplemented) {
		return AttestationRecord{}, err
	}
	if err != nil {
		if errors.Is(err, ErrCommunication) {
			return AttestationRecord{}, err
		}
		return AttestationRecord{}, fmt.Errorf("%w: %w", ErrCommunication, err)
	}

	var rec AttestationRecord
	if err := Unmarshal(resp, &rec); err != nil {
		return AttestationRecord{}, fmt.Errorf("%w: decode attestation record: %w", ErrCommunication, err)
	}
	return rec, nil
}
