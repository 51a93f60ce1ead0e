package secure

import (
	"github.com/fxamacker/cbor/v2"
)

// Op identifies the request carried in an exchange.
type Op uint8

const (
	OpAttest Op = 1
)

// Request is the payload sent to a Component.
type Request struct {
	Op          Op     `cbor:"1,keyasint"`
	ComponentID uint32 `cbor:"2,keyasint"`
}

// AttestationRecord is the provisioned attestation data a Component returns.
type AttestationRecord struct {
	Location string `cbor:"1,keyasint"`
	Date     string `cbor:"2,keyasint"`
	Customer string `cbor:"3,keyasint"`
}

// encMode uses Core Deterministic Encoding so the same message always has the
// same bytes, which a channel that signs payloads depends on.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("secure: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic("secure: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v, rejecting unknown fields.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
