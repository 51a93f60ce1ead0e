package secure

import (
	"context"
	"fmt"
	"sync"

	"github.com/aspect-build/apgate/internal/identity"
)

// Loopback answers exchanges in-process on behalf of provisioned Components.
// Payloads are not protected; it stands in for a real transport on benches
// and in tests.
type Loopback struct {
	mu        sync.Mutex
	peers     map[uint8]*identity.Component
	exchanges int
}

// NewLoopback attaches each Component at AddressFor(c.ID).
func NewLoopback(components ...*identity.Component) *Loopback {
	l := &Loopback{peers: make(map[uint8]*identity.Component, len(components))}
	for _, c := range components {
		l.peers[AddressFor(c.ID)] = c
	}
	return l
}

// Exchanges returns how many exchanges have been attempted.
func (l *Loopback) Exchanges() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exchanges
}

func (l *Loopback) Exchange(ctx context.Context, addr uint8, request []byte) ([]byte, error) {
	l.mu.Lock()
	l.exchanges++
	peer, ok := l.peers[addr]
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no device at 0x%02x", ErrCommunication, addr)
	}

	var req Request
	if err := Unmarshal(request, &req); err != nil {
		return nil, fmt.Errorf("%w: decode request: %w", ErrCommunication, err)
	}
	if req.Op != OpAttest {
		return nil, fmt.Errorf("%w: unsupported op %d", ErrCommunication, req.Op)
	}
	if req.ComponentID != peer.ID {
		return nil, fmt.Errorf("%w: device at 0x%02x is 0x%08x, not 0x%08x",
			ErrCommunication, addr, peer.ID, req.ComponentID)
	}

	return Marshal(AttestationRecord{
		Location: peer.AttestationLoc,
		Date:     peer.AttestationDate,
		Customer: peer.AttestationCustomer,
	})
}
