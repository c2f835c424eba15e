package pairing

import (
	"context"
	"fmt"
	"sync"
)

// Resolver maps a validated code to the host advertising it.
type Resolver interface {
	Resolve(ctx context.Context, code Code) (Target, error)
}

// Advertiser publishes a hosting session's code so a Resolver can find it.
type Advertiser interface {
	Advertise(code Code, addr string) error
	Withdraw(code Code)
}

// Negotiator turns user input into a dial target. Input is validated locally
// first, so a malformed code never reaches the network.
type Negotiator struct {
	resolver Resolver
}

// NewNegotiator creates a negotiator using resolver for bare codes.
// resolver may be nil when only invites are accepted.
func NewNegotiator(resolver Resolver) *Negotiator {
	return &Negotiator{resolver: resolver}
}

// Negotiate accepts either a bare code or an invite string.
func (n *Negotiator) Negotiate(ctx context.Context, input string) (Target, error) {
	if IsInvite(input) {
		invite, err := ParseInvite(input)
		if err != nil {
			return Target{}, err
		}
		return invite.Target(), nil
	}

	code, err := ParseCode(input)
	if err != nil {
		return Target{}, err
	}
	if n.resolver == nil {
		return Target{}, fmt.Errorf("%w: no host address known for code %s", ErrPeerUnavailable, code)
	}
	return n.resolver.Resolve(ctx, code)
}

// StaticResolver resolves every code to one host address. Whether that host
// really advertises the code is only known once the guest dials.
type StaticResolver struct {
	Addr string
}

func (r StaticResolver) Resolve(ctx context.Context, code Code) (Target, error) {
	if r.Addr == "" {
		return Target{}, fmt.Errorf("%w: no host address configured", ErrPeerUnavailable)
	}
	return Target{Addr: r.Addr, Code: code}, nil
}

// Directory is an in-process table of advertised codes. It lets hosts and
// guests in the same process (tests, loopback) find each other.
type Directory struct {
	mu      sync.RWMutex
	entries map[Code]string
}

var (
	_ Resolver   = (*Directory)(nil)
	_ Advertiser = (*Directory)(nil)
)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[Code]string)}
}

func (d *Directory) Advertise(code Code, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.entries[code]; taken {
		return fmt.Errorf("pairing code %s is already advertised", code)
	}
	d.entries[code] = addr
	return nil
}

func (d *Directory) Withdraw(code Code) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, code)
}

func (d *Directory) Resolve(ctx context.Context, code Code) (Target, error) {
	if err := ctx.Err(); err != nil {
		return Target{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.entries[code]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrPeerUnavailable, code)
	}
	return Target{Addr: addr, Code: code}, nil
}

// Len returns the number of advertised codes.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
