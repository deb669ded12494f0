// Package target gates which host:port pairs a run may address. The
// default safe mode only admits targets that resolve to non-globally-
// routable addresses (loopback, RFC 1918/4193 private, link-local).
package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// ErrTargetRejected is returned when a target fails the safety gate.
// Callers check it with errors.Is.
var ErrTargetRejected = errors.New("target rejected")

// Validator decides whether a host:port pair may be targeted. The zero
// value is the safe mode.
type Validator struct {
	// AllowPublic admits globally routable targets. Off by default;
	// only set it for explicitly authorized test environments.
	AllowPublic bool

	// Resolver overrides DNS resolution, mainly for tests. Nil means
	// net.DefaultResolver.
	Resolver *net.Resolver
}

// New returns a safe-mode Validator.
func New() *Validator { return &Validator{} }

// Validate resolves host and checks every resolved address against the
// permitted ranges. It runs once before a run starts and is never
// re-checked mid-run.
func (v *Validator) Validate(ctx context.Context, host string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrTargetRejected, port)
	}
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrTargetRejected)
	}

	addrs, err := v.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolving %q: %v", ErrTargetRejected, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: %q resolved to no addresses", ErrTargetRejected, host)
	}

	if v.AllowPublic {
		return nil
	}
	for _, addr := range addrs {
		if !permitted(addr) {
			return fmt.Errorf("%w: %s is globally routable (safe mode)", ErrTargetRejected, addr)
		}
	}
	return nil
}

func (v *Validator) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return resolver.LookupNetIP(ctx, "ip", host)
}

// permitted reports whether addr falls inside the safe-mode ranges.
func permitted(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback():
		return true
	case addr.IsPrivate(): // RFC 1918 and RFC 4193 ULA
		return true
	case addr.IsLinkLocalUnicast():
		return true
	case addr.IsUnspecified():
		return true
	default:
		return false
	}
}
