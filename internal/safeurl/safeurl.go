// Package safeurl guards destination registration against URLs that resolve
// into network ranges the service must never call out to.
package safeurl

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"time"
)

const lookupTimeout = 5 * time.Second

// Checker validates destination URLs at registration and edit time. The
// delivery path trusts a URL once admitted; targets are owner-controlled,
// not attacker-controlled per request.
type Checker struct {
	// Resolver defaults to the system resolver.
	Resolver *net.Resolver
}

// cgnat is the carrier-grade NAT range (RFC 6598), which netip does not
// classify as private.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// IsSafe reports whether the URL may be registered as a forwarding target.
// Anything that cannot be parsed or resolved is unsafe.
func (c *Checker) IsSafe(ctx context.Context, target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}

	resolver := c.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	addrs, err := resolver.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return false
	}

	// every resolved address must be globally routable; one bad A record
	// poisons the whole target
	for _, addr := range addrs {
		if !isGloballyRoutable(addr.Unmap()) {
			return false
		}
	}
	return true
}

func isGloballyRoutable(addr netip.Addr) bool {
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified(),
		cgnat.Contains(addr):
		return false
	}
	return true
}
