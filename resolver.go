package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
)

// Pre-compiled CIDR networks for reserved ranges not covered by net.IP helpers
var (
	cgnat    = mustParseCIDR("100.64.0.0/10") // Carrier-grade NAT
	thisNet  = mustParseCIDR("0.0.0.0/8")
	v6unique = mustParseCIDR("fc00::/7")
	v6link   = mustParseCIDR("fe80::/10")
)

// privateIPv4Literal matches dotted-quad hosts in private, loopback and link-local ranges
var privateIPv4Literal = regexp.MustCompile(`^(0|10|127)\.\d{1,3}\.\d{1,3}\.\d{1,3}$|^169\.254\.\d{1,3}\.\d{1,3}$|^172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}$|^192\.168\.\d{1,3}\.\d{1,3}$|^100\.(6[4-9]|[7-9]\d|1[01]\d|12[0-7])\.\d{1,3}\.\d{1,3}$`)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic("invalid CIDR " + s + ": " + err.Error())
	}
	return n
}

// isPrivateIP reports whether ip must never be connected to.
// IPv4-mapped IPv6 addresses are unwrapped before checking.
func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	return cgnat.Contains(ip) || thisNet.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip)
}

// isPrivateHostLiteral is a textual check on the hostname, done before any DNS lookup
func isPrivateHostLiteral(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if privateIPv4Literal.MatchString(host) {
		return true
	}
	if strings.Contains(host, ":") {
		if ip := net.ParseIP(host); ip != nil {
			return isPrivateIP(ip)
		}
	}
	return false
}

// HostResolver looks up the addresses of a host. *net.Resolver satisfies it.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// SafeResolver resolves hostnames and refuses any host with a non-routable address
type SafeResolver struct {
	resolver HostResolver
	dialer   func(ctx context.Context, network, addr string) (net.Conn, error)
	logger   *slog.Logger
}

// NewSafeResolver wraps resolver. A nil resolver uses net.DefaultResolver.
func NewSafeResolver(resolver HostResolver, logger *slog.Logger) *SafeResolver {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeResolver{resolver: resolver, logger: logger}
}

// Resolve returns every address of host. If any of them is private, loopback or
// link-local the whole host is rejected with ErrSSRFBlocked.
func (r *SafeResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrSSRFBlocked, ip)
		}
		return []net.IP{ip}, nil
	}

	addrs, err := r.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: DNS lookup failed for %s: %w", ErrTransport, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %s", ErrTransport, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if isPrivateIP(addr.IP) {
			r.logger.Warn("Blocked host resolving to private address", "host", host, "ip", addr.IP.String())
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrSSRFBlocked, host, addr.IP)
		}
		ips = append(ips, addr.IP)
	}

	return ips, nil
}

// DialContext validates the destination host and connects to one of its
// validated addresses, so the checked IP is the one actually dialed.
func (r *SafeResolver) DialContext(ctx context.Context, network, addr string, dialer *net.Dialer) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	ips, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	dial := dialer.DialContext
	if r.dialer != nil {
		dial = r.dialer
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed to connect to any resolved IP of %s: %w", host, lastErr)
}
