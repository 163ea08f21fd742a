package main

import (
	"context"
	"errors"
	"net"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	testCases := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.20.30.40", true},
		{"172.16.5.4", true},
		{"192.168.0.10", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"fd12:3456::1", true},
		{"::ffff:10.0.0.1", true},
		{"::", true},
		{"8.8.8.8", false},
		{"203.0.113.10", false},
		{"172.32.0.1", false},
		{"100.128.0.1", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tc := range testCases {
		t.Run(tc.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tc.ip)); got != tc.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tc.ip, got, tc.want)
			}
		})
	}
}

func TestIsPrivateHostLiteral(t *testing.T) {
	testCases := []struct {
		host string
		want bool
	}{
		{"", true},
		{"localhost", true},
		{"LOCALHOST", true},
		{"localhost.", true},
		{"api.localhost", true},
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"169.254.0.1", true},
		{"100.100.100.100", true},
		{"[::1]", true},
		{"::ffff:127.0.0.1", true},
		{"fd00::1", true},
		{"example.com", false},
		{"localhost.example.com", false},
		{"172.32.0.1", false},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
	}

	for _, tc := range testCases {
		t.Run(tc.host, func(t *testing.T) {
			if got := isPrivateHostLiteral(tc.host); got != tc.want {
				t.Errorf("isPrivateHostLiteral(%q) = %v, want %v", tc.host, got, tc.want)
			}
		})
	}
}

// erroringResolver fails every lookup
type erroringResolver struct{}

func (erroringResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return nil, &net.DNSError{Err: "no such host", Name: "nowhere.example", IsNotFound: true}
}

func TestSafeResolver_Resolve(t *testing.T) {
	fake := &fakeResolver{addrs: map[string][]string{
		"public.example": {"203.0.113.1", "2001:db8::1"},
		"mixed.example":  {"203.0.113.1", "192.168.0.1"},
		"empty.example":  {},
	}}
	resolver := NewSafeResolver(fake, nil)

	testCases := []struct {
		name    string
		host    string
		want    error
		wantLen int
	}{
		{"all public", "public.example", nil, 2},
		{"one private address poisons the host", "mixed.example", ErrSSRFBlocked, 0},
		{"no addresses", "empty.example", ErrTransport, 0},
		{"public ip literal", "203.0.113.7", nil, 1},
		{"private ip literal", "10.0.0.1", ErrSSRFBlocked, 0},
		{"bracketed ipv6 literal", "[::1]", ErrSSRFBlocked, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ips, err := resolver.Resolve(context.Background(), tc.host)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Errorf("Expected %v, got %v", tc.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if len(ips) != tc.wantLen {
				t.Errorf("Expected %d addresses, got %v", tc.wantLen, ips)
			}
		})
	}

	_, err := NewSafeResolver(erroringResolver{}, nil).Resolve(context.Background(), "nowhere.example")
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Expected ErrTransport for failed lookup, got %v", err)
	}
}

func TestSafeResolver_DialContext(t *testing.T) {
	fake := &fakeResolver{addrs: map[string][]string{
		"public.example":  {"203.0.113.1"},
		"private.example": {"10.9.8.7"},
	}}
	resolver := NewSafeResolver(fake, nil)

	var dialed []string
	resolver.dialer = func(_ context.Context, _, addr string) (net.Conn, error) {
		dialed = append(dialed, addr)
		client, server := net.Pipe()
		_ = server.Close()
		return client, nil
	}

	conn, err := resolver.DialContext(context.Background(), "tcp", "public.example:443", &net.Dialer{})
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	_ = conn.Close()

	if len(dialed) != 1 || dialed[0] != "203.0.113.1:443" {
		t.Errorf("Expected dial to the validated address, got %v", dialed)
	}

	_, err = resolver.DialContext(context.Background(), "tcp", "private.example:80", &net.Dialer{})
	if !errors.Is(err, ErrSSRFBlocked) {
		t.Errorf("Expected ErrSSRFBlocked, got %v", err)
	}
	if len(dialed) != 1 {
		t.Errorf("Blocked host must not be dialed, got %v", dialed)
	}
}
