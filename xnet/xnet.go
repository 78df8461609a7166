// Package xnet parses the proto://addr endpoints accepted by the daemon and
// the control tool.
package xnet

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ParseProtoAddr splits s into a protocol and an address. Addresses without a
// protocol are tcp.
func ParseProtoAddr(s string) (string, string, error) {
	if s == "" {
		return "", "", errors.New("empty address")
	}
	parts := strings.SplitN(s, "://", 2)
	if len(parts) == 1 {
		return "tcp", s, nil
	}
	switch parts[0] {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return "", "", errors.Errorf("unsupported protocol %q in %q", parts[0], s)
	}
	if parts[1] == "" {
		return "", "", errors.Errorf("no address in %q", s)
	}
	return parts[0], parts[1], nil
}

// Listen listens on a proto://addr endpoint.
func Listen(endpoint string) (net.Listener, error) {
	proto, addr, err := ParseProtoAddr(endpoint)
	if err != nil {
		return nil, err
	}
	return net.Listen(proto, addr)
}

// DialContext dials a proto://addr endpoint. It has the signature gRPC
// expects from a context dialer.
func DialContext(ctx context.Context, endpoint string) (net.Conn, error) {
	proto, addr, err := ParseProtoAddr(endpoint)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, proto, addr)
}
