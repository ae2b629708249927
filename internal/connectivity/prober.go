package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"
)

// TCPProber reports the remote reachable when a TCP connection to Address
// succeeds within Timeout.
type TCPProber struct {
	Address string
	Timeout time.Duration
}

// Probe implements Prober.
func (p TCPProber) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.Address, err)
	}
	return conn.Close()
}

// AddressFromURL derives a host:port probe target from a remote URL,
// filling in the scheme's default port.
func AddressFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("remote url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "wss", "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
