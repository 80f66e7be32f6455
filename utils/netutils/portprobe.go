package netutils

import (
	"context"
	"net"
	"strconv"
	"time"
)

const defaultProbeTimeout = 2 * time.Second

// PortProber checks whether something already listens on a port.
type PortProber interface {
	IsPortOpen(ctx context.Context, host string, port int) bool
}

// TCPProber dials the port and closes the connection straight away.  The
// check is not atomic with whatever later binds the port.
type TCPProber struct {
	Timeout time.Duration
}

var _ PortProber = TCPProber{}

func (p TCPProber) IsPortOpen(ctx context.Context, host string, port int) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = defaultProbeTimeout
	}

	// local nodes are probed on loopback
	target := host
	if target == "" || IsLocalHost(target) {
		target = "127.0.0.1"
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return false
	}

	_ = conn.Close()
	return true
}

// IsPortOpen probes the loopback interface.
func IsPortOpen(port int) bool {
	return TCPProber{}.IsPortOpen(context.Background(), "127.0.0.1", port)
}
