package netutils

import (
	"context"
	"net"
)

// GetOutboundIP returns the address the system would use to reach the
// outside world.  No packets are sent, UDP dial only selects a route.
func GetOutboundIP(ctx context.Context) (net.IP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	_ = conn.Close()

	return localAddr.IP, nil
}
