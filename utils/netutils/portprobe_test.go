package netutils

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortProbeDetectsListener(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := lis.Addr().(*net.TCPAddr).Port
	require.True(t, IsPortOpen(port))
	require.True(t, TCPProber{}.IsPortOpen(context.Background(), "localhost", port))

	require.NoError(t, lis.Close())
	require.False(t, IsPortOpen(port))
}

func TestIsLocalHost(t *testing.T) {
	require.True(t, IsLocalHost("localhost"))
	require.True(t, IsLocalHost("127.0.0.1"))
	require.True(t, IsLocalHost("::1"))
	require.True(t, IsLocalHost(LocalHostname()))
	require.False(t, IsLocalHost("db-7.invalid"))
}
