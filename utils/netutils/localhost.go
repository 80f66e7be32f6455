package netutils

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/shardlab/shardctl/utils/sliceutils"
)

func IsLoopback(addr string) bool {
	if strings.EqualFold(addr, "localhost") {
		return true
	}

	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

var (
	localNamesOnce sync.Once
	localNames     []string
)

// LocalNames lists every name this machine answers to: loopback aliases,
// the system host name and the outbound address.
func LocalNames() []string {
	localNamesOnce.Do(func() {
		names := []string{"localhost", "127.0.0.1", "::1"}

		if hostname, err := os.Hostname(); err == nil && hostname != "" {
			names = append(names, strings.ToLower(hostname))
			if short, _, found := strings.Cut(hostname, "."); found {
				names = append(names, strings.ToLower(short))
			}
		}

		if ip, err := GetOutboundIP(context.Background()); err == nil {
			names = append(names, ip.String())
		}

		localNames = sliceutils.RemoveDuplicates(names)
	})

	return localNames
}

// IsLocalHost reports whether commands for host can run without a remote
// shell.
func IsLocalHost(host string) bool {
	if IsLoopback(host) {
		return true
	}

	return slices.Contains(LocalNames(), strings.ToLower(host))
}

// LocalHostname is the name new topologies place nodes on when no hosts
// are configured.
func LocalHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "localhost"
	}

	return hostname
}
