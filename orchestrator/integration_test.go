package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/testutils"
	"github.com/shardlab/shardctl/utils/netutils"
)

func TestLocalClusterLifecycle(t *testing.T) {
	bins := testutils.SkipIfNoServerBinaries(t)
	cfg := testutils.GetTestConfig(t)

	version, err := testutils.RunTool(bins.Server, []string{"--version"})
	require.NoError(t, err)
	t.Logf("server version: %s", strings.SplitN(version, "\n", 2)[0])

	topo, err := topology.Build(topology.Options{
		Name:           "integration",
		ReplicaFactor:  1,
		ScaleFactor:    1,
		RoutersFactor:  1,
		Hosts:          []string{cfg.Host},
		BaseDir:        filepath.Join(cfg.BaseDir, t.Name()),
		ConfigBasePort: 37100,
		ShardBasePort:  37200,
		RouterBasePort: 37300,
	})
	require.NoError(t, err)

	c := NewCluster(topo, Options{
		Logger: zaptest.NewLogger(t),
		Binaries: Binaries{
			Server: bins.Server,
			Router: bins.Router,
			Admin:  bins.Admin,
		},
		AwaitPrimary:        true,
		AwaitPrimaryTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	t.Cleanup(func() {
		_ = c.Stop(context.Background())
		_ = c.Clean(context.Background())
	})

	require.NoError(t, c.Deploy(ctx))
	for _, node := range c.Nodes() {
		require.True(t, netutils.IsPortOpen(node.Spec().Port), node.Name())
	}

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Clean(ctx))
}
