package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/pkg/remoteexec"
	"github.com/shardlab/shardctl/testutils"
)

var testHosts = []string{"h1", "h2", "h3"}

func buildTestTopology(t *testing.T, replicas, scale, routers int) *topology.Topology {
	topo, err := topology.Build(topology.Options{
		Name:          "test",
		ReplicaFactor: replicas,
		ScaleFactor:   scale,
		RoutersFactor: routers,
		Hosts:         testHosts,
		User:          "ops",
		BaseDir:       "/srv/shardctl",
	})
	require.NoError(t, err)
	return topo
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func testOptions(hosts *testutils.FakeHosts, logger *zap.Logger) Options {
	return Options{
		Logger:     logger,
		Executor:   hosts,
		PortProber: hosts,
		User:       "ops",
	}
}

type execFunc func(ctx context.Context, host, user string, argv []string) (*remoteexec.Result, error)

func (f execFunc) Execute(ctx context.Context, host, user string, argv []string) (*remoteexec.Result, error) {
	return f(ctx, host, user, argv)
}

func evalsOf(calls []testutils.ExecCall) []string {
	var out []string
	for _, call := range calls {
		out = append(out, call.Flag("--port")+" "+call.Flag("--eval"))
	}
	return out
}
