package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shardlab/shardctl/testutils"
)

func newTestCluster(t *testing.T, replicas, scale, routers int) (*Cluster, *testutils.FakeHosts) {
	hosts := testutils.NewFakeHosts()
	c := NewCluster(buildTestTopology(t, replicas, scale, routers), Options{
		Logger:     zaptest.NewLogger(t),
		Executor:   hosts,
		PortProber: hosts,
	})
	return c, hosts
}

func callIndex(calls []testutils.ExecCall, pred func(testutils.ExecCall) bool) (first, last int) {
	first, last = -1, -1
	for i, call := range calls {
		if pred(call) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last
}

func isRouterLaunch(c testutils.ExecCall) bool {
	return c.IsLaunch() && c.Argv[0] == "mongos"
}

func isMemberLaunch(c testutils.ExecCall) bool {
	return c.IsLaunch() && c.Argv[0] == "mongod"
}

func TestClusterDeploy(t *testing.T) {
	c, hosts := newTestCluster(t, 3, 2, 1)

	err := c.Deploy(context.Background())
	require.NoError(t, err)

	require.Len(t, hosts.LaunchCalls(), 10)
	require.Len(t, hosts.RunningPids(), 10)
	require.Equal(t, "config0/h1:27100,h2:27101,h3:27102", c.ConnectionString())

	require.Equal(t, []string{
		`27100 rs.initiate()`,
		`27100 rs.add("h2:27101")`,
		`27100 rs.add("h3:27102")`,
		`27200 rs.initiate()`,
		`27200 rs.add("h2:27201")`,
		`27200 rs.add("h3:27202")`,
		`27203 rs.initiate()`,
		`27203 rs.add("h2:27204")`,
		`27203 rs.add("h3:27205")`,
	}, evalsOf(hosts.EvalCalls()))

	calls := hosts.Calls()
	_, lastMember := callIndex(calls, isMemberLaunch)
	firstEval, lastEval := callIndex(calls, testutils.ExecCall.IsEval)
	firstRouter, _ := callIndex(calls, isRouterLaunch)
	require.Less(t, lastMember, firstEval)
	require.Less(t, lastEval, firstRouter)

	for _, call := range hosts.CallsMatching(isRouterLaunch) {
		require.Equal(t, c.ConnectionString(), call.Flag("--configdb"))
	}
	for _, call := range calls {
		require.Equal(t, "ops", call.User)
	}
}

func TestClusterNodesOrder(t *testing.T) {
	c, _ := newTestCluster(t, 2, 2, 2)

	var names []string
	for _, node := range c.Nodes() {
		names = append(names, node.Name())
	}
	require.Equal(t, []string{
		"configsvr0", "configsvr1",
		"shardsvr0", "shardsvr1", "shardsvr2", "shardsvr3",
		"router0", "router1",
	}, names)

	require.Len(t, c.DataSets(), 2)
	require.Equal(t, "shard1", c.DataSets()[1].Name())
	require.Len(t, c.Routers(), 2)
}

func TestClusterInitializeIsRepeatable(t *testing.T) {
	ctx := context.Background()
	c, hosts := newTestCluster(t, 3, 1, 1)

	require.NoError(t, c.Initialize(ctx))
	for _, node := range c.Nodes() {
		for _, dir := range node.Spec().Dirs() {
			require.True(t, hosts.DirExists(node.Spec().Host, dir), dir)
		}
	}

	hosts.ResetCalls()
	require.NoError(t, c.Initialize(ctx))
	require.Empty(t, hosts.CallsMatching(func(call testutils.ExecCall) bool {
		return call.Argv[0] == "mkdir"
	}))
}

func TestClusterInitializePortConflict(t *testing.T) {
	c, hosts := newTestCluster(t, 1, 1, 1)
	hosts.BindPort("h1", 27300)

	err := c.Initialize(context.Background())
	require.ErrorIs(t, err, ErrPortConflict)
	require.ErrorContains(t, err, "h1:27300")
}

func TestClusterStopAndClean(t *testing.T) {
	ctx := context.Background()
	c, hosts := newTestCluster(t, 3, 2, 1)

	require.NoError(t, c.Deploy(ctx))
	require.NoError(t, c.Stop(ctx))
	require.Empty(t, hosts.RunningPids())
	for _, node := range c.Nodes() {
		require.Equal(t, StateStopped, node.State())
	}

	require.NoError(t, c.Clean(ctx))
	for _, node := range c.Nodes() {
		require.Equal(t, StateCleaned, node.State())
		for _, dir := range node.Spec().Dirs() {
			require.False(t, hosts.DirExists(node.Spec().Host, dir), dir)
		}
	}
}

func TestClusterStopBeforeStartFails(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCluster(t, 1, 1, 1)

	require.NoError(t, c.Initialize(ctx))
	require.ErrorIs(t, c.Stop(ctx), ErrPidFileMissing)
}

func TestClusterRestart(t *testing.T) {
	ctx := context.Background()
	c, hosts := newTestCluster(t, 3, 2, 1)

	require.NoError(t, c.Deploy(ctx))
	require.NoError(t, c.Stop(ctx))
	hosts.ResetCalls()

	require.NoError(t, c.Restart(ctx))
	require.Len(t, hosts.LaunchCalls(), 10)
	require.Empty(t, hosts.EvalCalls())
	require.Empty(t, hosts.CallsMatching(func(call testutils.ExecCall) bool {
		return call.Argv[0] == "mkdir" || call.Argv[0] == "test"
	}))
	require.Len(t, hosts.RunningPids(), 10)

	_, lastMember := callIndex(hosts.Calls(), isMemberLaunch)
	firstRouter, _ := callIndex(hosts.Calls(), isRouterLaunch)
	require.Less(t, lastMember, firstRouter)
}

func TestClusterStartAbortsOnConfigBootstrap(t *testing.T) {
	ctx := context.Background()
	c, hosts := newTestCluster(t, 3, 2, 1)

	hosts.SetEvalResponder(func(call testutils.ExecCall) (string, int, bool) {
		if call.Flag("--eval") == "rs.initiate()" && call.Flag("--port") == "27100" {
			return testutils.EvalOutput(27100, `{ "ok" : 0, "errmsg" : "already initialized", "code" : 23 }`), 0, true
		}
		return "", 0, false
	})

	err := c.Deploy(ctx)
	require.ErrorIs(t, err, ErrReplicaSetProtocolFailure)

	require.Len(t, hosts.EvalCalls(), 1)
	require.Empty(t, hosts.CallsMatching(isRouterLaunch))
	for _, call := range hosts.EvalCalls() {
		require.False(t, strings.HasPrefix(call.Flag("--port"), "272"))
	}
}

func TestClusterWithoutDataSets(t *testing.T) {
	c, hosts := newTestCluster(t, 1, 0, 1)

	require.NoError(t, c.Deploy(context.Background()))
	require.Len(t, hosts.LaunchCalls(), 2)
	require.Equal(t, []string{`27100 rs.initiate()`}, evalsOf(hosts.EvalCalls()))
}
