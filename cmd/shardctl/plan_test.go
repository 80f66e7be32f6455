package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardlab/shardctl/common/topology"
)

func TestRenderPlan(t *testing.T) {
	topo, err := topology.Build(topology.Options{
		ReplicaFactor: 3,
		ScaleFactor:   1,
		RoutersFactor: 1,
		Hosts:         []string{"db1", "db2", "db3"},
		BaseDir:       "/srv/db",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	renderPlan(&buf, topo)
	out := buf.String()

	for _, node := range topo.Nodes() {
		require.Contains(t, out, node.Name())
		require.Contains(t, out, node.PidFile)
	}
	require.Contains(t, out, "/srv/db/data/2/db")
	require.True(t, strings.HasSuffix(out, "config connection string: config0/db1:27100,db2:27101,db3:27102\n"))
}
