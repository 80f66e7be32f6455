package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/shardlab/shardctl/common/topology"
)

// renderPlan prints every node of topo as a table followed by the config
// connection string.
func renderPlan(w io.Writer, topo *topology.Topology) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Node", "Replica Set", "Host", "Port", "Data Dir", "Log File", "Pid File"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, node := range topo.Nodes() {
		replicaSet := node.ReplicaSet
		if replicaSet == "" {
			replicaSet = "-"
		}
		dataDir := node.DataDir
		if dataDir == "" {
			dataDir = "-"
		}

		table.Append([]string{
			node.Name(),
			replicaSet,
			node.Host,
			strconv.Itoa(node.Port),
			dataDir,
			node.LogFile,
			node.PidFile,
		})
	}

	table.Render()

	fmt.Fprintf(w, "config connection string: %s\n", topo.ConnectionString)
}
