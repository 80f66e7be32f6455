package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/orchestrator"
	"github.com/shardlab/shardctl/pkg/app_config"
	"github.com/shardlab/shardctl/utils/buildversion"
)

var buildVersion string = buildversion.GetVersion("github.com/shardlab/shardctl")

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "shardctl",
	Short: "Deploys, bootstraps and tears down sharded database clusters",

	SilenceUsage: true,
}

var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := app_config.NewFlagSet()
	rootCmd.PersistentFlags().AddFlagSet(configFlags)

	_ = app_config.BindViper(viper.GetViper(), configFlags)

	rootCmd.AddCommand(
		planCmd,
		initializeCmd,
		startCmd,
		deployCmd,
		restartCmd,
		stopCmd,
		cleanCmd,
	)
}

type topologySource int

const (
	// fromFlags always builds the topology from the configuration.
	fromFlags topologySource = iota
	// fromManifest reuses the recorded topology when there is one.
	fromManifest
)

type clusterOp func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error

// clusterCommand wraps op with configuration, telemetry, signal handling and
// the cluster construction every subcommand needs.
func clusterCommand(name string, source topologySource, op clusterOp) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		var topo *topology.Topology
		if source == fromManifest {
			topo, err = rt.loadTopology(ctx)
		} else {
			topo, err = rt.buildTopology()
		}
		if err != nil {
			return err
		}

		c, err := rt.newCluster(ctx, topo)
		if err != nil {
			return err
		}

		ctx, span := otel.Tracer("github.com/shardlab/shardctl").Start(ctx, "shardctl "+name,
			trace.WithAttributes(
				attribute.String("cluster", topo.Name),
				attribute.Int("nodes", len(c.Nodes()))))
		defer span.End()

		err = op(ctx, rt, c)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			rt.logger.Error(name+" failed", zap.Error(err))
			return err
		}

		rt.logger.Info(name+" completed", zap.String("configDb", c.ConnectionString()))
		return nil
	}
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the nodes a deployment would create without touching any host",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		topo, err := rt.buildTopology()
		if err != nil {
			return err
		}

		renderPlan(cmd.OutOrStdout(), topo)
		return nil
	},
}

var initializeCmd = &cobra.Command{
	Use:   "initialize",
	Short: "Check ports and create node directories on every host",
	RunE: clusterCommand("initialize", fromFlags, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		err := c.Initialize(ctx)
		if err != nil {
			return err
		}

		return rt.saveTopology(ctx, c.Topology())
	}),
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch every node and bootstrap the replica sets",
	RunE: clusterCommand("start", fromManifest, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		return c.Start(ctx)
	}),
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Initialize and start a cluster",
	RunE: clusterCommand("deploy", fromFlags, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		err := c.Initialize(ctx)
		if err != nil {
			return err
		}

		err = rt.saveTopology(ctx, c.Topology())
		if err != nil {
			return err
		}

		return c.Start(ctx)
	}),
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Launch every node of a stopped cluster again",
	RunE: clusterCommand("restart", fromManifest, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		return c.Restart(ctx)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every node, keeping its data",
	RunE: clusterCommand("stop", fromManifest, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		return c.Stop(ctx)
	}),
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every node's data, log and pid directories",
	RunE: clusterCommand("clean", fromManifest, func(ctx context.Context, rt *runtime, c *orchestrator.Cluster) error {
		err := c.Clean(ctx)
		if err != nil {
			return err
		}

		return rt.forgetTopology(ctx)
	}),
}

func main() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}
