package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/shardlab/shardctl/common/topology"
)

// Cluster is one config replica set, the data replica sets and the routers
// pointed at the config set.  Every operation stops at the first error and
// leaves whatever already happened in place.
type Cluster struct {
	logger *zap.Logger
	topo   *topology.Topology

	configSet *ReplicaSet
	dataSets  []*ReplicaSet
	routers   []*Node
}

func NewCluster(topo *topology.Topology, opts Options) *Cluster {
	if opts.User == "" {
		opts.User = topo.User
	}
	opts = opts.withDefaults()

	c := &Cluster{
		logger:    opts.Logger.Named("cluster").With(zap.String("cluster", topo.Name)),
		topo:      topo,
		configSet: NewReplicaSet(topo.ConfigSet, opts),
	}

	for _, set := range topo.DataSets {
		c.dataSets = append(c.dataSets, NewReplicaSet(set, opts))
	}

	for _, router := range topo.Routers {
		c.routers = append(c.routers, NewNode(router, opts))
	}

	return c
}

func (c *Cluster) Topology() *topology.Topology {
	return c.topo
}

func (c *Cluster) ConnectionString() string {
	return c.topo.ConnectionString
}

func (c *Cluster) ConfigSet() *ReplicaSet {
	return c.configSet
}

func (c *Cluster) DataSets() []*ReplicaSet {
	return c.dataSets
}

func (c *Cluster) Routers() []*Node {
	return c.routers
}

// Nodes lists every node in topology order.
func (c *Cluster) Nodes() []*Node {
	nodes := append([]*Node(nil), c.configSet.Members()...)
	for _, set := range c.dataSets {
		nodes = append(nodes, set.Members()...)
	}
	return append(nodes, c.routers...)
}

func (c *Cluster) sets() []*ReplicaSet {
	return append([]*ReplicaSet{c.configSet}, c.dataSets...)
}

// Initialize prepares the config set, then each data set, then the routers.
func (c *Cluster) Initialize(ctx context.Context) error {
	c.logger.Info("initializing cluster", zap.Int("nodes", len(c.Nodes())))

	for _, set := range c.sets() {
		err := set.Prepare(ctx)
		if err != nil {
			return err
		}
	}

	return fanOutCancel(ctx, c.routers, (*Node).Prepare)
}

// Start launches every replica set member, bootstraps the config set and
// then each data set, and only then launches the routers.
func (c *Cluster) Start(ctx context.Context) error {
	c.logger.Info("starting cluster")

	for _, set := range c.sets() {
		err := set.Start(ctx)
		if err != nil {
			return err
		}
	}

	for _, set := range c.sets() {
		err := set.Initiate(ctx)
		if err != nil {
			return err
		}
	}

	err := fanOut(ctx, c.routers, (*Node).Start)
	if err != nil {
		return err
	}

	c.logger.Info("cluster started", zap.String("configDb", c.topo.ConnectionString))

	return nil
}

// Restart launches every process again on top of the data and pid files
// a previous run left behind.  Nothing is prepared or bootstrapped.
func (c *Cluster) Restart(ctx context.Context) error {
	c.logger.Info("restarting cluster")

	for _, set := range c.sets() {
		err := set.Start(ctx)
		if err != nil {
			return err
		}
	}

	return fanOut(ctx, c.routers, (*Node).Start)
}

// Deploy initializes and starts the cluster.
func (c *Cluster) Deploy(ctx context.Context) error {
	err := c.Initialize(ctx)
	if err != nil {
		return err
	}

	return c.Start(ctx)
}

func (c *Cluster) Stop(ctx context.Context) error {
	c.logger.Info("stopping cluster")

	for _, set := range c.sets() {
		err := set.Stop(ctx)
		if err != nil {
			return err
		}
	}

	return fanOut(ctx, c.routers, (*Node).Stop)
}

func (c *Cluster) Clean(ctx context.Context) error {
	c.logger.Info("cleaning cluster")

	for _, set := range c.sets() {
		err := set.Clean(ctx)
		if err != nil {
			return err
		}
	}

	return fanOut(ctx, c.routers, (*Node).Clean)
}
