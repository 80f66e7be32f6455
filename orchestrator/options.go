package orchestrator

import (
	"time"

	"go.uber.org/zap"

	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/pkg/remoteexec"
	"github.com/shardlab/shardctl/utils/netutils"
)

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.ShardctlMetrics

	Executor   remoteexec.Executor
	PortProber netutils.PortProber

	// User is the remote user for hosts that are not local.
	User     string
	Binaries Binaries

	// AwaitPrimary waits for member 0 to report itself primary between
	// rs.initiate() and the first rs.add().
	AwaitPrimary        bool
	AwaitPrimaryTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Executor == nil {
		o.Executor = remoteexec.NewHostExecutor(remoteexec.HostExecutorOptions{
			Logger:  o.Logger.Named("exec"),
			Metrics: o.Metrics,
		})
	}
	if o.PortProber == nil {
		o.PortProber = netutils.TCPProber{}
	}
	if o.AwaitPrimaryTimeout == 0 {
		o.AwaitPrimaryTimeout = 30 * time.Second
	}
	o.Binaries = o.Binaries.withDefaults()
	return o
}
