package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/shardlab/shardctl/utils/buildversion"
)

type ShardctlMetrics struct {
	Commands          metric.Int64Counter
	CommandDuration   metric.Float64Histogram
	ProcessLaunches   metric.Int64Counter
	BootstrapCommands metric.Int64Counter
	AdvisoryFailures  metric.Int64Counter
}

var (
	shardctlMetrics     *ShardctlMetrics
	shardctlMetricsLock sync.Mutex
)

func GetShardctlMetrics() *ShardctlMetrics {
	shardctlMetricsLock.Lock()

	if shardctlMetrics != nil {
		shardctlMetricsLock.Unlock()
		return shardctlMetrics
	}

	shardctlMetrics = newShardctlMetrics()

	shardctlMetricsLock.Unlock()
	return shardctlMetrics
}

var buildVersion string = buildversion.GetVersion("github.com/shardlab/shardctl")

func newShardctlMetrics() *ShardctlMetrics {
	meter := otel.Meter(
		"github.com/shardlab/shardctl",
		metric.WithInstrumentationVersion(buildVersion))

	commands, _ := meter.Int64Counter("shardctl_commands_total",
		metric.WithDescription("commands executed against cluster hosts"))
	commandDuration, _ := meter.Float64Histogram("shardctl_command_duration_seconds",
		metric.WithUnit("s"))
	processLaunches, _ := meter.Int64Counter("shardctl_process_launches_total")
	bootstrapCommands, _ := meter.Int64Counter("shardctl_bootstrap_commands_total")
	advisoryFailures, _ := meter.Int64Counter("shardctl_advisory_failures_total",
		metric.WithDescription("stop and clean failures that were logged but not returned"))

	return &ShardctlMetrics{
		Commands:          commands,
		CommandDuration:   commandDuration,
		ProcessLaunches:   processLaunches,
		BootstrapCommands: bootstrapCommands,
		AdvisoryFailures:  advisoryFailures,
	}
}
