package remoteexec

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/utils/netutils"
)

type HostExecutorOptions struct {
	Logger  *zap.Logger
	Metrics *metrics.ShardctlMetrics

	Local  Executor
	Remote Executor

	// IsLocal defaults to netutils.IsLocalHost.
	IsLocal func(host string) bool
}

// HostExecutor runs commands for the local machine directly and sends
// everything else to the remote executor.
type HostExecutor struct {
	logger  *zap.Logger
	metrics *metrics.ShardctlMetrics
	local   Executor
	remote  Executor
	isLocal func(host string) bool
}

var _ Executor = (*HostExecutor)(nil)

func NewHostExecutor(opts HostExecutorOptions) *HostExecutor {
	e := &HostExecutor{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		local:   opts.Local,
		remote:  opts.Remote,
		isLocal: opts.IsLocal,
	}

	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.local == nil {
		e.local = LocalExecutor{}
	}
	if e.isLocal == nil {
		e.isLocal = netutils.IsLocalHost
	}

	return e
}

func (e *HostExecutor) Execute(ctx context.Context, host, user string, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	local := e.isLocal(host)

	ctx, span := otel.Tracer("github.com/shardlab/shardctl/pkg/remoteexec").Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("host", host),
		attribute.Bool("local", local),
		attribute.String("command", argv[0]))

	executor := e.local
	if !local {
		executor = e.remote
	}
	if executor == nil {
		span.SetStatus(codes.Error, "no remote executor")
		return nil, ErrRemoteUnreachable
	}

	e.logger.Debug("executing command",
		zap.String("host", host),
		zap.Bool("local", local),
		zap.String("command", strings.Join(argv, " ")))

	stime := time.Now()
	res, err := executor.Execute(ctx, host, user, argv)
	etime := time.Now()

	status := "error"
	if err == nil {
		if res.Success() {
			status = "ok"
		} else {
			status = "failed"
		}
	}

	if e.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("command", argv[0]),
			attribute.String("status", status),
			attribute.Bool("local", local))
		e.metrics.Commands.Add(ctx, 1, attrs)
		e.metrics.CommandDuration.Record(ctx, etime.Sub(stime).Seconds(), attrs)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("command could not be delivered",
			zap.String("host", host),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int("exitCode", res.ExitCode))
	if !res.Success() {
		span.SetStatus(codes.Error, "non-zero exit")
	}

	e.logger.Debug("command finished",
		zap.String("host", host),
		zap.Int("exitCode", res.ExitCode),
		zap.Duration("took", etime.Sub(stime)))

	return res, nil
}
