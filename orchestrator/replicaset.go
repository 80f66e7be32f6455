package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/contrib/procout"
	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/pkg/remoteexec"
)

var errNotPrimaryYet = errors.New("member is not primary yet")

// ReplicaSet groups the nodes sharing one replication identity.  Member 0
// is the node the set is bootstrapped from.
type ReplicaSet struct {
	logger   *zap.Logger
	metrics  *metrics.ShardctlMetrics
	executor remoteexec.Executor
	user     string
	bins     Binaries

	awaitPrimary        bool
	awaitPrimaryTimeout time.Duration

	spec    topology.ReplicaSetSpec
	members []*Node
}

func NewReplicaSet(spec topology.ReplicaSetSpec, opts Options) *ReplicaSet {
	opts = opts.withDefaults()

	rs := &ReplicaSet{
		logger:              opts.Logger.Named("replicaset").With(zap.String("replicaSet", spec.Name)),
		metrics:             opts.Metrics,
		executor:            opts.Executor,
		user:                opts.User,
		bins:                opts.Binaries,
		awaitPrimary:        opts.AwaitPrimary,
		awaitPrimaryTimeout: opts.AwaitPrimaryTimeout,
		spec:                spec,
	}

	for _, member := range spec.Members {
		rs.members = append(rs.members, NewNode(member, opts))
	}

	return rs
}

func (rs *ReplicaSet) Name() string {
	return rs.spec.Name
}

func (rs *ReplicaSet) Members() []*Node {
	return rs.members
}

func (rs *ReplicaSet) ConnectionString() string {
	return rs.spec.ConnectionString()
}

func (rs *ReplicaSet) Prepare(ctx context.Context) error {
	return fanOutCancel(ctx, rs.members, (*Node).Prepare)
}

func (rs *ReplicaSet) Start(ctx context.Context) error {
	return fanOut(ctx, rs.members, (*Node).Start)
}

func (rs *ReplicaSet) Stop(ctx context.Context) error {
	return fanOut(ctx, rs.members, (*Node).Stop)
}

func (rs *ReplicaSet) Clean(ctx context.Context) error {
	return fanOut(ctx, rs.members, (*Node).Clean)
}

// Initiate bootstraps the set: rs.initiate() on member 0, then one
// rs.add() per remaining member in order, each sent to member 0.  The
// first command not answered with ok: 1 aborts the bootstrap.
func (rs *ReplicaSet) Initiate(ctx context.Context) error {
	if len(rs.members) == 0 {
		return nil
	}

	rs.logger.Info("initiating replica set", zap.Int("members", len(rs.members)))

	err := rs.adminCommand(ctx, "initiate", initiateJS())
	if err != nil {
		return err
	}

	if rs.awaitPrimary && len(rs.members) > 1 {
		err = rs.waitForPrimary(ctx)
		if err != nil {
			return err
		}
	}

	for _, member := range rs.members[1:] {
		addr := member.Spec().Address()

		err := rs.adminCommand(ctx, "add", addMemberJS(addr))
		if err != nil {
			return err
		}

		rs.logger.Info("added replica set member", zap.String("member", addr))
	}

	return nil
}

// eval runs js through the admin shell against member 0.
func (rs *ReplicaSet) eval(ctx context.Context, js string) (*procout.EvalResult, error) {
	primary := rs.members[0].Spec()

	res, err := rs.executor.Execute(ctx, primary.Host, rs.user, evalArgs(rs.bins, primary.Port, js))
	if err != nil {
		return nil, &NodeError{Op: "eval", Node: primary.Name() + "@" + primary.Address(), Err: err}
	}
	if !res.Success() {
		return nil, &ProtocolError{
			Set:     rs.spec.Name,
			Command: js,
			Message: describeFailure(res.Stderr, res.ExitCode),
		}
	}

	evalRes, err := procout.ParseEvalResult(res.Stdout)
	if err != nil {
		return nil, &ProtocolError{
			Set:     rs.spec.Name,
			Command: js,
			Message: "unreadable response",
			Err:     err,
		}
	}

	return evalRes, nil
}

func (rs *ReplicaSet) adminCommand(ctx context.Context, kind string, js string) error {
	if rs.metrics != nil {
		rs.metrics.BootstrapCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", kind)))
	}

	res, err := rs.eval(ctx, js)
	if err != nil {
		return err
	}

	if !res.Ok {
		msg := res.ErrMsg
		if msg == "" {
			msg = "ok != 1"
		}
		return &ProtocolError{
			Set:      rs.spec.Name,
			Command:  js,
			Message:  msg,
			Code:     res.Code,
			CodeName: res.CodeName,
		}
	}

	rs.logger.Debug("replica set command acknowledged", zap.String("command", js))

	return nil
}

func (rs *ReplicaSet) waitForPrimary(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = rs.awaitPrimaryTimeout

	err := backoff.Retry(func() error {
		res, err := rs.eval(ctx, isMasterJS())
		if err != nil {
			var nodeErr *NodeError
			if errors.As(err, &nodeErr) {
				return backoff.Permanent(err)
			}
			return err
		}
		if !res.Bool("ismaster") {
			return errNotPrimaryYet
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			return err
		}
		return &ProtocolError{
			Set:     rs.spec.Name,
			Command: isMasterJS(),
			Message: fmt.Sprintf("member 0 not primary after %s", rs.awaitPrimaryTimeout),
			Err:     err,
		}
	}

	rs.logger.Debug("member 0 is primary")

	return nil
}
