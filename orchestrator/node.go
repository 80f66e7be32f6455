package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/shardlab/shardctl/common/topology"
	"github.com/shardlab/shardctl/contrib/procout"
	"github.com/shardlab/shardctl/pkg/metrics"
	"github.com/shardlab/shardctl/pkg/remoteexec"
	"github.com/shardlab/shardctl/utils/netutils"
)

type State int

const (
	StateUninitialized State = iota
	StatePrepared
	StateRunning
	StateStopped
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePrepared:
		return "prepared"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCleaned:
		return "cleaned"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Node drives one externally launched server process.  Its methods are
// not meant to be called concurrently with each other.
type Node struct {
	logger   *zap.Logger
	metrics  *metrics.ShardctlMetrics
	executor remoteexec.Executor
	prober   netutils.PortProber
	user     string
	bins     Binaries
	spec     topology.NodeSpec

	lock  sync.Mutex
	state State
	pid   int
}

func NewNode(spec topology.NodeSpec, opts Options) *Node {
	opts = opts.withDefaults()

	return &Node{
		logger: opts.Logger.Named("node").With(
			zap.String("node", spec.Name()),
			zap.String("host", spec.Host),
			zap.Int("port", spec.Port)),
		metrics:  opts.Metrics,
		executor: opts.Executor,
		prober:   opts.PortProber,
		user:     opts.User,
		bins:     opts.Binaries,
		spec:     spec,
	}
}

func (n *Node) Spec() topology.NodeSpec {
	return n.spec
}

func (n *Node) Name() string {
	return n.spec.Name()
}

func (n *Node) State() State {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.state
}

// Pid is the process id recorded by the last successful Start, 0 if none.
func (n *Node) Pid() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.pid
}

func (n *Node) setState(state State, pid int) {
	n.lock.Lock()
	n.state = state
	n.pid = pid
	n.lock.Unlock()
}

func (n *Node) exec(ctx context.Context, argv []string) (*remoteexec.Result, error) {
	return n.executor.Execute(ctx, n.spec.Host, n.user, argv)
}

func (n *Node) fail(op string, err error) error {
	return &NodeError{Op: op, Node: n.spec.Name() + "@" + n.spec.Address(), Err: err}
}

// advisory records a failure that does not abort the running operation.
func (n *Node) advisory(ctx context.Context, op string, err error) {
	n.logger.Warn("ignoring failure", zap.String("op", op), zap.Error(err))

	if n.metrics != nil {
		n.metrics.AdvisoryFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}

// Prepare checks the node's port is free and creates its directories.
// Directories that already exist are reused.
func (n *Node) Prepare(ctx context.Context) error {
	if n.prober.IsPortOpen(ctx, n.spec.Host, n.spec.Port) {
		return n.fail("prepare", fmt.Errorf("%w: %s", ErrPortConflict, n.spec.Address()))
	}

	for _, dir := range n.spec.Dirs() {
		res, err := n.exec(ctx, dirExistsArgs(dir))
		if err != nil {
			return n.fail("prepare", err)
		}
		if res.Success() {
			n.logger.Warn("directory already exists", zap.String("dir", dir))
			continue
		}

		res, err = n.exec(ctx, mkdirArgs(dir))
		if err != nil {
			return n.fail("prepare", err)
		}
		if !res.Success() {
			return n.fail("prepare", fmt.Errorf("%w %s: %s",
				ErrDirectoryFailure, dir, describeFailure(res.Stderr, res.ExitCode)))
		}
	}

	n.setState(StatePrepared, 0)
	n.logger.Debug("prepared node")

	return nil
}

// Start forks the server process and records its pid in the pid file.
func (n *Node) Start(ctx context.Context) error {
	res, err := n.exec(ctx, launchArgs(n.bins, n.spec))
	if err != nil {
		return n.fail("start", err)
	}
	if !res.Success() {
		return n.fail("start", fmt.Errorf("%w: %s",
			ErrProcessLaunchFailure, describeFailure(res.Stderr, res.ExitCode)))
	}

	pid, err := procout.ParseForkPID(res.Stdout)
	if err != nil {
		return n.fail("start", fmt.Errorf("%w: %w", ErrProcessLaunchFailure, err))
	}

	res, err = n.exec(ctx, writePidArgs(n.spec.PidFile, pid))
	if err != nil {
		return n.fail("start", err)
	}
	if !res.Success() {
		return n.fail("start", fmt.Errorf("%w: failed to write pid file %s: %s",
			ErrProcessLaunchFailure, n.spec.PidFile, describeFailure(res.Stderr, res.ExitCode)))
	}

	if n.metrics != nil {
		n.metrics.ProcessLaunches.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(n.spec.Role))))
	}

	n.setState(StateRunning, pid)
	n.logger.Info("started process", zap.Int("pid", pid))

	return nil
}

// Stop signals the process recorded in the pid file.  A missing pid file
// fails the stop, a failed kill is only logged.
func (n *Node) Stop(ctx context.Context) error {
	res, err := n.exec(ctx, readPidArgs(n.spec.PidFile))
	if err != nil {
		return n.fail("stop", err)
	}
	if !res.Success() {
		return n.fail("stop", fmt.Errorf("%w: %s: %s",
			ErrPidFileMissing, n.spec.PidFile, describeFailure(res.Stderr, res.ExitCode)))
	}

	pid, err := procout.ParsePid(res.Stdout)
	if err != nil {
		return n.fail("stop", fmt.Errorf("%w: %w", ErrPidFileMissing, err))
	}

	res, err = n.exec(ctx, killArgs(pid))
	if err != nil {
		return n.fail("stop", err)
	}
	if !res.Success() {
		n.advisory(ctx, "stop", fmt.Errorf("%w: pid %d: %s",
			ErrProcessStopFailure, pid, describeFailure(res.Stderr, res.ExitCode)))
	} else {
		n.logger.Info("stopped process", zap.Int("pid", pid))
	}

	n.setState(StateStopped, pid)

	return nil
}

// Clean removes the node's data, log and pid directories.
func (n *Node) Clean(ctx context.Context) error {
	dirs := n.spec.Dirs()

	res, err := n.exec(ctx, removeArgs(dirs))
	if err != nil {
		return n.fail("clean", err)
	}
	if !res.Success() {
		n.advisory(ctx, "clean", fmt.Errorf("%w: %s",
			ErrCleanFailure, describeFailure(res.Stderr, res.ExitCode)))
	} else {
		n.logger.Debug("removed node directories", zap.Strings("dirs", dirs))
	}

	n.setState(StateCleaned, 0)

	return nil
}
