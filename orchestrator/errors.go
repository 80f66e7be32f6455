package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrPortConflict means something already listens on a node's port.
	ErrPortConflict = errors.New("port already in use")

	// ErrProcessLaunchFailure covers a failed launch command as well as a
	// launch banner the pid could not be read from.
	ErrProcessLaunchFailure = errors.New("process launch failed")

	// ErrPidFileMissing means the node was never started, or its pid file
	// is gone or unreadable.
	ErrPidFileMissing = errors.New("pid file missing")

	// ErrProcessStopFailure is advisory: it is logged and counted but not
	// returned, the process is frequently already gone.
	ErrProcessStopFailure = errors.New("process stop failed")

	// ErrCleanFailure is advisory like ErrProcessStopFailure.
	ErrCleanFailure = errors.New("clean failed")

	ErrReplicaSetProtocolFailure = errors.New("replica set protocol failure")

	ErrDirectoryFailure = errors.New("failed to create directory")
)

// NodeError attaches the failing node and operation to an error.
type NodeError struct {
	Op   string
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// ProtocolError reports an administrative command that a replica set member
// did not acknowledge with ok: 1.  Code and CodeName are the server's
// error code when it sent one.
type ProtocolError struct {
	Set      string
	Command  string
	Message  string
	Code     int
	CodeName string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("replica set %s: %s: %s", e.Set, e.Command, e.Message)
	if e.CodeName != "" {
		msg += fmt.Sprintf(" (%s, code %d)", e.CodeName, e.Code)
	} else if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrReplicaSetProtocolFailure, e.Err}
	}
	return []error{ErrReplicaSetProtocolFailure}
}
