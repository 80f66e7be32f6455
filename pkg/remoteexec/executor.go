package remoteexec

import (
	"context"
	"errors"
)

// ErrRemoteUnreachable is returned when a command could not be delivered to
// its host at all.  A command that ran and failed is reported through
// Result.ExitCode instead.
var ErrRemoteUnreachable = errors.New("remote host unreachable")

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Executor runs argv on host as user and waits for it to finish.
type Executor interface {
	Execute(ctx context.Context, host, user string, argv []string) (*Result, error)
}
