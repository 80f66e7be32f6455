package remoteexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// exit status used when the command could not be started
const exitCodeNotRunnable = 127

type LocalExecutor struct{}

var _ Executor = LocalExecutor{}

func (LocalExecutor) Execute(ctx context.Context, host, user string, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = exitCodeNotRunnable
			res.Stderr += err.Error()
		}
	}

	return res, nil
}
