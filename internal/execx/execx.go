// Package execx is the single capability relkit uses to invoke external
// commands. Components never reach for os/exec directly; they depend on
// Runner so tests can substitute a fake and assert on the exact invocations.
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/relkit/internal/fault"
)

// DefaultTimeout bounds a command when the request does not set one.
const DefaultTimeout = 2 * time.Minute

// Request describes one command invocation.
type Request struct {
	// Name is the program to run, resolved via PATH.
	Name string

	// Args are the program arguments, one element per argument.
	Args []string

	// Dir is the working directory. Empty means the process default.
	Dir string

	// Timeout bounds the run. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Result carries the captured output of a finished command. It is populated
// best-effort even when Run returns an error, so callers can inspect exit
// codes and stderr of expected failures.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands.
type Runner interface {
	// Run executes the request and waits for completion. A command that
	// cannot start, times out, or exits non-zero returns a process error
	// of kind fault.ProcessFailed alongside the captured Result.
	Run(ctx context.Context, req Request) (Result, error)
}

type runner struct {
	logger *zap.Logger
}

// NewRunner returns the production Runner. A nil logger defaults to a no-op
// logger.
func NewRunner(logger *zap.Logger) Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &runner{logger: logger}
}

func (r *runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Name == "" {
		return Result{}, fault.New(fault.ProcessFailed, "empty command name")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Name, req.Args...)
	cmd.Dir = req.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command",
		zap.String("name", req.Name),
		zap.Strings("args", req.Args),
		zap.String("dir", req.Dir),
	)

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, err),
	}
	if err == nil {
		return res, nil
	}

	if runCtx.Err() != nil && ctx.Err() == nil {
		return res, fault.Wrapf(fault.ProcessFailed, err,
			"%s timed out after %s", describe(req), timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return res, fault.Wrapf(fault.ProcessFailed, err,
			"%s exited %d: %s", describe(req), res.ExitCode, msg)
	}
	return res, fault.Wrapf(fault.ProcessFailed, err, "%s failed to start", describe(req))
}

// exitCode extracts the process exit code, -1 when the command never ran.
func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

func describe(req Request) string {
	if len(req.Args) == 0 {
		return req.Name
	}
	return req.Name + " " + strings.Join(req.Args, " ")
}
