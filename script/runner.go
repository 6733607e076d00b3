// Package script runs uploaded scripts in an isolated short-lived process
// with injected connection credentials and a hard wall-clock timeout.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ConnectionURLEnv is the fixed environment variable under which the
// mapped connection URL is injected into the script process.
const ConnectionURLEnv = "DB_CONNECTION_URL"

// DefaultTimeout is the wall-clock limit on a single script run.
const DefaultTimeout = 30 * time.Second

// Runner stages script files and spawns one interpreter process per run.
type Runner struct {
	fs      afero.Fs
	dir     string
	command string
	timeout time.Duration
	log     *zap.SugaredLogger
}

// Input is one script execution.
type Input struct {
	FileName string
	Script   string
	Env      map[string]string
}

// RunResult captures the process outcome. A non-zero exit or a timeout is
// an execution failure for the caller.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithCommand overrides the interpreter binary (default mongosh).
func WithCommand(command string) Option {
	return func(r *Runner) { r.command = command }
}

// WithTimeout overrides the default 30 second wall-clock limit.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.timeout = timeout }
}

// WithFs overrides the staging filesystem (tests use afero.NewMemMapFs).
func WithFs(fs afero.Fs, dir string) Option {
	return func(r *Runner) {
		r.fs = fs
		r.dir = dir
	}
}

// NewRunner creates a Runner staging scripts under the OS temp directory.
func NewRunner(log *zap.SugaredLogger, opts ...Option) *Runner {
	r := &Runner{
		fs:      afero.NewOsFs(),
		dir:     os.TempDir(),
		command: "mongosh",
		timeout: DefaultTimeout,
		log:     log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run stages the script, spawns the interpreter and classifies the exit.
// The returned error covers staging failures only; process failures are
// reported through RunResult so the caller can record them verbatim.
func (r *Runner) Run(ctx context.Context, in Input) (RunResult, error) {
	name := in.FileName
	if name == "" {
		name = "script.js"
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%s", xid.New().String(), name))

	if err := afero.WriteFile(r.fs, path, []byte(in.Script), 0o600); err != nil {
		return RunResult{}, fmt.Errorf("script: stage %s: %w", name, err)
	}
	defer r.fs.Remove(path) //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.command, path)
	cmd.Env = append(os.Environ(), flattenEnv(in.Env)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := RunResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		// interpreter missing or not startable
		return RunResult{}, fmt.Errorf("script: run %s: %w", name, err)
	}

	if r.log != nil {
		r.log.Debugf("script %s finished: exit=%d timeout=%v", name, res.ExitCode, res.TimedOut)
	}
	return res, nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
