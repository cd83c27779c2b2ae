package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Command describes one subprocess invocation.
type Command struct {
	Path    string
	Args    []string
	Stdin   string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
	// PassEnv lists variables kept even though they look like secrets.
	PassEnv []string
}

// CommandResult holds the outcome of a finished subprocess.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	Canceled   bool   `json:"canceled"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r CommandResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// CommandRunner starts subprocesses. Run returns an error only when the
// process could not be started at all; exit codes and timeouts are reported
// in the result.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
	LookPath(file string) (string, error)
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are not forwarded unless an adapter asks for them.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns environ without sensitive variables, except the
// ones named in keep.
func filterEnvironment(environ []string, keep []string) []string {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if allowed[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalRunner runs commands on this machine in their own process group so a
// timeout or cancellation kills the whole tree.
type LocalRunner struct{}

// NewLocalRunner returns a runner for local subprocesses.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

func (r *LocalRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (r *LocalRunner) Run(ctx context.Context, c Command) (*CommandResult, error) {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	env := filterEnvironment(os.Environ(), c.PassEnv)
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &CommandResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.TimedOut = true
		result.ExitCode = -1
	case ctx.Err() != nil:
		result.Canceled = true
		result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		result.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec %s: %w", c.Path, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
