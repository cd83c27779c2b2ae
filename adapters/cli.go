package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	defaultProbeTimeout = 10 * time.Second
	maxStderrMetadata   = 4000
)

// CLIOptions configures a command-line adapter.
type CLIOptions struct {
	// Name overrides the adapter name (defaults to the tool name).
	Name string
	// Binary overrides the executable (defaults to the tool's usual command).
	Binary string
	// ExtraArgs are appended after the adapter's own flags.
	ExtraArgs []string
	// Model is passed through when the tool accepts a model flag.
	Model string
	// WorkingDir is where the tool runs.
	WorkingDir string
	// Timeout bounds each invocation; zero means only ctx bounds it.
	Timeout time.Duration
	// PassEnv names secret-looking variables the tool needs, e.g. its API key.
	PassEnv []string
	// Runner replaces the local subprocess runner, mainly for tests.
	Runner CommandRunner
}

// invocation is what a tool variant turns a prompt into.
type invocation struct {
	args  []string
	stdin string
}

// cliAdapter holds the subprocess plumbing shared by command-line variants.
type cliAdapter struct {
	BaseAdapter
	tool        string
	binary      string
	versionArgs []string
	extraArgs   []string
	model       string
	workingDir  string
	timeout     time.Duration
	passEnv     []string
	runner      CommandRunner
	build       func(prompt, model string) invocation
}

func newCLIAdapter(tool, defaultBinary string, defaultPassEnv []string, opts CLIOptions) cliAdapter {
	name := opts.Name
	if name == "" {
		name = tool
	}
	binary := opts.Binary
	if binary == "" {
		binary = defaultBinary
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewLocalRunner()
	}
	passEnv := append(append([]string{}, defaultPassEnv...), opts.PassEnv...)
	return cliAdapter{
		BaseAdapter: NewBaseAdapter(name),
		tool:        tool,
		binary:      binary,
		versionArgs: []string{"--version"},
		extraArgs:   opts.ExtraArgs,
		model:       opts.Model,
		workingDir:  opts.WorkingDir,
		timeout:     opts.Timeout,
		passEnv:     passEnv,
		runner:      runner,
	}
}

// Tool returns the kind of external tool behind the adapter.
func (a *cliAdapter) Tool() string { return a.tool }

// CheckAvailability looks the binary up on PATH and runs its version command.
func (a *cliAdapter) CheckAvailability(ctx context.Context) bool {
	path, err := a.runner.LookPath(a.binary)
	if err != nil {
		return false
	}
	res, err := a.runner.Run(ctx, Command{
		Path:    path,
		Args:    a.versionArgs,
		Dir:     a.workingDir,
		Timeout: defaultProbeTimeout,
	})
	if err != nil || res == nil {
		return false
	}
	return res.ExitCode == 0 && !res.TimedOut && !res.Canceled
}

// Execute runs the tool once with the enhanced prompt.
func (a *cliAdapter) Execute(ctx context.Context, prompt string, opts ExecuteOptions) ToolResponse {
	start := time.Now()
	enhanced := a.EnhancePrompt(prompt)

	model := a.model
	if opts.Model != "" {
		model = opts.Model
	}
	inv := a.build(enhanced, model)
	args := append(inv.args, a.extraArgs...)

	dir := a.workingDir
	if opts.WorkingDir != "" {
		dir = opts.WorkingDir
	}
	timeout := a.timeout
	if opts.Timeout > 0 && (timeout == 0 || opts.Timeout < timeout) {
		timeout = opts.Timeout
	}

	path, err := a.runner.LookPath(a.binary)
	if err != nil {
		return failure(start, fmt.Sprintf("%s not found: %v", a.binary, err), map[string]any{
			MetaRetryable: false,
			MetaErrorKind: "not_found",
		})
	}

	res, err := a.runner.Run(ctx, Command{
		Path:    path,
		Args:    args,
		Stdin:   inv.stdin,
		Dir:     dir,
		Env:     opts.Env,
		Timeout: timeout,
		PassEnv: a.passEnv,
	})
	if err != nil {
		return failure(start, fmt.Sprintf("%s execution error: %v", a.tool, err), map[string]any{
			MetaErrorKind: "spawn",
		})
	}

	meta := map[string]any{MetaExitCode: res.ExitCode}
	if model != "" {
		meta[MetaModel] = model
	}
	if res.Stderr != "" {
		meta[MetaStderr] = clip(res.Stderr, maxStderrMetadata)
	}

	switch {
	case res.TimedOut:
		// A caller deadline also marks the result canceled.
		meta[MetaErrorKind] = "timeout"
		msg := fmt.Sprintf("%s timed out", a.tool)
		if timeout > 0 {
			msg += " after " + timeout.String()
		}
		resp := failure(start, msg, meta)
		resp.Output = res.Stdout
		resp.TimedOut = true
		return resp
	case res.Canceled:
		meta[MetaErrorKind] = "canceled"
		resp := failure(start, fmt.Sprintf("%s canceled", a.tool), meta)
		resp.Output = res.Stdout
		return resp
	case res.ExitCode != 0:
		meta[MetaErrorKind] = "exit"
		msg := fmt.Sprintf("%s exited with code %d", a.tool, res.ExitCode)
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			msg += ": " + clip(stderr, 500)
		}
		resp := failure(start, msg, meta)
		resp.Output = res.Stdout
		return resp
	}

	return ToolResponse{
		Success:    true,
		Output:     res.Stdout,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   meta,
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// ClaudeAdapter runs the Claude Code CLI in print mode with the prompt on
// stdin.
type ClaudeAdapter struct {
	cliAdapter
}

// NewClaudeAdapter creates an adapter for the `claude` command.
func NewClaudeAdapter(opts CLIOptions) *ClaudeAdapter {
	a := &ClaudeAdapter{cliAdapter: newCLIAdapter("claude", "claude", []string{"ANTHROPIC_API_KEY", "CLAUDE_CODE_OAUTH_TOKEN"}, opts)}
	a.build = a.command
	return a
}

func (a *ClaudeAdapter) command(prompt, model string) invocation {
	args := []string{"--print", "--dangerously-skip-permissions", "--output-format", "text"}
	if model != "" {
		args = append(args, "--model", model)
	}
	return invocation{args: args, stdin: prompt}
}

// GeminiAdapter runs the Gemini CLI non-interactively.
type GeminiAdapter struct {
	cliAdapter
}

// NewGeminiAdapter creates an adapter for the `gemini` command.
func NewGeminiAdapter(opts CLIOptions) *GeminiAdapter {
	a := &GeminiAdapter{cliAdapter: newCLIAdapter("gemini", "gemini", []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}, opts)}
	a.build = a.command
	return a
}

func (a *GeminiAdapter) command(prompt, model string) invocation {
	args := []string{"--yolo"}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "--prompt", prompt)
	return invocation{args: args}
}

// QChatAdapter runs Amazon Q Developer's `q chat` without interaction.
type QChatAdapter struct {
	cliAdapter
}

// NewQChatAdapter creates an adapter for the `q chat` command.
func NewQChatAdapter(opts CLIOptions) *QChatAdapter {
	a := &QChatAdapter{cliAdapter: newCLIAdapter("qchat", "q", []string{"AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN"}, opts)}
	a.build = a.command
	return a
}

func (a *QChatAdapter) command(prompt, model string) invocation {
	args := []string{"chat", "--no-interactive", "--trust-all-tools"}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, prompt)
	return invocation{args: args}
}
