package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/ralph/adapters"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateExhausted State = "exhausted"
	StateCancelled State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateExhausted, StateCancelled:
		return true
	}
	return false
}

// DefaultMaxIterations is used when Config.MaxIterations is zero.
const DefaultMaxIterations = 100

// Config holds the settings of one orchestrator.
type Config struct {
	PrimaryTool       string `json:"primary_tool"`
	CompletionPromise string `json:"completion_promise,omitempty"` // "" = never done
	MaxIterations     int    `json:"max_iterations"`               // 0 = DefaultMaxIterations

	MaxRuntime       time.Duration `json:"max_runtime,omitempty"`       // 0 = unbounded
	IterationTimeout time.Duration `json:"iteration_timeout,omitempty"` // 0 = adapter default

	// Retry overrides DefaultFailurePolicy when non-nil.
	Retry *FailurePolicy `json:"retry,omitempty"`

	// PromptFile, when set, is re-read before every iteration.
	PromptFile string `json:"prompt_file,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
	Model      string `json:"model,omitempty"`

	CheckpointInterval int `json:"checkpoint_interval,omitempty"` // 0 = never
	StallWindow        int `json:"stall_window,omitempty"`        // <2 = off
	OutputLimit        int `json:"output_limit,omitempty"`        // chars kept per record; <0 keeps none
}

// DefaultConfig returns a configuration driving the claude adapter until it
// prints LOOP_COMPLETE.
func DefaultConfig() Config {
	return Config{
		PrimaryTool:       "claude",
		CompletionPromise: "LOOP_COMPLETE",
		MaxIterations:     DefaultMaxIterations,
		StallWindow:       3,
	}
}

// IterationRecord describes one adapter invocation. Retries of an iteration
// produce one record per attempt.
type IterationRecord struct {
	Iteration  int       `json:"iteration"`
	Attempt    int       `json:"attempt"`
	Adapter    string    `json:"adapter"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Completed  bool      `json:"completed,omitempty"`
	TimedOut   bool      `json:"timed_out,omitempty"`
	Error      string    `json:"error,omitempty"`
	Output     string    `json:"output,omitempty"`
}

// Result is the outcome of Run.
type Result struct {
	RunID       string            `json:"run_id"`
	State       State             `json:"state"`
	PrimaryTool string            `json:"primary_tool"`
	Iterations  int               `json:"iterations"`
	Retries     int               `json:"retries"`
	Checkpoints int               `json:"checkpoints"`
	Reason      string            `json:"reason,omitempty"`
	Error       string            `json:"error,omitempty"`
	Err         error             `json:"-"`
	LastOutput  string            `json:"last_output,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	DurationMs  int64             `json:"duration_ms"`
	Records     []IterationRecord `json:"records"`
}

// AdapterInitializer produces the adapters an orchestrator may drive.
type AdapterInitializer func(ctx context.Context) (map[string]adapters.ToolAdapter, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCheckpointer replaces the git checkpointer used when
// Config.CheckpointInterval is positive.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Orchestrator) { o.checkpointer = c }
}

// WithEventBuffer sets the capacity of the Events channel (default 256).
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) { o.eventBuffer = n }
}

// Orchestrator drives the primary adapter until its output contains the
// completion promise or a limit is reached. An Orchestrator runs once.
type Orchestrator struct {
	id           string
	cfg          Config
	policy       FailurePolicy
	adapters     map[string]adapters.ToolAdapter
	logger       *slog.Logger
	checkpointer Checkpointer
	eventBuffer  int
	emitter      *eventEmitter

	runMu   sync.Mutex // held for the duration of Run
	stateMu sync.Mutex
	state   State
}

// New validates cfg, obtains adapters from initialize, and hands every
// adapter the configured completion promise. It returns a
// *ConfigurationError when no adapter is available, the primary tool is not
// among them, or a limit is invalid.
func New(ctx context.Context, cfg Config, initialize AdapterInitializer, opts ...Option) (*Orchestrator, error) {
	if initialize == nil {
		return nil, newConfigurationError("adapter initializer is required")
	}
	if strings.TrimSpace(cfg.PrimaryTool) == "" {
		return nil, newConfigurationError("primary tool is required")
	}
	if cfg.CompletionPromise != "" && strings.TrimSpace(cfg.CompletionPromise) == "" {
		return nil, newConfigurationError("completion promise must not be blank")
	}
	switch {
	case cfg.MaxIterations < 0:
		return nil, newConfigurationError("max iterations must not be negative, got %d", cfg.MaxIterations)
	case cfg.MaxRuntime < 0:
		return nil, newConfigurationError("max runtime must not be negative, got %s", cfg.MaxRuntime)
	case cfg.IterationTimeout < 0:
		return nil, newConfigurationError("iteration timeout must not be negative, got %s", cfg.IterationTimeout)
	case cfg.CheckpointInterval < 0:
		return nil, newConfigurationError("checkpoint interval must not be negative, got %d", cfg.CheckpointInterval)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	policy := DefaultFailurePolicy()
	if cfg.Retry != nil {
		if cfg.Retry.MaxRetries < 0 {
			return nil, newConfigurationError("max retries must not be negative, got %d", cfg.Retry.MaxRetries)
		}
		policy = *cfg.Retry
	}

	o := &Orchestrator{
		id:     uuid.New().String(),
		cfg:    cfg,
		policy: policy,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}

	found, err := initialize(ctx)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &ConfigurationError{OrchestratorError{Message: "adapter initialization failed", Cause: err}}
	}
	o.adapters = make(map[string]adapters.ToolAdapter, len(found))
	for name, a := range found {
		if a != nil {
			o.adapters[name] = a
		}
	}
	if len(o.adapters) == 0 {
		return nil, newConfigurationError("no adapters available")
	}
	if _, ok := o.adapters[cfg.PrimaryTool]; !ok {
		return nil, newConfigurationError("primary tool %q is not available (available: %s)",
			cfg.PrimaryTool, strings.Join(o.Adapters(), ", "))
	}

	// Every adapter gets the promise, not just the primary one.
	for _, a := range o.adapters {
		a.SetCompletionPromise(cfg.CompletionPromise)
	}

	if o.checkpointer == nil && cfg.CheckpointInterval > 0 {
		o.checkpointer = GitCheckpointer{Dir: cfg.WorkingDir}
	}
	o.emitter = newEventEmitter(o.id, o.eventBuffer)

	o.logger.Debug("orchestrator initialized",
		"run_id", o.id,
		"primary_tool", cfg.PrimaryTool,
		"adapters", o.Adapters(),
		"max_iterations", cfg.MaxIterations,
	)
	return o, nil
}

// ID returns the run identifier shared by events and the Result.
func (o *Orchestrator) ID() string { return o.id }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.stateMu.Lock()
	o.state = s
	o.stateMu.Unlock()
}

// Adapters returns the names of the available adapters, sorted.
func (o *Orchestrator) Adapters() []string {
	names := make([]string, 0, len(o.adapters))
	for name := range o.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Adapter returns the named adapter.
func (o *Orchestrator) Adapter(name string) (adapters.ToolAdapter, bool) {
	a, ok := o.adapters[name]
	return a, ok
}

// Events returns the event channel. It is closed when Run returns, including
// when Run rejects its configuration.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.events()
}

// Run drives the primary adapter with prompt. Terminal outcomes, including
// failure and cancellation, are reported through Result.State with a nil
// error; the error is reserved for configuration problems.
//
// An empty prompt is read from Config.PromptFile. When PromptFile is set the
// file is re-read before every iteration after the first, so a non-empty
// prompt only drives the first iteration.
//
// The Events channel is closed when Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, prompt string) (*Result, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	defer o.emitter.close()

	if state := o.State(); state != StateIdle {
		return nil, newConfigurationError("orchestrator already ran (state %s)", state)
	}
	adapter, ok := o.adapters[o.cfg.PrimaryTool]
	if !ok {
		return nil, newConfigurationError("primary tool %q is not available", o.cfg.PrimaryTool)
	}
	if prompt == "" && o.cfg.PromptFile != "" {
		data, err := os.ReadFile(o.cfg.PromptFile)
		if err != nil {
			return nil, &ConfigurationError{OrchestratorError{Message: "failed to read prompt file", Cause: err}}
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, newConfigurationError("prompt is empty")
	}

	o.setState(StateRunning)

	runCtx := ctx
	if o.cfg.MaxRuntime > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, o.cfg.MaxRuntime, errRuntimeBudget)
		defer cancel()
	}

	res := &Result{
		RunID:       o.id,
		State:       StateRunning,
		PrimaryTool: adapter.Name(),
		StartedAt:   time.Now(),
	}
	o.logger.Info("run started",
		"run_id", o.id,
		"adapter", adapter.Name(),
		"max_iterations", o.cfg.MaxIterations,
	)
	o.emitter.emit(EventRunStart, map[string]any{
		"adapter":        adapter.Name(),
		"max_iterations": o.cfg.MaxIterations,
	})

	stall := newStallDetector(o.cfg.StallWindow)
	current := prompt

	for {
		if runCtx.Err() != nil {
			return o.interrupted(ctx, runCtx, res), nil
		}
		if res.Iterations >= o.cfg.MaxIterations {
			return o.finish(res, StateExhausted, "max iterations reached", nil), nil
		}
		res.Iterations++
		iteration := res.Iterations
		if iteration > 1 {
			current = o.loadPrompt(current)
		}

		resp, err := o.iterate(runCtx, adapter, iteration, current, res)
		res.LastOutput = recordOutput(resp.Output, o.cfg.OutputLimit)

		switch {
		case err == nil && o.completed(resp):
			return o.finish(res, StateDone, "completion promise found", nil), nil
		case runCtx.Err() != nil:
			return o.interrupted(ctx, runCtx, res), nil
		case err != nil:
			return o.finish(res, StateFailed, "adapter failure", err), nil
		}

		if stall.observe(outputSignature(adapter.Name(), resp.Output)) {
			o.logger.Warn("iteration output is repeating",
				"run_id", o.id,
				"iteration", iteration,
				"window", o.cfg.StallWindow,
			)
			o.emitter.emit(EventStall, map[string]any{
				"iteration": iteration,
				"window":    o.cfg.StallWindow,
			})
		}

		if o.checkpointer != nil && o.cfg.CheckpointInterval > 0 && iteration%o.cfg.CheckpointInterval == 0 {
			o.checkpoint(runCtx, iteration, res)
		}
	}
}

// iterate runs one iteration, re-attempting failures per the failure policy.
// It returns an *ExecutionError when the iteration failed for good, or the
// context error when the run was interrupted while waiting to retry.
func (o *Orchestrator) iterate(ctx context.Context, adapter adapters.ToolAdapter, iteration int, prompt string, res *Result) (adapters.ToolResponse, error) {
	for attempt := 1; ; attempt++ {
		o.emitter.emit(EventIterationStart, map[string]any{
			"iteration": iteration,
			"attempt":   attempt,
			"adapter":   adapter.Name(),
		})

		started := time.Now()
		resp := o.execute(ctx, adapter, prompt)
		completed := o.completed(resp)
		res.Records = append(res.Records, IterationRecord{
			Iteration:  iteration,
			Attempt:    attempt,
			Adapter:    adapter.Name(),
			StartedAt:  started,
			DurationMs: time.Since(started).Milliseconds(),
			Success:    resp.Success,
			Completed:  completed,
			TimedOut:   resp.TimedOut,
			Error:      resp.Error,
			Output:     recordOutput(resp.Output, o.cfg.OutputLimit),
		})
		o.logger.Info("iteration finished",
			"run_id", o.id,
			"iteration", iteration,
			"attempt", attempt,
			"adapter", adapter.Name(),
			"success", resp.Success,
			"completed", completed,
			"duration_ms", time.Since(started).Milliseconds(),
		)
		o.emitter.emit(EventIterationEnd, map[string]any{
			"iteration": iteration,
			"attempt":   attempt,
			"success":   resp.Success,
			"completed": completed,
			"error":     resp.Error,
		})

		if resp.Success {
			return resp, nil
		}
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}

		retryable := resp.Retryable()
		if !retryable || attempt > o.policy.MaxRetries {
			return resp, &ExecutionError{
				OrchestratorError: OrchestratorError{Message: resp.Error},
				Adapter:           adapter.Name(),
				Iteration:         iteration,
				Attempts:          attempt,
				Retryable:         retryable,
			}
		}

		delay := o.policy.Delay(attempt - 1)
		res.Retries++
		o.logger.Warn("iteration failed, retrying",
			"run_id", o.id,
			"iteration", iteration,
			"attempt", attempt,
			"adapter", adapter.Name(),
			"error", resp.Error,
			"delay", delay,
		)
		o.emitter.emit(EventRetry, map[string]any{
			"iteration": iteration,
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"error":     resp.Error,
		})
		if err := sleepContext(ctx, delay); err != nil {
			return resp, err
		}
	}
}

// execute invokes the adapter once, bounded by the iteration timeout.
func (o *Orchestrator) execute(ctx context.Context, adapter adapters.ToolAdapter, prompt string) adapters.ToolResponse {
	if o.cfg.IterationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.IterationTimeout)
		defer cancel()
	}
	return adapter.Execute(ctx, prompt, adapters.ExecuteOptions{
		WorkingDir: o.cfg.WorkingDir,
		Model:      o.cfg.Model,
		Timeout:    o.cfg.IterationTimeout,
	})
}

func (o *Orchestrator) completed(resp adapters.ToolResponse) bool {
	promise := o.cfg.CompletionPromise
	return resp.Success && promise != "" && strings.Contains(resp.Output, promise)
}

// loadPrompt re-reads the prompt file, keeping last when it cannot be read.
func (o *Orchestrator) loadPrompt(last string) string {
	if o.cfg.PromptFile == "" {
		return last
	}
	data, err := os.ReadFile(o.cfg.PromptFile)
	if err != nil {
		o.logger.Warn("failed to re-read prompt file, reusing previous prompt",
			"run_id", o.id,
			"path", o.cfg.PromptFile,
			"error", err,
		)
		return last
	}
	if strings.TrimSpace(string(data)) == "" {
		o.logger.Warn("prompt file is empty, reusing previous prompt", "run_id", o.id, "path", o.cfg.PromptFile)
		return last
	}
	return string(data)
}

func (o *Orchestrator) checkpoint(ctx context.Context, iteration int, res *Result) {
	err := o.checkpointer.Checkpoint(ctx, iteration)
	switch {
	case errors.Is(err, ErrNotGitRepository):
		o.logger.Debug("skipping checkpoint outside a git repository", "run_id", o.id)
	case err != nil:
		o.logger.Warn("checkpoint failed", "run_id", o.id, "iteration", iteration, "error", err)
		o.emitter.emit(EventWarning, map[string]any{
			"iteration": iteration,
			"message":   fmt.Sprintf("checkpoint failed: %v", err),
		})
	default:
		res.Checkpoints++
		o.emitter.emit(EventCheckpoint, map[string]any{"iteration": iteration})
	}
}

// interrupted finishes a run whose context is done. The runtime budget
// exhausts the run; anything else cancels it.
func (o *Orchestrator) interrupted(parent, runCtx context.Context, res *Result) *Result {
	if parent.Err() == nil && errors.Is(context.Cause(runCtx), errRuntimeBudget) {
		return o.finish(res, StateExhausted, "runtime budget", nil)
	}
	err := parent.Err()
	if err == nil {
		err = runCtx.Err()
	}
	return o.finish(res, StateCancelled, "cancelled", err)
}

func (o *Orchestrator) finish(res *Result, state State, reason string, err error) *Result {
	res.State = state
	res.Reason = reason
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
	res.FinishedAt = time.Now()
	res.DurationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	o.setState(state)

	level := slog.LevelInfo
	if state == StateFailed {
		level = slog.LevelError
	}
	o.logger.Log(context.Background(), level, "run finished",
		"run_id", o.id,
		"state", string(state),
		"reason", reason,
		"iterations", res.Iterations,
		"retries", res.Retries,
		"duration_ms", res.DurationMs,
	)
	o.emitter.emit(EventRunEnd, map[string]any{
		"state":      string(state),
		"reason":     reason,
		"iterations": res.Iterations,
	})
	return res
}
