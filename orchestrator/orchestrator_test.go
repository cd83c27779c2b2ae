package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/martinemde/ralph/adapters"
)

// scriptedAdapter is a test double that replays canned responses.
type scriptedAdapter struct {
	adapters.BaseAdapter
	available bool
	responses []adapters.ToolResponse
	execute   func(ctx context.Context, prompt string) adapters.ToolResponse

	mu      sync.Mutex
	prompts []string
	opts    []adapters.ExecuteOptions
}

func newScripted(name string, responses ...adapters.ToolResponse) *scriptedAdapter {
	return &scriptedAdapter{
		BaseAdapter: adapters.NewBaseAdapter(name),
		available:   true,
		responses:   responses,
	}
}

func (a *scriptedAdapter) CheckAvailability(ctx context.Context) bool { return a.available }

func (a *scriptedAdapter) Execute(ctx context.Context, prompt string, opts adapters.ExecuteOptions) adapters.ToolResponse {
	a.mu.Lock()
	a.prompts = append(a.prompts, a.EnhancePrompt(prompt))
	a.opts = append(a.opts, opts)
	n := len(a.prompts)
	a.mu.Unlock()

	if a.execute != nil {
		return a.execute(ctx, prompt)
	}
	if len(a.responses) == 0 {
		return adapters.ToolResponse{Success: true}
	}
	i := n - 1
	if i >= len(a.responses) {
		i = len(a.responses) - 1
	}
	return a.responses[i]
}

func (a *scriptedAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

func ok(output string) adapters.ToolResponse {
	return adapters.ToolResponse{Success: true, Output: output}
}

func fail(msg string) adapters.ToolResponse {
	return adapters.ToolResponse{Success: false, Error: msg}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetries(n int) *FailurePolicy {
	return &FailurePolicy{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func mustNew(t *testing.T, cfg Config, list ...adapters.ToolAdapter) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), cfg, StaticInitializer(list...), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestNewPropagatesPromiseToEveryAdapter(t *testing.T) {
	a := newScripted("mock")
	b := newScripted("other")
	c := newScripted("third")
	c.SetCompletionPromise("STALE")

	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "CUSTOM_PROMISE", MaxIterations: 1}, a, b, c)

	for _, name := range o.Adapters() {
		adapter, _ := o.Adapter(name)
		if got := adapter.CompletionPromise(); got != "CUSTOM_PROMISE" {
			t.Errorf("adapter %s: promise %q, want CUSTOM_PROMISE", name, got)
		}
	}
}

func TestNewPropagatesEmptyPromise(t *testing.T) {
	a := newScripted("mock")
	a.SetCompletionPromise("LEFTOVER")

	mustNew(t, Config{PrimaryTool: "mock"}, a)

	if a.CompletionPromise() != "" {
		t.Errorf("expected promise cleared, got %q", a.CompletionPromise())
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	mock := func() adapters.ToolAdapter { return newScripted("mock") }
	tests := []struct {
		name string
		cfg  Config
		init AdapterInitializer
		want string
	}{
		{"no adapters", Config{PrimaryTool: "mock"}, StaticInitializer(), "no adapters available"},
		{"primary missing", Config{PrimaryTool: "claude"}, StaticInitializer(mock()), `primary tool "claude"`},
		{"empty primary", Config{}, StaticInitializer(mock()), "primary tool is required"},
		{"negative iterations", Config{PrimaryTool: "mock", MaxIterations: -1}, StaticInitializer(mock()), "max iterations"},
		{"negative runtime", Config{PrimaryTool: "mock", MaxRuntime: -time.Second}, StaticInitializer(mock()), "max runtime"},
		{"negative retries", Config{PrimaryTool: "mock", Retry: &FailurePolicy{MaxRetries: -1}}, StaticInitializer(mock()), "max retries"},
		{"nil initializer", Config{PrimaryTool: "mock"}, nil, "initializer is required"},
		{"blank promise", Config{PrimaryTool: "mock", CompletionPromise: " "}, StaticInitializer(mock()), "completion promise must not be blank"},
		{"whitespace promise", Config{PrimaryTool: "mock", CompletionPromise: "\t\n"}, StaticInitializer(mock()), "completion promise must not be blank"},
		{
			"initializer error",
			Config{PrimaryTool: "mock"},
			func(ctx context.Context) (map[string]adapters.ToolAdapter, error) { return nil, errors.New("boom") },
			"adapter initialization failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, tt.init, WithLogger(quietLogger()))
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsConfigurationError(err) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestNewDefaultsMaxIterations(t *testing.T) {
	o := mustNew(t, Config{PrimaryTool: "mock"}, newScripted("mock"))
	if o.Config().MaxIterations != DefaultMaxIterations {
		t.Errorf("MaxIterations = %d, want %d", o.Config().MaxIterations, DefaultMaxIterations)
	}
	if o.State() != StateIdle {
		t.Errorf("State = %s, want idle", o.State())
	}
}

func TestRunCompletesOnFirstIteration(t *testing.T) {
	a := newScripted("mock", ok("did the work\nLOOP_COMPLETE\n"))
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "LOOP_COMPLETE", MaxIterations: 1}, a)

	res, err := o.Run(context.Background(), "Do a task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("State = %s, want done", res.State)
	}
	if a.calls() != 1 {
		t.Errorf("expected exactly 1 call, got %d", a.calls())
	}
	if !strings.Contains(a.prompts[0], "output this exact line:\nLOOP_COMPLETE") {
		t.Errorf("prompt was not enhanced: %q", a.prompts[0])
	}
	if o.State() != StateDone {
		t.Errorf("orchestrator state %s, want done", o.State())
	}
}

func TestRunExhaustsWithoutPromise(t *testing.T) {
	a := newScripted("mock", ok("still working"))
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "LOOP_COMPLETE", MaxIterations: 1}, a)

	res, err := o.Run(context.Background(), "Do a task")
	if err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if res.State != StateExhausted {
		t.Fatalf("State = %s, want exhausted", res.State)
	}
	if a.calls() != 1 {
		t.Errorf("expected exactly 1 call, got %d", a.calls())
	}
	if res.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", res.Iterations)
	}
}

func TestRunStopsAtFirstCompletion(t *testing.T) {
	a := newScripted("mock", ok("one"), ok("two"), ok("three DONE"), ok("four"))
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 10}, a)

	res, _ := o.Run(context.Background(), "task")
	if res.State != StateDone || a.calls() != 3 {
		t.Errorf("State = %s after %d calls, want done after 3", res.State, a.calls())
	}
	if len(res.Records) != 3 || !res.Records[2].Completed {
		t.Errorf("unexpected records %+v", res.Records)
	}
}

func TestRunEmptyPromiseNeverCompletes(t *testing.T) {
	a := newScripted("mock", ok("LOOP_COMPLETE"))
	o := mustNew(t, Config{PrimaryTool: "mock", MaxIterations: 3}, a)

	res, _ := o.Run(context.Background(), "task")
	if res.State != StateExhausted || a.calls() != 3 {
		t.Errorf("State = %s after %d calls, want exhausted after 3", res.State, a.calls())
	}
	if a.prompts[0] != "task" {
		t.Errorf("prompt should not be enhanced without a promise: %q", a.prompts[0])
	}
}

func TestRunFailedResponseContainingPromiseIsNotDone(t *testing.T) {
	a := newScripted("mock", adapters.ToolResponse{Success: false, Output: "DONE", Error: "exit 1"})
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", Retry: fastRetries(0)}, a)

	res, _ := o.Run(context.Background(), "task")
	if res.State != StateFailed {
		t.Errorf("State = %s, want failed", res.State)
	}
}

func TestRunUniformControlAcrossAdapters(t *testing.T) {
	for _, name := range []string{"claude", "gemini", "qchat"} {
		t.Run(name, func(t *testing.T) {
			primary := newScripted(name, ok("no"), ok("PROMISE"))
			bystander := newScripted("bystander-" + name)
			o := mustNew(t, Config{PrimaryTool: name, CompletionPromise: "PROMISE", MaxIterations: 5}, primary, bystander)

			res, _ := o.Run(context.Background(), "task")
			if res.State != StateDone || primary.calls() != 2 {
				t.Errorf("State = %s after %d calls", res.State, primary.calls())
			}
			if bystander.calls() != 0 {
				t.Errorf("non-primary adapter was invoked %d times", bystander.calls())
			}
			if res.PrimaryTool != name {
				t.Errorf("PrimaryTool = %q", res.PrimaryTool)
			}
		})
	}
}

func TestRunFailurePolicy(t *testing.T) {
	nonRetryable := adapters.ToolResponse{Error: "bad key", Metadata: map[string]any{adapters.MetaRetryable: false}}
	tests := []struct {
		name        string
		responses   []adapters.ToolResponse
		retries     int
		wantState   State
		wantCalls   int
		wantRetries int
	}{
		{"recovers after transient failures", []adapters.ToolResponse{fail("a"), fail("b"), ok("DONE")}, 2, StateDone, 3, 2},
		{"fails when retries run out", []adapters.ToolResponse{fail("a")}, 1, StateFailed, 2, 1},
		{"zero retries is fatal", []adapters.ToolResponse{fail("a"), ok("DONE")}, 0, StateFailed, 1, 0},
		{"non-retryable fails immediately", []adapters.ToolResponse{nonRetryable, ok("DONE")}, 5, StateFailed, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newScripted("mock", tt.responses...)
			o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 1, Retry: fastRetries(tt.retries)}, a)

			res, err := o.Run(context.Background(), "task")
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.State != tt.wantState {
				t.Errorf("State = %s, want %s", res.State, tt.wantState)
			}
			if a.calls() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", a.calls(), tt.wantCalls)
			}
			if res.Retries != tt.wantRetries {
				t.Errorf("Retries = %d, want %d", res.Retries, tt.wantRetries)
			}
			if res.Iterations != 1 {
				t.Errorf("retries must not consume iterations, got %d", res.Iterations)
			}
			if tt.wantState == StateFailed {
				var ee *ExecutionError
				if !errors.As(res.Err, &ee) {
					t.Fatalf("expected ExecutionError, got %v", res.Err)
				}
				if ee.Attempts != tt.wantCalls || ee.Adapter != "mock" {
					t.Errorf("unexpected error details %+v", ee)
				}
				if res.Error == "" {
					t.Error("expected Result.Error to be set")
				}
			}
		})
	}
}

func TestRunCancelled(t *testing.T) {
	started := make(chan struct{})
	a := newScripted("mock")
	a.execute = func(ctx context.Context, prompt string) adapters.ToolResponse {
		close(started)
		<-ctx.Done()
		return fail("killed")
	}
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE"}, a)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := o.Run(ctx, "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateCancelled {
		t.Fatalf("State = %s, want cancelled", res.State)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", res.Err)
	}
	if res.Retries != 0 {
		t.Errorf("cancelled work must not be retried, got %d retries", res.Retries)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	a := newScripted("mock", ok("DONE"))
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE"}, a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, _ := o.Run(ctx, "task")
	if res.State != StateCancelled || a.calls() != 0 {
		t.Errorf("State = %s after %d calls, want cancelled after 0", res.State, a.calls())
	}
}

func TestRunRuntimeBudget(t *testing.T) {
	a := newScripted("mock")
	a.execute = func(ctx context.Context, prompt string) adapters.ToolResponse {
		<-ctx.Done()
		return adapters.ToolResponse{Error: "timed out", TimedOut: true}
	}
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxRuntime: 50 * time.Millisecond}, a)

	res, err := o.Run(context.Background(), "task")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateExhausted || res.Reason != "runtime budget" {
		t.Errorf("State = %s (%s), want exhausted by runtime budget", res.State, res.Reason)
	}
}

func TestRunIterationTimeout(t *testing.T) {
	a := newScripted("mock")
	a.execute = func(ctx context.Context, prompt string) adapters.ToolResponse {
		<-ctx.Done()
		return adapters.ToolResponse{Error: ctx.Err().Error(), TimedOut: true}
	}
	cfg := Config{
		PrimaryTool:       "mock",
		CompletionPromise: "DONE",
		IterationTimeout:  20 * time.Millisecond,
		WorkingDir:        "/repo",
		Model:             "fast",
		Retry:             fastRetries(0),
	}
	o := mustNew(t, cfg, a)

	res, _ := o.Run(context.Background(), "task")
	if res.State != StateFailed {
		t.Fatalf("State = %s, want failed", res.State)
	}
	if !res.Records[0].TimedOut {
		t.Error("expected record to be marked timed out")
	}
	opts := a.opts[0]
	if opts.Timeout != 20*time.Millisecond || opts.WorkingDir != "/repo" || opts.Model != "fast" {
		t.Errorf("unexpected execute options %+v", opts)
	}
}

func TestRunTwiceIsConfigurationError(t *testing.T) {
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE"}, newScripted("mock", ok("DONE")))
	if _, err := o.Run(context.Background(), "task"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	_, err := o.Run(context.Background(), "task")
	if !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError on second Run, got %v", err)
	}
	if o.State() != StateDone {
		t.Errorf("terminal state changed to %s", o.State())
	}
}

func TestRunEmptyPromptIsConfigurationError(t *testing.T) {
	o := mustNew(t, Config{PrimaryTool: "mock"}, newScripted("mock"))
	if _, err := o.Run(context.Background(), "  \n"); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunConfigurationErrorClosesEvents(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		prompt string
	}{
		{"blank prompt", Config{PrimaryTool: "mock"}, "   "},
		{"missing prompt file", Config{PrimaryTool: "mock", PromptFile: filepath.Join(t.TempDir(), "missing.md")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := mustNew(t, tt.cfg, newScripted("mock"))
			drained := make(chan struct{})
			go func() {
				for range o.Events() {
				}
				close(drained)
			}()

			if _, err := o.Run(context.Background(), tt.prompt); !IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			select {
			case <-drained:
			case <-time.After(2 * time.Second):
				t.Fatal("event channel still open after Run returned")
			}
		})
	}
}

func TestRunPromptArgumentDrivesFirstIteration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("from file"), 0644); err != nil {
		t.Fatal(err)
	}
	a := newScripted("mock", ok("progress"))
	o := mustNew(t, Config{PrimaryTool: "mock", MaxIterations: 2, PromptFile: path}, a)

	if _, err := o.Run(context.Background(), "from caller"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(a.prompts) != 2 || a.prompts[0] != "from caller" || a.prompts[1] != "from file" {
		t.Errorf("prompts = %q, want [from caller, from file]", a.prompts)
	}
}

func TestRunRereadsPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("step 1"), 0644); err != nil {
		t.Fatal(err)
	}

	a := newScripted("mock")
	a.execute = func(ctx context.Context, prompt string) adapters.ToolResponse {
		switch prompt {
		case "step 1":
			_ = os.WriteFile(path, []byte("step 2"), 0644)
		case "step 2":
			_ = os.Remove(path)
		}
		return ok("progress")
	}
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 3, PromptFile: path}, a)

	if _, err := o.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"step 1", "step 2", "step 2"}
	for i, w := range want {
		if !strings.HasPrefix(a.prompts[i], w+"\n\n## Completion Promise") {
			t.Errorf("iteration %d prompt %q, want %q", i+1, a.prompts[i], w)
		}
	}
}

func TestRunMissingPromptFileIsConfigurationError(t *testing.T) {
	cfg := Config{PrimaryTool: "mock", PromptFile: filepath.Join(t.TempDir(), "missing.md")}
	o := mustNew(t, cfg, newScripted("mock"))
	if _, err := o.Run(context.Background(), ""); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

type recordingCheckpointer struct {
	iterations []int
	err        error
}

func (r *recordingCheckpointer) Checkpoint(ctx context.Context, iteration int) error {
	r.iterations = append(r.iterations, iteration)
	return r.err
}

func TestRunCheckpointsEveryInterval(t *testing.T) {
	cp := &recordingCheckpointer{}
	cfg := Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 5, CheckpointInterval: 2}
	o, err := New(context.Background(), cfg, StaticInitializer(newScripted("mock", ok("work"))),
		WithLogger(quietLogger()), WithCheckpointer(cp))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, _ := o.Run(context.Background(), "task")
	if len(cp.iterations) != 2 || cp.iterations[0] != 2 || cp.iterations[1] != 4 {
		t.Errorf("checkpoints at %v, want [2 4]", cp.iterations)
	}
	if res.Checkpoints != 2 {
		t.Errorf("Checkpoints = %d, want 2", res.Checkpoints)
	}
}

func TestRunCheckpointFailureIsNotFatal(t *testing.T) {
	cp := &recordingCheckpointer{err: errors.New("disk full")}
	cfg := Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 3, CheckpointInterval: 1}
	o, _ := New(context.Background(), cfg, StaticInitializer(newScripted("mock", ok("work"))),
		WithLogger(quietLogger()), WithCheckpointer(cp))

	res, _ := o.Run(context.Background(), "task")
	if res.State != StateExhausted || len(cp.iterations) != 3 {
		t.Errorf("State = %s with %d checkpoints", res.State, len(cp.iterations))
	}
	if res.Checkpoints != 0 {
		t.Errorf("failed checkpoints counted: %d", res.Checkpoints)
	}
}

func TestRunEmitsEvents(t *testing.T) {
	a := newScripted("mock", ok("same"))
	o := mustNew(t, Config{PrimaryTool: "mock", CompletionPromise: "DONE", MaxIterations: 3, StallWindow: 2}, a)

	if _, err := o.Run(context.Background(), "task"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var kinds []EventKind
	for ev := range o.Events() {
		if ev.RunID != o.ID() {
			t.Errorf("event %s has run id %q", ev.Kind, ev.RunID)
		}
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) == 0 || kinds[0] != EventRunStart || kinds[len(kinds)-1] != EventRunEnd {
		t.Fatalf("unexpected event sequence %v", kinds)
	}
	count := map[EventKind]int{}
	for _, k := range kinds {
		count[k]++
	}
	if count[EventIterationStart] != 3 || count[EventIterationEnd] != 3 {
		t.Errorf("iteration events %v", count)
	}
	if count[EventStall] != 2 {
		t.Errorf("expected stall warnings on iterations 2 and 3, got %d", count[EventStall])
	}
}

func TestRunRecordsTruncatedOutput(t *testing.T) {
	long := strings.Repeat("x", 500)
	a := newScripted("mock", ok(long))
	o := mustNew(t, Config{PrimaryTool: "mock", MaxIterations: 1, OutputLimit: 100}, a)

	res, _ := o.Run(context.Background(), "task")
	if got := res.Records[0].Output; len(got) >= len(long) || !strings.Contains(got, "characters omitted") {
		t.Errorf("record output not truncated: %d chars", len(got))
	}
	if res.RunID != o.ID() || res.FinishedAt.Before(res.StartedAt) {
		t.Errorf("unexpected result metadata %+v", res)
	}
}
