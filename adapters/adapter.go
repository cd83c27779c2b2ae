package adapters

import (
	"context"
	"time"
)

// ToolResponse is the result of a single Execute call. It is built once and
// not modified afterwards.
type ToolResponse struct {
	Success    bool           `json:"success"`
	Output     string         `json:"output"`
	Error      string         `json:"error,omitempty"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Retryable reports whether a failed response may be retried. Adapters mark
// permanent failures (bad credentials, unknown model) with
// Metadata["retryable"] = false; anything else is treated as transient.
func (r ToolResponse) Retryable() bool {
	if r.Success {
		return false
	}
	if v, ok := r.Metadata[MetaRetryable].(bool); ok {
		return v
	}
	return true
}

// Metadata keys set by the built-in adapters.
const (
	MetaRetryable = "retryable"
	MetaExitCode  = "exit_code"
	MetaErrorKind = "error_kind"
	MetaStderr    = "stderr"
	MetaModel     = "model"
)

// ExecuteOptions carries per-call settings. The completion promise is
// deliberately absent: it lives on the adapter.
type ExecuteOptions struct {
	// WorkingDir overrides the adapter's working directory.
	WorkingDir string
	// Env adds environment variables for subprocess adapters.
	Env map[string]string
	// Model overrides the adapter's configured model, if the tool has one.
	Model string
	// Timeout bounds this call in addition to any deadline on ctx.
	Timeout time.Duration
}

// ToolAdapter is implemented once per external tool.
type ToolAdapter interface {
	// Name returns the adapter identifier, unique within an orchestrator.
	Name() string

	// CompletionPromise returns the configured promise, or "" when unset.
	CompletionPromise() string

	// SetCompletionPromise stores the promise used by Execute. It is meant to
	// be called once, while adapters are being initialized, and never while
	// a loop is running.
	SetCompletionPromise(promise string)

	// CheckAvailability probes whether the tool can be invoked. It returns
	// false rather than an error when the tool is missing.
	CheckAvailability(ctx context.Context) bool

	// Execute enhances prompt with the adapter's completion promise, invokes
	// the tool, and reports the outcome. Tool failures are reported through
	// ToolResponse.Success, never by panicking.
	Execute(ctx context.Context, prompt string, opts ExecuteOptions) ToolResponse
}

// BaseAdapter provides the name and promise state shared by all adapters.
type BaseAdapter struct {
	name    string
	promise string
}

// NewBaseAdapter returns a BaseAdapter with no promise configured.
func NewBaseAdapter(name string) BaseAdapter {
	return BaseAdapter{name: name}
}

func (b *BaseAdapter) Name() string              { return b.name }
func (b *BaseAdapter) CompletionPromise() string { return b.promise }

func (b *BaseAdapter) SetCompletionPromise(promise string) {
	b.promise = promise
}

// EnhancePrompt applies the injection protocol using this adapter's promise.
func (b *BaseAdapter) EnhancePrompt(prompt string) string {
	return EnhancePrompt(prompt, b.promise)
}

func failure(start time.Time, msg string, meta map[string]any) ToolResponse {
	return ToolResponse{
		Success:    false,
		Error:      msg,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   meta,
	}
}
