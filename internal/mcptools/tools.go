// Package mcptools exposes the orchestrator as MCP tools.
package mcptools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/martinemde/ralph/adapters"
	"github.com/martinemde/ralph/config"
	"github.com/martinemde/ralph/orchestrator"
)

// Handlers serves the ralph_* tools from a base configuration. Per-call
// arguments override it.
type Handlers struct {
	Config *config.Config
	Logger *slog.Logger
	// Initializer builds the adapter initializer for a run; nil means
	// orchestrator.DefaultInitializer with local subprocesses.
	Initializer func(specs []adapters.Spec) orchestrator.AdapterInitializer
}

// NewHandlers returns Handlers for cfg.
func NewHandlers(cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{Config: cfg, Logger: logger}
}

func (h *Handlers) initializer(specs []adapters.Spec) orchestrator.AdapterInitializer {
	if h.Initializer != nil {
		return h.Initializer(specs)
	}
	return orchestrator.DefaultInitializer(specs, nil, h.Logger)
}

// Register adds the ralph tools to s.
func Register(s *server.MCPServer, h *Handlers) {
	s.AddTool(mcp.NewTool("ralph_run",
		mcp.WithDescription("Run a tool adapter in a loop until its output contains the completion promise"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Task prompt given to the adapter every iteration")),
		mcp.WithString("tool", mcp.Description("Primary adapter name (default from config)")),
		mcp.WithString("promise", mcp.Description("Completion promise (default from config)")),
		mcp.WithNumber("max_iterations", mcp.Description("Iteration limit (default from config)")),
		mcp.WithNumber("max_runtime_seconds", mcp.Description("Wall-clock budget for the whole run")),
		mcp.WithString("working_directory", mcp.Description("Directory the adapter runs in")),
	), h.HandleRun)

	s.AddTool(mcp.NewTool("ralph_adapters",
		mcp.WithDescription("List configured adapters and which of them are available"),
	), h.HandleAdapters)

	s.AddTool(mcp.NewTool("ralph_enhance_prompt",
		mcp.WithDescription("Show the prompt an adapter would receive, with the completion promise block"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Task prompt")),
		mcp.WithString("promise", mcp.Description("Completion promise (default from config)")),
	), h.HandleEnhancePrompt)
}

// HandleRun runs one orchestrator to a terminal state.
func (h *Handlers) HandleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	oc := h.Config.OrchestratorConfig()
	// The prompt comes from the caller, not from a file.
	oc.PromptFile = ""
	if tool, ok := args["tool"].(string); ok && tool != "" {
		oc.PrimaryTool = tool
	}
	if promise, ok := args["promise"].(string); ok && promise != "" {
		oc.CompletionPromise = promise
	}
	if n, ok := args["max_iterations"].(float64); ok && n > 0 {
		oc.MaxIterations = int(n)
	}
	if secs, ok := args["max_runtime_seconds"].(float64); ok && secs > 0 {
		oc.MaxRuntime = time.Duration(secs * float64(time.Second))
	}
	if dir, ok := args["working_directory"].(string); ok && dir != "" {
		oc.WorkingDir = dir
	}

	orch, err := orchestrator.New(ctx, oc, h.initializer(h.Config.AdapterSpecs()), orchestrator.WithLogger(h.Logger))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := orch.Run(ctx, prompt)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultStructuredOnly(map[string]interface{}{
		"run_id":       res.RunID,
		"state":        string(res.State),
		"success":      res.State == orchestrator.StateDone,
		"primary_tool": res.PrimaryTool,
		"iterations":   res.Iterations,
		"retries":      res.Retries,
		"reason":       res.Reason,
		"error":        res.Error,
		"duration_ms":  res.DurationMs,
		"last_output":  res.LastOutput,
	}), nil
}

// HandleAdapters probes every configured adapter.
func (h *Handlers) HandleAdapters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	specs := h.Config.AdapterSpecs()
	available, err := h.initializer(specs)(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to initialize adapters: %v", err)), nil
	}

	list := make([]map[string]interface{}, 0, len(specs))
	for _, spec := range specs {
		name := spec.AdapterName()
		_, ok := available[name]
		list = append(list, map[string]interface{}{
			"name":      name,
			"kind":      spec.Kind,
			"disabled":  spec.Disabled,
			"available": ok,
		})
	}
	return mcp.NewToolResultStructuredOnly(map[string]interface{}{
		"primary_tool": h.Config.PrimaryTool,
		"adapters":     list,
	}), nil
}

// HandleEnhancePrompt returns the enhanced prompt.
func (h *Handlers) HandleEnhancePrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	promise := h.Config.CompletionPromise
	if p, ok := args["promise"].(string); ok && p != "" {
		promise = p
	}
	enhanced := adapters.EnhancePrompt(prompt, promise)
	return mcp.NewToolResultStructuredOnly(map[string]interface{}{
		"prompt":          enhanced,
		"promise":         promise,
		"already_present": enhanced == prompt && promise != "",
	}), nil
}
