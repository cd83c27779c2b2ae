// Package adapters wraps external AI coding assistants behind a single
// ToolAdapter contract.
//
// Every adapter owns a completion promise: a sentinel line the external tool
// is asked to print once the task is finished. Before each invocation the
// adapter passes its prompt through EnhancePrompt, which appends a
// "## Completion Promise" block exactly once. The promise is adapter state set
// by the orchestrator during initialization; it is never a per-call argument.
//
// # Architecture
//
//   - ToolAdapter: the capability contract (availability probe + execute).
//   - BaseAdapter: name and promise storage plus prompt enhancement, embedded
//     by every variant.
//   - ClaudeAdapter, GeminiAdapter, QChatAdapter: command-line assistants run
//     as subprocesses through a CommandRunner.
//   - APIAdapter: a hosted model reached over HTTP through gollm.
//   - Spec / Build: declarative construction used by configuration.
//
// # Quick Start
//
//	claude := adapters.NewClaudeAdapter(adapters.CLIOptions{WorkingDir: "."})
//	claude.SetCompletionPromise("LOOP_COMPLETE")
//
//	if claude.CheckAvailability(ctx) {
//	    resp := claude.Execute(ctx, "Fix the failing tests", adapters.ExecuteOptions{})
//	    fmt.Println(resp.Success, resp.Output)
//	}
package adapters
