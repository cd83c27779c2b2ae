// Package orchestrator drives a tool adapter in a loop until its output
// contains a completion promise.
//
// An Orchestrator is built once with New, which obtains adapters from an
// AdapterInitializer and gives every one of them the configured completion
// promise. Run then invokes the primary adapter with the task prompt,
// iteration after iteration, until one of these happens:
//
//   - the output contains the promise (StateDone)
//   - MaxIterations or MaxRuntime is used up (StateExhausted)
//   - the adapter fails beyond the FailurePolicy (StateFailed)
//   - the context is cancelled (StateCancelled)
//
// # Quick Start
//
//	orch, err := orchestrator.New(ctx, orchestrator.Config{
//		PrimaryTool:       "claude",
//		CompletionPromise: "LOOP_COMPLETE",
//		MaxIterations:     20,
//	}, orchestrator.DefaultInitializer(adapters.DefaultSpecs(), nil, nil))
//	if err != nil {
//		log.Fatal(err)
//	}
//	res, err := orch.Run(ctx, "Make the test suite pass.")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.State, res.Iterations)
package orchestrator
