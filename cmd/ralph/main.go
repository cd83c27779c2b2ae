package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/martinemde/ralph/adapters"
	"github.com/martinemde/ralph/config"
	"github.com/martinemde/ralph/internal/logger"
	"github.com/martinemde/ralph/orchestrator"
)

const (
	exitDone      = 0
	exitFailed    = 1
	exitExhausted = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ralph", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config file")
	tool := fs.String("tool", "", "primary adapter to drive")
	promptFile := fs.String("prompt-file", "", "file holding the task prompt, re-read every iteration")
	promptText := fs.String("prompt", "", "task prompt text (overrides the prompt file)")
	promise := fs.String("promise", "", "completion promise the adapter must print")
	maxIterations := fs.Int("max-iterations", 0, "iteration limit")
	maxRuntime := fs.Duration("max-runtime", 0, "wall-clock budget for the run")
	iterationTimeout := fs.Duration("iteration-timeout", 0, "time limit for each iteration")
	retries := fs.Int("retries", -1, "retries per failed iteration (-1 keeps the configured value)")
	checkpointInterval := fs.Int("checkpoint-interval", 0, "commit the working tree every N iterations")
	metricsFile := fs.String("metrics-file", "", "write the run result as JSON to this file")
	logLevel := fs.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
	list := fs.Bool("list", false, "list adapters and their availability, then exit")
	dryRun := fs.Bool("dry-run", false, "print the enhanced prompt, then exit")
	if err := fs.Parse(args); err != nil {
		return exitFailed
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitFailed
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailed
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitFailed
	}

	if *tool != "" {
		cfg.PrimaryTool = *tool
	}
	if *promise != "" {
		cfg.CompletionPromise = *promise
	}
	if *maxIterations > 0 {
		cfg.MaxIterations = *maxIterations
	}
	if *maxRuntime > 0 {
		cfg.MaxRuntime = *maxRuntime
	}
	if *iterationTimeout > 0 {
		cfg.IterationTimeout = *iterationTimeout
	}
	if *retries >= 0 {
		cfg.Retry.MaxRetries = *retries
	}
	if *checkpointInterval > 0 {
		cfg.CheckpointInterval = *checkpointInterval
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	prompt := *promptText
	if prompt == "" && fs.NArg() > 0 {
		prompt = strings.Join(fs.Args(), " ")
	}
	switch {
	case prompt != "":
		cfg.PromptFile = ""
	case *promptFile != "":
		cfg.PromptFile = *promptFile
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return exitFailed
	}

	log := logger.New(cfg.LogLevel, stderr)
	slog.SetDefault(log)

	if *dryRun {
		text, err := loadPrompt(prompt, cfg.PromptFile)
		if err != nil {
			logger.Error(log, "failed to read prompt", err)
			return exitFailed
		}
		fmt.Fprintln(stdout, adapters.EnhancePrompt(text, cfg.CompletionPromise))
		return exitDone
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initialize := orchestrator.DefaultInitializer(cfg.AdapterSpecs(), nil, log)

	if *list {
		return listAdapters(ctx, cfg, initialize, stdout, log)
	}

	orch, err := orchestrator.New(ctx, cfg.OrchestratorConfig(), initialize, orchestrator.WithLogger(log))
	if err != nil {
		logger.Error(log, "failed to initialize orchestrator", err)
		return exitFailed
	}

	res, err := orch.Run(ctx, prompt)
	if err != nil {
		logger.Error(log, "run failed to start", err)
		return exitFailed
	}

	if *metricsFile != "" {
		if err := writeMetrics(*metricsFile, res); err != nil {
			logger.Error(log, "failed to write metrics", err, "path", *metricsFile)
		}
	}

	fmt.Fprintf(stdout, "%s after %d iteration(s): %s\n", res.State, res.Iterations, res.Reason)
	if res.Error != "" {
		fmt.Fprintf(stdout, "error: %s\n", res.Error)
	}
	return exitCode(res.State)
}

func loadPrompt(text, path string) (string, error) {
	if text != "" {
		return text, nil
	}
	if path == "" {
		return "", fmt.Errorf("no prompt given")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func listAdapters(ctx context.Context, cfg *config.Config, initialize orchestrator.AdapterInitializer, stdout io.Writer, log *slog.Logger) int {
	available, err := initialize(ctx)
	if err != nil {
		logger.Error(log, "failed to initialize adapters", err)
		return exitFailed
	}
	for _, spec := range cfg.AdapterSpecs() {
		name := spec.AdapterName()
		status := "unavailable"
		switch _, ok := available[name]; {
		case spec.Disabled:
			status = "disabled"
		case ok:
			status = "available"
		}
		marker := " "
		if name == cfg.PrimaryTool {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %-12s %s\n", marker, name, status)
	}
	return exitDone
}

func writeMetrics(path string, res *orchestrator.Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func exitCode(state orchestrator.State) int {
	switch state {
	case orchestrator.StateDone:
		return exitDone
	case orchestrator.StateExhausted:
		return exitExhausted
	case orchestrator.StateCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}
