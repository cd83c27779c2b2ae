package orchestrator

import (
	"context"
	"log/slog"

	"github.com/martinemde/ralph/adapters"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentProbes bounds how many availability probes run at once.
const maxConcurrentProbes = 4

// DefaultInitializer builds an adapter for every enabled spec, probes them
// concurrently, and returns the ones that are available. Unavailable
// adapters are logged at warn level and omitted. A nil runner uses local
// subprocesses.
func DefaultInitializer(specs []adapters.Spec, runner adapters.CommandRunner, logger *slog.Logger) AdapterInitializer {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (map[string]adapters.ToolAdapter, error) {
		built := make([]adapters.ToolAdapter, 0, len(specs))
		seen := make(map[string]bool, len(specs))
		for _, spec := range specs {
			if spec.Disabled {
				logger.Debug("adapter disabled", "adapter", spec.Name)
				continue
			}
			a, err := adapters.Build(spec, runner)
			if err != nil {
				return nil, &ConfigurationError{OrchestratorError{Message: "invalid adapter", Cause: err}}
			}
			if seen[a.Name()] {
				return nil, newConfigurationError("duplicate adapter name %q", a.Name())
			}
			seen[a.Name()] = true
			built = append(built, a)
		}

		available := make([]bool, len(built))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentProbes)
		for i, a := range built {
			g.Go(func() error {
				available[i] = a.CheckAvailability(gctx)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := make(map[string]adapters.ToolAdapter, len(built))
		for i, a := range built {
			if !available[i] {
				logger.Warn("adapter unavailable, skipping", "adapter", a.Name())
				continue
			}
			result[a.Name()] = a
		}
		return result, nil
	}
}

// StaticInitializer returns an initializer that hands out the given
// adapters keyed by name, without probing them.
func StaticInitializer(list ...adapters.ToolAdapter) AdapterInitializer {
	return func(ctx context.Context) (map[string]adapters.ToolAdapter, error) {
		m := make(map[string]adapters.ToolAdapter, len(list))
		for _, a := range list {
			m[a.Name()] = a
		}
		return m, nil
	}
}
