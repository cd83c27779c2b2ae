package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Checkpointer records progress of the working tree between iterations.
type Checkpointer interface {
	Checkpoint(ctx context.Context, iteration int) error
}

// ErrNotGitRepository is returned by GitCheckpointer outside a work tree.
var ErrNotGitRepository = errors.New("not a git repository")

// GitCheckpointer commits every change in Dir as a checkpoint commit.
type GitCheckpointer struct {
	// Dir is the working tree; empty means the process working directory.
	Dir string
	// MessagePrefix starts each commit message (default "ralph checkpoint").
	MessagePrefix string
}

// Checkpoint stages all changes and commits them. A clean tree is not an
// error and produces no commit.
func (g GitCheckpointer) Checkpoint(ctx context.Context, iteration int) error {
	if !isGitRepository(ctx, g.Dir) {
		return ErrNotGitRepository
	}
	if _, err := runGit(ctx, g.Dir, "add", "-A"); err != nil {
		return err
	}
	// diff --cached --quiet exits 1 when something is staged.
	if _, err := runGit(ctx, g.Dir, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	prefix := g.MessagePrefix
	if prefix == "" {
		prefix = "ralph checkpoint"
	}
	msg := fmt.Sprintf("%s: iteration %d", prefix, iteration)
	if _, err := runGit(ctx, g.Dir, "commit", "--no-verify", "-q", "-m", msg); err != nil {
		return err
	}
	return nil
}

func isGitRepository(ctx context.Context, dir string) bool {
	out, err := runGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}
