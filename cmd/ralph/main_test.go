package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/martinemde/ralph/orchestrator"
)

func TestRunDryRunPrintsEnhancedPrompt(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--dry-run", "--promise", "SHIP_IT", "--prompt", "Fix the build"}, &stdout, &stderr)
	if code != exitDone {
		t.Fatalf("exit %d, stderr %q", code, stderr.String())
	}
	want := "Fix the build\n\n## Completion Promise\n"
	if !strings.HasPrefix(stdout.String(), want) || !strings.HasSuffix(stdout.String(), "output this exact line:\nSHIP_IT\n") {
		t.Errorf("unexpected output %q", stdout.String())
	}
}

func TestRunDryRunReadsPromptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "PROMPT.md")
	if err := os.WriteFile(path, []byte("from file"), 0644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--dry-run", "--prompt-file", path}, &stdout, &stderr); code != exitDone {
		t.Fatalf("exit %d, stderr %q", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "from file\n\n## Completion Promise") {
		t.Errorf("unexpected output %q", stdout.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	tests := [][]string{
		{"--no-such-flag"},
		{"--config", filepath.Join(t.TempDir(), "missing.yaml")},
		{"--tool", "cursor", "--dry-run", "--prompt", "x"},
		{"--promise", " ", "--dry-run", "--prompt", "x"},
	}
	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != exitFailed {
			t.Errorf("run(%v) = %d, want %d", args, code, exitFailed)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := map[orchestrator.State]int{
		orchestrator.StateDone:      0,
		orchestrator.StateFailed:    1,
		orchestrator.StateExhausted: 2,
		orchestrator.StateCancelled: 130,
	}
	for state, want := range tests {
		if got := exitCode(state); got != want {
			t.Errorf("exitCode(%s) = %d, want %d", state, got, want)
		}
	}
}

func TestWriteMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	res := &orchestrator.Result{RunID: "abc", State: orchestrator.StateDone, Iterations: 2}
	if err := writeMetrics(path, res); err != nil {
		t.Fatalf("writeMetrics: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"state": "done"`) || !strings.Contains(string(data), `"iterations": 2`) {
		t.Errorf("unexpected metrics %s", data)
	}
}
