package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const smallRunConfig = `seed: 4
workers: 2
num_generations: 2
survivors_per_generation: 2
children_per_survivor: 2
plot_candidates: false
strategy: fll
num_phases: 2
baseline:
  num_megasteps: 4
fitness:
  kind: polygon_sum
  ring_size: 4
sim:
  width: 8
  height: 8
logging:
  level: warn
  format: json
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(smallRunConfig), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunThenInspectWithSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	common := []string{"--config", cfgPath, "--store", "sqlite", "--store-path", filepath.Join(dir, "l2g.db")}

	out, err := execute(t, append([]string{"run", "--run-id", "cli-run", "--output-dir", filepath.Join(dir, "out")}, common...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "run_id=cli-run generations=2") {
		t.Fatalf("unexpected run output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "cli-run", "config.yaml")); err != nil {
		t.Fatalf("expected config.yaml artifact: %v", err)
	}

	out, err = execute(t, append([]string{"runs", "--json"}, common...)...)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs []struct {
		RunID  string
		Status string
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	if len(runs) != 1 || runs[0].RunID != "cli-run" || runs[0].Status != "finished" {
		t.Fatalf("unexpected runs %+v", runs)
	}

	out, err = execute(t, append([]string{"lineage", "--latest"}, common...)...)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if got := strings.Count(out, "genome_id="); got != 8 {
		t.Fatalf("expected 8 lineage rows, got %d:\n%s", got, out)
	}

	out, err = execute(t, append([]string{"fitness", "--run-id", "cli-run", "--json"}, common...)...)
	if err != nil {
		t.Fatalf("fitness: %v", err)
	}
	var history []float64
	if err := json.Unmarshal([]byte(out), &history); err != nil || len(history) != 8 {
		t.Fatalf("unexpected fitness history %q: %v", out, err)
	}

	out, err = execute(t, append([]string{"pool", "--latest"}, common...)...)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if !strings.HasPrefix(out, "generation=1 size=2\n") || !strings.Contains(out, "rank=2 ") {
		t.Fatalf("unexpected pool output:\n%s", out)
	}

	out, err = execute(t, append([]string{"diagnostics", "--latest"}, common...)...)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if strings.Count(out, "gen=") != 2 {
		t.Fatalf("unexpected diagnostics output:\n%s", out)
	}

	out, err = execute(t, append([]string{"replay", "--run-id", "cli-run", "--generation", "1", "--candidate", "1"}, common...)...)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, "steps=4") {
		t.Fatalf("unexpected replay output:\n%s", out)
	}

	// Without --config the embedded defaults load, but the run's own
	// configuration still drives the re-simulation.
	storeOnly := common[2:]
	defaults, err := execute(t, append([]string{"replay", "--run-id", "cli-run", "--generation", "1", "--candidate", "1"}, storeOnly...)...)
	if err != nil {
		t.Fatalf("replay with defaults: %v", err)
	}
	if defaults != out {
		t.Fatalf("replay depends on the loaded config:\nwith run config: %s\nwith defaults:   %s", out, defaults)
	}
}

func TestMutationVizCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	outDir := filepath.Join(dir, "viz")

	out, err := execute(t, "mutation-viz", "--config", cfgPath, "--count", "2", "--out", outDir)
	if err != nil {
		t.Fatalf("mutation-viz: %v", err)
	}
	lines := strings.Fields(out)
	if len(lines) != 2 {
		t.Fatalf("expected two plot paths, got %q", out)
	}
	for _, path := range lines {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing plot %s: %v", path, err)
		}
	}
}

func TestConfigCommandAppliesFlags(t *testing.T) {
	out, err := execute(t, "config", "--store", "badger", "--log-format", "text")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "kind: badger") || !strings.Contains(out, "format: text") {
		t.Fatalf("flags not applied:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	if _, err := execute(t, "runs", "--limit", "0"); err == nil || err.Error() != "limit must be > 0" {
		t.Fatalf("expected limit error, got %v", err)
	}
	if _, err := execute(t, "lineage"); err == nil || !strings.Contains(err.Error(), "requires run id or latest") {
		t.Fatalf("expected selector error, got %v", err)
	}
	if _, err := execute(t, "config", "--store", "redis"); err == nil {
		t.Fatal("expected invalid store error")
	}
	if _, err := execute(t, "bogus"); err == nil {
		t.Fatal("expected unknown command error")
	}
}
