package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tinyTrainArgs(runsDir string) []string {
	return []string{
		"train",
		"-store", "memory",
		"-runs-dir", runsDir,
		"-msize", "5",
		"-eplen", "5",
		"-hs", "4",
		"-bs", "2",
		"-nbiter", "4",
		"-burnin", "1",
		"-mst", "2",
		"-pe", "2",
		"-save_every", "2",
		"-rngseed", "3",
	}
}

func TestTrainRunsRewardsExportCommands(t *testing.T) {
	base := t.TempDir()
	runsDir := filepath.Join(base, "runs")
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, tinyTrainArgs(runsDir), &out, io.Discard); err != nil {
		t.Fatalf("train command: %v", err)
	}
	log := out.String()
	for _, want := range []string{"config msize=5", "params total=", "iteration=2 mean_loss=", "saved iteration=4", "trained run_id=maze-s3-"} {
		if !strings.Contains(log, want) {
			t.Fatalf("expected %q in train output:\n%s", want, log)
		}
	}

	out.Reset()
	if err := run(ctx, []string{"runs", "-store", "memory", "-runs-dir", runsDir}, &out, io.Discard); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(out.String(), "iterations=4") || !strings.Contains(out.String(), "msize=5") {
		t.Fatalf("unexpected runs output: %s", out.String())
	}

	// a new process only finds the reward dump
	out.Reset()
	if err := run(ctx, []string{"rewards", "-latest", "-store", "memory", "-runs-dir", runsDir}, &out, io.Discard); err != nil {
		t.Fatalf("rewards command: %v", err)
	}
	if !strings.Contains(out.String(), "source=artifacts stride=10 values=1") || !strings.Contains(out.String(), "iteration=1 reward=") {
		t.Fatalf("unexpected rewards output: %s", out.String())
	}

	out.Reset()
	exportDir := filepath.Join(base, "exports")
	if err := run(ctx, []string{"export", "-latest", "-runs-dir", runsDir, "-out", exportDir}, &out, io.Discard); err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(out.String(), "exported run_id=maze-s3-") {
		t.Fatalf("unexpected export output: %s", out.String())
	}
	entries, err := os.ReadDir(exportDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one exported run, got %v (err=%v)", entries, err)
	}
}

func TestTrainRejectsBadFlagsBeforeTraining(t *testing.T) {
	runsDir := filepath.Join(t.TempDir(), "runs")
	ctx := context.Background()

	var stderr bytes.Buffer
	if err := run(ctx, []string{"train", "-runs-dir", runsDir, "-msize", "big"}, io.Discard, &stderr); err == nil {
		t.Fatal("expected malformed flag error")
	}
	if !strings.Contains(stderr.String(), "Usage of train") {
		t.Fatalf("expected usage on stderr, got %q", stderr.String())
	}

	err := run(ctx, []string{"train", "-store", "memory", "-runs-dir", runsDir, "-msize", "6", "-hs", "0"}, io.Discard, io.Discard)
	if err == nil {
		t.Fatal("expected invalid config error")
	}
	if !strings.Contains(err.Error(), "msize must be odd") || !strings.Contains(err.Error(), "hs must be > 0") {
		t.Fatalf("expected every violation to be reported, got %v", err)
	}
	if _, statErr := os.Stat(runsDir); !os.IsNotExist(statErr) {
		t.Fatalf("expected no artifacts for a rejected config, stat err=%v", statErr)
	}

	err = run(ctx, []string{"train", "-store", "memory", "-runs-dir", runsDir, "-act", "swish"}, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "activation not found: swish") {
		t.Fatalf("expected unknown activation error, got %v", err)
	}
}

func TestTraceCommandPrintsScriptedSteps(t *testing.T) {
	var out bytes.Buffer
	args := []string{"trace", "-msize", "5", "-wp", "0.5", "-goal", "1,1", "-actions", "up,left,up"}
	if err := run(context.Background(), args, &out, io.Discard); err != nil {
		t.Fatalf("trace command: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 steps, got %q", out.String())
	}
	wants := []string{
		"step=0 action=up agent=(1,2) goal=(1,1) reward=0.00",
		"step=1 action=left agent=(1,1) goal=",
		"step=2 action=up agent=(1,1) goal=",
	}
	for i, want := range wants {
		if !strings.HasPrefix(lines[i], want) {
			t.Fatalf("line %d: got %q want prefix %q", i, lines[i], want)
		}
	}
	if !strings.HasSuffix(lines[1], "reward=10.00") || !strings.HasSuffix(lines[2], "reward=-0.50") {
		t.Fatalf("unexpected rewards: %q", out.String())
	}

	if err := run(context.Background(), []string{"trace", "-actions", "up,jump"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected unknown action error")
	}
	if err := run(context.Background(), []string{"trace", "-actions", "up", "-goal", "1"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected malformed goal error")
	}
}

func TestMazeCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"maze", "-msize", "3"}, &out, io.Discard); err != nil {
		t.Fatalf("maze command: %v", err)
	}
	if out.String() != "###\n#.#\n###\n" {
		t.Fatalf("unexpected maze:\n%s", out.String())
	}
	if err := run(context.Background(), []string{"maze", "-msize", "4"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected even size to fail")
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(context.Background(), nil, io.Discard, io.Discard); err == nil || !strings.Contains(err.Error(), "usage: mazectl") {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := run(context.Background(), []string{"evolve"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected unknown command error")
	}
}
