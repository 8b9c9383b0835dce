package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"backpropamine/internal/config"
	"backpropamine/internal/platform"
	"backpropamine/internal/scape"
	"backpropamine/internal/storage"
	bpapi "backpropamine/pkg/backpropamine"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	dbPath     = "backpropamine.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:], stdout, stderr)
	case "runs":
		return runRuns(ctx, args[1:], stdout, stderr)
	case "rewards":
		return runRewards(ctx, args[1:], stdout, stderr)
	case "maze":
		return runMaze(args[1:], stdout, stderr)
	case "trace":
		return runTrace(args[1:], stdout, stderr)
	case "export":
		return runExport(ctx, args[1:], stdout, stderr)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func openClient(storeKind, db, runs string) (*bpapi.Client, error) {
	return bpapi.New(bpapi.Options{
		StoreKind:  storeKind,
		DBPath:     db,
		RunsDir:    runs,
		ExportsDir: exportsDir,
	})
}

func runTrain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("train", stderr)
	configPath := fs.String("config", "", "optional TOML run config; explicit flags override its values")
	runID := fs.String("run-id", "", "explicit run id (optional, required with -resume)")
	resume := fs.Bool("resume", false, "continue the run from its stored snapshot")
	traceSteps := fs.Bool("trace-steps", false, "print every step of batch member 0 on print iterations")
	plot := fs.Bool("plot", false, "write a reward curve PNG at every checkpoint")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	db := fs.String("db-path", dbPath, "sqlite database path")
	runs := fs.String("runs-dir", runsDir, "checkpoint artifact directory")
	flagged := config.Default()
	registerRunFlags(fs, &flagged)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadOrDefaultRunConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&cfg, flagged, setFlagNames(fs)); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}

	client, err := openClient(*storeKind, *db, *runs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	for _, pair := range cfg.Pairs() {
		fmt.Fprintf(stdout, "config %s=%s\n", pair[0], pair[1])
	}
	summary, err := client.Train(ctx, bpapi.TrainRequest{
		Config:     cfg,
		RunID:      *runID,
		Resume:     *resume,
		TraceSteps: *traceSteps,
		Plot:       *plot,
		Out:        stdout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && summary.RunID != "" {
			fmt.Fprintf(stdout, "interrupted run_id=%s iterations=%d\n", summary.RunID, summary.Iterations)
		}
		return err
	}
	fmt.Fprintf(stdout, "trained run_id=%s session=%s iterations=%d mean_reward_last100=%.3f mean_loss_last100=%.4f dir=%s\n",
		summary.RunID, summary.SessionID, summary.Iterations, summary.MeanReward, summary.MeanLoss, summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("runs", stderr)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend merged with the run index: memory|sqlite")
	db := fs.String("db-path", dbPath, "sqlite database path")
	runs := fs.String("runs-dir", runsDir, "checkpoint artifact directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := openClient(*storeKind, *db, *runs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, bpapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID          string  `json:"run_id"`
			SessionID      string  `json:"session_id,omitempty"`
			CreatedAtUTC   string  `json:"created_at_utc"`
			Seed           int64   `json:"seed"`
			MazeSize       int     `json:"msize"`
			HiddenSize     int     `json:"hs"`
			BatchSize      int     `json:"bs"`
			PlasticityRule string  `json:"rule"`
			Iterations     int     `json:"iterations"`
			MeanReward     float64 `json:"mean_reward"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created_at=%s seed=%d msize=%d hs=%d bs=%d rule=%s iterations=%d mean_reward=%.3f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Seed,
			item.MazeSize,
			item.HiddenSize,
			item.BatchSize,
			item.PlasticityRule,
			item.Iterations,
			item.MeanReward,
		)
	}
	return nil
}

func runRewards(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("rewards", stderr)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	limit := fs.Int("limit", 0, "print only the last N values (0 prints all)")
	jsonOut := fs.Bool("json", false, "emit rewards as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	db := fs.String("db-path", dbPath, "sqlite database path")
	runs := fs.String("runs-dir", runsDir, "checkpoint artifact directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := openClient(*storeKind, *db, *runs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Rewards(ctx, bpapi.RewardsRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	type rewardPoint struct {
		Iteration int     `json:"iteration"`
		Reward    float64 `json:"reward"`
		Smoothed  float64 `json:"smoothed"`
	}
	points := make([]rewardPoint, len(summary.Rewards))
	for i, reward := range summary.Rewards {
		smoothed := summary.Smoothed[i]
		points[i] = rewardPoint{
			Iteration: (smoothed.Index-1)*summary.Stride + 1,
			Reward:    reward,
			Smoothed:  smoothed.Value,
		}
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(points)
	}
	fmt.Fprintf(stdout, "run_id=%s source=%s stride=%d values=%d\n", summary.RunID, summary.Source, summary.Stride, len(points))
	for _, p := range points {
		fmt.Fprintf(stdout, "iteration=%d reward=%.3f smoothed=%.3f\n", p.Iteration, p.Reward, p.Smoothed)
	}
	return nil
}

func runMaze(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("maze", stderr)
	size := fs.Int("msize", config.Default().MazeSize, "maze size (odd, >= 3)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	out, err := bpapi.Maze(*size)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, out)
	return nil
}

func runTrace(args []string, stdout, stderr io.Writer) error {
	defaults := config.Default()
	fs := newFlagSet("trace", stderr)
	size := fs.Int("msize", 5, "maze size (odd, >= 3)")
	seed := fs.Int64("rngseed", defaults.Seed, "rng seed for goal placement")
	reward := fs.Float64("rew", defaults.Reward, "goal bonus")
	wallPenalty := fs.Float64("wp", defaults.WallPenalty, "wall collision penalty")
	relocate := fs.String("relocate", defaults.Relocate, "on pickup move the goal or the agent: goal|agent")
	goal := fs.String("goal", "", "fixed goal as row,col (default: drawn from the seed)")
	actions := fs.String("actions", "", "comma separated actions: up|down|left|right or 0-3")
	if err := fs.Parse(args); err != nil {
		return err
	}

	script, err := parseActions(*actions)
	if err != nil {
		return err
	}
	req := bpapi.TraceRequest{
		MazeSize:    *size,
		Seed:        *seed,
		Reward:      *reward,
		WallPenalty: *wallPenalty,
		Relocate:    *relocate,
		Actions:     script,
	}
	if *goal != "" {
		pos, err := parsePosition(*goal)
		if err != nil {
			return err
		}
		req.Goal = &pos
	}

	steps, err := bpapi.Trace(req)
	for _, st := range steps {
		fmt.Fprintf(stdout, "step=%d action=%s agent=(%d,%d) goal=(%d,%d) reward=%.2f\n",
			st.Step, platform.ActionName(st.Action), st.Agent.Row, st.Agent.Col, st.Goal.Row, st.Goal.Col, st.Reward)
	}
	return err
}

func runExport(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("export", stderr)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	runs := fs.String("runs-dir", runsDir, "checkpoint artifact directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := openClient(storage.StoreMemory, "", *runs)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, bpapi.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

var actionByName = map[string]int{
	"up":    scape.ActionUp,
	"down":  scape.ActionDown,
	"left":  scape.ActionLeft,
	"right": scape.ActionRight,
}

func parseActions(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("trace requires --actions")
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		name := strings.ToLower(strings.TrimSpace(part))
		if action, ok := actionByName[name]; ok {
			out = append(out, action)
			continue
		}
		action, err := strconv.Atoi(name)
		if err != nil {
			return nil, fmt.Errorf("unknown action %q", part)
		}
		out = append(out, action)
	}
	return out, nil
}

func parsePosition(raw string) (scape.Position, error) {
	row, col, ok := strings.Cut(raw, ",")
	if !ok {
		return scape.Position{}, fmt.Errorf("position must be row,col: %q", raw)
	}
	r, err := strconv.Atoi(strings.TrimSpace(row))
	if err != nil {
		return scape.Position{}, fmt.Errorf("position row: %w", err)
	}
	c, err := strconv.Atoi(strings.TrimSpace(col))
	if err != nil {
		return scape.Position{}, fmt.Errorf("position col: %w", err)
	}
	return scape.Position{Row: r, Col: c}, nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: mazectl <train|runs|rewards|maze|trace|export> [flags]", msg)
}
