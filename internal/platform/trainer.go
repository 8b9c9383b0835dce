// Package platform runs the training loop: rollout, credit assignment,
// backpropagation through the plastic network and the two-timescale update,
// with periodic reporting and checkpoints.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"

	"backpropamine/internal/a2c"
	"backpropamine/internal/agent"
	"backpropamine/internal/config"
	"backpropamine/internal/model"
	"backpropamine/internal/nn"
	"backpropamine/internal/scape"
	"backpropamine/internal/stats"
	"backpropamine/internal/storage"
	"backpropamine/internal/tuning"
)

const lossWindow = 100

type Config struct {
	RunID string
	// SessionID tags the run index entries written by this process.
	SessionID string
	Run       config.RunConfig
	// Store is optional; when set, the run record, snapshot and history
	// are saved at every checkpoint.
	Store storage.Store
	// ArtifactsDir receives checkpoint files; empty disables them.
	ArtifactsDir string
	Out          io.Writer
	TraceSteps   bool
	Plot         bool
	// Resume continues from the snapshot and history held by Store.
	Resume bool
	// Now is used for run timestamps.
	Now func() time.Time
}

type Result struct {
	RunID          string
	Iterations     int
	History        model.History
	Network        *nn.Network
	LastCheckpoint stats.CheckpointPaths
}

type Trainer struct {
	cfg    Config
	out    io.Writer
	net    *nn.Network
	env    *scape.GridMaze
	cortex *agent.Cortex
	opt    *tuning.TwoTimescale

	history   model.History
	start     int
	createdAt string
	tracing   bool
}

func NewTrainer(ctx context.Context, cfg Config) (*Trainer, error) {
	if strings.TrimSpace(cfg.RunID) == "" {
		return nil, errors.New("run id is required")
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if _, err := nn.GetActivation(cfg.Run.Activation); err != nil {
		return nil, fmt.Errorf("invalid run config: act: %w", err)
	}
	if cfg.Resume && cfg.Store == nil {
		return nil, errors.New("resume requires a store")
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	run := cfg.Run
	rng := rand.New(rand.NewSource(run.Seed))

	maze, err := scape.NewMaze(run.MazeSize)
	if err != nil {
		return nil, err
	}
	env, err := scape.NewGridMaze(maze, scape.GridMazeConfig{
		BatchSize:     run.BatchSize,
		EpisodeLength: run.EpisodeLength,
		Reward:        run.Reward,
		WallPenalty:   run.WallPenalty,
		Relocate:      run.Relocate,
	}, rng)
	if err != nil {
		return nil, err
	}
	net, err := nn.New(nn.Config{
		InputSize:      scape.ObservationSize,
		HiddenSize:     run.HiddenSize,
		ActionCount:    scape.ActionCount,
		Activation:     run.Activation,
		PlasticityRule: run.PlasticityRule,
		TraceDecay:     run.TraceDecay,
		TraceLimit:     run.TraceLimit,
	}, rng)
	if err != nil {
		return nil, err
	}

	t := &Trainer{cfg: cfg, out: cfg.Out, net: net, env: env, createdAt: cfg.Now().UTC().Format(time.RFC3339)}
	if cfg.Resume {
		if err := t.resume(ctx); err != nil {
			return nil, err
		}
		// the env and the policy sampler share rng
		rng.Seed(streamSeed(run.Seed, t.start))
	}

	t.cortex, err = agent.NewCortex(net, env, run.EpisodeLength, rng, agent.WithStepObserver(t.printStep))
	if err != nil {
		return nil, err
	}

	taskOpt, err := tuning.NewAdam(nn.SelectGroup(net.Params(), nn.GroupTask), tuning.AdamConfig{
		LearningRate: run.LearningRate,
		WeightDecay:  run.WeightDecay,
	})
	if err != nil {
		return nil, fmt.Errorf("task optimizer: %w", err)
	}
	metaOpt, err := tuning.NewAdam(nn.SelectGroup(net.Params(), nn.GroupMeta), tuning.AdamConfig{
		LearningRate: run.MetaLearningRate,
		WeightDecay:  run.WeightDecay,
	})
	if err != nil {
		return nil, fmt.Errorf("meta optimizer: %w", err)
	}
	t.opt, err = tuning.NewTwoTimescale(taskOpt, metaOpt, tuning.Schedule{
		BurnIn:       run.BurnIn,
		MetaInterval: run.MetaInterval,
	}, run.GradClip)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trainer) resume(ctx context.Context) error {
	store := t.cfg.Store
	run, ok, err := store.GetRun(ctx, t.cfg.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", t.cfg.RunID, err)
	}
	if ok {
		stored := run.Config
		stored.Iterations = t.cfg.Run.Iterations
		stored.SaveEvery = t.cfg.Run.SaveEvery
		stored.PrintEvery = t.cfg.Run.PrintEvery
		if stored != t.cfg.Run {
			return fmt.Errorf("run %s was created with a different config", t.cfg.RunID)
		}
		t.createdAt = run.CreatedAtUTC
	}
	snapshot, ok, err := store.GetSnapshot(ctx, t.cfg.RunID)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", t.cfg.RunID, err)
	}
	if !ok {
		return fmt.Errorf("no snapshot stored for run %s", t.cfg.RunID)
	}
	if err := t.net.Load(snapshot); err != nil {
		return fmt.Errorf("restore snapshot %s: %w", t.cfg.RunID, err)
	}
	history, _, err := store.GetHistory(ctx, t.cfg.RunID)
	if err != nil {
		return fmt.Errorf("load history %s: %w", t.cfg.RunID, err)
	}
	t.history = history
	t.start = snapshot.Iteration
	fmt.Fprintf(t.out, "resume run=%s iteration=%d\n", t.cfg.RunID, t.start)
	return nil
}

// streamSeed derives the random stream a run continues with after resuming
// at iteration. Iteration 0 keeps the run seed.
func streamSeed(seed int64, iteration int) int64 {
	if iteration == 0 {
		return seed
	}
	return seed ^ int64(uint64(iteration)*0x9e3779b97f4a7c15)
}

func (t *Trainer) Network() *nn.Network {
	return t.net
}

// Run trains until the configured iteration count or ctx is done. On
// cancellation the history gathered so far is returned with ctx.Err().
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	run := t.cfg.Run
	result := Result{RunID: t.cfg.RunID, Network: t.net}
	t.printInventory()

	if t.cfg.Store != nil {
		record := model.RunRecord{
			VersionedRecord: model.VersionedRecord{SchemaVersion: storage.CurrentSchemaVersion, CodecVersion: storage.CurrentCodecVersion},
			RunID:           t.cfg.RunID,
			Config:          run,
			CreatedAtUTC:    t.createdAt,
		}
		if err := t.cfg.Store.SaveRun(ctx, record); err != nil {
			return result, fmt.Errorf("save run: %w", err)
		}
	}

	var (
		intervalLoss      float64
		intervalReward    float64
		intervalValueLoss float64
		intervalCount     int
		intervalStart     = time.Now()
		lastSaved         = t.start
	)
	iter := t.start
	for iter < run.Iterations {
		if err := ctx.Err(); err != nil {
			result.Iterations = iter
			result.History = t.history
			return result, err
		}
		iter++
		t.tracing = t.cfg.TraceSteps && iter%run.PrintEvery == 0

		trajectory, err := t.cortex.RunEpisode(ctx)
		if err != nil {
			result.Iterations = iter - 1
			result.History = t.history
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		loss, err := a2c.Compute(trajectory, a2c.Options{
			Gamma:       run.Gamma,
			EntropyCoef: run.EntropyCoef,
			ValueCoef:   run.ValueLossCoef,
		})
		if err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		if err := t.net.Backward(trajectory.Tape, loss.DLogits, loss.DValues); err != nil {
			return result, fmt.Errorf("iteration %d: %w", iter, err)
		}
		step := t.opt.Update(iter)

		reward := trajectory.MeanReward()
		t.history.Rewards = append(t.history.Rewards, reward)
		t.history.Losses = append(t.history.Losses, loss.Loss)
		t.history.GradNorms = append(t.history.GradNorms, step.GradNorm)

		intervalLoss += loss.Loss
		intervalReward += reward
		intervalValueLoss += loss.ValueLoss
		intervalCount++

		if iter%run.PrintEvery == 0 {
			n := float64(intervalCount)
			fmt.Fprintf(t.out, "iteration=%d mean_loss=%.4f mean_reward=%.3f value_loss=%.4f grad_norm=%.3f task_step=%t meta_step=%t elapsed=%s\n",
				iter, intervalLoss/n, intervalReward/n, intervalValueLoss/n, step.GradNorm, step.Task, step.Meta, time.Since(intervalStart).Round(time.Millisecond))
			intervalLoss, intervalReward, intervalValueLoss, intervalCount = 0, 0, 0, 0
			intervalStart = time.Now()
		}
		if iter%run.SaveEvery == 0 {
			paths, err := t.checkpoint(ctx, iter)
			if err != nil {
				return result, err
			}
			result.LastCheckpoint = paths
			lastSaved = iter
		}
	}
	if lastSaved != iter {
		paths, err := t.checkpoint(ctx, iter)
		if err != nil {
			return result, err
		}
		result.LastCheckpoint = paths
	}
	result.Iterations = iter
	result.History = t.history
	return result, nil
}

func (t *Trainer) checkpoint(ctx context.Context, iter int) (stats.CheckpointPaths, error) {
	snapshot := t.net.Snapshot(t.cfg.RunID, iter)
	var paths stats.CheckpointPaths
	if t.cfg.ArtifactsDir != "" {
		var err error
		paths, err = stats.WriteCheckpoint(t.cfg.ArtifactsDir, stats.Checkpoint{
			RunID:     t.cfg.RunID,
			Iteration: iter,
			Config:    t.cfg.Run,
			Snapshot:  snapshot,
			History:   t.history,
			Plot:      t.cfg.Plot,
		})
		if err != nil {
			return stats.CheckpointPaths{}, fmt.Errorf("checkpoint %d: %w", iter, err)
		}
		if err := stats.AppendRunIndex(t.cfg.ArtifactsDir, stats.RunIndexEntry{
			RunID:          t.cfg.RunID,
			SessionID:      t.cfg.SessionID,
			Suffix:         t.cfg.Run.Suffix(),
			Seed:           t.cfg.Run.Seed,
			MazeSize:       t.cfg.Run.MazeSize,
			HiddenSize:     t.cfg.Run.HiddenSize,
			BatchSize:      t.cfg.Run.BatchSize,
			PlasticityRule: t.cfg.Run.PlasticityRule,
			Iterations:     iter,
			MeanReward:     stats.TailMean(t.history.Rewards, lossWindow),
			CreatedAtUTC:   t.createdAt,
		}); err != nil {
			return stats.CheckpointPaths{}, fmt.Errorf("run index: %w", err)
		}
	}
	if t.cfg.Store != nil {
		if err := t.cfg.Store.SaveSnapshot(ctx, snapshot); err != nil {
			return stats.CheckpointPaths{}, fmt.Errorf("save snapshot: %w", err)
		}
		if err := t.cfg.Store.SaveHistory(ctx, t.cfg.RunID, t.history); err != nil {
			return stats.CheckpointPaths{}, fmt.Errorf("save history: %w", err)
		}
	}
	fmt.Fprintf(t.out, "saved iteration=%d mean_loss_last%d=%.4f mean_reward_last%d=%.3f dir=%s\n",
		iter, lossWindow, stats.TailMean(t.history.Losses, lossWindow), lossWindow, stats.TailMean(t.history.Rewards, lossWindow), paths.Dir)
	return paths, nil
}

func (t *Trainer) printInventory() {
	total := 0
	for _, p := range t.net.Params() {
		rows, cols := p.Value.Dims()
		total += p.Size()
		fmt.Fprintf(t.out, "param name=%s group=%s shape=%dx%d count=%s\n", p.Name, p.Group, rows, cols, humanize.Comma(int64(p.Size())))
	}
	fmt.Fprintf(t.out, "params total=%s memory=%s run=%s suffix=%s\n",
		humanize.Comma(int64(total)), datasize.ByteSize(total*8).HumanReadable(), t.cfg.RunID, t.cfg.Run.Suffix())
}

var actionNames = [scape.ActionCount]string{"up", "down", "left", "right"}

func ActionName(action int) string {
	if action < 0 || action >= len(actionNames) {
		return fmt.Sprintf("action(%d)", action)
	}
	return actionNames[action]
}

func (t *Trainer) printStep(st agent.StepTrace) {
	if !t.tracing {
		return
	}
	fmt.Fprintf(t.out, "  step=%d agent=(%d,%d) goal=(%d,%d) action=%s reward=%.2f value=%.3f mod=%.3f probs=%s\n",
		st.Step, st.Agent.Row, st.Agent.Col, st.Goal.Row, st.Goal.Col, ActionName(st.Action), st.Reward, st.Value, st.Modulation, formatProbs(st.Probs))
}

func formatProbs(probs []float64) string {
	parts := make([]string, len(probs))
	for i, p := range probs {
		parts[i] = fmt.Sprintf("%.3f", p)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
