package backpropamine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"backpropamine/internal/agent"
	"backpropamine/internal/config"
	"backpropamine/internal/nn"
	"backpropamine/internal/platform"
	"backpropamine/internal/scape"
	"backpropamine/internal/stats"
	"backpropamine/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "backpropamine.db"
	defaultRunsLimit  = 20
	smoothingWindow   = 100
	traceHiddenSize   = 8
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
}

// Client ties a store to an artifacts directory. The session id tags every
// run index entry written through this client.
type Client struct {
	store     storage.Store
	sessionID string

	runsDir    string
	exportsDir string

	initialized bool
}

type TrainRequest struct {
	Config config.RunConfig
	// RunID defaults to a fresh id derived from the seed.
	RunID      string
	Resume     bool
	TraceSteps bool
	Plot       bool
	Out        io.Writer
}

type TrainSummary struct {
	RunID          string
	SessionID      string
	Iterations     int
	ArtifactsDir   string
	MeanReward     float64
	MeanLoss       float64
	LastCheckpoint stats.CheckpointPaths
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string
	SessionID      string
	CreatedAtUTC   string
	Seed           int64
	MazeSize       int
	HiddenSize     int
	BatchSize      int
	PlasticityRule string
	Iterations     int
	MeanReward     float64
}

type RewardsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

// RewardsSummary holds a run's per-episode mean rewards. Stride is the
// iteration spacing between consecutive values: 1 when read from the store,
// stats.DumpStride when recovered from the text dump.
type RewardsSummary struct {
	RunID    string
	Source   string
	Stride   int
	Rewards  []float64
	Smoothed []stats.CurvePoint
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type TraceRequest struct {
	MazeSize    int
	Seed        int64
	Reward      float64
	WallPenalty float64
	Relocate    string
	// Goal fixes the goal instead of drawing one.
	Goal    *scape.Position
	Actions []int
}

type TraceStep struct {
	Step   int
	Action int
	Agent  scape.Position
	Goal   scape.Position
	Reward float64
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		sessionID:  uuid.NewString(),
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train runs (or resumes) one training run. On cancellation the summary
// covers the iterations completed so far and the context error is returned.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		if req.Resume {
			return TrainSummary{}, errors.New("resume requires a run id")
		}
		runID = NewRunID(req.Config.Seed)
	}

	trainer, err := platform.NewTrainer(ctx, platform.Config{
		RunID:        runID,
		SessionID:    c.sessionID,
		Run:          req.Config,
		Store:        c.store,
		ArtifactsDir: c.runsDir,
		Out:          req.Out,
		TraceSteps:   req.TraceSteps,
		Plot:         req.Plot,
		Resume:       req.Resume,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	result, runErr := trainer.Run(ctx)

	summary := TrainSummary{
		RunID:          runID,
		SessionID:      c.sessionID,
		Iterations:     result.Iterations,
		ArtifactsDir:   filepath.Clean(filepath.Join(c.runsDir, runID)),
		MeanReward:     stats.TailMean(result.History.Rewards, smoothingWindow),
		MeanLoss:       stats.TailMean(result.History.Losses, smoothingWindow),
		LastCheckpoint: result.LastCheckpoint,
	}
	return summary, runErr
}

// NewRunID returns a unique run id carrying the seed.
func NewRunID(seed int64) string {
	return fmt.Sprintf("maze-s%d-%s", seed, strings.SplitN(uuid.NewString(), "-", 2)[0])
}

// Runs lists runs newest first. The artifacts run index is merged with the
// store so runs recorded in a database stay listed after their index entry
// is gone.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(entries))
	indexed := make(map[string]bool, len(entries))
	for _, e := range entries {
		indexed[e.RunID] = true
		out = append(out, RunItem{
			RunID:          e.RunID,
			SessionID:      e.SessionID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Seed:           e.Seed,
			MazeSize:       e.MazeSize,
			HiddenSize:     e.HiddenSize,
			BatchSize:      e.BatchSize,
			PlasticityRule: e.PlasticityRule,
			Iterations:     e.Iterations,
			MeanReward:     e.MeanReward,
		})
	}

	records, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored runs: %w", err)
	}
	for _, record := range records {
		if indexed[record.RunID] {
			continue
		}
		item := RunItem{
			RunID:          record.RunID,
			CreatedAtUTC:   record.CreatedAtUTC,
			Seed:           record.Config.Seed,
			MazeSize:       record.Config.MazeSize,
			HiddenSize:     record.Config.HiddenSize,
			BatchSize:      record.Config.BatchSize,
			PlasticityRule: record.Config.PlasticityRule,
		}
		history, ok, err := c.store.GetHistory(ctx, record.RunID)
		if err != nil {
			return nil, err
		}
		if ok {
			item.Iterations = len(history.Rewards)
			item.MeanReward = stats.TailMean(history.Rewards, smoothingWindow)
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAtUTC > out[j].CreatedAtUTC
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

// Rewards reads the reward history from the store, falling back to the run's
// reward dump when the store does not hold it (for instance a memory store in
// a later process).
func (c *Client) Rewards(ctx context.Context, req RewardsRequest) (RewardsSummary, error) {
	if req.Limit < 0 {
		return RewardsSummary{}, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "rewards")
	if err != nil {
		return RewardsSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RewardsSummary{}, err
	}

	summary := RewardsSummary{RunID: runID}
	history, ok, err := c.store.GetHistory(ctx, runID)
	if err != nil {
		return RewardsSummary{}, err
	}
	if ok && len(history.Rewards) > 0 {
		summary.Source = "store"
		summary.Stride = 1
		summary.Rewards = history.Rewards
	} else {
		entry, found, err := stats.FindRun(c.runsDir, runID)
		if err != nil {
			return RewardsSummary{}, err
		}
		if !found {
			return RewardsSummary{}, fmt.Errorf("reward history not found for run id: %s", runID)
		}
		rewards, err := stats.ReadSeries(stats.CheckpointFiles(c.runsDir, runID, entry.Suffix).Rewards)
		if err != nil {
			return RewardsSummary{}, fmt.Errorf("read reward dump: %w", err)
		}
		summary.Source = "artifacts"
		summary.Stride = stats.DumpStride
		summary.Rewards = rewards
	}

	window := smoothingWindow / summary.Stride
	summary.Smoothed = stats.MovingAverage(summary.Rewards, window)
	if req.Limit > 0 && len(summary.Rewards) > req.Limit {
		cut := len(summary.Rewards) - req.Limit
		summary.Rewards = summary.Rewards[cut:]
		summary.Smoothed = summary.Smoothed[cut:]
	}
	summary.Rewards = append([]float64(nil), summary.Rewards...)
	return summary, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

// Maze renders the maze of the given size, walls as '#'.
func Maze(size int) (string, error) {
	m, err := scape.NewMaze(size)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// fixedGoalMaze reapplies a chosen goal every time the episode resets.
type fixedGoalMaze struct {
	*scape.GridMaze
	goal scape.Position
}

func (m *fixedGoalMaze) Reset() error {
	if err := m.GridMaze.Reset(); err != nil {
		return err
	}
	return m.SetGoal(0, m.goal)
}

// Trace plays a scripted action sequence for a single agent through the
// rollout driver and reports its position and reward after every step. The
// policy is an untrained network; the script overrides its choices.
func Trace(req TraceRequest) ([]TraceStep, error) {
	if len(req.Actions) == 0 {
		return nil, errors.New("trace requires at least one action")
	}
	m, err := scape.NewMaze(req.MazeSize)
	if err != nil {
		return nil, err
	}
	grid, err := scape.NewGridMaze(m, scape.GridMazeConfig{
		BatchSize:     1,
		EpisodeLength: len(req.Actions),
		Reward:        req.Reward,
		WallPenalty:   req.WallPenalty,
		Relocate:      req.Relocate,
	}, rand.New(rand.NewSource(req.Seed)))
	if err != nil {
		return nil, err
	}
	var env scape.Environment = grid
	if req.Goal != nil {
		env = &fixedGoalMaze{GridMaze: grid, goal: *req.Goal}
	}

	netRNG := rand.New(rand.NewSource(req.Seed))
	net, err := nn.New(nn.Config{
		InputSize:      scape.ObservationSize,
		HiddenSize:     traceHiddenSize,
		ActionCount:    scape.ActionCount,
		PlasticityRule: config.RuleHebbian,
		TraceLimit:     config.Default().TraceLimit,
	}, netRNG)
	if err != nil {
		return nil, err
	}

	steps := make([]TraceStep, 0, len(req.Actions))
	cortex, err := agent.NewCortex(net, env, len(req.Actions), netRNG,
		agent.WithChooser(agent.ScriptedActions(req.Actions, netRNG)),
		agent.WithStepObserver(func(st agent.StepTrace) {
			steps = append(steps, TraceStep{
				Step:   st.Step,
				Action: st.Action,
				Agent:  st.Agent,
				Goal:   st.Goal,
				Reward: st.Reward,
			})
		}),
	)
	if err != nil {
		return nil, err
	}
	if _, err := cortex.RunEpisode(context.Background()); err != nil {
		return steps, err
	}
	return steps, nil
}
