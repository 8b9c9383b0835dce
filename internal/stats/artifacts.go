package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"backpropamine/internal/config"
	"backpropamine/internal/model"
)

const (
	runIndexFile = "run_index.json"
	// DumpStride thins the grad-norm and reward text dumps.
	DumpStride = 10
)

// Checkpoint is everything written at a save point.
type Checkpoint struct {
	RunID     string
	Iteration int
	Config    config.RunConfig
	Snapshot  model.NetworkSnapshot
	History   model.History
	// Plot adds a PNG of the reward curve.
	Plot bool
}

type CheckpointPaths struct {
	Dir       string `json:"dir"`
	GradNorms string `json:"grad_norms"`
	Rewards   string `json:"rewards"`
	Model     string `json:"model"`
	Params    string `json:"params"`
	Plot      string `json:"plot,omitempty"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	SessionID      string  `json:"session_id,omitempty"`
	Suffix         string  `json:"suffix"`
	Seed           int64   `json:"seed"`
	MazeSize       int     `json:"msize"`
	HiddenSize     int     `json:"hs"`
	BatchSize      int     `json:"bs"`
	PlasticityRule string  `json:"rule"`
	Iterations     int     `json:"iterations"`
	MeanReward     float64 `json:"mean_reward"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// CheckpointFiles names the files of one run for a config suffix.
func CheckpointFiles(baseDir, runID, suffix string) CheckpointPaths {
	dir := filepath.Join(baseDir, runID)
	return CheckpointPaths{
		Dir:       dir,
		GradNorms: filepath.Join(dir, "grad_"+suffix+".txt"),
		Rewards:   filepath.Join(dir, "loss_"+suffix+".txt"),
		Model:     filepath.Join(dir, "model_"+suffix+".json"),
		Params:    filepath.Join(dir, "params_"+suffix+".json"),
		Plot:      filepath.Join(dir, "rewards_"+suffix+".png"),
	}
}

// WriteCheckpoint overwrites the run's checkpoint files under baseDir/RunID.
// The text dumps keep every DumpStride-th value.
func WriteCheckpoint(baseDir string, cp Checkpoint) (CheckpointPaths, error) {
	if cp.RunID == "" {
		return CheckpointPaths{}, fmt.Errorf("run id is required")
	}
	paths := CheckpointFiles(baseDir, cp.RunID, cp.Config.Suffix())
	if err := os.MkdirAll(paths.Dir, 0o755); err != nil {
		return CheckpointPaths{}, err
	}

	if err := WriteSeries(paths.GradNorms, Subsample(cp.History.GradNorms, DumpStride)); err != nil {
		return CheckpointPaths{}, err
	}
	if err := WriteSeries(paths.Rewards, Subsample(cp.History.Rewards, DumpStride)); err != nil {
		return CheckpointPaths{}, err
	}
	if err := writeJSON(paths.Model, cp.Snapshot); err != nil {
		return CheckpointPaths{}, err
	}
	if err := writeJSON(paths.Params, cp.Config); err != nil {
		return CheckpointPaths{}, err
	}
	if cp.Plot && len(cp.History.Rewards) > 0 {
		title := fmt.Sprintf("%s (iteration %d)", cp.RunID, cp.Iteration)
		if err := WriteRewardPlot(paths.Plot, title, cp.History.Rewards); err != nil {
			return CheckpointPaths{}, err
		}
	} else {
		paths.Plot = ""
	}
	return paths, nil
}

// WriteSeries writes one value per line.
func WriteSeries(path string, values []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	for _, v := range values {
		if _, err := w.WriteString(strconv.FormatFloat(v, 'g', -1, 64) + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func ReadSeries(path string) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var values []float64
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		values = append(values, v)
	}
	return values, scanner.Err()
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// FindRun returns the index entry of runID.
func FindRun(baseDir, runID string) (RunIndexEntry, bool, error) {
	entries, err := ListRunIndex(baseDir)
	if err != nil {
		return RunIndexEntry{}, false, err
	}
	for _, e := range entries {
		if e.RunID == runID {
			return e, true, nil
		}
	}
	return RunIndexEntry{}, false, nil
}

// ExportRunArtifacts copies every regular file of a run directory to
// outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
