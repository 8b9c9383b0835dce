// Package config holds the typed run configuration shared by every training
// component.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	RuleHebbian = "hebbian"
	RuleOja     = "oja"

	RelocateGoal  = "goal"
	RelocateAgent = "agent"
)

// RunConfig enumerates every recognized training option. Field tags carry the
// research flag names so TOML files and flags share one vocabulary.
type RunConfig struct {
	Seed             int64   `toml:"rngseed" json:"rngseed"`
	Reward           float64 `toml:"rew" json:"rew"`
	WallPenalty      float64 `toml:"wp" json:"wp"`
	EntropyCoef      float64 `toml:"bent" json:"bent"`
	ValueLossCoef    float64 `toml:"blossv" json:"blossv"`
	MazeSize         int     `toml:"msize" json:"msize"`
	Gamma            float64 `toml:"gr" json:"gr"`
	GradClip         float64 `toml:"gc" json:"gc"`
	LearningRate     float64 `toml:"lr" json:"lr"`
	MetaLearningRate float64 `toml:"mlr" json:"mlr"`
	MetaInterval     int     `toml:"mst" json:"mst"`
	BurnIn           int     `toml:"burnin" json:"burnin"`
	EpisodeLength    int     `toml:"eplen" json:"eplen"`
	HiddenSize       int     `toml:"hs" json:"hs"`
	BatchSize        int     `toml:"bs" json:"bs"`
	WeightDecay      float64 `toml:"l2" json:"l2"`
	Iterations       int     `toml:"nbiter" json:"nbiter"`
	SaveEvery        int     `toml:"save_every" json:"save_every"`
	PrintEvery       int     `toml:"pe" json:"pe"`
	Activation       string  `toml:"act" json:"act"`
	PlasticityRule   string  `toml:"rule" json:"rule"`
	TraceDecay       float64 `toml:"decay" json:"decay"`
	TraceLimit       float64 `toml:"clip" json:"clip"`
	Relocate         string  `toml:"relocate" json:"relocate"`
}

func Default() RunConfig {
	return RunConfig{
		Seed:             0,
		Reward:           10.0,
		WallPenalty:      0.0,
		EntropyCoef:      0.03,
		ValueLossCoef:    0.1,
		MazeSize:         11,
		Gamma:            0.9,
		GradClip:         4.0,
		LearningRate:     1e-3,
		MetaLearningRate: 1e-3,
		MetaInterval:     30,
		BurnIn:           100,
		EpisodeLength:    200,
		HiddenSize:       100,
		BatchSize:        30,
		WeightDecay:      0,
		Iterations:       100000,
		SaveEvery:        50,
		PrintEvery:       10,
		Activation:       "tanh",
		PlasticityRule:   RuleHebbian,
		TraceDecay:       0,
		TraceLimit:       2.0,
		Relocate:         RelocateGoal,
	}
}

// Validate reports every invalid option at once.
func (c RunConfig) Validate() error {
	var errs []error
	if c.MazeSize < 3 {
		errs = append(errs, fmt.Errorf("msize must be >= 3, got %d", c.MazeSize))
	} else if c.MazeSize%2 == 0 {
		errs = append(errs, fmt.Errorf("msize must be odd, got %d", c.MazeSize))
	}
	if c.Gamma <= 0 || c.Gamma > 1 {
		errs = append(errs, fmt.Errorf("gr must be in (0, 1], got %g", c.Gamma))
	}
	if c.GradClip <= 0 {
		errs = append(errs, fmt.Errorf("gc must be > 0, got %g", c.GradClip))
	}
	if c.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("lr must be > 0, got %g", c.LearningRate))
	}
	if c.MetaLearningRate <= 0 {
		errs = append(errs, fmt.Errorf("mlr must be > 0, got %g", c.MetaLearningRate))
	}
	if c.MetaInterval <= 0 {
		errs = append(errs, fmt.Errorf("mst must be > 0, got %d", c.MetaInterval))
	}
	if c.BurnIn < 0 {
		errs = append(errs, fmt.Errorf("burnin must be >= 0, got %d", c.BurnIn))
	}
	if c.EpisodeLength <= 0 {
		errs = append(errs, fmt.Errorf("eplen must be > 0, got %d", c.EpisodeLength))
	}
	if c.HiddenSize <= 0 {
		errs = append(errs, fmt.Errorf("hs must be > 0, got %d", c.HiddenSize))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("bs must be > 0, got %d", c.BatchSize))
	}
	if c.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("l2 must be >= 0, got %g", c.WeightDecay))
	}
	if c.Iterations < 0 {
		errs = append(errs, fmt.Errorf("nbiter must be >= 0, got %d", c.Iterations))
	}
	if c.SaveEvery <= 0 {
		errs = append(errs, fmt.Errorf("save_every must be > 0, got %d", c.SaveEvery))
	}
	if c.PrintEvery <= 0 {
		errs = append(errs, fmt.Errorf("pe must be > 0, got %d", c.PrintEvery))
	}
	// the name is resolved against the activation registry when the network is built
	if strings.TrimSpace(c.Activation) == "" {
		errs = append(errs, errors.New("act is required"))
	}
	switch c.PlasticityRule {
	case RuleHebbian, RuleOja:
	default:
		errs = append(errs, fmt.Errorf("unsupported plasticity rule: %s", c.PlasticityRule))
	}
	if c.TraceDecay < 0 || c.TraceDecay >= 1 {
		errs = append(errs, fmt.Errorf("decay must be in [0, 1), got %g", c.TraceDecay))
	}
	if c.TraceLimit <= 0 {
		errs = append(errs, fmt.Errorf("clip must be > 0, got %g", c.TraceLimit))
	}
	switch c.Relocate {
	case RelocateGoal, RelocateAgent:
	default:
		errs = append(errs, fmt.Errorf("unsupported relocate mode: %s", c.Relocate))
	}
	return errors.Join(errs...)
}

// Pairs returns the options as flag-name/value pairs sorted by name.
func (c RunConfig) Pairs() [][2]string {
	values := map[string]string{
		"rngseed":    strconv.FormatInt(c.Seed, 10),
		"rew":        formatFloat(c.Reward),
		"wp":         formatFloat(c.WallPenalty),
		"bent":       formatFloat(c.EntropyCoef),
		"blossv":     formatFloat(c.ValueLossCoef),
		"msize":      strconv.Itoa(c.MazeSize),
		"gr":         formatFloat(c.Gamma),
		"gc":         formatFloat(c.GradClip),
		"lr":         formatFloat(c.LearningRate),
		"mlr":        formatFloat(c.MetaLearningRate),
		"mst":        strconv.Itoa(c.MetaInterval),
		"burnin":     strconv.Itoa(c.BurnIn),
		"eplen":      strconv.Itoa(c.EpisodeLength),
		"hs":         strconv.Itoa(c.HiddenSize),
		"bs":         strconv.Itoa(c.BatchSize),
		"l2":         formatFloat(c.WeightDecay),
		"nbiter":     strconv.Itoa(c.Iterations),
		"save_every": strconv.Itoa(c.SaveEvery),
		"pe":         strconv.Itoa(c.PrintEvery),
		"act":        c.Activation,
		"rule":       c.PlasticityRule,
		"decay":      formatFloat(c.TraceDecay),
		"clip":       formatFloat(c.TraceLimit),
		"relocate":   c.Relocate,
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, values[k]})
	}
	return out
}

// Suffix builds the filename suffix keyed by every hyperparameter except the
// ones that do not change what is learned, followed by the seed.
func (c RunConfig) Suffix() string {
	parts := make([]string, 0, 48)
	for _, pair := range c.Pairs() {
		switch pair[0] {
		case "rngseed", "save_every", "pe":
			continue
		}
		parts = append(parts, pair[0], pair[1])
	}
	return "btchFixmod_" + strings.Join(parts, "_") + "_rngseed_" + strconv.FormatInt(c.Seed, 10)
}

// LoadFile overlays a TOML file onto base. Keys absent from the file keep
// their base values.
func LoadFile(path string, base RunConfig) (RunConfig, error) {
	cfg := base
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return RunConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return RunConfig{}, fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
