package main

import (
	"flag"
	"fmt"
	"strings"

	"backpropamine/internal/config"
	"backpropamine/internal/nn"
)

// registerRunFlags binds every run option to dst under its research name.
func registerRunFlags(fs *flag.FlagSet, dst *config.RunConfig) {
	fs.Int64Var(&dst.Seed, "rngseed", dst.Seed, "rng seed")
	fs.Float64Var(&dst.Reward, "rew", dst.Reward, "goal bonus")
	fs.Float64Var(&dst.WallPenalty, "wp", dst.WallPenalty, "wall collision penalty")
	fs.Float64Var(&dst.EntropyCoef, "bent", dst.EntropyCoef, "entropy penalty coefficient")
	fs.Float64Var(&dst.ValueLossCoef, "blossv", dst.ValueLossCoef, "value loss coefficient")
	fs.IntVar(&dst.MazeSize, "msize", dst.MazeSize, "maze size (odd, >= 3)")
	fs.Float64Var(&dst.Gamma, "gr", dst.Gamma, "discount factor")
	fs.Float64Var(&dst.GradClip, "gc", dst.GradClip, "global gradient norm clip")
	fs.Float64Var(&dst.LearningRate, "lr", dst.LearningRate, "task parameter learning rate")
	fs.Float64Var(&dst.MetaLearningRate, "mlr", dst.MetaLearningRate, "meta parameter learning rate")
	fs.IntVar(&dst.MetaInterval, "mst", dst.MetaInterval, "iterations between meta steps")
	fs.IntVar(&dst.BurnIn, "burnin", dst.BurnIn, "iterations before any parameter update")
	fs.IntVar(&dst.EpisodeLength, "eplen", dst.EpisodeLength, "episode length")
	fs.IntVar(&dst.HiddenSize, "hs", dst.HiddenSize, "hidden units")
	fs.IntVar(&dst.BatchSize, "bs", dst.BatchSize, "episodes per batch")
	fs.Float64Var(&dst.WeightDecay, "l2", dst.WeightDecay, "adam weight decay")
	fs.IntVar(&dst.Iterations, "nbiter", dst.Iterations, "training iterations")
	fs.IntVar(&dst.SaveEvery, "save_every", dst.SaveEvery, "iterations between checkpoints")
	fs.IntVar(&dst.PrintEvery, "pe", dst.PrintEvery, "iterations between progress reports")
	fs.StringVar(&dst.Activation, "act", dst.Activation, "hidden activation: "+strings.Join(nn.ListActivations(), "|"))
	fs.StringVar(&dst.PlasticityRule, "rule", dst.PlasticityRule, "plasticity rule: hebbian|oja")
	fs.Float64Var(&dst.TraceDecay, "decay", dst.TraceDecay, "plastic trace decay in [0, 1)")
	fs.Float64Var(&dst.TraceLimit, "clip", dst.TraceLimit, "plastic trace saturation")
	fs.StringVar(&dst.Relocate, "relocate", dst.Relocate, "on pickup move the goal or the agent: goal|agent")
}

func setFlagNames(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

func loadOrDefaultRunConfig(configPath string) (config.RunConfig, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(configPath, config.Default())
}

// overrideFromFlags copies the explicitly set run flags from flagged into cfg.
func overrideFromFlags(cfg *config.RunConfig, flagged config.RunConfig, set map[string]bool) error {
	for name := range set {
		switch name {
		case "rngseed":
			cfg.Seed = flagged.Seed
		case "rew":
			cfg.Reward = flagged.Reward
		case "wp":
			cfg.WallPenalty = flagged.WallPenalty
		case "bent":
			cfg.EntropyCoef = flagged.EntropyCoef
		case "blossv":
			cfg.ValueLossCoef = flagged.ValueLossCoef
		case "msize":
			cfg.MazeSize = flagged.MazeSize
		case "gr":
			cfg.Gamma = flagged.Gamma
		case "gc":
			cfg.GradClip = flagged.GradClip
		case "lr":
			cfg.LearningRate = flagged.LearningRate
		case "mlr":
			cfg.MetaLearningRate = flagged.MetaLearningRate
		case "mst":
			cfg.MetaInterval = flagged.MetaInterval
		case "burnin":
			cfg.BurnIn = flagged.BurnIn
		case "eplen":
			cfg.EpisodeLength = flagged.EpisodeLength
		case "hs":
			cfg.HiddenSize = flagged.HiddenSize
		case "bs":
			cfg.BatchSize = flagged.BatchSize
		case "l2":
			cfg.WeightDecay = flagged.WeightDecay
		case "nbiter":
			cfg.Iterations = flagged.Iterations
		case "save_every":
			cfg.SaveEvery = flagged.SaveEvery
		case "pe":
			cfg.PrintEvery = flagged.PrintEvery
		case "act":
			cfg.Activation = flagged.Activation
		case "rule":
			cfg.PlasticityRule = flagged.PlasticityRule
		case "decay":
			cfg.TraceDecay = flagged.TraceDecay
		case "clip":
			cfg.TraceLimit = flagged.TraceLimit
		case "relocate":
			cfg.Relocate = flagged.Relocate
		case "config", "run-id", "resume", "trace-steps", "plot", "store", "db-path", "runs-dir":
		default:
			return fmt.Errorf("unhandled flag: %s", name)
		}
	}
	return nil
}
