package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the project-local config file looked up by LoadDefault.
const FileName = "constructor.yaml"

// Default returns the built-in configuration: the four-layer constructor
// topology, its thresholds and agent weights.
func Default() *Config {
	return &Config{
		Pipeline: Pipeline{
			Name:         "ultimate-constructor",
			AgentPrefix:  "constructor-",
			HistoryLimit: 100,
			Stages: []Stage{
				{ID: "executive", Purpose: "Design and execute component creation",
					Agents: []string{"architect", "planner", "executor", "delegator"}},
				{ID: "quality", Purpose: "Validate and score component quality",
					Agents: []string{"tester", "reviewer", "qa", "validator"}},
				{ID: "security", Purpose: "Security testing and compliance",
					Agents: []string{"pentester", "auditor", "compliance"}},
				{ID: "evolution", Purpose: "Improve and finalize component",
					Agents: []string{"refactor", "optimizer", "learner", "finalizer", "acceptance"}},
			},
			Thresholds: Thresholds{Pass: 80, Excellent: 90, CriticalFail: 60},
			Refactor: Refactor{
				Stage:           "evolution",
				Agent:           "refactor",
				MaxIterations:   3,
				TriggerAgents:   []string{"reviewer"},
				ReturnToTrigger: true,
			},
			Weights: map[string]float64{
				"tester":     0.20,
				"reviewer":   0.25,
				"qa":         0.15,
				"validator":  0.10,
				"pentester":  0.15,
				"compliance": 0.10,
				"learner":    0.05,
			},
			EmptyScorePolicy: EmptyScoreVacuousPass,
		},
		Learning: Learning{
			MinReviewScore:         70,
			MinExtractConfidence:   0.7,
			SuccessOnlyConfidence:  0.7,
			PruneThreshold:         0.5,
			AutoApplyConfidence:    0.9,
			ManualApplyConfidence:  0.7,
			SessionsBetweenReviews: 5,
			ResultSummaryLimit:     500,
			RelatedActions:         3,
		},
		Events:   Events{Driver: "sqlite"},
		StateDir: "~/.constructor",
	}
}

// Load reads a configuration from the given YAML file path. Keys absent from
// the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the default configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	// yaml.v3 merges into non-nil maps; weights are replaced wholesale.
	defaultWeights := cfg.Pipeline.Weights
	cfg.Pipeline.Weights = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if cfg.Pipeline.Weights == nil {
		cfg.Pipeline.Weights = defaultWeights
	}
	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./constructor.yaml, ~/.constructor/config.yaml.
// When neither exists the built-in Default is returned.
func LoadDefault() (*Config, error) {
	candidates := []string{FileName}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".constructor", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	cfg := Default()
	applyDefaults(cfg)
	return cfg, nil
}

// ResolveStateDir expands a leading "~" in StateDir to the user's home.
func (c *Config) ResolveStateDir() (string, error) {
	dir := c.StateDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return dir, nil
}

// applyDefaults fills zero values that YAML may have cleared explicitly.
func applyDefaults(cfg *Config) {
	d := Default()
	p := &cfg.Pipeline

	if p.HistoryLimit <= 0 {
		p.HistoryLimit = d.Pipeline.HistoryLimit
	}
	if p.Refactor.MaxIterations < 0 {
		p.Refactor.MaxIterations = 0
	}
	if p.EmptyScorePolicy == "" {
		p.EmptyScorePolicy = EmptyScoreVacuousPass
	}
	if p.Weights == nil {
		p.Weights = map[string]float64{}
	}

	l := &cfg.Learning
	if l.ResultSummaryLimit <= 0 {
		l.ResultSummaryLimit = d.Learning.ResultSummaryLimit
	}
	if l.RelatedActions <= 0 {
		l.RelatedActions = d.Learning.RelatedActions
	}

	if cfg.Events.Driver == "" {
		cfg.Events.Driver = "none"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = d.StateDir
	}
}
