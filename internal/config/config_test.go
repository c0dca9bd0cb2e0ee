package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
pipeline:
  name: docs-pipeline
  agent_prefix: "doc-"
  history_limit: 20
  stages:
    - id: draft
      purpose: Write the component
      agents: [writer, editor]
    - id: check
      agents: [linter, reviewer]
    - id: polish
      agents: [fixer, publisher]
  thresholds:
    pass: 75
    excellent: 95
    critical_fail: 50
  refactor:
    stage: polish
    agent: fixer
    max_iterations: 2
    trigger_agents: [reviewer, linter]
    return_to_trigger: false
  weights:
    linter: 0.4
    reviewer: 0.6
  empty_score_policy: insufficient_data
learning:
  min_review_score: 80
events:
  driver: none
state_dir: /tmp/constructor-test
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "constructor.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func hasField(errs []ValidationError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func hasMessage(errs []ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Pipeline.Name != "docs-pipeline" {
		t.Errorf("Name = %q, want %q", cfg.Pipeline.Name, "docs-pipeline")
	}
	if cfg.Pipeline.AgentPrefix != "doc-" {
		t.Errorf("AgentPrefix = %q, want %q", cfg.Pipeline.AgentPrefix, "doc-")
	}
	if len(cfg.Pipeline.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(cfg.Pipeline.Stages))
	}
	if cfg.Pipeline.AgentCount() != 6 {
		t.Errorf("AgentCount() = %d, want 6", cfg.Pipeline.AgentCount())
	}
	if cfg.Pipeline.Thresholds.Pass != 75 {
		t.Errorf("Thresholds.Pass = %d, want 75", cfg.Pipeline.Thresholds.Pass)
	}
	if cfg.Pipeline.Refactor.ReturnToTrigger {
		t.Error("ReturnToTrigger should be false")
	}
	if !cfg.Pipeline.IsTrigger("linter") || cfg.Pipeline.IsTrigger("writer") {
		t.Errorf("TriggerAgents = %v", cfg.Pipeline.Refactor.TriggerAgents)
	}
	if cfg.Pipeline.EmptyScorePolicy != EmptyScoreInsufficientData {
		t.Errorf("EmptyScorePolicy = %q", cfg.Pipeline.EmptyScorePolicy)
	}
	if cfg.StateDir != "/tmp/constructor-test" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
}

func TestWeightsReplaceDefaults(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Pipeline.Weights) != 2 {
		t.Fatalf("Weights = %v, want only linter and reviewer", cfg.Pipeline.Weights)
	}
	if _, ok := cfg.Pipeline.Weights["tester"]; ok {
		t.Error("default weight for tester leaked into loaded config")
	}
}

func TestDefaultsMerge(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// only min_review_score is set under learning, the rest comes from Default
	if cfg.Learning.MinReviewScore != 80 {
		t.Errorf("MinReviewScore = %d, want 80 (explicit)", cfg.Learning.MinReviewScore)
	}
	if cfg.Learning.PruneThreshold != 0.5 {
		t.Errorf("PruneThreshold = %v, want 0.5 (from defaults)", cfg.Learning.PruneThreshold)
	}
	if cfg.Learning.ResultSummaryLimit != 500 {
		t.Errorf("ResultSummaryLimit = %d, want 500 (from defaults)", cfg.Learning.ResultSummaryLimit)
	}
}

func TestPartialConfigKeepsDefaultTopology(t *testing.T) {
	path := writeTestConfig(t, "learning:\n  prune_threshold: 0.3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Pipeline.Stages) != 4 {
		t.Fatalf("len(Stages) = %d, want 4", len(cfg.Pipeline.Stages))
	}
	if cfg.Pipeline.Weights["reviewer"] != 0.25 {
		t.Errorf("Weights[reviewer] = %v, want 0.25", cfg.Pipeline.Weights["reviewer"])
	}
	if cfg.Learning.PruneThreshold != 0.3 {
		t.Errorf("PruneThreshold = %v, want 0.3", cfg.Learning.PruneThreshold)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefaultTopology(t *testing.T) {
	cfg := Default()
	p := cfg.Pipeline

	want := []struct {
		id     string
		agents int
	}{
		{"executive", 4},
		{"quality", 4},
		{"security", 3},
		{"evolution", 5},
	}
	if len(p.Stages) != len(want) {
		t.Fatalf("len(Stages) = %d, want %d", len(p.Stages), len(want))
	}
	for i, w := range want {
		if p.Stages[i].ID != w.id || len(p.Stages[i].Agents) != w.agents {
			t.Errorf("Stages[%d] = %s/%d, want %s/%d", i, p.Stages[i].ID, len(p.Stages[i].Agents), w.id, w.agents)
		}
	}
	if p.AgentCount() != 16 {
		t.Errorf("AgentCount() = %d, want 16", p.AgentCount())
	}
	if p.StageIndex("security") != 2 || p.StageIndex("nope") != -1 {
		t.Errorf("StageIndex mismatch")
	}
	if p.Refactor.MaxIterations != 3 || p.Thresholds.Pass != 80 {
		t.Errorf("Refactor.MaxIterations = %d, Pass = %d", p.Refactor.MaxIterations, p.Thresholds.Pass)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(Default()) = %v", errs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeTestConfig(t, "pipeline: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadDefaultFallsBackToBuiltin(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	chdir(t, dir)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Pipeline.Name != "ultimate-constructor" {
		t.Errorf("Name = %q, want built-in default", cfg.Pipeline.Name)
	}
}

func TestLoadDefaultPrefersProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(validConfig), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Pipeline.Name != "docs-pipeline" {
		t.Errorf("Name = %q, want %q", cfg.Pipeline.Name, "docs-pipeline")
	}
}

func TestResolveStateDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	got, err := cfg.ResolveStateDir()
	if err != nil {
		t.Fatalf("ResolveStateDir() error: %v", err)
	}
	if want := filepath.Join(home, ".constructor"); got != want {
		t.Errorf("ResolveStateDir() = %q, want %q", got, want)
	}

	cfg.StateDir = "/var/lib/constructor"
	got, _ = cfg.ResolveStateDir()
	if got != "/var/lib/constructor" {
		t.Errorf("ResolveStateDir() = %q, want absolute path unchanged", got)
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateEmptyStages(t *testing.T) {
	path := writeTestConfig(t, "pipeline:\n  stages: []\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !hasField(Validate(cfg), "pipeline.stages") {
		t.Error("expected validation error for empty stages")
	}
}

func TestValidateDuplicateStageIDs(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Stages[1].ID = "executive"

	if !hasMessage(Validate(cfg), "duplicate stage ID") {
		t.Error("expected validation error for duplicate stage IDs")
	}
}

func TestValidateDuplicateAgent(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Stages[2].Agents = append(cfg.Pipeline.Stages[2].Agents, "reviewer")

	if !hasMessage(Validate(cfg), `already declared in stage "quality"`) {
		t.Error("expected validation error for agent declared twice")
	}
}

func TestValidateRefactorReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown stage", func(c *Config) { c.Pipeline.Refactor.Stage = "nowhere" }, "pipeline.refactor.stage"},
		{"unknown agent", func(c *Config) { c.Pipeline.Refactor.Agent = "ghost" }, "pipeline.refactor.agent"},
		{"agent outside stage", func(c *Config) { c.Pipeline.Refactor.Agent = "tester" }, "pipeline.refactor.agent"},
		{"unknown trigger", func(c *Config) { c.Pipeline.Refactor.TriggerAgents = []string{"ghost"} }, "pipeline.refactor.trigger_agents[0]"},
		{"self trigger", func(c *Config) { c.Pipeline.Refactor.TriggerAgents = []string{"refactor"} }, "pipeline.refactor.trigger_agents[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if !hasField(Validate(cfg), tt.field) {
				t.Errorf("expected validation error on %s", tt.field)
			}
		})
	}
}

func TestValidateWeights(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Weights["ghost"] = 0.1
	cfg.Pipeline.Weights["tester"] = -1

	errs := Validate(cfg)
	if !hasMessage(errs, `references undefined agent "ghost"`) {
		t.Error("expected validation error for weight on unknown agent")
	}
	if !hasField(errs, "pipeline.weights.tester") {
		t.Error("expected validation error for negative weight")
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Thresholds.Pass = 120
	cfg.Learning.PruneThreshold = 1.5
	cfg.Learning.MinReviewScore = -1
	cfg.Learning.ManualApplyConfidence = 0.95

	errs := Validate(cfg)
	for _, field := range []string{
		"pipeline.thresholds.pass",
		"learning.prune_threshold",
		"learning.min_review_score",
		"learning.manual_apply_confidence",
	} {
		if !hasField(errs, field) {
			t.Errorf("expected validation error on %s", field)
		}
	}
}

func TestValidateEvents(t *testing.T) {
	cfg := Default()
	cfg.Events.Driver = "mysql"
	if !hasMessage(Validate(cfg), "unrecognized driver") {
		t.Error("expected validation error for unknown driver")
	}

	cfg.Events.Driver = "postgres"
	if !hasField(Validate(cfg), "events.dsn") {
		t.Error("expected validation error for postgres without dsn")
	}
}

func TestValidateEmptyScorePolicy(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.EmptyScorePolicy = "generous"
	if !hasField(Validate(cfg), "pipeline.empty_score_policy") {
		t.Error("expected validation error for unknown empty score policy")
	}
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore working directory: %v", err)
		}
	})
}
