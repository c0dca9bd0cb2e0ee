package config

// Config is the top-level configuration structure parsed from constructor YAML.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline" json:"pipeline"`
	Learning Learning `yaml:"learning" json:"learning"`
	Events   Events   `yaml:"events" json:"events"`
	StateDir string   `yaml:"state_dir" json:"state_dir"`
}

// Pipeline defines the stage topology and the numeric policy that drives runs.
type Pipeline struct {
	Name             string             `yaml:"name" json:"name"`
	AgentPrefix      string             `yaml:"agent_prefix" json:"agent_prefix"`
	HistoryLimit     int                `yaml:"history_limit" json:"history_limit"`
	Stages           []Stage            `yaml:"stages" json:"stages"`
	Thresholds       Thresholds         `yaml:"thresholds" json:"thresholds"`
	Refactor         Refactor           `yaml:"refactor" json:"refactor"`
	Weights          map[string]float64 `yaml:"weights" json:"weights"`
	EmptyScorePolicy EmptyScorePolicy   `yaml:"empty_score_policy" json:"empty_score_policy"`
}

// Stage is a named, ordered group of agents.
type Stage struct {
	ID      string   `yaml:"id" json:"id"`
	Purpose string   `yaml:"purpose,omitempty" json:"purpose,omitempty"`
	Agents  []string `yaml:"agents" json:"agents"`
}

// Thresholds are the score cutoffs applied to agent and final scores.
type Thresholds struct {
	Pass         int `yaml:"pass" json:"pass"`
	Excellent    int `yaml:"excellent" json:"excellent"`
	CriticalFail int `yaml:"critical_fail" json:"critical_fail"`
}

// Refactor configures the bounded re-entry into the remediation agent.
type Refactor struct {
	Stage         string   `yaml:"stage" json:"stage"`
	Agent         string   `yaml:"agent" json:"agent"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
	TriggerAgents []string `yaml:"trigger_agents" json:"trigger_agents"`
	// ReturnToTrigger sends the run back to the agent that fired the loop once
	// the refactor agent completes, instead of continuing forward.
	ReturnToTrigger bool `yaml:"return_to_trigger" json:"return_to_trigger"`
}

// EmptyScorePolicy decides the final score of a run where no agent reported.
type EmptyScorePolicy string

const (
	// EmptyScoreVacuousPass scores an unscored run as 100.
	EmptyScoreVacuousPass EmptyScorePolicy = "vacuous_pass"
	// EmptyScoreInsufficientData leaves the final score unset and fails the run.
	EmptyScoreInsufficientData EmptyScorePolicy = "insufficient_data"
)

// Learning holds the thresholds of the pattern-learning pipeline.
type Learning struct {
	MinReviewScore         int     `yaml:"min_review_score" json:"min_review_score"`
	MinExtractConfidence   float64 `yaml:"min_extract_confidence" json:"min_extract_confidence"`
	SuccessOnlyConfidence  float64 `yaml:"success_only_confidence" json:"success_only_confidence"`
	PruneThreshold         float64 `yaml:"prune_threshold" json:"prune_threshold"`
	AutoApplyConfidence    float64 `yaml:"auto_apply_confidence" json:"auto_apply_confidence"`
	ManualApplyConfidence  float64 `yaml:"manual_apply_confidence" json:"manual_apply_confidence"`
	SessionsBetweenReviews int     `yaml:"sessions_between_reviews" json:"sessions_between_reviews"`
	ResultSummaryLimit     int     `yaml:"result_summary_limit" json:"result_summary_limit"`
	RelatedActions         int     `yaml:"related_actions" json:"related_actions"`
}

// Events selects the event log backend.
type Events struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite", "postgres", or "none"
	DSN    string `yaml:"dsn" json:"dsn"`
}

// StageIndex returns the position of the stage with the given id, or -1.
func (p *Pipeline) StageIndex(id string) int {
	for i, s := range p.Stages {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// AgentCount returns the total number of agents across all stages.
func (p *Pipeline) AgentCount() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Agents)
	}
	return n
}

// IsTrigger reports whether agent can open a refactor loop.
func (p *Pipeline) IsTrigger(agent string) bool {
	for _, a := range p.Refactor.TriggerAgents {
		if a == agent {
			return true
		}
	}
	return false
}
