package pipeline

import (
	"encoding/json"
	"strings"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
)

// Verdict classifies a completed run against the pass threshold.
type Verdict string

const (
	VerdictPassed           Verdict = "passed"
	VerdictFailed           Verdict = "failed"
	VerdictInsufficientData Verdict = "insufficient_data"
)

// DirectiveStatus tells the caller what happened on start or advance.
type DirectiveStatus string

const (
	DirectiveStarted          DirectiveStatus = "started"
	DirectiveAdvanced         DirectiveStatus = "advanced"
	DirectiveStageComplete    DirectiveStatus = "stage_complete"
	DirectiveRefactorLoop     DirectiveStatus = "refactor_loop"
	DirectiveRefactorReturn   DirectiveStatus = "refactor_return"
	DirectiveCompleted        DirectiveStatus = "completed"
	DirectiveNoActivePipeline DirectiveStatus = "no_active_pipeline"
)

// Position names a stage/agent pair in the topology.
type Position struct {
	Stage string `json:"stage"`
	Agent string `json:"agent"`
}

// Run is one end-to-end execution of the staged pipeline.
type Run struct {
	ID              string         `json:"id"`
	Task            string         `json:"task"`
	ComponentType   string         `json:"component_type"`
	Started         string         `json:"started"`
	Completed       string         `json:"completed,omitempty"`
	CurrentStage    string         `json:"current_stage"`
	CurrentAgent    string         `json:"current_agent"`
	CompletedStages []string       `json:"completed_stages"`
	CompletedAgents []string       `json:"completed_agents"`
	Scores          map[string]int `json:"scores"`
	Issues          []string       `json:"issues"`
	RefactorCount   int            `json:"refactor_count"`
	ReturnTo        *Position      `json:"return_to,omitempty"`
	Status          RunStatus      `json:"status"`
	FinalScore      *int           `json:"final_score,omitempty"`
	Verdict         Verdict        `json:"verdict,omitempty"`
}

// ComponentStats aggregates completed-run scores for one component type.
type ComponentStats struct {
	Count        int     `json:"count"`
	TotalScore   int     `json:"total_score"`
	AverageScore float64 `json:"average_score"`
}

// Stats are the aggregate counters kept alongside run history.
type Stats struct {
	TotalRuns       int                        `json:"total_runs"`
	Successful      int                        `json:"successful"`
	Failed          int                        `json:"failed"`
	Insufficient    int                        `json:"insufficient"`
	ByComponentType map[string]*ComponentStats `json:"by_component_type,omitempty"`
}

// State is the persisted pipeline document.
type State struct {
	Current string `json:"current,omitempty"`
	Runs    []Run  `json:"runs"`
	Stats   Stats  `json:"stats"`
}

// find returns a pointer into Runs for the given id, or nil.
func (st *State) find(id string) *Run {
	for i := range st.Runs {
		if st.Runs[i].ID == id {
			return &st.Runs[i]
		}
	}
	return nil
}

// record folds a completed run into the aggregate counters.
func (s *Stats) record(run *Run) {
	switch run.Verdict {
	case VerdictPassed:
		s.Successful++
	case VerdictFailed:
		s.Failed++
	case VerdictInsufficientData:
		s.Insufficient++
	}
	if run.FinalScore == nil {
		return
	}
	if s.ByComponentType == nil {
		s.ByComponentType = make(map[string]*ComponentStats)
	}
	cs, ok := s.ByComponentType[run.ComponentType]
	if !ok {
		cs = &ComponentStats{}
		s.ByComponentType[run.ComponentType] = cs
	}
	cs.Count++
	cs.TotalScore += *run.FinalScore
	cs.AverageScore = float64(cs.TotalScore) / float64(cs.Count)
}

// AgentResult is what an external checker reports for the agent it ran.
type AgentResult struct {
	Score  *int     `json:"score,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// empty reports whether r carries neither a score nor issues; such a result
// is treated as no result at all.
func (r *AgentResult) empty() bool {
	return r == nil || (r.Score == nil && len(r.Issues) == 0)
}

// ParseAgentResult decodes an agent result from JSON. Blank input yields nil
// with no error; malformed input yields nil and the decode error so the caller
// can log it and continue without a result.
func ParseAgentResult(raw string) (*AgentResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var r AgentResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Summary describes a completed run.
type Summary struct {
	Task               string   `json:"task"`
	ComponentType      string   `json:"component_type"`
	Duration           string   `json:"duration"`
	StagesCompleted    []string `json:"stages_completed"`
	AgentsInvoked      int      `json:"agents_invoked"`
	RefactorIterations int      `json:"refactor_iterations"`
	IssuesFound        int      `json:"issues_found"`
	FinalScore         *int     `json:"final_score"`
}

// Directive is returned from Start and Advance and names the next agent to run.
type Directive struct {
	Status         DirectiveStatus `json:"status"`
	RunID          string          `json:"run_id,omitempty"`
	Stage          string          `json:"stage,omitempty"`
	CompletedStage string          `json:"completed_stage,omitempty"`
	NextStage      string          `json:"next_stage,omitempty"`
	NextAgent      string          `json:"next_agent,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Iteration      int             `json:"iteration,omitempty"`
	FinalScore     *int            `json:"final_score,omitempty"`
	Passed         *bool           `json:"passed,omitempty"`
	Verdict        Verdict         `json:"verdict,omitempty"`
	Summary        *Summary        `json:"summary,omitempty"`
	Message        string          `json:"message,omitempty"`
}

// Status values for StatusView beyond the RunStatus values.
const (
	StatusIdle     = "idle"
	StatusNotFound = "not_found"
)

// Progress is the completion projection of a run.
type Progress struct {
	StagesCompleted    []string `json:"stages_completed"`
	AgentsCompleted    int      `json:"agents_completed"`
	RefactorIterations int      `json:"refactor_iterations"`
}

// StatusView is the read-only projection returned by Status.
type StatusView struct {
	Status       string         `json:"status"`
	RunID        string         `json:"run_id,omitempty"`
	Task         string         `json:"task,omitempty"`
	CurrentStage string         `json:"current_stage,omitempty"`
	CurrentAgent string         `json:"current_agent,omitempty"`
	Progress     *Progress      `json:"progress,omitempty"`
	Scores       map[string]int `json:"scores,omitempty"`
	Issues       int            `json:"issues"`
	FinalScore   *int           `json:"final_score,omitempty"`
	Stats        *Stats         `json:"stats,omitempty"`
	RecentRuns   int            `json:"recent_runs,omitempty"`
}

// RunBrief is one row of the report's recent run list.
type RunBrief struct {
	ID     string    `json:"id"`
	Task   string    `json:"task"`
	Status RunStatus `json:"status"`
	Score  *int      `json:"score"`
}

// Report is the aggregate view over all retained runs.
type Report struct {
	Generated   string      `json:"generated"`
	Statistics  Stats       `json:"statistics"`
	SuccessRate float64     `json:"success_rate"`
	RecentRuns  []RunBrief  `json:"recent_runs"`
	Structure   []StageView `json:"pipeline_structure"`
	Thresholds  Thresholds  `json:"thresholds"`
}

// StageView is the report's rendering of one configured stage.
type StageView struct {
	ID      string   `json:"id"`
	Purpose string   `json:"purpose,omitempty"`
	Agents  []string `json:"agents"`
}

// Thresholds mirrors the configured score cutoffs in reports.
type Thresholds struct {
	Pass         int `json:"pass"`
	Excellent    int `json:"excellent"`
	CriticalFail int `json:"critical_fail"`
}

// GateResult is the pass/fail verdict used for the process exit status.
type GateResult struct {
	RunID      string    `json:"run_id"`
	Found      bool      `json:"found"`
	Status     RunStatus `json:"status,omitempty"`
	FinalScore *int      `json:"final_score,omitempty"`
	Threshold  int       `json:"threshold"`
	Passed     bool      `json:"passed"`
	Reason     string    `json:"reason,omitempty"`
}
