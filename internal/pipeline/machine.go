package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/lucasnoah/constructor/internal/config"
)

// Machine holds the static topology and applies transitions to runs. It does
// no I/O; Store wraps it with persistence.
type Machine struct {
	cfg config.Pipeline
}

// NewMachine creates a Machine for the given pipeline configuration.
func NewMachine(cfg config.Pipeline) *Machine {
	return &Machine{cfg: cfg}
}

// AgentID returns the invocation identifier for an agent name.
func (m *Machine) AgentID(agent string) string {
	return m.cfg.AgentPrefix + agent
}

// NewRun creates a run positioned at the first agent of the first stage.
func (m *Machine) NewRun(id, task, componentType string, now time.Time) Run {
	first := m.cfg.Stages[0]
	return Run{
		ID:              id,
		Task:            task,
		ComponentType:   componentType,
		Started:         now.UTC().Format(time.RFC3339),
		CurrentStage:    first.ID,
		CurrentAgent:    first.Agents[0],
		CompletedStages: []string{},
		CompletedAgents: []string{},
		Scores:          map[string]int{},
		Issues:          []string{},
		Status:          RunInProgress,
	}
}

// Advance marks the run's current agent complete, records result when given,
// and moves the run to its next position.
func (m *Machine) Advance(run *Run, result *AgentResult, now time.Time) Directive {
	if run == nil || run.Status != RunInProgress {
		return noActive()
	}

	agent := run.CurrentAgent
	if !result.empty() {
		score := 100
		if result.Score != nil {
			score = max(0, min(100, *result.Score))
		}
		if run.Scores == nil {
			run.Scores = map[string]int{}
		}
		run.Scores[agent] = score
		run.Issues = append(run.Issues, result.Issues...)
	}
	run.CompletedAgents = append(run.CompletedAgents, agent)

	if d, ok := m.refactorLoop(run, agent); ok {
		return d
	}
	if d, ok := m.refactorReturn(run, agent); ok {
		return d
	}
	return m.forward(run, agent, now)
}

// refactorLoop re-routes to the refactor agent when a trigger agent scored
// below the pass threshold and iterations remain.
func (m *Machine) refactorLoop(run *Run, agent string) (Directive, bool) {
	r := m.cfg.Refactor
	if !m.cfg.IsTrigger(agent) {
		return Directive{}, false
	}
	score, ok := run.Scores[agent]
	if !ok {
		score = 100
	}
	if score >= m.cfg.Thresholds.Pass || run.RefactorCount >= r.MaxIterations {
		return Directive{}, false
	}

	run.RefactorCount++
	if r.ReturnToTrigger {
		run.ReturnTo = &Position{Stage: run.CurrentStage, Agent: agent}
	}
	run.CurrentStage = r.Stage
	run.CurrentAgent = r.Agent
	return Directive{
		Status:    DirectiveRefactorLoop,
		RunID:     run.ID,
		Stage:     r.Stage,
		Reason:    fmt.Sprintf("Score %d < %d", score, m.cfg.Thresholds.Pass),
		Iteration: run.RefactorCount,
		NextAgent: m.AgentID(r.Agent),
	}, true
}

// refactorReturn sends the run back to the agent that opened the loop.
func (m *Machine) refactorReturn(run *Run, agent string) (Directive, bool) {
	if run.ReturnTo == nil || agent != m.cfg.Refactor.Agent {
		return Directive{}, false
	}
	back := *run.ReturnTo
	run.ReturnTo = nil
	run.CurrentStage = back.Stage
	run.CurrentAgent = back.Agent
	return Directive{
		Status:    DirectiveRefactorReturn,
		RunID:     run.ID,
		Stage:     back.Stage,
		Iteration: run.RefactorCount,
		NextAgent: m.AgentID(back.Agent),
	}, true
}

// forward applies normal sequencing: next agent, next stage, or completion.
func (m *Machine) forward(run *Run, agent string, now time.Time) Directive {
	stageIdx := m.cfg.StageIndex(run.CurrentStage)
	if stageIdx >= 0 {
		agents := m.cfg.Stages[stageIdx].Agents
		agentIdx := indexOf(agents, agent)
		// An agent missing from its stage (a forced position) restarts at the first agent.
		if agentIdx < len(agents)-1 {
			run.CurrentAgent = agents[agentIdx+1]
			return Directive{
				Status:    DirectiveAdvanced,
				RunID:     run.ID,
				Stage:     run.CurrentStage,
				NextAgent: m.AgentID(run.CurrentAgent),
			}
		}

		run.CompletedStages = append(run.CompletedStages, run.CurrentStage)
		if stageIdx < len(m.cfg.Stages)-1 {
			completed := run.CurrentStage
			next := m.cfg.Stages[stageIdx+1]
			run.CurrentStage = next.ID
			run.CurrentAgent = next.Agents[0]
			return Directive{
				Status:         DirectiveStageComplete,
				RunID:          run.ID,
				CompletedStage: completed,
				NextStage:      next.ID,
				NextAgent:      m.AgentID(run.CurrentAgent),
			}
		}
	}

	return m.complete(run, now)
}

func (m *Machine) complete(run *Run, now time.Time) Directive {
	run.Status = RunCompleted
	run.Completed = now.UTC().Format(time.RFC3339)
	run.ReturnTo = nil
	run.FinalScore = m.FinalScore(run.Scores)

	passed := false
	switch {
	case run.FinalScore == nil:
		run.Verdict = VerdictInsufficientData
	case *run.FinalScore >= m.cfg.Thresholds.Pass:
		run.Verdict = VerdictPassed
		passed = true
	default:
		run.Verdict = VerdictFailed
	}

	return Directive{
		Status:     DirectiveCompleted,
		RunID:      run.ID,
		FinalScore: run.FinalScore,
		Passed:     &passed,
		Verdict:    run.Verdict,
		Summary:    summarize(run),
	}
}

// FinalScore is the weighted average over the agents that reported a score,
// normalised by the weights of those agents only, truncated toward zero.
// With no weighted scores the result depends on the empty score policy: 100
// for vacuous_pass, nil for insufficient_data.
func (m *Machine) FinalScore(scores map[string]int) *int {
	var weighted, total float64
	for agent, w := range m.cfg.Weights {
		s, ok := scores[agent]
		if !ok {
			continue
		}
		weighted += float64(s) * w
		total += w
	}

	if total == 0 {
		if m.cfg.EmptyScorePolicy == config.EmptyScoreInsufficientData {
			return nil
		}
		v := 100
		return &v
	}
	// The epsilon keeps 84.99999 from truncating to 84 when the exact value is 85.
	v := int(math.Floor(weighted/total + 1e-9))
	return &v
}

func summarize(run *Run) *Summary {
	return &Summary{
		Task:               run.Task,
		ComponentType:      run.ComponentType,
		Duration:           formatDuration(run.Started, run.Completed),
		StagesCompleted:    append([]string(nil), run.CompletedStages...),
		AgentsInvoked:      len(run.CompletedAgents),
		RefactorIterations: run.RefactorCount,
		IssuesFound:        len(run.Issues),
		FinalScore:         run.FinalScore,
	}
}

// formatDuration renders the span between two RFC3339 timestamps as
// "Ns", "Nm Ns" or "Nh Nm".
func formatDuration(start, end string) string {
	if start == "" || end == "" {
		return "unknown"
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return "unknown"
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return "unknown"
	}

	secs := int(e.Sub(s).Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}

func noActive() Directive {
	return Directive{
		Status:  DirectiveNoActivePipeline,
		Message: "No active pipeline; run 'pipeline start' first",
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
