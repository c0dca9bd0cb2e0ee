package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/config"
	"github.com/lucasnoah/constructor/internal/statefile"
)

// ErrRunNotFound is returned by Get when no retained run has the given id.
var ErrRunNotFound = errors.New("run not found")

// EventSink receives pipeline events. Implementations must be safe to call
// after the state file has been written; failures are logged, not returned.
type EventSink interface {
	LogPipelineEvent(runID, event, stage, agent string, score *int, detail string) error
}

// Option configures a Store.
type Option func(*Store)

// WithEvents sets the sink that receives pipeline events.
func WithEvents(sink EventSink) Option {
	return func(s *Store) { s.events = sink }
}

// WithLogger sets the logger used for transitions and sink failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store manages pipeline state on disk. Every mutation is a locked
// read-modify-write of a single state document.
type Store struct {
	path    string
	cfg     config.Pipeline
	machine *Machine
	events  EventSink
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a Store whose state document lives under dir.
func NewStore(dir string, cfg config.Pipeline, opts ...Option) *Store {
	s := &Store{
		path:    filepath.Join(dir, "state.json"),
		cfg:     cfg,
		machine: NewMachine(cfg),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Machine returns the transition logic the store applies.
func (s *Store) Machine() *Machine {
	return s.machine
}

type event struct {
	runID, name, stage, agent string
	score                     *int
	detail                    string
}

// Start creates a new run at the first agent of the first stage and makes it
// current.
func (s *Store) Start(task, componentType string) (*Directive, error) {
	if strings.TrimSpace(task) == "" {
		task = "component creation"
	}
	if strings.TrimSpace(componentType) == "" {
		componentType = "unknown"
	}

	now := s.now()
	run := s.machine.NewRun(newRunID(now), task, componentType, now)

	var st State
	err := statefile.Update(s.path, &st, func(bool) (bool, error) {
		st.Runs = append(st.Runs, run)
		st.Current = run.ID
		st.Stats.TotalRuns++
		st.Runs = trimHistory(st.Runs, st.Current, s.cfg.HistoryLimit)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	s.logger.Info("pipeline started",
		zap.String("run_id", run.ID),
		zap.String("task", task),
		zap.String("component_type", componentType))
	s.emit(event{runID: run.ID, name: "run_started", stage: run.CurrentStage, agent: run.CurrentAgent, detail: task})

	return &Directive{
		Status:    DirectiveStarted,
		RunID:     run.ID,
		Stage:     run.CurrentStage,
		NextAgent: s.machine.AgentID(run.CurrentAgent),
		Message:   "Pipeline started for: " + task,
	}, nil
}

// Advance completes the current agent of the run identified by runID (the
// current run when runID is empty) and moves it forward.
func (s *Store) Advance(runID string, result *AgentResult) (*Directive, error) {
	var (
		st     State
		d      Directive
		events []event
	)
	err := statefile.Update(s.path, &st, func(bool) (bool, error) {
		id := runID
		if id == "" {
			id = st.Current
		}
		run := st.find(id)
		if run == nil || run.Status != RunInProgress {
			d = noActive()
			d.RunID = runID
			return false, nil
		}

		stage, agent := run.CurrentStage, run.CurrentAgent
		d = s.machine.Advance(run, result, s.now())

		var score *int
		if v, ok := run.Scores[agent]; ok && !result.empty() {
			score = &v
		}
		events = append(events, event{runID: run.ID, name: "agent_completed", stage: stage, agent: agent, score: score})

		switch d.Status {
		case DirectiveRefactorLoop:
			events = append(events, event{runID: run.ID, name: "refactor_loop", stage: d.Stage,
				agent: run.CurrentAgent, score: score, detail: d.Reason})
		case DirectiveRefactorReturn:
			events = append(events, event{runID: run.ID, name: "refactor_return", stage: d.Stage, agent: run.CurrentAgent})
		case DirectiveStageComplete:
			events = append(events, event{runID: run.ID, name: "stage_completed", stage: d.CompletedStage})
		case DirectiveCompleted:
			st.Stats.record(run)
			events = append(events, event{runID: run.ID, name: "run_completed", stage: stage, score: run.FinalScore, detail: string(run.Verdict)})
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("advance pipeline: %w", err)
	}

	s.logDirective(&d)
	for _, e := range events {
		s.emit(e)
	}
	return &d, nil
}

// Status projects the run identified by runID, or the current run when runID
// is empty. With no current run it reports idle with the aggregate stats.
func (s *Store) Status(runID string) (*StatusView, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}

	id := runID
	if id == "" {
		id = st.Current
	}
	if id == "" {
		stats := st.Stats
		return &StatusView{Status: StatusIdle, Stats: &stats, RecentRuns: len(st.Runs)}, nil
	}
	run := st.find(id)
	if run == nil {
		return &StatusView{Status: StatusNotFound, RunID: id}, nil
	}

	return &StatusView{
		Status:       string(run.Status),
		RunID:        run.ID,
		Task:         run.Task,
		CurrentStage: run.CurrentStage,
		CurrentAgent: run.CurrentAgent,
		Progress: &Progress{
			StagesCompleted:    run.CompletedStages,
			AgentsCompleted:    len(run.CompletedAgents),
			RefactorIterations: run.RefactorCount,
		},
		Scores:     run.Scores,
		Issues:     len(run.Issues),
		FinalScore: run.FinalScore,
	}, nil
}

// Report returns aggregate statistics and the last ten runs.
func (s *Store) Report() (*Report, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Generated:  s.now().UTC().Format(time.RFC3339),
		Statistics: st.Stats,
		RecentRuns: []RunBrief{},
		Thresholds: Thresholds{
			Pass:         s.cfg.Thresholds.Pass,
			Excellent:    s.cfg.Thresholds.Excellent,
			CriticalFail: s.cfg.Thresholds.CriticalFail,
		},
	}
	if st.Stats.TotalRuns > 0 {
		rep.SuccessRate = float64(st.Stats.Successful) / float64(st.Stats.TotalRuns)
	}

	recent := st.Runs
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	for _, r := range recent {
		rep.RecentRuns = append(rep.RecentRuns, RunBrief{ID: r.ID, Task: r.Task, Status: r.Status, Score: r.FinalScore})
	}
	for _, stg := range s.cfg.Stages {
		rep.Structure = append(rep.Structure, StageView{ID: stg.ID, Purpose: stg.Purpose, Agents: stg.Agents})
	}
	return rep, nil
}

// List returns all retained runs, oldest first.
func (s *Store) List() ([]Run, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.Runs, nil
}

// Get returns the run with the given id (the current run when id is empty).
func (s *Store) Get(runID string) (*Run, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	id := runID
	if id == "" {
		id = st.Current
	}
	run := st.find(id)
	if run == nil {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run, nil
}

// Gate reports whether the run completed with a final score at or above the
// pass threshold.
func (s *Store) Gate(runID string) (*GateResult, error) {
	g := &GateResult{RunID: runID, Threshold: s.cfg.Thresholds.Pass}

	run, err := s.Get(runID)
	if errors.Is(err, ErrRunNotFound) {
		g.Reason = "no such run"
		return g, nil
	}
	if err != nil {
		return nil, err
	}

	g.RunID = run.ID
	g.Found = true
	g.Status = run.Status
	g.FinalScore = run.FinalScore
	switch {
	case run.Status != RunCompleted:
		g.Reason = "run not completed"
	case run.FinalScore == nil:
		g.Reason = "insufficient data"
	case *run.FinalScore < s.cfg.Thresholds.Pass:
		g.Reason = fmt.Sprintf("final score %d below %d", *run.FinalScore, s.cfg.Thresholds.Pass)
	default:
		g.Passed = true
	}
	return g, nil
}

func (s *Store) load() (*State, error) {
	var st State
	if _, err := statefile.Read(s.path, &st); err != nil {
		return nil, fmt.Errorf("read pipeline state: %w", err)
	}
	return &st, nil
}

func (s *Store) logDirective(d *Directive) {
	fields := []zap.Field{zap.String("run_id", d.RunID), zap.String("status", string(d.Status))}
	switch d.Status {
	case DirectiveRefactorLoop:
		s.logger.Info("refactor loop", append(fields, zap.Int("iteration", d.Iteration), zap.String("reason", d.Reason))...)
	case DirectiveCompleted:
		if d.FinalScore != nil {
			fields = append(fields, zap.Int("final_score", *d.FinalScore))
		}
		s.logger.Info("pipeline completed", append(fields, zap.String("verdict", string(d.Verdict)))...)
	default:
		s.logger.Debug("pipeline advanced", append(fields, zap.String("next_agent", d.NextAgent))...)
	}
}

func (s *Store) emit(e event) {
	if s.events == nil {
		return
	}
	if err := s.events.LogPipelineEvent(e.runID, e.name, e.stage, e.agent, e.score, e.detail); err != nil {
		s.logger.Warn("log pipeline event", zap.String("event", e.name), zap.Error(err))
	}
}

// newRunID returns run-YYYYMMDD-HHMMSS-<8 hex>.
func newRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("run-%s-%s", now.Format("20060102-150405"), suffix)
}

// trimHistory drops the oldest runs beyond limit, never the current one.
func trimHistory(runs []Run, current string, limit int) []Run {
	if limit <= 0 || len(runs) <= limit {
		return runs
	}
	excess := len(runs) - limit
	kept := make([]Run, 0, limit)
	for _, r := range runs {
		if excess > 0 && r.ID != current {
			excess--
			continue
		}
		kept = append(kept, r)
	}
	return kept
}
