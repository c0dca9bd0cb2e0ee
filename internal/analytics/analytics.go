package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// NormalizeSince turns a --since value into the stored timestamp format.
// Empty stays empty.
func NormalizeSince(since string) (string, error) {
	if since == "" {
		return "", nil
	}
	t, err := parseTimestamp(since)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}

func query(database DB, q string, args ...any) (*sql.Rows, error) {
	return database.Conn().Query(database.Rebind(q), args...)
}

// AgentScore holds score stats for one agent.
type AgentScore struct {
	Agent string  `json:"agent"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	P50   float64 `json:"p50"`
	Below int     `json:"below_pass"`
}

// QueryAgentScores returns score statistics per agent over agent_completed
// events that carried a score. Below counts scores under pass.
func QueryAgentScores(database DB, since string, pass int) ([]AgentScore, error) {
	q := `SELECT agent, score FROM pipeline_events
		WHERE event = 'agent_completed' AND score IS NOT NULL`
	var args []any
	if since != "" {
		q += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query agent scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string][]float64)
	for rows.Next() {
		var agent string
		var score int
		if err := rows.Scan(&agent, &score); err != nil {
			return nil, fmt.Errorf("scan agent score: %w", err)
		}
		scores[agent] = append(scores[agent], float64(score))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := []AgentScore{}
	for agent, vals := range scores {
		sort.Float64s(vals)
		s := AgentScore{
			Agent: agent,
			Count: len(vals),
			Avg:   avg(vals),
			Min:   int(vals[0]),
			Max:   int(vals[len(vals)-1]),
			P50:   percentile(vals, 50),
		}
		for _, v := range vals {
			if int(v) < pass {
				s.Below++
			}
		}
		results = append(results, s)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Agent < results[j].Agent
	})
	return results, nil
}

// RefactorRate summarises how often runs enter the refactor loop.
type RefactorRate struct {
	Runs         int     `json:"runs"`
	RunsLooped   int     `json:"runs_with_refactor"`
	Loops        int     `json:"refactor_loops"`
	LoopedPct    float64 `json:"runs_with_refactor_pct"`
	AvgPerLooped float64 `json:"avg_loops_per_looped_run"`
	Exhausted    int     `json:"runs_at_max_iterations"`
}

// QueryRefactorRate counts refactor_loop events per run. Exhausted counts runs
// that looped maxIterations times.
func QueryRefactorRate(database DB, since string, maxIterations int) (*RefactorRate, error) {
	q := `SELECT run_id,
			SUM(CASE WHEN event = 'run_started' THEN 1 ELSE 0 END) AS started,
			SUM(CASE WHEN event = 'refactor_loop' THEN 1 ELSE 0 END) AS loops
		FROM pipeline_events
		WHERE event IN ('run_started', 'refactor_loop')`
	var args []any
	if since != "" {
		q += ` AND timestamp >= ?`
		args = append(args, since)
	}
	q += ` GROUP BY run_id`

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query refactor rate: %w", err)
	}
	defer rows.Close()

	var r RefactorRate
	for rows.Next() {
		var runID string
		var started, loops int
		if err := rows.Scan(&runID, &started, &loops); err != nil {
			return nil, fmt.Errorf("scan refactor rate: %w", err)
		}
		r.Runs++
		if loops > 0 {
			r.RunsLooped++
			r.Loops += loops
		}
		if maxIterations > 0 && loops >= maxIterations {
			r.Exhausted++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.LoopedPct = pct(r.RunsLooped, r.Runs)
	if r.RunsLooped > 0 {
		r.AvgPerLooped = math.Round(float64(r.Loops)/float64(r.RunsLooped)*10) / 10
	}
	return &r, nil
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// QueryStageDurations returns average and percentile durations per stage.
// Each stage_completed/run_completed event is paired with the most recent
// prior run_started/stage_completed event for the same run. Duration > 0 is
// attributed to the end event's stage.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	q := `
		SELECT pe1.run_id, pe1.stage, pe1.timestamp AS end_ts,
			(SELECT MAX(pe2.timestamp) FROM pipeline_events pe2
			 WHERE pe2.run_id = pe1.run_id
			 AND pe2.event IN ('run_started', 'stage_completed')
			 AND pe2.id < pe1.id) AS start_ts
		FROM pipeline_events pe1
		WHERE pe1.event IN ('stage_completed', 'run_completed')
		AND pe1.stage != ''`

	var args []any
	if since != "" {
		q += ` AND pe1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var runID, stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&runID, &stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		minutes := end.Sub(start).Minutes()
		if minutes > 0 {
			stageDurations[stage] = append(stageDurations[stage], minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := []StageDuration{}
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// RunEvent holds a single event for the run timeline view.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Score     *int   `json:"score,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunTimeline returns the full event timeline for a run.
func QueryRunTimeline(database DB, runID string) ([]RunEvent, error) {
	rows, err := query(database,
		`SELECT timestamp, event, stage, agent, score, detail
		 FROM pipeline_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run timeline: %w", err)
	}
	defer rows.Close()

	results := []RunEvent{}
	for rows.Next() {
		var e RunEvent
		var score sql.NullInt64
		if err := rows.Scan(&e.Timestamp, &e.Event, &e.Stage, &e.Agent, &score, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if score.Valid {
			v := int(score.Int64)
			e.Score = &v
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// LearningOutcomes counts learning activity.
type LearningOutcomes struct {
	Sessions      int            `json:"sessions"`
	Actions       int            `json:"actions"`
	Successes     int            `json:"successes"`
	Failures      int            `json:"failures"`
	SuccessPct    float64        `json:"success_pct"`
	Confirmations map[string]int `json:"confirmations"`
	Extractions   int            `json:"extractions"`
	ByTool        []ToolOutcome  `json:"by_tool"`
}

// ToolOutcome holds success counts for one tool.
type ToolOutcome struct {
	Tool       string  `json:"tool"`
	Successes  int     `json:"successes"`
	Failures   int     `json:"failures"`
	SuccessPct float64 `json:"success_pct"`
}

// QueryLearningOutcomes aggregates learning_events.
func QueryLearningOutcomes(database DB, since string) (*LearningOutcomes, error) {
	q := `SELECT session_id, event, tool, detail FROM learning_events`
	var args []any
	if since != "" {
		q += ` WHERE timestamp >= ?`
		args = append(args, since)
	}

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query learning outcomes: %w", err)
	}
	defer rows.Close()

	out := &LearningOutcomes{Confirmations: map[string]int{}, ByTool: []ToolOutcome{}}
	sessions := map[string]bool{}
	tools := map[string]*ToolOutcome{}
	for rows.Next() {
		var sessionID, event, tool, detail string
		if err := rows.Scan(&sessionID, &event, &tool, &detail); err != nil {
			return nil, fmt.Errorf("scan learning event: %w", err)
		}
		sessions[sessionID] = true
		switch event {
		case "action_tracked":
			out.Actions++
			t, ok := tools[tool]
			if !ok {
				t = &ToolOutcome{Tool: tool}
				tools[tool] = t
			}
			if detail == "success" {
				out.Successes++
				t.Successes++
			} else {
				out.Failures++
				t.Failures++
			}
		case "confirmation":
			out.Confirmations[detail]++
		case "extracted":
			out.Extractions++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out.Sessions = len(sessions)
	out.SuccessPct = pct(out.Successes, out.Actions)
	for _, t := range tools {
		t.SuccessPct = pct(t.Successes, t.Successes+t.Failures)
		out.ByTool = append(out.ByTool, *t)
	}
	sort.Slice(out.ByTool, func(i, j int) bool {
		return out.ByTool[i].Tool < out.ByTool[j].Tool
	})
	return out, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
