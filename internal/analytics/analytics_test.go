package analytics

import (
	"database/sql"
	"testing"

	"github.com/lucasnoah/constructor/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func event(t *testing.T, c *sql.DB, runID, ev, stage, agent string, score interface{}, ts string) {
	t.Helper()
	exec(t, c, `INSERT INTO pipeline_events (run_id, event, stage, agent, score, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, ev, stage, agent, score, ts)
}

func learning(t *testing.T, c *sql.DB, session, ev, tool, detail, ts string) {
	t.Helper()
	exec(t, c, `INSERT INTO learning_events (session_id, event, tool, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		session, ev, tool, detail, ts)
}

// --- QueryAgentScores ---

func TestQueryAgentScores(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	event(t, c, "run-1", "agent_completed", "quality", "reviewer", 70, "2026-04-01T10:00:00Z")
	event(t, c, "run-1", "agent_completed", "quality", "reviewer", 90, "2026-04-01T10:05:00Z")
	event(t, c, "run-2", "agent_completed", "quality", "reviewer", 85, "2026-04-02T10:00:00Z")
	event(t, c, "run-1", "agent_completed", "quality", "tester", 100, "2026-04-01T10:01:00Z")
	event(t, c, "run-1", "agent_completed", "executive", "architect", nil, "2026-04-01T09:00:00Z")

	results, err := QueryAgentScores(d, "", 80)
	if err != nil {
		t.Fatalf("QueryAgentScores: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 agents (unscored excluded), got %d: %+v", len(results), results)
	}

	reviewer := results[0]
	if reviewer.Agent != "reviewer" {
		t.Fatalf("agents not sorted: %+v", results)
	}
	if reviewer.Count != 3 {
		t.Errorf("reviewer count = %d, want 3", reviewer.Count)
	}
	if reviewer.Avg != 81.7 {
		t.Errorf("reviewer avg = %v, want 81.7", reviewer.Avg)
	}
	if reviewer.Min != 70 || reviewer.Max != 90 {
		t.Errorf("reviewer min/max = %d/%d, want 70/90", reviewer.Min, reviewer.Max)
	}
	if reviewer.P50 != 85 {
		t.Errorf("reviewer p50 = %v, want 85", reviewer.P50)
	}
	if reviewer.Below != 1 {
		t.Errorf("reviewer below pass = %d, want 1", reviewer.Below)
	}
}

func TestQueryAgentScoresSince(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	event(t, c, "run-1", "agent_completed", "quality", "reviewer", 40, "2026-03-01T10:00:00Z")
	event(t, c, "run-2", "agent_completed", "quality", "reviewer", 90, "2026-04-02T10:00:00Z")

	since, err := NormalizeSince("2026-04-01")
	if err != nil {
		t.Fatalf("NormalizeSince: %v", err)
	}
	results, err := QueryAgentScores(d, since, 80)
	if err != nil {
		t.Fatalf("QueryAgentScores: %v", err)
	}
	if len(results) != 1 || results[0].Count != 1 || results[0].Min != 90 {
		t.Errorf("since filter not applied: %+v", results)
	}
}

func TestQueryAgentScoresEmpty(t *testing.T) {
	d := testDB(t)
	results, err := QueryAgentScores(d, "", 80)
	if err != nil {
		t.Fatalf("QueryAgentScores: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", results)
	}
}

// --- QueryRefactorRate ---

func TestQueryRefactorRate(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// run-1 loops three times, run-2 once, run-3 never
	event(t, c, "run-1", "run_started", "executive", "architect", nil, "2026-04-01T10:00:00Z")
	for i := 0; i < 3; i++ {
		event(t, c, "run-1", "refactor_loop", "evolution", "refactor", 60, "2026-04-01T10:30:00Z")
	}
	event(t, c, "run-2", "run_started", "executive", "architect", nil, "2026-04-01T11:00:00Z")
	event(t, c, "run-2", "refactor_loop", "evolution", "refactor", 75, "2026-04-01T11:30:00Z")
	event(t, c, "run-3", "run_started", "executive", "architect", nil, "2026-04-01T12:00:00Z")

	r, err := QueryRefactorRate(d, "", 3)
	if err != nil {
		t.Fatalf("QueryRefactorRate: %v", err)
	}
	if r.Runs != 3 {
		t.Errorf("runs = %d, want 3", r.Runs)
	}
	if r.RunsLooped != 2 {
		t.Errorf("runs looped = %d, want 2", r.RunsLooped)
	}
	if r.Loops != 4 {
		t.Errorf("loops = %d, want 4", r.Loops)
	}
	if r.LoopedPct != 66.7 {
		t.Errorf("looped pct = %v, want 66.7", r.LoopedPct)
	}
	if r.AvgPerLooped != 2 {
		t.Errorf("avg per looped = %v, want 2", r.AvgPerLooped)
	}
	if r.Exhausted != 1 {
		t.Errorf("exhausted = %d, want 1", r.Exhausted)
	}
}

func TestQueryRefactorRateEmpty(t *testing.T) {
	d := testDB(t)
	r, err := QueryRefactorRate(d, "", 3)
	if err != nil {
		t.Fatalf("QueryRefactorRate: %v", err)
	}
	if r.Runs != 0 || r.LoopedPct != 0 || r.AvgPerLooped != 0 {
		t.Errorf("expected zero rate, got %+v", r)
	}
}

// --- QueryStageDurations ---

func TestQueryStageDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// run-1: executive 10 min, quality 20 min (ends with run_completed)
	event(t, c, "run-1", "run_started", "executive", "architect", nil, "2026-04-01T10:00:00Z")
	event(t, c, "run-1", "stage_completed", "executive", "", nil, "2026-04-01T10:10:00Z")
	event(t, c, "run-1", "run_completed", "quality", "", 88, "2026-04-01T10:30:00Z")

	// run-2: executive 30 min
	event(t, c, "run-2", "run_started", "executive", "architect", nil, "2026-04-02T10:00:00Z")
	event(t, c, "run-2", "stage_completed", "executive", "", nil, "2026-04-02T10:30:00Z")

	results, err := QueryStageDurations(d, "")
	if err != nil {
		t.Fatalf("QueryStageDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 stages, got %d: %+v", len(results), results)
	}

	executive := results[0]
	if executive.Stage != "executive" || executive.Count != 2 {
		t.Errorf("executive = %+v", executive)
	}
	if executive.Avg != 20 {
		t.Errorf("executive avg = %v, want 20", executive.Avg)
	}
	if executive.P50 != 20 {
		t.Errorf("executive p50 = %v, want 20", executive.P50)
	}
	if executive.P95 != 29 {
		t.Errorf("executive p95 = %v, want 29", executive.P95)
	}

	quality := results[1]
	if quality.Stage != "quality" || quality.Count != 1 || quality.Avg != 20 {
		t.Errorf("quality = %+v", quality)
	}
}

// --- QueryRunTimeline ---

func TestQueryRunTimeline(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	event(t, c, "run-1", "run_started", "executive", "architect", nil, "2026-04-01T10:00:00Z")
	event(t, c, "run-1", "agent_completed", "executive", "architect", 95, "2026-04-01T10:01:00Z")
	event(t, c, "run-2", "run_started", "executive", "architect", nil, "2026-04-01T10:02:00Z")

	timeline, err := QueryRunTimeline(d, "run-1")
	if err != nil {
		t.Fatalf("QueryRunTimeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 events, got %d", len(timeline))
	}
	if timeline[0].Event != "run_started" || timeline[0].Score != nil {
		t.Errorf("first = %+v", timeline[0])
	}
	if timeline[1].Score == nil || *timeline[1].Score != 95 {
		t.Errorf("second score = %v, want 95", timeline[1].Score)
	}

	none, err := QueryRunTimeline(d, "run-missing")
	if err != nil {
		t.Fatalf("QueryRunTimeline: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected empty timeline, got %d", len(none))
	}
}

// --- QueryLearningOutcomes ---

func TestQueryLearningOutcomes(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	learning(t, c, "s1", "action_tracked", "Bash", "success", "2026-04-01T10:00:00Z")
	learning(t, c, "s1", "action_tracked", "Bash", "failure", "2026-04-01T10:01:00Z")
	learning(t, c, "s1", "action_tracked", "Edit", "success", "2026-04-01T10:02:00Z")
	learning(t, c, "s1", "confirmation", "", "positive", "2026-04-01T10:03:00Z")
	learning(t, c, "s2", "action_tracked", "Bash", "success", "2026-04-02T10:00:00Z")
	learning(t, c, "s2", "confirmation", "", "negative", "2026-04-02T10:01:00Z")
	learning(t, c, "s2", "extracted", "", "reviewed=1 accepted=1", "2026-04-02T10:02:00Z")

	out, err := QueryLearningOutcomes(d, "")
	if err != nil {
		t.Fatalf("QueryLearningOutcomes: %v", err)
	}
	if out.Sessions != 2 {
		t.Errorf("sessions = %d, want 2", out.Sessions)
	}
	if out.Actions != 4 || out.Successes != 3 || out.Failures != 1 {
		t.Errorf("actions = %d/%d/%d, want 4/3/1", out.Actions, out.Successes, out.Failures)
	}
	if out.SuccessPct != 75 {
		t.Errorf("success pct = %v, want 75", out.SuccessPct)
	}
	if out.Confirmations["positive"] != 1 || out.Confirmations["negative"] != 1 {
		t.Errorf("confirmations = %v", out.Confirmations)
	}
	if out.Extractions != 1 {
		t.Errorf("extractions = %d, want 1", out.Extractions)
	}
	if len(out.ByTool) != 2 || out.ByTool[0].Tool != "Bash" || out.ByTool[0].SuccessPct != 66.7 {
		t.Errorf("by tool = %+v", out.ByTool)
	}

	since, err := QueryLearningOutcomes(d, "2026-04-02T00:00:00Z")
	if err != nil {
		t.Fatalf("QueryLearningOutcomes since: %v", err)
	}
	if since.Sessions != 1 || since.Actions != 1 {
		t.Errorf("since filter: sessions=%d actions=%d, want 1/1", since.Sessions, since.Actions)
	}
}

// --- helpers ---

func TestNormalizeSince(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"", "", false},
		{"2026-04-01", "2026-04-01T00:00:00Z", false},
		{"2026-04-01T12:00:00+02:00", "2026-04-01T10:00:00Z", false},
		{"yesterday", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeSince(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeSince(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeSince(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      int
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{5}, 95, 5},
		{"median of two", []float64{10, 20}, 50, 15},
		{"median of ten", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 50, 5.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); got != tt.want {
				t.Errorf("percentile = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPct(t *testing.T) {
	if got := pct(1, 3); got != 33.3 {
		t.Errorf("pct(1,3) = %v", got)
	}
	if got := pct(0, 0); got != 0 {
		t.Errorf("pct(0,0) = %v", got)
	}
}
