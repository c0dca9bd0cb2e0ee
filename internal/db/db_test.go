package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucasnoah/constructor/internal/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func fixClock(t *testing.T, ts time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return ts }
	t.Cleanup(func() { timeNow = orig })
}

func intPtr(v int) *int { return &v }

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "pipeline_events", "learning_events"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if err := d.LogPipelineEvent("run-1", "run_started", "executive", "architect", nil, ""); err != nil {
		t.Fatalf("log event: %v", err)
	}
	if err := d.LogLearningEvent("s1", "action_tracked", "Bash", "success"); err != nil {
		t.Fatalf("log event: %v", err)
	}

	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	events, err := d.GetRunEvents("run-1")
	if err != nil {
		t.Fatalf("get events after reset: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after reset, got %d", len(events))
	}
	learned, err := d.GetSessionEvents("s1")
	if err != nil {
		t.Fatalf("get session events after reset: %v", err)
	}
	if len(learned) != 0 {
		t.Errorf("expected no learning events after reset, got %d", len(learned))
	}
}

func TestPipelineEvents(t *testing.T) {
	d := testDB(t)
	fixClock(t, time.Date(2026, 4, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600)))

	if err := d.LogPipelineEvent("run-1", "run_started", "executive", "architect", nil, "build a widget"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogPipelineEvent("run-1", "agent_completed", "quality", "reviewer", intPtr(72), ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := d.LogPipelineEvent("run-2", "run_started", "executive", "architect", nil, ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	events, err := d.GetRunEvents("run-1")
	if err != nil {
		t.Fatalf("get run events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Event != "run_started" || first.Stage != "executive" || first.Agent != "architect" {
		t.Errorf("first event = %+v", first)
	}
	if first.Score != nil {
		t.Errorf("run_started score = %d, want nil", *first.Score)
	}
	if first.Detail != "build a widget" {
		t.Errorf("detail = %q", first.Detail)
	}
	if first.Timestamp != "2026-04-02T08:30:00Z" {
		t.Errorf("timestamp = %q, want UTC RFC3339", first.Timestamp)
	}

	second := events[1]
	if second.Score == nil || *second.Score != 72 {
		t.Errorf("agent_completed score = %v, want 72", second.Score)
	}

	latest, err := d.LatestRunID()
	if err != nil {
		t.Fatalf("latest run id: %v", err)
	}
	if latest != "run-2" {
		t.Errorf("latest run = %q, want run-2", latest)
	}
}

func TestLatestRunIDEmpty(t *testing.T) {
	d := testDB(t)
	id, err := d.LatestRunID()
	if err != nil {
		t.Fatalf("latest run id: %v", err)
	}
	if id != "" {
		t.Errorf("latest run = %q, want empty", id)
	}
}

func TestLearningEvents(t *testing.T) {
	d := testDB(t)

	for _, e := range []struct{ event, tool, detail string }{
		{"action_tracked", "Bash", "success"},
		{"action_tracked", "Bash", "failure"},
		{"confirmation", "", "positive"},
	} {
		if err := d.LogLearningEvent("s1", e.event, e.tool, e.detail); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := d.LogLearningEvent("s2", "action_tracked", "Read", "success"); err != nil {
		t.Fatalf("log: %v", err)
	}

	events, err := d.GetSessionEvents("s1")
	if err != nil {
		t.Fatalf("get session events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[1].Detail != "failure" || events[2].Event != "confirmation" {
		t.Errorf("events out of order: %+v", events)
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"

	sqlite := &DB{dialect: SQLite}
	if got := sqlite.Rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}

	pg := &DB{dialect: Postgres}
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got := pg.Rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestOpenEvents(t *testing.T) {
	dir := t.TempDir()

	if _, err := OpenEvents(config.Events{Driver: "none"}, dir); !errors.Is(err, ErrDisabled) {
		t.Errorf("driver none: err = %v, want ErrDisabled", err)
	}
	if _, err := OpenEvents(config.Events{Driver: "mysql"}, dir); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := OpenEvents(config.Events{Driver: "postgres"}, dir); err == nil {
		t.Error("expected error for postgres without dsn")
	}

	d, err := OpenEvents(config.Events{Driver: "sqlite"}, dir)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer d.Close()
	if d.Dialect() != SQLite {
		t.Errorf("dialect = %q", d.Dialect())
	}
	if _, err := os.Stat(filepath.Join(dir, "events.db")); err != nil {
		t.Errorf("expected events.db in state dir: %v", err)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("CONSTRUCTOR_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CONSTRUCTOR_TEST_POSTGRES_URL not set")
	}
	d, err := OpenPostgres(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer d.Close()
	if err := d.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	if err := d.LogPipelineEvent("run-pg", "agent_completed", "quality", "reviewer", intPtr(81), ""); err != nil {
		t.Fatalf("log: %v", err)
	}
	events, err := d.GetRunEvents("run-pg")
	if err != nil {
		t.Fatalf("get run events: %v", err)
	}
	if len(events) != 1 || events[0].Score == nil || *events[0].Score != 81 {
		t.Errorf("events = %+v", events)
	}

	if err := d.LogLearningEvent("s-pg", "confirmation", "", "positive"); err != nil {
		t.Fatalf("log learning: %v", err)
	}
	learned, err := d.GetSessionEvents("s-pg")
	if err != nil {
		t.Fatalf("get session events: %v", err)
	}
	if len(learned) != 1 {
		t.Errorf("expected 1 learning event, got %d", len(learned))
	}
}
