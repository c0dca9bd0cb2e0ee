package db

import (
	"database/sql"
	"fmt"
)

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Score     *int   `json:"score,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LearningEvent represents a row in the learning_events table.
type LearningEvent struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	Tool      string `json:"tool,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(runID, event, stage, agent string, score *int, detail string) error {
	_, err := d.exec(
		`INSERT INTO pipeline_events (run_id, event, stage, agent, score, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, event, stage, agent, score, detail, stamp(),
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetRunEvents returns every event of a run in insertion order.
func (d *DB) GetRunEvents(runID string) ([]PipelineEvent, error) {
	rows, err := d.query(
		`SELECT id, run_id, event, stage, agent, score, detail, timestamp
		 FROM pipeline_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var score sql.NullInt64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Stage, &e.Agent, &score, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		if score.Valid {
			v := int(score.Int64)
			e.Score = &v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestRunID returns the run id of the most recent pipeline event, or ""
// when the log is empty.
func (d *DB) LatestRunID() (string, error) {
	var id string
	err := d.queryRow(`SELECT run_id FROM pipeline_events ORDER BY id DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest run id: %w", err)
	}
	return id, nil
}

// LogLearningEvent inserts a learning event.
func (d *DB) LogLearningEvent(sessionID, event, tool, detail string) error {
	_, err := d.exec(
		`INSERT INTO learning_events (session_id, event, tool, detail, timestamp) VALUES (?, ?, ?, ?, ?)`,
		sessionID, event, tool, detail, stamp(),
	)
	if err != nil {
		return fmt.Errorf("log learning event: %w", err)
	}
	return nil
}

// GetSessionEvents returns every learning event of a session in insertion
// order.
func (d *DB) GetSessionEvents(sessionID string) ([]LearningEvent, error) {
	rows, err := d.query(
		`SELECT id, session_id, event, tool, detail, timestamp
		 FROM learning_events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get session events: %w", err)
	}
	defer rows.Close()

	var events []LearningEvent
	for rows.Next() {
		var e LearningEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Tool, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan learning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
