package learning

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/config"
	"github.com/lucasnoah/constructor/internal/statefile"
)

// EventSink receives learning events. Failures are logged, never returned.
type EventSink interface {
	LogLearningEvent(sessionID, event, tool, detail string) error
}

type options struct {
	logger *zap.Logger
	events EventSink
	now    func() time.Time
}

// Option configures a SessionStore or an Extractor.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEvents sets the sink that receives learning events.
func WithEvents(sink EventSink) Option {
	return func(o *options) { o.events = sink }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) emit(sessionID, event, tool, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogLearningEvent(sessionID, event, tool, detail); err != nil {
		o.logger.Warn("log learning event", zap.String("event", event), zap.Error(err))
	}
}

// SessionStore keeps one JSON document per session id.
type SessionStore struct {
	dir string
	cfg config.Learning
	options
}

// NewSessionStore creates a SessionStore rooted at dir.
func NewSessionStore(dir string, cfg config.Learning, opts ...Option) *SessionStore {
	return &SessionStore{dir: dir, cfg: cfg, options: buildOptions(opts)}
}

var unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Path returns the document path for a session id.
func (s *SessionStore) Path(id string) string {
	return filepath.Join(s.dir, "session-"+unsafeID.ReplaceAllString(id, "_")+".json")
}

// update runs fn on the session under its lock, creating it when missing.
func (s *SessionStore) update(id string, fn func(*Session, time.Time)) (*Session, error) {
	var sess Session
	err := statefile.Update(s.Path(id), &sess, func(exists bool) (bool, error) {
		now := s.now()
		if !exists {
			sess = newSession(id, now)
		}
		fn(&sess, now)
		sess.LastUpdated = now.UTC().Format(time.RFC3339)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return &sess, nil
}

// TrackResult is returned from Track.
type TrackResult struct {
	Tracked      bool    `json:"tracked"`
	ActionID     string  `json:"action_id"`
	Success      bool    `json:"success"`
	TotalActions int     `json:"total_actions"`
	SuccessRate  float64 `json:"success_rate"`
}

// Track appends a tool action to the session.
func (s *SessionStore) Track(id, tool, result string, success bool, context string) (*TrackResult, error) {
	var a Action
	sess, err := s.update(id, func(sess *Session, now time.Time) {
		a = sess.track(tool, result, success, context, s.cfg.ResultSummaryLimit, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("action tracked", zap.String("session", id), zap.String("tool", tool), zap.Bool("success", success))
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.emit(id, "action_tracked", tool, outcome)

	return &TrackResult{
		Tracked:      true,
		ActionID:     a.ID,
		Success:      success,
		TotalActions: len(sess.Actions),
		SuccessRate:  sess.SuccessRate(),
	}, nil
}

// ConfirmResult is returned from Confirm.
type ConfirmResult struct {
	Recorded       bool             `json:"confirmation_recorded"`
	Kind           ConfirmationKind `json:"type"`
	BoostedActions []string         `json:"boosted_actions"`
}

// Confirm records a user confirmation. A positive one flags the most recent
// successful action as user-confirmed.
func (s *SessionStore) Confirm(id string, kind ConfirmationKind, details string) (*ConfirmResult, error) {
	var boosted []string
	_, err := s.update(id, func(sess *Session, now time.Time) {
		boosted = sess.confirm(kind, details, s.cfg.RelatedActions, now)
	})
	if err != nil {
		return nil, err
	}
	s.emit(id, "confirmation", "", string(kind))
	return &ConfirmResult{Recorded: true, Kind: kind, BoostedActions: boosted}, nil
}

// GoalResult is returned from SetGoal.
type GoalResult struct {
	GoalSet bool   `json:"goal_set"`
	Goal    string `json:"goal"`
}

// SetGoal records the session goal.
func (s *SessionStore) SetGoal(id, goal string) (*GoalResult, error) {
	_, err := s.update(id, func(sess *Session, now time.Time) {
		sess.Goal = goal
		sess.GoalSetAt = now.UTC().Format(time.RFC3339)
	})
	if err != nil {
		return nil, err
	}
	return &GoalResult{GoalSet: true, Goal: goal}, nil
}

// Load returns the session, or a fresh empty one when none is stored.
func (s *SessionStore) Load(id string) (*Session, error) {
	var sess Session
	exists, err := statefile.Read(s.Path(id), &sess)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	if !exists {
		sess = newSession(id, s.now())
	}
	return &sess, nil
}

// Clear deletes the session document. Clearing a missing session succeeds.
func (s *SessionStore) Clear(id string) error {
	if err := statefile.Remove(s.Path(id)); err != nil {
		return fmt.Errorf("clear session %s: %w", id, err)
	}
	s.logger.Debug("session cleared", zap.String("session", id))
	return nil
}
