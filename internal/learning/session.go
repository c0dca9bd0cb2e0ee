package learning

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Action is one recorded tool invocation.
type Action struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	Tool          string `json:"tool"`
	ResultSummary string `json:"result_summary"`
	Success       bool   `json:"success"`
	Context       string `json:"context"`
	ResultHash    string `json:"result_hash"`
	UserConfirmed bool   `json:"user_confirmed,omitempty"`
}

// ConfirmationKind is the user's verdict on recent work.
type ConfirmationKind string

const (
	ConfirmPositive   ConfirmationKind = "positive"
	ConfirmNegative   ConfirmationKind = "negative"
	ConfirmCorrection ConfirmationKind = "correction"
)

// ParseConfirmationKind maps s to a kind, defaulting to positive.
func ParseConfirmationKind(s string) ConfirmationKind {
	switch k := ConfirmationKind(s); k {
	case ConfirmPositive, ConfirmNegative, ConfirmCorrection:
		return k
	default:
		return ConfirmPositive
	}
}

// Confirmation is a recorded user verdict with the actions it refers to.
type Confirmation struct {
	Timestamp      string           `json:"timestamp"`
	Kind           ConfirmationKind `json:"type"`
	Details        string           `json:"details"`
	RelatedActions []Action         `json:"related_actions"`
}

// Session is the unit of aggregation: an ordered log of actions and
// confirmations under one identifier.
type Session struct {
	ID            string         `json:"session_id"`
	Started       string         `json:"started"`
	Goal          string         `json:"goal,omitempty"`
	GoalSetAt     string         `json:"goal_set_at,omitempty"`
	Actions       []Action       `json:"actions"`
	Successes     []string       `json:"successes"`
	Failures      []string       `json:"failures"`
	Confirmations []Confirmation `json:"user_confirmations"`
	LastUpdated   string         `json:"last_updated,omitempty"`
}

func newSession(id string, now time.Time) Session {
	return Session{
		ID:            id,
		Started:       now.UTC().Format(time.RFC3339),
		Actions:       []Action{},
		Successes:     []string{},
		Failures:      []string{},
		Confirmations: []Confirmation{},
	}
}

// SuccessRate is the fraction of actions that succeeded, 0 when empty.
func (s *Session) SuccessRate() float64 {
	if len(s.Actions) == 0 {
		return 0
	}
	return float64(len(s.Successes)) / float64(len(s.Actions))
}

// track appends an action, truncating the stored result to limit runes.
func (s *Session) track(tool, result string, success bool, context string, limit int, now time.Time) Action {
	sum := md5.Sum([]byte(result))
	a := Action{
		ID:            fmt.Sprintf("act-%d", len(s.Actions)+1),
		Timestamp:     now.UTC().Format(time.RFC3339),
		Tool:          tool,
		ResultSummary: truncate(result, limit),
		Success:       success,
		Context:       context,
		ResultHash:    hex.EncodeToString(sum[:])[:8],
	}
	s.Actions = append(s.Actions, a)
	if success {
		s.Successes = append(s.Successes, a.ID)
	} else {
		s.Failures = append(s.Failures, a.ID)
	}
	return a
}

// confirm records a confirmation carrying the last related actions. A
// positive confirmation flags the most recent success and returns its id.
func (s *Session) confirm(kind ConfirmationKind, details string, related int, now time.Time) []string {
	from := len(s.Actions) - related
	if from < 0 {
		from = 0
	}
	s.Confirmations = append(s.Confirmations, Confirmation{
		Timestamp:      now.UTC().Format(time.RFC3339),
		Kind:           kind,
		Details:        details,
		RelatedActions: append([]Action{}, s.Actions[from:]...),
	})

	if kind != ConfirmPositive || len(s.Successes) == 0 {
		return []string{}
	}
	last := s.Successes[len(s.Successes)-1]
	for i := range s.Actions {
		if s.Actions[i].ID == last {
			s.Actions[i].UserConfirmed = true
			break
		}
	}
	return []string{last}
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
