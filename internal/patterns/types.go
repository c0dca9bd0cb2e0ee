// Package patterns is the durable store of learned patterns.
//
// The store is a single JSON document holding every accepted pattern and the
// learning counters. Records are keyed by name: inserting an existing name
// only ever raises its confidence. Records leave the store only through Prune.
package patterns

import (
	"sort"
	"strings"
)

// Type tags the provenance category of a pattern.
type Type string

const (
	TypeContextLearned Type = "context_learned"
	TypeWorkflow       Type = "workflow"
	TypeFix            Type = "fix"
	TypeAntipattern    Type = "antipattern"
	TypeValidation     Type = "validation"
)

// Source names the pipeline that produced a pattern.
type Source string

const (
	SourceContextTracker         Source = "context_tracker"
	SourceContextTrackerReviewed Source = "context_tracker_reviewed"
	SourceImport                 Source = "import"
)

// UpsertOutcome reports what Upsert did with an incoming pattern.
type UpsertOutcome string

const (
	Inserted  UpsertOutcome = "inserted"
	Raised    UpsertOutcome = "raised"
	Unchanged UpsertOutcome = "unchanged"
)

// Approach is one observed way a tool was used.
type Approach struct {
	Context       string `json:"context"`
	UserConfirmed bool   `json:"user_confirmed,omitempty"`
}

// Pattern is a persisted, accepted pattern.
type Pattern struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Type                 Type       `json:"type"`
	Source               Source     `json:"source"`
	Tool                 string     `json:"tool,omitempty"`
	Description          string     `json:"description"`
	Triggers             []string   `json:"triggers"`
	SuccessfulApproaches []Approach `json:"successful_approaches,omitempty"`
	FailedApproaches     []Approach `json:"failed_approaches,omitempty"`
	Confidence           float64    `json:"confidence"`
	Reviewed             bool       `json:"reviewed"`
	ReviewScore          *int       `json:"review_score,omitempty"`
	Accepted             bool       `json:"accepted"`
	AcceptedAt           string     `json:"accepted_at,omitempty"`
	SessionGoal          string     `json:"session_goal,omitempty"`
	LearnedAt            string     `json:"learned_at"`
	Updated              string     `json:"updated,omitempty"`
	Applied              bool       `json:"applied"`
	AppliedAt            string     `json:"applied_at,omitempty"`
}

// LearningStats are the counters kept next to the patterns.
type LearningStats struct {
	TotalSessions          int    `json:"total_sessions"`
	LastExtraction         string `json:"last_extraction,omitempty"`
	LastReviewedExtraction string `json:"last_reviewed_extraction,omitempty"`
	PatternsReviewed       int    `json:"patterns_reviewed"`
	PatternsAccepted       int    `json:"patterns_accepted"`
}

// File is the persisted pattern document.
type File struct {
	Patterns      []Pattern     `json:"patterns"`
	LearningStats LearningStats `json:"learning_stats"`
	LastUpdated   string        `json:"last_updated,omitempty"`
}

func (f *File) indexByName(name string) int {
	for i := range f.Patterns {
		if f.Patterns[i].Name == name {
			return i
		}
	}
	return -1
}

func (f *File) hasID(id string) bool {
	for i := range f.Patterns {
		if f.Patterns[i].ID == id {
			return true
		}
	}
	return false
}

// prune removes patterns with confidence strictly below threshold.
func (f *File) prune(threshold float64) int {
	kept := f.Patterns[:0]
	for _, p := range f.Patterns {
		if p.Confidence >= threshold {
			kept = append(kept, p)
		}
	}
	removed := len(f.Patterns) - len(kept)
	f.Patterns = kept
	return removed
}

// query returns patterns with a trigger contained in context, ignoring case,
// ordered by descending confidence with insertion order breaking ties.
func (f *File) query(context string) []Pattern {
	ctx := strings.ToLower(context)
	var out []Pattern
	for _, p := range f.Patterns {
		for _, t := range p.Triggers {
			if t != "" && strings.Contains(ctx, strings.ToLower(t)) {
				out = append(out, p)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// applicable returns the indexes of unapplied patterns at or above cutoff.
func (f *File) applicable(cutoff float64) []int {
	var idx []int
	for i, p := range f.Patterns {
		if !p.Applied && p.Confidence >= cutoff {
			idx = append(idx, i)
		}
	}
	return idx
}
