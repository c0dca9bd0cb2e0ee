package learning

import (
	"fmt"

	"github.com/lucasnoah/constructor/internal/patterns"
)

// Kind tags a candidate pattern.
type Kind string

const (
	// KindToolUsage is emitted when a tool has both successes and failures.
	KindToolUsage Kind = "tool_usage"
	// KindSuccessfulApproach is emitted when a tool only succeeded.
	KindSuccessfulApproach Kind = "successful_approach"
)

// Approach is one observed use of a tool.
type Approach = patterns.Approach

// Candidate is a derived, not yet persisted pattern.
type Candidate struct {
	Kind                 Kind       `json:"type"`
	Tool                 string     `json:"tool"`
	Description          string     `json:"description"`
	SuccessfulApproaches []Approach `json:"successful_approaches,omitempty"`
	FailedApproaches     []Approach `json:"failed_approaches,omitempty"`
	Approaches           []string   `json:"approaches,omitempty"`
	Confidence           float64    `json:"confidence"`
	Learnable            bool       `json:"learnable"`
}

// Name is the store key for the candidate.
func (c *Candidate) Name() string {
	return fmt.Sprintf("%s:%s", c.Kind, c.Tool)
}

// SuccessCount is the number of successful uses behind the candidate.
func (c *Candidate) SuccessCount() int {
	if c.Kind == KindSuccessfulApproach {
		return len(c.Approaches)
	}
	return len(c.SuccessfulApproaches)
}

// HasConfirmation reports whether any success was confirmed by the user.
func (c *Candidate) HasConfirmation() bool {
	for _, a := range c.SuccessfulApproaches {
		if a.UserConfirmed {
			return true
		}
	}
	return false
}

// HasContext reports whether any success carries a context string.
func (c *Candidate) HasContext() bool {
	for _, a := range c.SuccessfulApproaches {
		if a.Context != "" {
			return true
		}
	}
	for _, a := range c.Approaches {
		if a != "" {
			return true
		}
	}
	return false
}

type toolGroup struct {
	successes []Action
	failures  []Action
}

// Aggregate groups a session's actions by tool, in order of each tool's first
// appearance, and derives one candidate per tool that has any success.
// successOnly is the fixed confidence of success-only candidates.
func Aggregate(s *Session, successOnly float64) []Candidate {
	var order []string
	groups := map[string]*toolGroup{}
	for _, a := range s.Actions {
		g, ok := groups[a.Tool]
		if !ok {
			g = &toolGroup{}
			groups[a.Tool] = g
			order = append(order, a.Tool)
		}
		if a.Success {
			g.successes = append(g.successes, a)
		} else {
			g.failures = append(g.failures, a)
		}
	}

	var out []Candidate
	for _, tool := range order {
		g := groups[tool]
		switch {
		case len(g.successes) > 0 && len(g.failures) > 0:
			c := Candidate{
				Kind:        KindToolUsage,
				Tool:        tool,
				Description: describe(tool),
				Learnable:   true,
			}
			confirmed := 0
			for _, a := range g.successes {
				c.SuccessfulApproaches = append(c.SuccessfulApproaches, Approach{Context: a.Context, UserConfirmed: a.UserConfirmed})
				if a.UserConfirmed {
					confirmed++
				}
			}
			for _, a := range g.failures {
				c.FailedApproaches = append(c.FailedApproaches, Approach{Context: a.Context})
			}
			c.Confidence = Confidence(len(g.successes), len(g.failures), confirmed)
			out = append(out, c)

		case len(g.successes) > 0:
			c := Candidate{
				Kind:        KindSuccessfulApproach,
				Tool:        tool,
				Description: describe(tool),
				Confidence:  successOnly,
				Learnable:   len(g.successes) >= 2,
			}
			for _, a := range g.successes {
				c.Approaches = append(c.Approaches, a.Context)
				c.SuccessfulApproaches = append(c.SuccessfulApproaches, Approach{Context: a.Context, UserConfirmed: a.UserConfirmed})
			}
			out = append(out, c)
		}
		// failures alone are kept in the session only
	}
	return out
}

// Learnable filters candidates down to the eligible ones.
func Learnable(cs []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cs {
		if c.Learnable {
			out = append(out, c)
		}
	}
	return out
}

func describe(tool string) string {
	return fmt.Sprintf("Successful %s usage pattern", tool)
}
