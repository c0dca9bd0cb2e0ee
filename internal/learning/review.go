package learning

import (
	"fmt"
	"math"
	"time"
)

// Recommendation is the reviewer's tier for a candidate.
type Recommendation string

const (
	Approve           Recommendation = "approve"
	ApproveWithNotes  Recommendation = "approve_with_notes"
	NeedsMoreEvidence Recommendation = "needs_more_evidence"
	Reject            Recommendation = "reject"
)

// RecommendationFor maps an overall score to its tier.
func RecommendationFor(overall int) Recommendation {
	switch {
	case overall >= 85:
		return Approve
	case overall >= 70:
		return ApproveWithNotes
	case overall >= 50:
		return NeedsMoreEvidence
	default:
		return Reject
	}
}

// Approved reports whether the tier is one of the approve tiers.
func (r Recommendation) Approved() bool {
	return r == Approve || r == ApproveWithNotes
}

// Review wraps a candidate with its sub-scores and recommendation.
type Review struct {
	Candidate       Candidate      `json:"pattern"`
	Evidence        int            `json:"evidence_score"`
	Reproducibility int            `json:"reproducibility_score"`
	Reusability     int            `json:"reusability_score"`
	Overall         int            `json:"overall_score"`
	Recommendation  Recommendation `json:"recommendation"`
	ReviewedAt      string         `json:"reviewed_at"`
}

// ReviewCandidate scores c on evidence, reproducibility and reusability.
func ReviewCandidate(c Candidate, now time.Time) Review {
	n := c.SuccessCount()

	evidence := min(40, 15*n)
	if c.HasConfirmation() {
		evidence += 30
	}
	if len(c.FailedApproaches) > 0 {
		evidence += 20
	}
	if n >= 3 {
		evidence += 10
	}

	reproducibility := 70
	if c.HasContext() {
		reproducibility += 15
	}
	if n >= 2 {
		reproducibility += 15
	}

	reusability := 75
	if c.Tool != "" {
		reusability += 15
	}
	if c.Description != "" {
		reusability += 10
	}

	overall := int(math.Round(0.4*float64(evidence) + 0.3*float64(reproducibility) + 0.3*float64(reusability)))
	return Review{
		Candidate:       c,
		Evidence:        evidence,
		Reproducibility: reproducibility,
		Reusability:     reusability,
		Overall:         overall,
		Recommendation:  RecommendationFor(overall),
		ReviewedAt:      now.UTC().Format(time.RFC3339),
	}
}

// ReviewSummary is the result of reviewing a batch of candidates.
type ReviewSummary struct {
	Reviewed int      `json:"patterns_reviewed"`
	Approved int      `json:"approved"`
	Rejected int      `json:"rejected"`
	Pending  int      `json:"pending"`
	Reviews  []Review `json:"reviewed_patterns"`
	Message  string   `json:"message,omitempty"`
}

// ReviewAll reviews every candidate and counts the tiers.
func ReviewAll(cs []Candidate, now time.Time) ReviewSummary {
	sum := ReviewSummary{Reviews: []Review{}}
	for _, c := range cs {
		r := ReviewCandidate(c, now)
		sum.Reviews = append(sum.Reviews, r)
		switch {
		case r.Recommendation.Approved():
			sum.Approved++
		case r.Recommendation == Reject:
			sum.Rejected++
		default:
			sum.Pending++
		}
	}
	sum.Reviewed = len(sum.Reviews)
	return sum
}

// Accepted is a review that passed the acceptance gate.
type Accepted struct {
	Review
	AcceptedAt string `json:"accepted_at"`
	Notes      string `json:"acceptance_notes"`
}

// Rejected is a review that failed the acceptance gate.
type Rejected struct {
	Review
	Reason string `json:"rejection_reason"`
}

// AcceptanceResult partitions reviews into accepted and rejected.
type AcceptanceResult struct {
	MinScore      int        `json:"min_score"`
	AcceptedCount int        `json:"accepted_count"`
	RejectedCount int        `json:"rejected_count"`
	Accepted      []Accepted `json:"accepted_patterns"`
	Rejected      []Rejected `json:"rejected_patterns"`
	Message       string     `json:"message,omitempty"`
}

// Accept admits a review iff its overall score is at least minScore and its
// recommendation is not reject. It persists nothing.
func Accept(reviews []Review, minScore int, now time.Time) AcceptanceResult {
	res := AcceptanceResult{MinScore: minScore, Accepted: []Accepted{}, Rejected: []Rejected{}}
	stamp := now.UTC().Format(time.RFC3339)
	for _, r := range reviews {
		if r.Overall >= minScore && r.Recommendation != Reject {
			res.Accepted = append(res.Accepted, Accepted{
				Review:     r,
				AcceptedAt: stamp,
				Notes:      fmt.Sprintf("Score: %d/100, Recommendation: %s", r.Overall, r.Recommendation),
			})
			continue
		}
		reason := string(r.Recommendation)
		if r.Overall < minScore {
			reason = fmt.Sprintf("score %d below threshold %d", r.Overall, minScore)
		}
		res.Rejected = append(res.Rejected, Rejected{Review: r, Reason: reason})
	}
	res.AcceptedCount = len(res.Accepted)
	res.RejectedCount = len(res.Rejected)
	return res
}
