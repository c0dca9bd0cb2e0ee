package patterns

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/statefile"
)

// AppliedEntry records one pattern applied to a component.
type AppliedEntry struct {
	PatternID   string `json:"pattern_id"`
	Type        Type   `json:"type"`
	Description string `json:"description"`
	AppliedAt   string `json:"applied_at"`
	Component   string `json:"component"`
	Success     bool   `json:"success"`
}

// AppliedLog is the persisted applied-improvements document.
type AppliedLog struct {
	Applied    []AppliedEntry `json:"applied"`
	LastReview string         `json:"last_review,omitempty"`
}

// ApplyResult summarises an Apply call.
type ApplyResult struct {
	Component        string  `json:"component"`
	MinConfidence    float64 `json:"min_confidence"`
	PatternsReviewed int     `json:"patterns_reviewed"`
	Applied          int     `json:"improvements_applied"`
	Skipped          int     `json:"improvements_skipped"`
	Failed           int     `json:"improvements_failed"`
	NextReviewIn     string  `json:"next_review_in"`
}

// Apply marks every applicable pattern as applied to component and logs it.
// auto selects the automatic confidence cutoff, otherwise the manual one.
// Already-applied patterns above the cutoff are counted as skipped.
func (s *Store) Apply(component string, auto bool) (*ApplyResult, error) {
	cutoff := s.cfg.ManualApplyConfidence
	if auto {
		cutoff = s.cfg.AutoApplyConfidence
	}
	res := &ApplyResult{
		Component:     component,
		MinConfidence: cutoff,
		NextReviewIn:  fmt.Sprintf("%d sessions", s.cfg.SessionsBetweenReviews),
	}

	// Flags are committed first; the applied log only records what persisted.
	var (
		f       File
		entries []AppliedEntry
		stamp   string
	)
	err := statefile.Update(s.Path(), &f, func(bool) (bool, error) {
		stamp = s.stamp()
		idx := f.applicable(cutoff)
		res.PatternsReviewed = len(idx)
		for _, p := range f.Patterns {
			if p.Applied && p.Confidence >= cutoff {
				res.Skipped++
			}
		}
		if len(idx) == 0 {
			return false, nil
		}

		for _, i := range idx {
			p := &f.Patterns[i]
			p.Applied = true
			p.AppliedAt = stamp
			entries = append(entries, AppliedEntry{
				PatternID:   p.ID,
				Type:        p.Type,
				Description: p.Description,
				AppliedAt:   stamp,
				Component:   component,
				Success:     true,
			})
			res.Applied++
		}
		f.LastUpdated = stamp
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply patterns: %w", err)
	}

	if len(entries) > 0 {
		var log AppliedLog
		err := statefile.Update(s.appliedPath(), &log, func(bool) (bool, error) {
			log.Applied = append(log.Applied, entries...)
			log.LastReview = stamp
			return true, nil
		})
		if err != nil {
			return nil, fmt.Errorf("record applied patterns: %w", err)
		}
	}

	s.logger.Info("patterns applied",
		zap.String("component", component),
		zap.Int("applied", res.Applied),
		zap.Bool("auto", auto))
	return res, nil
}

// AppliedLog reads the applied-improvements log.
func (s *Store) AppliedLog() (*AppliedLog, error) {
	var log AppliedLog
	if _, err := statefile.Read(s.appliedPath(), &log); err != nil {
		return nil, fmt.Errorf("read applied log: %w", err)
	}
	return &log, nil
}

// PatternPreview is a short view of a pattern in Status.
type PatternPreview struct {
	Type        Type    `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// StatusView describes what is ready to apply.
type StatusView struct {
	TotalPatterns       int              `json:"total_patterns"`
	HighConfidence      int              `json:"high_confidence"`
	MediumConfidence    int              `json:"medium_confidence"`
	LowConfidence       int              `json:"low_confidence"`
	AlreadyApplied      int              `json:"already_applied"`
	SessionsSinceReview int              `json:"sessions_since_review"`
	ReviewRecommended   bool             `json:"review_recommended"`
	Preview             []PatternPreview `json:"patterns_preview"`
}

// Status counts unapplied patterns by confidence band and previews the top
// high-confidence ones.
func (s *Store) Status() (*StatusView, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	log, err := s.AppliedLog()
	if err != nil {
		return nil, err
	}

	high := f.applicable(s.cfg.AutoApplyConfidence)
	medium := f.applicable(s.cfg.ManualApplyConfidence)
	sessions := f.LearningStats.TotalSessions

	v := &StatusView{
		TotalPatterns:       len(f.Patterns),
		HighConfidence:      len(high),
		MediumConfidence:    len(medium) - len(high),
		LowConfidence:       len(f.Patterns) - len(medium),
		AlreadyApplied:      len(log.Applied),
		SessionsSinceReview: sessions,
		ReviewRecommended:   sessions >= s.cfg.SessionsBetweenReviews,
		Preview:             []PatternPreview{},
	}
	for n, i := range high {
		if n == 5 {
			break
		}
		p := f.Patterns[i]
		v.Preview = append(v.Preview, PatternPreview{Type: p.Type, Description: truncate(p.Description, 100), Confidence: p.Confidence})
	}
	return v, nil
}

// ReviewCheck is the result of ShouldReview.
type ReviewCheck struct {
	ShouldReview           bool   `json:"should_review"`
	Reason                 string `json:"reason"`
	HighConfidencePatterns int    `json:"high_confidence_patterns"`
}

// ShouldReview reports whether enough sessions or high-confidence patterns
// have accumulated to warrant applying improvements.
func (s *Store) ShouldReview() (*ReviewCheck, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	sessions := f.LearningStats.TotalSessions
	high := len(f.applicable(s.cfg.AutoApplyConfidence))

	c := &ReviewCheck{
		ShouldReview:           sessions >= s.cfg.SessionsBetweenReviews || high >= 3,
		HighConfidencePatterns: high,
	}
	if high >= 3 {
		c.Reason = "High confidence patterns available"
	} else {
		c.Reason = fmt.Sprintf("Sessions threshold (%d/%d)", sessions, s.cfg.SessionsBetweenReviews)
	}
	return c, nil
}

// Summary is an overview of the stored knowledge.
type Summary struct {
	TotalPatterns  int           `json:"total_patterns"`
	ByType         map[Type]int  `json:"patterns_by_type"`
	HighConfidence int           `json:"high_confidence"`
	Stats          LearningStats `json:"learning_stats"`
	LastUpdated    string        `json:"last_updated,omitempty"`
}

// Summary counts patterns by type and high confidence.
func (s *Store) Summary() (*Summary, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		TotalPatterns: len(f.Patterns),
		ByType:        map[Type]int{},
		Stats:         f.LearningStats,
		LastUpdated:   f.LastUpdated,
	}
	for _, p := range f.Patterns {
		sum.ByType[p.Type]++
		if p.Confidence >= highConfidence {
			sum.HighConfidence++
		}
	}
	return sum, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
