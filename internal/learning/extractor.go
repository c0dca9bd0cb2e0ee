package learning

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/config"
	"github.com/lucasnoah/constructor/internal/patterns"
)

// Extractor turns a session into persisted patterns, either through the
// review and acceptance gate or directly by confidence.
type Extractor struct {
	sessions *SessionStore
	store    *patterns.Store
	cfg      config.Learning
	options
}

// NewExtractor wires a session store to a pattern store.
func NewExtractor(sessions *SessionStore, store *patterns.Store, cfg config.Learning, opts ...Option) *Extractor {
	return &Extractor{sessions: sessions, store: store, cfg: cfg, options: buildOptions(opts)}
}

// Analysis describes the candidates derived from one session.
type Analysis struct {
	SessionID          string      `json:"session_id"`
	Goal               string      `json:"goal,omitempty"`
	TotalActions       int         `json:"total_actions"`
	Successes          int         `json:"successes"`
	Failures           int         `json:"failures"`
	SuccessRate        float64     `json:"success_rate"`
	PatternsFound      int         `json:"patterns_found"`
	Learnable          int         `json:"learnable_patterns"`
	UserConfirmedCount int         `json:"user_confirmed_patterns"`
	Candidates         []Candidate `json:"patterns"`
}

// Analyze aggregates the session into candidates.
func (e *Extractor) Analyze(id string) (*Analysis, error) {
	sess, err := e.sessions.Load(id)
	if err != nil {
		return nil, err
	}
	cs := Aggregate(sess, e.cfg.SuccessOnlyConfidence)
	if cs == nil {
		cs = []Candidate{}
	}
	a := &Analysis{
		SessionID:     sess.ID,
		Goal:          sess.Goal,
		TotalActions:  len(sess.Actions),
		Successes:     len(sess.Successes),
		Failures:      len(sess.Failures),
		SuccessRate:   sess.SuccessRate(),
		PatternsFound: len(cs),
		Candidates:    cs,
	}
	for i := range cs {
		if cs[i].Learnable {
			a.Learnable++
		}
		if cs[i].HasConfirmation() {
			a.UserConfirmedCount++
		}
	}
	return a, nil
}

const noLearnable = "No learnable patterns in this session"

// Review reviews every learnable candidate of the session.
func (e *Extractor) Review(id string) (*ReviewSummary, error) {
	a, err := e.Analyze(id)
	if err != nil {
		return nil, err
	}
	sum := ReviewAll(Learnable(a.Candidates), e.now())
	if sum.Reviewed == 0 {
		sum.Message = noLearnable
	}
	return &sum, nil
}

// Accept reviews the session and runs the acceptance gate. It persists
// nothing.
func (e *Extractor) Accept(id string, minScore int) (*AcceptanceResult, error) {
	sum, err := e.Review(id)
	if err != nil {
		return nil, err
	}
	res := Accept(sum.Reviews, minScore, e.now())
	if sum.Reviewed == 0 {
		res.Message = noLearnable
	}
	return &res, nil
}

// ExtractResult reports what an extraction wrote to the pattern store.
type ExtractResult struct {
	SessionID string   `json:"session_id"`
	Reviewed  bool     `json:"reviewed"`
	Extracted int      `json:"patterns_extracted"`
	Inserted  int      `json:"inserted"`
	Raised    int      `json:"raised"`
	Unchanged int      `json:"unchanged"`
	Rejected  int      `json:"patterns_rejected"`
	IDs       []string `json:"pattern_ids"`
	Total     int      `json:"total_patterns"`
	Message   string   `json:"message,omitempty"`
}

// ExtractWithReview runs analyze, review and the acceptance gate, then
// promotes the accepted candidates. With nothing learnable the stores are
// left untouched.
func (e *Extractor) ExtractWithReview(id string) (*ExtractResult, error) {
	a, err := e.Analyze(id)
	if err != nil {
		return nil, err
	}
	learnable := Learnable(a.Candidates)
	if len(learnable) == 0 {
		return &ExtractResult{SessionID: a.SessionID, Reviewed: true, IDs: []string{}, Message: noLearnable}, nil
	}

	now := e.now()
	sum := ReviewAll(learnable, now)
	gate := Accept(sum.Reviews, e.cfg.MinReviewScore, now)

	ps := make([]patterns.Pattern, 0, len(gate.Accepted))
	for _, acc := range gate.Accepted {
		ps = append(ps, e.promote(acc, a.Goal, now))
	}
	stamp := now.UTC().Format(time.RFC3339)
	batch, err := e.store.UpsertAll(ps, func(st *patterns.LearningStats) {
		st.TotalSessions++
		st.LastReviewedExtraction = stamp
		st.PatternsReviewed += sum.Reviewed
		st.PatternsAccepted += gate.AcceptedCount
	})
	if err != nil {
		return nil, fmt.Errorf("extract session %s: %w", id, err)
	}

	e.logger.Info("reviewed extraction",
		zap.String("session", id),
		zap.Int("reviewed", sum.Reviewed),
		zap.Int("accepted", gate.AcceptedCount),
		zap.Int("inserted", batch.Inserted))
	e.emit(id, "extracted", "", fmt.Sprintf("reviewed=%d accepted=%d", sum.Reviewed, gate.AcceptedCount))

	return e.result(a.SessionID, true, batch, gate.RejectedCount), nil
}

// ExtractAuto upserts learnable candidates whose confidence reaches
// min_extract_confidence, with no review.
func (e *Extractor) ExtractAuto(id string) (*ExtractResult, error) {
	a, err := e.Analyze(id)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var ps []patterns.Pattern
	skipped := 0
	for _, c := range Learnable(a.Candidates) {
		if c.Confidence < e.cfg.MinExtractConfidence {
			skipped++
			continue
		}
		ps = append(ps, patterns.Pattern{
			Name:                 c.Name(),
			Type:                 patterns.TypeContextLearned,
			Source:               patterns.SourceContextTracker,
			Tool:                 c.Tool,
			Description:          c.Description,
			Triggers:             []string{c.Tool},
			SuccessfulApproaches: c.SuccessfulApproaches,
			FailedApproaches:     c.FailedApproaches,
			Confidence:           c.Confidence,
			SessionGoal:          a.Goal,
			LearnedAt:            now.UTC().Format(time.RFC3339),
		})
	}
	stamp := now.UTC().Format(time.RFC3339)
	batch, err := e.store.UpsertAll(ps, func(st *patterns.LearningStats) {
		st.TotalSessions++
		st.LastExtraction = stamp
	})
	if err != nil {
		return nil, fmt.Errorf("extract session %s: %w", id, err)
	}

	e.logger.Info("extraction", zap.String("session", id), zap.Int("candidates", len(ps)), zap.Int("inserted", batch.Inserted))
	e.emit(id, "extracted", "", fmt.Sprintf("auto=%d", len(ps)))

	res := e.result(a.SessionID, false, batch, skipped)
	if len(ps) == 0 {
		res.Message = "No patterns met the confidence threshold"
	}
	return res, nil
}

func (e *Extractor) promote(acc Accepted, goal string, now time.Time) patterns.Pattern {
	c := acc.Candidate
	score := acc.Overall
	stamp := now.UTC().Format(time.RFC3339)
	return patterns.Pattern{
		Name:                 c.Name(),
		Type:                 patterns.TypeContextLearned,
		Source:               patterns.SourceContextTrackerReviewed,
		Tool:                 c.Tool,
		Description:          fmt.Sprintf("Reviewed: %s usage pattern", c.Tool),
		Triggers:             []string{c.Tool},
		SuccessfulApproaches: c.SuccessfulApproaches,
		FailedApproaches:     c.FailedApproaches,
		Confidence:           c.Confidence,
		Reviewed:             true,
		ReviewScore:          &score,
		Accepted:             true,
		AcceptedAt:           acc.AcceptedAt,
		SessionGoal:          goal,
		LearnedAt:            stamp,
	}
}

func (e *Extractor) result(sessionID string, reviewed bool, b *patterns.BatchResult, rejected int) *ExtractResult {
	ids := b.IDs
	if ids == nil {
		ids = []string{}
	}
	return &ExtractResult{
		SessionID: sessionID,
		Reviewed:  reviewed,
		Extracted: b.Inserted + b.Raised,
		Inserted:  b.Inserted,
		Raised:    b.Raised,
		Unchanged: b.Unchanged,
		Rejected:  rejected,
		IDs:       ids,
		Total:     b.Total,
	}
}
