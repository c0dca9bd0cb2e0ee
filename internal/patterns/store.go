package patterns

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/config"
	"github.com/lucasnoah/constructor/internal/statefile"
)

// highConfidence is the Summary cutoff for "high confidence" patterns.
const highConfidence = 0.8

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store manages the pattern document and the applied-improvements log under
// a single directory.
type Store struct {
	dir    string
	cfg    config.Learning
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, cfg config.Learning, opts ...Option) *Store {
	s := &Store{dir: dir, cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the location of the pattern document.
func (s *Store) Path() string {
	return filepath.Join(s.dir, "patterns.json")
}

func (s *Store) appliedPath() string {
	return filepath.Join(s.dir, "applied-improvements.json")
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// Load reads the pattern document. A missing document yields an empty File.
func (s *Store) Load() (*File, error) {
	var f File
	if _, err := statefile.Read(s.Path(), &f); err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return &f, nil
}

// Upsert inserts p, or raises the confidence of the existing pattern with the
// same name when p's confidence is strictly higher.
func (s *Store) Upsert(p Pattern) (UpsertOutcome, error) {
	res, err := s.UpsertAll([]Pattern{p}, nil)
	if err != nil {
		return "", err
	}
	return res.Outcomes[0], nil
}

// BatchResult summarises an UpsertAll call.
type BatchResult struct {
	Inserted  int             `json:"inserted"`
	Raised    int             `json:"raised"`
	Unchanged int             `json:"unchanged"`
	Total     int             `json:"total_patterns"`
	Outcomes  []UpsertOutcome `json:"-"`
	IDs       []string        `json:"ids"`
}

// UpsertAll upserts every pattern and then lets stats adjust the learning
// counters, all under one lock and one write. The document is written only
// when something changed or stats is non-nil.
func (s *Store) UpsertAll(ps []Pattern, stats func(*LearningStats)) (*BatchResult, error) {
	var (
		f   File
		res BatchResult
	)
	err := statefile.Update(s.Path(), &f, func(bool) (bool, error) {
		res = BatchResult{}
		now := s.now()
		for _, p := range ps {
			outcome, id := s.upsert(&f, p, now)
			res.Outcomes = append(res.Outcomes, outcome)
			res.IDs = append(res.IDs, id)
			switch outcome {
			case Inserted:
				res.Inserted++
			case Raised:
				res.Raised++
			case Unchanged:
				res.Unchanged++
			}
		}
		res.Total = len(f.Patterns)

		if stats != nil {
			stats(&f.LearningStats)
		} else if res.Inserted == 0 && res.Raised == 0 {
			return false, nil
		}
		f.LastUpdated = now.UTC().Format(time.RFC3339)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert patterns: %w", err)
	}
	return &res, nil
}

func (s *Store) upsert(f *File, p Pattern, now time.Time) (UpsertOutcome, string) {
	if i := f.indexByName(p.Name); i >= 0 {
		existing := &f.Patterns[i]
		if p.Confidence <= existing.Confidence {
			return Unchanged, existing.ID
		}
		s.logger.Debug("pattern confidence raised",
			zap.String("name", p.Name),
			zap.Float64("from", existing.Confidence),
			zap.Float64("to", p.Confidence))
		existing.Confidence = p.Confidence
		existing.Updated = now.UTC().Format(time.RFC3339)
		return Raised, existing.ID
	}

	p.ID = newID(f, now)
	if p.LearnedAt == "" {
		p.LearnedAt = now.UTC().Format(time.RFC3339)
	}
	if p.Triggers == nil {
		p.Triggers = []string{}
	}
	f.Patterns = append(f.Patterns, p)
	s.logger.Info("pattern added", zap.String("id", p.ID), zap.String("name", p.Name), zap.Float64("confidence", p.Confidence))
	return Inserted, p.ID
}

// newID returns ctx-<timestamp>-<size>, bumping the suffix until unique.
func newID(f *File, now time.Time) string {
	ts := now.Format("20060102150405")
	for n := len(f.Patterns); ; n++ {
		id := fmt.Sprintf("ctx-%s-%d", ts, n)
		if !f.hasID(id) {
			return id
		}
	}
}

// Prune removes every pattern whose confidence is strictly below threshold
// and returns how many were removed.
func (s *Store) Prune(threshold float64) (int, error) {
	var (
		f       File
		removed int
	)
	err := statefile.Update(s.Path(), &f, func(bool) (bool, error) {
		removed = f.prune(threshold)
		if removed == 0 {
			return false, nil
		}
		f.LastUpdated = s.stamp()
		return true, nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune patterns: %w", err)
	}
	if removed > 0 {
		s.logger.Info("patterns pruned", zap.Int("removed", removed), zap.Float64("threshold", threshold))
	}
	return removed, nil
}

// Query returns the patterns whose triggers occur in context.
func (s *Store) Query(context string) ([]Pattern, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return f.query(context), nil
}

// Applicable returns unapplied patterns with confidence at or above cutoff.
func (s *Store) Applicable(cutoff float64) ([]Pattern, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	var out []Pattern
	for _, i := range f.applicable(cutoff) {
		out = append(out, f.Patterns[i])
	}
	return out, nil
}
