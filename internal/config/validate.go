package config

import (
	"fmt"
	"sort"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedDrivers is the set of valid event log drivers.
var recognizedDrivers = map[string]bool{
	"sqlite":   true,
	"postgres": true,
	"none":     true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	p := cfg.Pipeline

	if len(p.Stages) == 0 {
		errs = append(errs, ValidationError{Field: "pipeline.stages", Message: "at least one stage is required"})
	}

	// Build stage and agent indexes for reference validation
	stageIDs := make(map[string]bool)
	agentStage := make(map[string]string)
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("pipeline.stages[%d]", i)
		if s.ID == "" {
			errs = append(errs, ValidationError{Field: prefix + ".id", Message: "is required"})
		} else if stageIDs[s.ID] {
			errs = append(errs, ValidationError{
				Field:   prefix + ".id",
				Message: fmt.Sprintf("duplicate stage ID %q", s.ID),
			})
		}
		stageIDs[s.ID] = true

		if len(s.Agents) == 0 {
			errs = append(errs, ValidationError{Field: prefix + ".agents", Message: "at least one agent is required"})
		}
		for j, a := range s.Agents {
			field := fmt.Sprintf("%s.agents[%d]", prefix, j)
			if a == "" {
				errs = append(errs, ValidationError{Field: field, Message: "agent name is required"})
				continue
			}
			if other, ok := agentStage[a]; ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("agent %q already declared in stage %q", a, other),
				})
				continue
			}
			agentStage[a] = s.ID
		}
	}

	validateThresholds(p.Thresholds, &errs)
	validateRefactor(p.Refactor, stageIDs, agentStage, &errs)

	// Sorted so repeated runs report weight errors in a stable order.
	names := make([]string, 0, len(p.Weights))
	for name := range p.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field := fmt.Sprintf("pipeline.weights.%s", name)
		if _, ok := agentStage[name]; !ok {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("references undefined agent %q", name)})
		}
		if p.Weights[name] < 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must not be negative"})
		}
	}

	switch p.EmptyScorePolicy {
	case EmptyScoreVacuousPass, EmptyScoreInsufficientData:
	default:
		errs = append(errs, ValidationError{
			Field:   "pipeline.empty_score_policy",
			Message: fmt.Sprintf("unrecognized policy %q", p.EmptyScorePolicy),
		})
	}

	validateLearning(cfg.Learning, &errs)

	if !recognizedDrivers[cfg.Events.Driver] {
		errs = append(errs, ValidationError{
			Field:   "events.driver",
			Message: fmt.Sprintf("unrecognized driver %q", cfg.Events.Driver),
		})
	}
	if cfg.Events.Driver == "postgres" && cfg.Events.DSN == "" {
		errs = append(errs, ValidationError{Field: "events.dsn", Message: "is required for the postgres driver"})
	}

	return errs
}

func validateThresholds(t Thresholds, errs *[]ValidationError) {
	for _, th := range []struct {
		name  string
		value int
	}{
		{"pass", t.Pass},
		{"excellent", t.Excellent},
		{"critical_fail", t.CriticalFail},
	} {
		if th.value < 0 || th.value > 100 {
			*errs = append(*errs, ValidationError{
				Field:   "pipeline.thresholds." + th.name,
				Message: fmt.Sprintf("must be within 0-100, got %d", th.value),
			})
		}
	}
}

// validateRefactor checks that the refactor target and its triggers exist.
func validateRefactor(r Refactor, stageIDs map[string]bool, agentStage map[string]string, errs *[]ValidationError) {
	const prefix = "pipeline.refactor"

	if !stageIDs[r.Stage] {
		*errs = append(*errs, ValidationError{
			Field:   prefix + ".stage",
			Message: fmt.Sprintf("references undefined stage %q", r.Stage),
		})
	}
	if owner, ok := agentStage[r.Agent]; !ok {
		*errs = append(*errs, ValidationError{
			Field:   prefix + ".agent",
			Message: fmt.Sprintf("references undefined agent %q", r.Agent),
		})
	} else if owner != r.Stage {
		*errs = append(*errs, ValidationError{
			Field:   prefix + ".agent",
			Message: fmt.Sprintf("agent %q belongs to stage %q, not %q", r.Agent, owner, r.Stage),
		})
	}
	for i, a := range r.TriggerAgents {
		if _, ok := agentStage[a]; !ok {
			*errs = append(*errs, ValidationError{
				Field:   fmt.Sprintf("%s.trigger_agents[%d]", prefix, i),
				Message: fmt.Sprintf("references undefined agent %q", a),
			})
		}
		if a == r.Agent {
			*errs = append(*errs, ValidationError{
				Field:   fmt.Sprintf("%s.trigger_agents[%d]", prefix, i),
				Message: "the refactor agent cannot trigger itself",
			})
		}
	}
}

func validateLearning(l Learning, errs *[]ValidationError) {
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"min_extract_confidence", l.MinExtractConfidence},
		{"success_only_confidence", l.SuccessOnlyConfidence},
		{"prune_threshold", l.PruneThreshold},
		{"auto_apply_confidence", l.AutoApplyConfidence},
		{"manual_apply_confidence", l.ManualApplyConfidence},
	} {
		if c.value < 0 || c.value > 1 {
			*errs = append(*errs, ValidationError{
				Field:   "learning." + c.name,
				Message: fmt.Sprintf("must be within 0-1, got %g", c.value),
			})
		}
	}
	if l.MinReviewScore < 0 || l.MinReviewScore > 100 {
		*errs = append(*errs, ValidationError{
			Field:   "learning.min_review_score",
			Message: fmt.Sprintf("must be within 0-100, got %d", l.MinReviewScore),
		})
	}
	if l.ManualApplyConfidence > l.AutoApplyConfidence {
		*errs = append(*errs, ValidationError{
			Field:   "learning.manual_apply_confidence",
			Message: "must not exceed auto_apply_confidence",
		})
	}
}
