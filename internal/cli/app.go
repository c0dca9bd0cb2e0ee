package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/config"
	"github.com/lucasnoah/constructor/internal/db"
	"github.com/lucasnoah/constructor/internal/learning"
	"github.com/lucasnoah/constructor/internal/patterns"
	"github.com/lucasnoah/constructor/internal/pipeline"
)

var timeNow = time.Now

// app carries the resolved configuration and the optional event log for one
// command invocation.
type app struct {
	cfg      *config.Config
	stateDir string
	events   *db.DB
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.Load(flagConfig)
	}
	return config.LoadDefault()
}

// newApp loads and validates the config, resolves the state directory and
// opens the event log. A failing event log is logged and skipped.
func newApp() (*app, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	applyEnv(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, nil, fmt.Errorf("invalid config: %s (run 'constructor config validate')", errs[0])
	}

	dir, err := resolveStateDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	a := &app{cfg: cfg, stateDir: dir}

	events, err := openEvents(cfg, dir)
	switch {
	case errors.Is(err, db.ErrDisabled):
		// events.driver: none
	case err != nil:
		logger.Warn("event log unavailable", zap.Error(err))
	default:
		a.events = events
	}
	return a, a.close, nil
}

func (a *app) close() {
	if a.events != nil {
		a.events.Close()
	}
}

// requireEvents returns the event log or an error when it is disabled.
func (a *app) requireEvents() (*db.DB, error) {
	if a.events != nil {
		return a.events, nil
	}
	events, err := openEvents(a.cfg, a.stateDir)
	if errors.Is(err, db.ErrDisabled) {
		return nil, errors.New("event log is disabled (events.driver: none)")
	}
	if err != nil {
		return nil, err
	}
	a.events = events
	return events, nil
}

func openEvents(cfg *config.Config, dir string) (*db.DB, error) {
	d, err := db.OpenEvents(cfg.Events, dir)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// applyEnv layers environment overrides over the loaded config.
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("CONSTRUCTOR_HOME"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("CONSTRUCTOR_DATABASE_URL"); v != "" {
		cfg.Events.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Events.Driver = "postgres"
		} else if cfg.Events.Driver == "none" {
			cfg.Events.Driver = "sqlite"
		}
	}
}

func resolveStateDir(cfg *config.Config) (string, error) {
	if flagStateDir != "" {
		return flagStateDir, nil
	}
	return cfg.ResolveStateDir()
}

func (a *app) pipelineStore() *pipeline.Store {
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if a.events != nil {
		opts = append(opts, pipeline.WithEvents(a.events))
	}
	return pipeline.NewStore(filepath.Join(a.stateDir, "pipeline"), a.cfg.Pipeline, opts...)
}

func (a *app) learningOptions() []learning.Option {
	opts := []learning.Option{learning.WithLogger(logger)}
	if a.events != nil {
		opts = append(opts, learning.WithEvents(a.events))
	}
	return opts
}

func (a *app) sessionStore() *learning.SessionStore {
	return learning.NewSessionStore(filepath.Join(a.stateDir, "sessions"), a.cfg.Learning, a.learningOptions()...)
}

func (a *app) patternStore() *patterns.Store {
	return patterns.NewStore(filepath.Join(a.stateDir, "learned"), a.cfg.Learning, patterns.WithLogger(logger))
}

func (a *app) extractor() *learning.Extractor {
	return learning.NewExtractor(a.sessionStore(), a.patternStore(), a.cfg.Learning, a.learningOptions()...)
}
