package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	flagConfig   string
	flagStateDir string
	flagSession  string
	flagFormat   string
	flagVerbose  bool

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "constructor",
	Short: "constructor: staged component pipeline with a pattern learning store",
	Long: `constructor walks a component through a staged pipeline of agents with a
bounded refactor loop, and learns reusable patterns from tool sessions.

All state is stored under ~/.constructor/ (JSON documents for pipeline runs,
sessions and patterns; SQLite or Postgres for the event log).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagFormat != "json" && flagFormat != "text" {
			return fmt.Errorf("invalid --format %q: want json or text", flagFormat)
		}
		config := zap.NewProductionConfig()
		if flagVerbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to constructor.yaml")
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", "", "state directory (default $CONSTRUCTOR_HOME or state_dir from config)")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "learning session id (default $CONSTRUCTOR_SESSION_ID or today's date)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json or text")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}

// sessionID resolves the learning session: --session, then
// $CONSTRUCTOR_SESSION_ID, then the current date.
func sessionID() string {
	if flagSession != "" {
		return flagSession
	}
	if v := os.Getenv("CONSTRUCTOR_SESSION_ID"); v != "" {
		return v
	}
	return timeNow().Format("20060102")
}
