package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/constructor/internal/analytics"
	"github.com/lucasnoah/constructor/internal/db"
)

var flagSince string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline and learning analytics from the event log",
}

// analyticsDB opens the event log and normalizes --since.
func analyticsDB() (*app, *db.DB, string, func(), error) {
	since, err := analytics.NormalizeSince(flagSince)
	if err != nil {
		return nil, nil, "", nil, err
	}
	a, cleanup, err := newApp()
	if err != nil {
		return nil, nil, "", nil, err
	}
	d, err := a.requireEvents()
	if err != nil {
		cleanup()
		return nil, nil, "", nil, err
	}
	return a, d, since, cleanup, nil
}

var analyticsAgentScoresCmd = &cobra.Command{
	Use:   "agent-scores",
	Short: "Score statistics per agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, d, since, cleanup, err := analyticsDB()
		if err != nil {
			return err
		}
		defer cleanup()

		pass := a.cfg.Pipeline.Thresholds.Pass
		scores, err := analytics.QueryAgentScores(d, since, pass)
		if err != nil {
			return err
		}
		return render(cmd, scores, func(w io.Writer) {
			if len(scores) == 0 {
				fmt.Fprintln(w, "No scored agents.")
				return
			}
			var rows [][]string
			for _, s := range scores {
				rows = append(rows, []string{
					s.Agent,
					fmt.Sprintf("%d", s.Count),
					fmt.Sprintf("%.1f", s.Avg),
					fmt.Sprintf("%.1f", s.P50),
					fmt.Sprintf("%d-%d", s.Min, s.Max),
					fmt.Sprintf("%d", s.Below),
				})
			}
			table(w, []string{"AGENT", "RUNS", "AVG", "P50", "RANGE", fmt.Sprintf("BELOW %d", pass)}, rows)
		})
	},
}

var analyticsRefactorRateCmd = &cobra.Command{
	Use:   "refactor-rate",
	Short: "How often runs enter the refactor loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, d, since, cleanup, err := analyticsDB()
		if err != nil {
			return err
		}
		defer cleanup()

		r, err := analytics.QueryRefactorRate(d, since, a.cfg.Pipeline.Refactor.MaxIterations)
		if err != nil {
			return err
		}
		return render(cmd, r, func(w io.Writer) {
			panel(w, "Refactor loop", [][2]string{
				{"Runs", fmt.Sprintf("%d", r.Runs)},
				{"Runs with refactor", fmt.Sprintf("%d (%.1f%%)", r.RunsLooped, r.LoopedPct)},
				{"Refactor loops", fmt.Sprintf("%d", r.Loops)},
				{"Avg per looped run", fmt.Sprintf("%.2f", r.AvgPerLooped)},
				{"At max iterations", fmt.Sprintf("%d", r.Exhausted)},
			})
		})
	},
}

var analyticsStageDurationsCmd = &cobra.Command{
	Use:   "stage-durations",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, since, cleanup, err := analyticsDB()
		if err != nil {
			return err
		}
		defer cleanup()

		durations, err := analytics.QueryStageDurations(d, since)
		if err != nil {
			return err
		}
		return render(cmd, durations, func(w io.Writer) {
			if len(durations) == 0 {
				fmt.Fprintln(w, "No completed stages.")
				return
			}
			var rows [][]string
			for _, s := range durations {
				rows = append(rows, []string{
					s.Stage,
					fmt.Sprintf("%d", s.Count),
					fmt.Sprintf("%.1f", s.Avg),
					fmt.Sprintf("%.1f", s.P50),
					fmt.Sprintf("%.1f", s.P95),
				})
			}
			table(w, []string{"STAGE", "COUNT", "AVG MIN", "P50 MIN", "P95 MIN"}, rows)
		})
	},
}

var analyticsLearningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Tracked actions, confirmations and extractions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, since, cleanup, err := analyticsDB()
		if err != nil {
			return err
		}
		defer cleanup()

		o, err := analytics.QueryLearningOutcomes(d, since)
		if err != nil {
			return err
		}
		return render(cmd, o, func(w io.Writer) {
			rows := [][2]string{
				{"Sessions", fmt.Sprintf("%d", o.Sessions)},
				{"Actions", fmt.Sprintf("%d (%d ok, %d failed)", o.Actions, o.Successes, o.Failures)},
				{"Success", fmt.Sprintf("%.1f%%", o.SuccessPct)},
				{"Extractions", fmt.Sprintf("%d", o.Extractions)},
			}
			kinds := make([]string, 0, len(o.Confirmations))
			for k := range o.Confirmations {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				rows = append(rows, [2]string{"Confirmed " + k, fmt.Sprintf("%d", o.Confirmations[k])})
			}
			panel(w, "Learning outcomes", rows)

			var tools [][]string
			for _, t := range o.ByTool {
				tools = append(tools, []string{t.Tool, fmt.Sprintf("%d", t.Successes), fmt.Sprintf("%d", t.Failures), fmt.Sprintf("%.1f%%", t.SuccessPct)})
			}
			if len(tools) > 0 {
				table(w, []string{"TOOL", "OK", "FAILED", "SUCCESS"}, tools)
			}
		})
	},
}

var analyticsTimelineCmd = &cobra.Command{
	Use:   "timeline <run-id>",
	Short: "Event timeline for one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, d, _, cleanup, err := analyticsDB()
		if err != nil {
			return err
		}
		defer cleanup()

		events, err := analytics.QueryRunTimeline(d, args[0])
		if err != nil {
			return err
		}
		return render(cmd, events, func(w io.Writer) {
			if len(events) == 0 {
				fmt.Fprintf(w, "No events for run %s.\n", args[0])
				return
			}
			var rows [][]string
			for _, e := range events {
				rows = append(rows, []string{e.Timestamp, e.Event, e.Stage, e.Agent, scoreText(e.Score), e.Detail})
			}
			table(w, []string{"TIME", "EVENT", "STAGE", "AGENT", "SCORE", "DETAIL"}, rows)
		})
	},
}

func init() {
	analyticsCmd.PersistentFlags().StringVar(&flagSince, "since", "", "only count events at or after this time (RFC3339 or YYYY-MM-DD)")

	analyticsCmd.AddCommand(analyticsAgentScoresCmd)
	analyticsCmd.AddCommand(analyticsRefactorRateCmd)
	analyticsCmd.AddCommand(analyticsStageDurationsCmd)
	analyticsCmd.AddCommand(analyticsLearningCmd)
	analyticsCmd.AddCommand(analyticsTimelineCmd)
}
