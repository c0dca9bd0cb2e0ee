package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/constructor/internal/learning"
)

var flagExtractReview bool

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Track tool usage in a session and promote learned patterns",
}

var learnTrackCmd = &cobra.Command{
	Use:   "track <tool> <result> <success> [context]",
	Short: "Record one tool invocation",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		var context string
		if len(args) > 3 {
			context = args[3]
		}
		res, err := a.sessionStore().Track(sessionID(), args[0], args[1], parseSuccess(args[2]), context)
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Tracked %s (%d actions, %.0f%% success)\n", res.ActionID, res.TotalActions, res.SuccessRate*100)
		})
	},
}

var learnConfirmCmd = &cobra.Command{
	Use:   "confirm [positive|negative|correction] [details]",
	Short: "Record the user's verdict on recent work",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		var kind, details string
		if len(args) > 0 {
			kind = args[0]
		}
		if len(args) > 1 {
			details = args[1]
		}
		res, err := a.sessionStore().Confirm(sessionID(), learning.ParseConfirmationKind(kind), details)
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Recorded %s confirmation; boosted: %s\n", res.Kind, strings.Join(res.BoostedActions, ", "))
		})
	},
}

var learnGoalCmd = &cobra.Command{
	Use:   "goal <description...>",
	Short: "Set the session goal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.sessionStore().SetGoal(sessionID(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "Goal set: %s\n", res.Goal) })
	},
}

var learnAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Derive candidate patterns from the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.extractor().Analyze(sessionID())
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			panel(w, "Session "+res.SessionID, [][2]string{
				{"Goal", res.Goal},
				{"Actions", fmt.Sprintf("%d (%d ok, %d failed)", res.TotalActions, res.Successes, res.Failures)},
				{"Success rate", fmt.Sprintf("%.0f%%", res.SuccessRate*100)},
				{"Patterns found", fmt.Sprintf("%d", res.PatternsFound)},
				{"Learnable", fmt.Sprintf("%d", res.Learnable)},
				{"User confirmed", fmt.Sprintf("%d", res.UserConfirmedCount)},
			})
			var rows [][]string
			for i := range res.Candidates {
				c := &res.Candidates[i]
				rows = append(rows, []string{c.Name(), fmt.Sprintf("%.2f", c.Confidence), strconv.FormatBool(c.Learnable)})
			}
			if len(rows) > 0 {
				table(w, []string{"PATTERN", "CONFIDENCE", "LEARNABLE"}, rows)
			}
		})
	},
}

var learnReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Score every learnable candidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.extractor().Review(sessionID())
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			if res.Message != "" {
				fmt.Fprintln(w, res.Message)
				return
			}
			var rows [][]string
			for _, r := range res.Reviews {
				rows = append(rows, []string{
					r.Candidate.Name(),
					fmt.Sprintf("%d", r.Evidence),
					fmt.Sprintf("%d", r.Reproducibility),
					fmt.Sprintf("%d", r.Reusability),
					fmt.Sprintf("%d", r.Overall),
					verdict(r.Recommendation.Approved(), string(r.Recommendation)),
				})
			}
			table(w, []string{"PATTERN", "EVIDENCE", "REPRO", "REUSE", "OVERALL", "RECOMMENDATION"}, rows)
		})
	},
}

var learnAcceptCmd = &cobra.Command{
	Use:   "accept [min-score]",
	Short: "Run the acceptance gate over the reviewed candidates (persists nothing)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		minScore := a.cfg.Learning.MinReviewScore
		if len(args) > 0 {
			minScore, err = strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid min-score %q: %w", args[0], err)
			}
		}
		res, err := a.extractor().Accept(sessionID(), minScore)
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Accepted %d, rejected %d (min score %d)\n", res.AcceptedCount, res.RejectedCount, res.MinScore)
			for _, r := range res.Rejected {
				fmt.Fprintf(w, "  %s %s\n", failStyle.Render("x"), r.Candidate.Name()+": "+r.Reason)
			}
		})
	},
}

var learnExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Promote session patterns into the pattern store",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		e := a.extractor()
		var res *learning.ExtractResult
		if flagExtractReview {
			res, err = e.ExtractWithReview(sessionID())
		} else {
			res, err = e.ExtractAuto(sessionID())
		}
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Extracted %d patterns (%d new, %d raised, %d rejected); store holds %d\n",
				res.Extracted, res.Inserted, res.Raised, res.Rejected, res.Total)
			if res.Message != "" {
				fmt.Fprintln(w, noteStyle.Render(res.Message))
			}
		})
	},
}

var learnClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		id := sessionID()
		if err := a.sessionStore().Clear(id); err != nil {
			return err
		}
		res := map[string]any{"cleared": true, "session_id": id}
		return render(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "Session %s cleared\n", id) })
	},
}

// parseSuccess accepts true/1/yes/success in any case.
func parseSuccess(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "success":
		return true
	}
	return false
}

func init() {
	learnExtractCmd.Flags().BoolVar(&flagExtractReview, "review", false, "review and gate candidates before promoting")

	learnCmd.AddCommand(learnTrackCmd)
	learnCmd.AddCommand(learnConfirmCmd)
	learnCmd.AddCommand(learnGoalCmd)
	learnCmd.AddCommand(learnAnalyzeCmd)
	learnCmd.AddCommand(learnReviewCmd)
	learnCmd.AddCommand(learnAcceptCmd)
	learnCmd.AddCommand(learnExtractCmd)
	learnCmd.AddCommand(learnClearCmd)
}
