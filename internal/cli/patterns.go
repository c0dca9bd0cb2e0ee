package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/constructor/internal/patterns"
)

var flagApplyAuto bool

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect, query and apply the learned pattern store",
}

var patternsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Count patterns ready to apply by confidence band",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		v, err := a.patternStore().Status()
		if err != nil {
			return err
		}
		return render(cmd, v, func(w io.Writer) {
			panel(w, "Pattern store", [][2]string{
				{"Total patterns", fmt.Sprintf("%d", v.TotalPatterns)},
				{"High confidence", fmt.Sprintf("%d", v.HighConfidence)},
				{"Medium confidence", fmt.Sprintf("%d", v.MediumConfidence)},
				{"Low confidence", fmt.Sprintf("%d", v.LowConfidence)},
				{"Already applied", fmt.Sprintf("%d", v.AlreadyApplied)},
				{"Sessions", fmt.Sprintf("%d", v.SessionsSinceReview)},
				{"Review recommended", verdict(!v.ReviewRecommended, strconv.FormatBool(v.ReviewRecommended))},
			})
			for _, p := range v.Preview {
				fmt.Fprintf(w, "  %.2f  %-16s %s\n", p.Confidence, p.Type, p.Description)
			}
		})
	},
}

var patternsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Totals by type and learning counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		sum, err := a.patternStore().Summary()
		if err != nil {
			return err
		}
		return render(cmd, sum, func(w io.Writer) {
			rows := [][2]string{
				{"Total patterns", fmt.Sprintf("%d", sum.TotalPatterns)},
				{"High confidence", fmt.Sprintf("%d", sum.HighConfidence)},
				{"Sessions", fmt.Sprintf("%d", sum.Stats.TotalSessions)},
				{"Reviewed", fmt.Sprintf("%d", sum.Stats.PatternsReviewed)},
				{"Accepted", fmt.Sprintf("%d", sum.Stats.PatternsAccepted)},
				{"Last updated", sum.LastUpdated},
			}
			for t, n := range sum.ByType {
				rows = append(rows, [2]string{string(t), fmt.Sprintf("%d", n)})
			}
			panel(w, "Learning summary", rows)
		})
	},
}

var patternsSuggestCmd = &cobra.Command{
	Use:   "suggest <context...>",
	Short: "Patterns whose triggers occur in the context, best first",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ps, err := a.patternStore().Query(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if ps == nil {
			ps = []patterns.Pattern{}
		}
		return render(cmd, ps, func(w io.Writer) { patternTable(w, ps) })
	},
}

var patternsPruneCmd = &cobra.Command{
	Use:   "prune [threshold]",
	Short: "Remove patterns below a confidence threshold",
	Long: `Remove patterns whose confidence is below the threshold.

The threshold is a fraction in [0,1]; values above 1 are read as percentages,
so "50" and "0.5" are equivalent. Defaults to learning.prune_threshold.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		threshold := a.cfg.Learning.PruneThreshold
		if len(args) > 0 {
			threshold, err = parseThreshold(args[0])
			if err != nil {
				return err
			}
		}
		removed, err := a.patternStore().Prune(threshold)
		if err != nil {
			return err
		}
		res := map[string]any{"removed": removed, "threshold": threshold}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Removed %d patterns below %.0f%% confidence\n", removed, threshold*100)
		})
	},
}

var patternsApplyCmd = &cobra.Command{
	Use:   "apply [component]",
	Short: "Mark applicable patterns as applied to a component",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		component := "all"
		if len(args) > 0 {
			component = args[0]
		}
		res, err := a.patternStore().Apply(component, flagApplyAuto)
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Applied %d, skipped %d, failed %d (min confidence %.2f); next review in %s\n",
				res.Applied, res.Skipped, res.Failed, res.MinConfidence, res.NextReviewIn)
		})
	},
}

var patternsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a review of the pattern store is due",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		c, err := a.patternStore().ShouldReview()
		if err != nil {
			return err
		}
		return render(cmd, c, func(w io.Writer) {
			fmt.Fprintf(w, "Review due: %t (%s)\n", c.ShouldReview, c.Reason)
		})
	},
}

var patternsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert patterns from a JSON file (a pattern list or a store document)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := readPatterns(args[0])
		if err != nil {
			return err
		}

		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.patternStore().UpsertAll(ps, nil)
		if err != nil {
			return err
		}
		return render(cmd, res, func(w io.Writer) {
			fmt.Fprintf(w, "Imported %d patterns: %d new, %d raised, %d unchanged\n",
				len(ps), res.Inserted, res.Raised, res.Unchanged)
		})
	},
}

func readPatterns(path string) ([]patterns.Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var ps []patterns.Pattern
	if err := json.Unmarshal(data, &ps); err != nil {
		var f patterns.File
		if ferr := json.Unmarshal(data, &f); ferr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		ps = f.Patterns
	}
	for i := range ps {
		if ps[i].Name == "" {
			return nil, fmt.Errorf("parse %s: pattern %d has no name", path, i)
		}
		ps[i].Source = patterns.SourceImport
		if ps[i].Type == "" {
			ps[i].Type = patterns.TypeContextLearned
		}
		ps[i].Applied = false
		ps[i].AppliedAt = ""
	}
	return ps, nil
}

func parseThreshold(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid threshold %q: %w", s, err)
	}
	if v > 1 {
		v /= 100
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("threshold %q out of range", s)
	}
	return v, nil
}

func patternTable(w io.Writer, ps []patterns.Pattern) {
	if len(ps) == 0 {
		fmt.Fprintln(w, "No matching patterns.")
		return
	}
	var rows [][]string
	for _, p := range ps {
		rows = append(rows, []string{p.ID, fmt.Sprintf("%.2f", p.Confidence), p.Name, p.Description})
	}
	table(w, []string{"ID", "CONFIDENCE", "NAME", "DESCRIPTION"}, rows)
}

func init() {
	patternsApplyCmd.Flags().BoolVar(&flagApplyAuto, "auto", false, "use the automatic (higher) confidence cutoff")

	patternsCmd.AddCommand(patternsStatusCmd)
	patternsCmd.AddCommand(patternsSummaryCmd)
	patternsCmd.AddCommand(patternsSuggestCmd)
	patternsCmd.AddCommand(patternsPruneCmd)
	patternsCmd.AddCommand(patternsApplyCmd)
	patternsCmd.AddCommand(patternsCheckCmd)
	patternsCmd.AddCommand(patternsImportCmd)
}
