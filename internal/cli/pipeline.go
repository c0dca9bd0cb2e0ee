package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/constructor/internal/pipeline"
)

var flagRun string

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Drive a component through the staged agent pipeline",
}

var pipelineStartCmd = &cobra.Command{
	Use:   "start [task] [component-type]",
	Short: "Start a new pipeline run",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		var task, componentType string
		if len(args) > 0 {
			task = args[0]
		}
		if len(args) > 1 {
			componentType = args[1]
		}
		d, err := a.pipelineStore().Start(task, componentType)
		if err != nil {
			return err
		}
		return render(cmd, d, func(w io.Writer) { directiveText(w, d) })
	},
}

var pipelineAdvanceCmd = &cobra.Command{
	Use:   "advance [agent-result-json]",
	Short: "Record the current agent's result and move to the next agent",
	Long: `Record the current agent's result and move to the next agent.

The optional argument is a JSON object such as {"score": 85, "issues": []}.
A malformed result is logged and the run advances without a score.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		var raw string
		if len(args) > 0 {
			raw = args[0]
		}
		result, err := pipeline.ParseAgentResult(raw)
		if err != nil {
			logger.Warn("ignoring malformed agent result", zap.Error(err))
			result = nil
		}

		d, err := a.pipelineStore().Advance(flagRun, result)
		if err != nil {
			return err
		}
		return render(cmd, d, func(w io.Writer) { directiveText(w, d) })
	},
}

var pipelineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current (or --run) pipeline run",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		v, err := a.pipelineStore().Status(flagRun)
		if err != nil {
			return err
		}
		return render(cmd, v, func(w io.Writer) { statusText(w, v) })
	},
}

var pipelineReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate statistics and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		rep, err := a.pipelineStore().Report()
		if err != nil {
			return err
		}
		return render(cmd, rep, func(w io.Writer) { reportText(w, rep) })
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all retained runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		runs, err := a.pipelineStore().List()
		if err != nil {
			return err
		}
		if runs == nil {
			runs = []pipeline.Run{}
		}
		return render(cmd, runs, func(w io.Writer) {
			if len(runs) == 0 {
				fmt.Fprintln(w, "No runs found.")
				return
			}
			var rows [][]string
			for _, r := range runs {
				rows = append(rows, []string{r.ID, string(r.Status), r.CurrentStage, scoreText(r.FinalScore), r.Task})
			}
			table(w, []string{"RUN", "STATUS", "STAGE", "SCORE", "TASK"}, rows)
		})
	},
}

var pipelineGateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Exit non-zero unless the run completed at or above the pass threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		g, err := a.pipelineStore().Gate(flagRun)
		if err != nil {
			return err
		}
		err = render(cmd, g, func(w io.Writer) {
			label := "PASSED"
			if !g.Passed {
				label = "FAILED: " + g.Reason
			}
			fmt.Fprintf(w, "%s %s (score %s, threshold %d)\n", g.RunID, verdict(g.Passed, label), scoreText(g.FinalScore), g.Threshold)
		})
		if err != nil {
			return err
		}
		if !g.Passed {
			return fmt.Errorf("gate failed: %s", g.Reason)
		}
		return nil
	},
}

var pipelineStructureCmd = &cobra.Command{
	Use:   "structure",
	Short: "Show the configured stages and agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		p := cfg.Pipeline
		return render(cmd, p, func(w io.Writer) {
			fmt.Fprintln(w, titleStyle.Render(p.Name))
			for i, s := range p.Stages {
				fmt.Fprintf(w, "%d. %s  %s\n", i+1, s.ID, noteStyle.Render(s.Purpose))
				for _, agent := range s.Agents {
					marker := ""
					if p.IsTrigger(agent) {
						marker = noteStyle.Render(fmt.Sprintf("  (refactor trigger < %d)", p.Thresholds.Pass))
					}
					fmt.Fprintf(w, "   - %s%s%s\n", p.AgentPrefix, agent, marker)
				}
			}
		})
	},
}

func directiveText(w io.Writer, d *pipeline.Directive) {
	rows := [][2]string{{"Status", string(d.Status)}}
	add := func(label, v string) {
		if v != "" {
			rows = append(rows, [2]string{label, v})
		}
	}
	add("Run", d.RunID)
	add("Stage", d.Stage)
	add("Completed stage", d.CompletedStage)
	add("Next stage", d.NextStage)
	add("Next agent", d.NextAgent)
	add("Reason", d.Reason)
	if d.Iteration > 0 {
		add("Iteration", fmt.Sprintf("%d", d.Iteration))
	}
	if d.Status == pipeline.DirectiveCompleted {
		passed := d.Passed != nil && *d.Passed
		add("Final score", scoreText(d.FinalScore))
		add("Verdict", verdict(passed, string(d.Verdict)))
		if d.Summary != nil {
			add("Duration", d.Summary.Duration)
			add("Agents invoked", fmt.Sprintf("%d", d.Summary.AgentsInvoked))
			add("Refactor loops", fmt.Sprintf("%d", d.Summary.RefactorIterations))
			add("Issues found", fmt.Sprintf("%d", d.Summary.IssuesFound))
		}
	}
	add("Message", d.Message)
	panel(w, "Pipeline", rows)
}

func statusText(w io.Writer, v *pipeline.StatusView) {
	switch v.Status {
	case pipeline.StatusIdle:
		fmt.Fprintf(w, "No active pipeline. %d runs retained.\n", v.RecentRuns)
		return
	case pipeline.StatusNotFound:
		fmt.Fprintf(w, "Run %s not found.\n", v.RunID)
		return
	}
	rows := [][2]string{
		{"Run", v.RunID},
		{"Task", v.Task},
		{"Status", v.Status},
		{"Current", v.CurrentStage + " / " + v.CurrentAgent},
	}
	if v.Progress != nil {
		rows = append(rows,
			[2]string{"Stages completed", strings.Join(v.Progress.StagesCompleted, ", ")},
			[2]string{"Agents completed", fmt.Sprintf("%d", v.Progress.AgentsCompleted)},
			[2]string{"Refactor loops", fmt.Sprintf("%d", v.Progress.RefactorIterations)},
		)
	}
	rows = append(rows, [2]string{"Issues", fmt.Sprintf("%d", v.Issues)})
	if v.FinalScore != nil {
		rows = append(rows, [2]string{"Final score", scoreText(v.FinalScore)})
	}
	panel(w, "Pipeline status", rows)
}

func reportText(w io.Writer, r *pipeline.Report) {
	st := r.Statistics
	panel(w, "Pipeline report", [][2]string{
		{"Generated", r.Generated},
		{"Total runs", fmt.Sprintf("%d", st.TotalRuns)},
		{"Successful", fmt.Sprintf("%d", st.Successful)},
		{"Failed", fmt.Sprintf("%d", st.Failed)},
		{"Insufficient data", fmt.Sprintf("%d", st.Insufficient)},
		{"Success rate", fmt.Sprintf("%.1f%%", r.SuccessRate*100)},
		{"Pass threshold", fmt.Sprintf("%d", r.Thresholds.Pass)},
	})
	if len(r.RecentRuns) == 0 {
		return
	}
	var rows [][]string
	for _, b := range r.RecentRuns {
		rows = append(rows, []string{b.ID, string(b.Status), scoreText(b.Score), b.Task})
	}
	table(w, []string{"RUN", "STATUS", "SCORE", "TASK"}, rows)
}

func init() {
	for _, c := range []*cobra.Command{pipelineAdvanceCmd, pipelineStatusCmd, pipelineGateCmd} {
		c.Flags().StringVar(&flagRun, "run", "", "run id (default: the current run)")
	}

	pipelineCmd.AddCommand(pipelineStartCmd)
	pipelineCmd.AddCommand(pipelineAdvanceCmd)
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(pipelineReportCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineGateCmd)
	pipelineCmd.AddCommand(pipelineStructureCmd)
}
