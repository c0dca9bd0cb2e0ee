package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/constructor/internal/db"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read raw rows from the event log",
}

var eventsRunCmd = &cobra.Command{
	Use:   "run [run-id]",
	Short: "Pipeline events of a run (default: the most recent run)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		d, err := a.requireEvents()
		if err != nil {
			return err
		}

		var runID string
		if len(args) > 0 {
			runID = args[0]
		} else if runID, err = d.LatestRunID(); err != nil {
			return err
		}
		if runID == "" {
			return fmt.Errorf("no pipeline events recorded")
		}

		events, err := d.GetRunEvents(runID)
		if err != nil {
			return err
		}
		if events == nil {
			events = []db.PipelineEvent{}
		}
		return render(cmd, events, func(w io.Writer) {
			fmt.Fprintln(w, titleStyle.Render("Run "+runID))
			for _, e := range events {
				fmt.Fprintf(w, "%s  %-16s %-12s %-24s %s %s\n", e.Timestamp, e.Event, e.Stage, e.Agent, scoreText(e.Score), noteStyle.Render(e.Detail))
			}
		})
	},
}

var eventsSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Learning events of the current (or --session) session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()
		d, err := a.requireEvents()
		if err != nil {
			return err
		}

		id := sessionID()
		events, err := d.GetSessionEvents(id)
		if err != nil {
			return err
		}
		if events == nil {
			events = []db.LearningEvent{}
		}
		return render(cmd, events, func(w io.Writer) {
			fmt.Fprintln(w, titleStyle.Render("Session "+id))
			for _, e := range events {
				fmt.Fprintf(w, "%s  %-16s %-12s %s\n", e.Timestamp, e.Event, e.Tool, e.Detail)
			}
		})
	},
}

func init() {
	eventsCmd.AddCommand(eventsRunCmd)
	eventsCmd.AddCommand(eventsSessionCmd)
}
