package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Event log management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply event log schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		// requireEvents migrates on open.
		d, err := a.requireEvents()
		if err != nil {
			return err
		}
		res := map[string]any{"migrated": true, "dialect": d.Dialect()}
		return render(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "Event log (%s) is up to date\n", d.Dialect()) })
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate the event log tables (destructive!)",
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
		if err := d.Reset(); err != nil {
			return err
		}
		res := map[string]any{"reset": true, "dialect": d.Dialect()}
		return render(cmd, res, func(w io.Writer) { fmt.Fprintln(w, "Event log reset") })
	},
}

func init() {
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
