package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Width(22)
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50C878"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	noteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// render writes v as indented JSON, or calls text when --format text.
func render(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if flagFormat == "text" && text != nil {
		text(w)
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// panel renders a titled box of label/value rows.
func panel(w io.Writer, title string, rows [][2]string) {
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(r[0])+r[1])
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func verdict(passed bool, label string) string {
	if passed {
		return passStyle.Render(label)
	}
	return failStyle.Render(label)
}

func scoreText(score *int) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *score)
}

// table renders a header and rows with fixed column widths.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = fmt.Sprintf("%-*s", widths[i], c)
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}
	fmt.Fprintln(w, titleStyle.Render(line(header)))
	dashes := make([]string, len(header))
	for i := range header {
		dashes[i] = strings.Repeat("-", widths[i])
	}
	fmt.Fprintln(w, line(dashes))
	for _, r := range rows {
		fmt.Fprintln(w, line(r))
	}
}
