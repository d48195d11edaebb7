package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/polarsignals/lakescan/parquetfmt"
)

var groupsCmd = &cobra.Command{
	Use:     "groups",
	Example: "lakescan-tool groups <file.parquet>",
	Short:   "Print the per-group column statistics a scan prunes with",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return groups(args[0])
	},
}

var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4"))

var EvenRowStyle = lipgloss.NewStyle().
	Bold(false).
	Foreground(lipgloss.Color("#FAFAFA"))

var OddRowStyle = lipgloss.NewStyle().
	Bold(false).
	Foreground(lipgloss.Color("#a6a4a4"))

func groups(file string) error {
	pf, closer, err := openParquetFile(file)
	if err != nil {
		return err
	}
	defer closer.Close()

	r, err := parquetfmt.NewReader(pf)
	if err != nil {
		return err
	}
	defer r.Close()

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == 0:
				return HeaderStyle
			case row%2 == 0:
				return EvenRowStyle
			default:
				return OddRowStyle
			}
		}).
		Headers("Group", "Rows", "Column", "Min", "Max", "Nulls", "Pages")
	defer fmt.Println(t)

	for g := 0; g < r.NumGroups(); g++ {
		for _, field := range r.Schema().Fields() {
			stats, ok := r.GroupStats(g, field.Name)
			if !ok {
				t.Row(strconv.Itoa(g), strconv.FormatInt(r.GroupRows(g), 10), field.Name, "-", "-", "-", "-")
				continue
			}
			pages := "-"
			if ps, ok := r.PageStats(g, field.Name); ok {
				pages = strconv.Itoa(len(ps))
			}
			t.Row(
				strconv.Itoa(g),
				strconv.FormatInt(r.GroupRows(g), 10),
				field.Name,
				fmt.Sprintf("%v", stats.Min),
				fmt.Sprintf("%v", stats.Max),
				strconv.FormatInt(stats.NullCount, 10),
				pages,
			)
		}
	}
	return nil
}
