package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/droidcrawl/droidcrawl/internal/store"
)

func runsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <session-dir|run.db>",
		Short: "List the runs recorded in a session database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, "database", "run.db")
			}
			st, err := store.Open(path)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns()
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			steps := make(map[int64]int, len(runs))
			for _, r := range runs {
				n, err := st.MaxStepNumber(r.ID)
				if err != nil {
					return err
				}
				steps[r.ID] = n
			}
			printRunsTable(runs, steps)
			return nil
		},
	}
}

func printRunsTable(runs []store.Run, steps map[int64]int) {
	headers := []string{"ID", "APP", "STATUS", "STARTED", "ENDED", "STEPS", "STUCK"}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		ended := "-"
		if r.EndTime != nil {
			ended = r.EndTime.Format("2006-01-02 15:04:05")
		}
		var stats store.RunStats
		_ = json.Unmarshal([]byte(r.MetaJSON), &stats)
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.ID),
			r.AppPackage,
			r.Status,
			r.StartTime.Format("2006-01-02 15:04:05"),
			ended,
			fmt.Sprintf("%d", steps[r.ID]),
			fmt.Sprintf("%d", stats.StuckDetections),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Println(strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	printRow(headers)
	for _, row := range rows {
		printRow(row)
	}
}
