package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/history"
	"github.com/zfogg/sidechain/lazyload/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent image loads",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cfg.History.Driver == "none" {
			output.PrintInfo("Load history is disabled (history.driver = none).")
			return nil
		}

		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		records, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		summary, err := store.Summary(ctx)
		if err != nil {
			return fmt.Errorf("failed to summarize history: %w", err)
		}

		if output.GetFormat() == output.FormatJSON {
			return output.Print("", map[string]any{
				"records": records,
				"summary": summary,
			})
		}

		if len(records) == 0 {
			output.PrintInfo("No loads recorded yet.")
			return nil
		}

		headers := []string{"TIME", "STATUS", "ELEMENT", "URL", "BYTES", "MS", "KIND"}
		rows := make([][]string, 0, len(records))
		for _, rec := range records {
			rows = append(rows, []string{
				rec.CreatedAt.Local().Format(time.DateTime),
				output.StatusColor(rec.Status),
				rec.ElementID,
				output.Truncate(rec.URL, 60),
				strconv.Itoa(rec.Bytes),
				strconv.FormatInt(rec.DurationMs, 10),
				rec.ErrorKind,
			})
		}
		if err := output.PrintTable(headers, rows); err != nil {
			return err
		}

		fmt.Fprintln(output.Out)
		keys := make([]string, 0, len(summary))
		counts := make(map[string]any, len(summary))
		for _, row := range summary {
			keys = append(keys, row.Status)
			counts[row.Status] = row.Count
		}
		return output.PrintRecord("Totals", keys, counts)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")
}
