package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"barchive/internal/barindex"
	"barchive/internal/barindex/sqlitecat"
)

func newHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List completed job history from the index catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := rootLogger()
			if err != nil {
				return err
			}
			catalog, err := sqlitecat.Open(dbPath, logger)
			if err != nil {
				return fmt.Errorf("open index catalog: %w", err)
			}
			defer catalog.Close()

			rows, err := catalog.ListHistory(cmd.Context(), barindex.Filter{}, barindex.Order{Column: "created", Desc: true}, barindex.Page{Limit: limit})
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			for _, h := range rows {
				fmt.Printf("%s  job=%s  %-12s  entries=%-6d  size=%-10d  errors=%-4d  %s\n",
					h.Created.Format("2006-01-02T15:04:05Z07:00"), h.JobUUID, h.Type,
					h.TotalEntryCount, h.TotalEntrySize, h.ErrorEntryCount, h.Duration)
				if h.ErrorMessage != "" {
					fmt.Printf("    error: %s\n", h.ErrorMessage)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "barctl.sqlite", "index catalog database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to show")
	return cmd
}
