package main

import (
	"fmt"

	"RegimeWatch/internal/di"
	"RegimeWatch/internal/domain/models"

	"github.com/spf13/cobra"
)

var (
	historyFrom  string
	historyTo    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored regime history as JSON",
	Long: `Print the joined signal and state history for an inclusive date range.

Examples:
  regimewatch history --from 2025-01-01 --to 2025-03-31`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		off, err := di.InitializeService(cfg)
		if err != nil {
			return fmt.Errorf("service initialization failed: %w", err)
		}
		defer off.Close()

		points, err := off.Service.History(cmd.Context(), models.HistoryRequest{
			From:  historyFrom,
			To:    historyTo,
			Limit: historyLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), points)
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "first date, YYYY-MM-DD")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "last date, YYYY-MM-DD")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 365, "maximum rows")
	_ = historyCmd.MarkFlagRequired("from")
	_ = historyCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(historyCmd)
}
