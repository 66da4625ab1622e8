package main

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maltedev/trendyol-metrics-scraper/internal/report"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <product-id>",
	Short: "Print the recorded metrics of one product, newest first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		be, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer be.close()

		product, err := be.reader.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		rows, err := be.reader.MetricHistory(ctx, id, historyLimit)
		if err != nil {
			return err
		}

		report.History(os.Stdout, product, rows)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 30, "number of rows")
	rootCmd.AddCommand(historyCmd)
}
