package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/maltedev/trendyol-metrics-scraper/internal/metrics"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish pending outbox events to redis until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		be, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer be.close()
		if be.pg == nil {
			return errors.New("relay needs DB_DRIVER=postgres")
		}

		client, err := newRedisClient(ctx, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		relay := newRelay(be.pg, client, metrics.New(nil), cfg)
		if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
