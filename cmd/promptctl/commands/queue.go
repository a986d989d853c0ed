package commands

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show waiting and processing requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		client, err := newAPIClient(baseURL)
		if err != nil {
			return err
		}
		snap, err := client.queue(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "limit=%d processing=%d waiting=%d\n", snap.ConcurrencyLimit, snap.Processing, len(snap.Entries)-snap.Processing)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POS\tSTATE\tREQUEST\tUSER")
		for _, e := range snap.Entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Position, e.State, e.ID, e.Payload.UserID)
		}
		return tw.Flush()
	},
}

var limitCmd = &cobra.Command{
	Use:   "limit <n>",
	Short: "Change the concurrency limit at runtime",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("limit must be a positive integer")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		client, err := newAPIClient(baseURL)
		if err != nil {
			return err
		}
		got, err := client.setLimit(ctx, n)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "concurrency limit: %d\n", got)
		return nil
	},
}
