package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bgde/vocab-platform/internal/app"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect or flush the offline review sync queue",
	}

	open := func(cmd *cobra.Command) (*app.App, error) {
		a, err := c.openApp(cmd.Context())
		if err != nil {
			return nil, err
		}
		if err := a.OpenQueue(); err != nil {
			a.Close()
			return nil, err
		}
		return a, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List queued items",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			items, err := a.Queue.Items()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					it.ID,
					it.Type,
					time.UnixMilli(it.Timestamp).Format(time.RFC3339),
					strconv.Itoa(it.Retries),
				})
			}
			out := cmd.OutOrStdout()
			renderTable(out, []string{"ID", "Type", "Queued", "Retries"}, rows)
			fmt.Fprintf(out, "%d queued\n", len(items))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Send queued items to the sync endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()
			if err := a.Sender.Probe(ctx); err != nil {
				return fmt.Errorf("sync endpoint unreachable: %w", err)
			}
			a.Queue.SetOnline(true)
			rep, err := a.Queue.Process(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, failed %d, dropped %d\n", rep.Synced, rep.Failed, rep.Dropped)
			return nil
		},
	})
	return cmd
}
