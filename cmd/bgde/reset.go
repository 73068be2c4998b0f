package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(c *cli) *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "reset <item-id>...",
		Short: "Forget review progress so items start again as new",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if direction == "" {
				direction = c.cfg.Review.DefaultDirection
			}
			for _, id := range args {
				if err := a.Store.Delete(ctx, id, direction); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s (%s)\n", id, direction)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "", "bg-de or de-bg (default from config)")
	return cmd
}
