package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newPhasesCmd(c *cli) *cobra.Command {
	var direction, lang string
	cmd := &cobra.Command{
		Use:   "phases",
		Short: "Show how many items are in each learning phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if direction == "" {
				direction = c.cfg.Review.DefaultDirection
			}
			ov, err := a.Sessions.Phases(ctx, direction, lang)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(ov.Phases))
			for _, p := range ov.Phases {
				rows = append(rows, []string{
					strconv.Itoa(p.Phase),
					p.Icon + " " + p.Name,
					strconv.Itoa(p.Count),
					strconv.FormatFloat(p.Percentage, 'f', 1, 64) + "%",
				})
			}
			out := cmd.OutOrStdout()
			renderTable(out, []string{"Phase", "Name", "Items", "Share"}, rows)
			fmt.Fprintf(out, "%d items (%s)\n", ov.Total, ov.Direction)

			st, err := a.Store.Stats(ctx, direction, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d reviewed, %d due, avg ease %.2f, accuracy %.0f%%\n", st.Total, st.Due, st.AvgEaseFactor, st.AvgAccuracy)
			return nil
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "", "bg-de or de-bg (default from config)")
	cmd.Flags().StringVar(&lang, "lang", "en", "phase name language (en, bg, de)")
	return cmd
}
