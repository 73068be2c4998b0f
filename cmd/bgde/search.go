package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bgde/vocab-platform/internal/search/engine"
	"github.com/bgde/vocab-platform/internal/search/ranker"
	"github.com/spf13/cobra"
)

func newSearchCmd(c *cli) *cobra.Command {
	var (
		opts   engine.Options
		sortBy string
		phase  int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search vocabulary and grammar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts.SortBy = ranker.SortBy(sortBy)
			if cmd.Flags().Changed("phase") {
				opts.Phase = &phase
			}
			a, err := c.loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.Engine.Search(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintf(out, "No results for %q.\n", resp.Query)
				if len(resp.Suggestions) > 0 {
					fmt.Fprintf(out, "Did you mean: %s\n", strings.Join(resp.Suggestions, ", "))
				}
				return nil
			}
			rows := make([][]string, 0, len(resp.Results))
			for i, r := range resp.Results {
				rows = append(rows, []string{
					strconv.Itoa(opts.Offset + i + 1),
					r.Title,
					string(r.Type),
					r.Level,
					strconv.FormatFloat(r.Score, 'f', 3, 64),
					r.Snippet,
				})
			}
			renderTable(out, []string{"#", "Title", "Type", "Level", "Score", "Snippet"}, rows)
			fmt.Fprintf(out, "%d of %d results in %.2fms\n", len(resp.Results), resp.Total, resp.ResponseTimeMs)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Type, "type", "t", "", "vocabulary, grammar or all")
	f.StringVarP(&opts.Category, "category", "c", "", "category filter")
	f.StringVarP(&opts.Level, "level", "l", "", "CEFR level filter")
	f.StringVarP(&opts.Direction, "direction", "d", "", "bg-de or de-bg")
	f.IntVar(&phase, "phase", 0, "learning phase filter (0-6)")
	f.IntVarP(&opts.Limit, "limit", "n", 10, "results per page")
	f.IntVar(&opts.Offset, "offset", 0, "results to skip")
	f.StringVarP(&sortBy, "sort", "s", string(ranker.SortRelevance), "relevance, alphabetical or difficulty")
	return cmd
}
