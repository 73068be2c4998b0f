package main

import (
	"fmt"
	"strconv"

	"github.com/bgde/vocab-platform/internal/content/importer"
	"github.com/spf13/cobra"
)

func newImportCmd(c *cli) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a vocabulary spreadsheet, CSV, JSON or YAML file",
		Long: "Reads vocabulary from .xlsx, .csv, .json or .yaml and reports what was imported.\n" +
			"With --out the result is written in the content layout served by content.local_dir.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := importer.Import(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderTable(out, []string{"Total", "Imported", "Skipped", "Grammar"}, [][]string{{
				strconv.Itoa(res.Total),
				strconv.Itoa(res.Imported),
				strconv.Itoa(res.Skipped),
				strconv.Itoa(len(res.Data.Grammar)),
			}})
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  skipped: %s\n", e)
			}
			if outDir == "" {
				return nil
			}
			idx, err := importer.Export(outDir, res.Data)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(idx.SplitFiles))
			for _, f := range idx.SplitFiles {
				rows = append(rows, []string{f.File, strconv.Itoa(f.EntryCount), strconv.FormatFloat(f.SizeKB, 'f', 1, 64)})
			}
			renderTable(out, []string{"File", "Entries", "KB"}, rows)
			fmt.Fprintf(out, "wrote %d entries to %s\n", idx.TotalEntries, outDir)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "write content files to this directory")
	return cmd
}
