package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"filesift/internal/directory"
	"filesift/internal/report"
)

var (
	reportWalk    walkFlags
	reportFilters directory.FilterSpec
	reportOpts    report.Options
	reportOutput  string
	reportNoOpen  bool
)

var reportCmd = &cobra.Command{
	Use:   "report <dir>",
	Short: "Write a CSV report with one row per file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, err := reportWalk.options(ctx)
		if err != nil {
			return err
		}
		n := 0
		opts.Progress = func(processed int, _ string) { n = processed }
		d, err := directory.New(args[0], opts)
		if err != nil {
			return err
		}

		o := reportOpts
		if !cmd.Flags().Changed("batch-size") {
			o.BatchSize = cfg.Report.BatchSize
		}
		if !cmd.Flags().Changed("char-limit") {
			o.CharLimit = cfg.Report.CharLimit
		}
		if !cmd.Flags().Changed("split-metadata") {
			o.SplitMetadata = cfg.Report.SplitMetadata
		}
		out := reportOutput
		if out == "" {
			out = filepath.Join(d.Path, "report.csv")
		}

		if err := d.Report(out, directory.WalkOptions{Filters: reportFilters, OpenFiles: !reportNoOpen}, o); err != nil {
			return err
		}
		fmt.Printf("Wrote %d rows to %s\n", n, out)
		return nil
	},
}

var (
	analyticsWalk    walkFlags
	analyticsFilters directory.FilterSpec
	analyticsOutput  string
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics <dir>",
	Short: "Summarise file counts and sizes per extension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, err := analyticsWalk.options(ctx)
		if err != nil {
			return err
		}
		d, err := directory.New(args[0], opts)
		if err != nil {
			return err
		}
		rows, err := d.Analytics(analyticsFilters)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EXTENSION\tSIZE (MB)\tCOUNT")
		for _, r := range rows {
			ext := r.Extension
			if ext == "" {
				ext = "(none)"
			}
			fmt.Fprintf(tw, "%s\t%.3f\t%d\n", ext, r.SizeMB, r.Count)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if analyticsOutput != "" {
			if err := directory.WriteAnalytics(analyticsOutput, rows); err != nil {
				return err
			}
			fmt.Printf("\nWrote %s\n", analyticsOutput)
		}
		return nil
	},
}

var (
	dupWalk walkFlags
	dupOpts directory.DuplicateOptions
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates <dir>",
	Short: "Find near-duplicate documents by TF-IDF cosine similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, err := dupWalk.options(ctx)
		if err != nil {
			return err
		}
		d, err := directory.New(args[0], opts)
		if err != nil {
			return err
		}
		res, err := d.IdentifyDuplicates(dupOpts)
		if err != nil {
			return err
		}

		if res.Matrix != nil {
			fmt.Printf("Compared %d documents\n", len(res.Matrix.Labels))
		}
		for _, n := range res.Neighbours {
			if len(n.Matches) == 0 {
				continue
			}
			fmt.Println(n.Label)
			for _, m := range n.Matches {
				fmt.Printf("  %.2f  %s\n", m.Score, m.Label)
			}
		}
		if dupOpts.OutputPath != "" {
			fmt.Printf("Wrote %s\n", dupOpts.OutputPath)
		}
		return nil
	},
}

func init() {
	addWalkFlags(reportCmd, &reportWalk)
	addFilterFlags(reportCmd, &reportFilters)
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "report path (default <dir>/report.csv)")
	reportCmd.Flags().BoolVar(&reportNoOpen, "attributes-only", false, "only gather filesystem attributes")
	reportCmd.Flags().BoolVar(&reportOpts.SplitMetadata, "split-metadata", false, "one column per metadata key instead of a JSON column")
	reportCmd.Flags().BoolVar(&reportOpts.IncludeText, "text", false, "include the extracted text")
	reportCmd.Flags().IntVar(&reportOpts.CharLimit, "char-limit", 0, "truncate metadata cells to this many characters")
	reportCmd.Flags().StringSliceVar(&reportOpts.Keywords, "keyword", nil, "count occurrences of these keywords in the text and file name")
	reportCmd.Flags().IntVar(&reportOpts.BatchSize, "batch-size", 0, "rows written per batch")
	reportCmd.Flags().BoolVar(&reportOpts.RecoveryMode, "resume", false, "append to an interrupted report instead of replacing it")

	addWalkFlags(analyticsCmd, &analyticsWalk)
	addFilterFlags(analyticsCmd, &analyticsFilters)
	analyticsCmd.Flags().StringVarP(&analyticsOutput, "output", "o", "", "also write the table as CSV")

	addWalkFlags(duplicatesCmd, &dupWalk)
	addFilterFlags(duplicatesCmd, &dupOpts.Filters)
	duplicatesCmd.Flags().Float64Var(&dupOpts.Threshold, "threshold", 0, "report neighbours at least this similar; 0 writes the full matrix")
	duplicatesCmd.Flags().IntVar(&dupOpts.TopN, "top", 5, "neighbours per document")
	duplicatesCmd.Flags().BoolVar(&dupOpts.UsePaths, "paths", false, "label documents by path instead of name")
	duplicatesCmd.Flags().StringVarP(&dupOpts.OutputPath, "output", "o", "", "write the matrix or neighbour table as CSV")

	rootCmd.AddCommand(reportCmd, analyticsCmd, duplicatesCmd)
}
