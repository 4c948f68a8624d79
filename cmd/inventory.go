package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"filesift/internal/directory"
	"filesift/internal/inventory"
)

var (
	flagInventoryDB  string
	inventoryWalk    walkFlags
	inventoryFilter  directory.FilterSpec
	inventoryExt     string
	inventoryWorkers int
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory <dir>",
	Short: "Record every file and its metadata in a SQLite inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		opts, err := inventoryWalk.options(ctx)
		if err != nil {
			return err
		}
		opts.Ignore = append(opts.Ignore, defaultWorkspace)
		d, err := directory.New(args[0], opts)
		if err != nil {
			return err
		}

		dbPath := inventoryDBPath(d.Path)
		st, err := openStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		fmt.Printf("Inventorying %s...\n", d.Path)
		start := time.Now()
		stats, err := inventory.Run(ctx, d, st, inventory.Options{
			Filters: inventoryFilter,
			Workers: inventoryWorkers,
			Progress: func(indexed, seen int) {
				fmt.Fprintf(os.Stderr, "\r  %d/%d", indexed, seen)
			},
		})
		fmt.Fprintln(os.Stderr)
		if stats != nil {
			fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
			printStats("Inventoried", dbPath, stats.FilesTotal, stats.FilesIndexed, stats.FilesSkipped, 0)
		}
		return err
	},
}

var inventoryListCmd = &cobra.Command{
	Use:   "list [dir]",
	Short: "List the inventoried files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		dbPath := inventoryDBPath(abs)
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("inventory not found at %s\nRun 'filesift inventory <dir>' first", dbPath)
		}
		st, err := openStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		ext := strings.ToLower(inventoryExt)
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		files, err := st.ListFiles(ext)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "PATH\tSIZE\tINDEXED")
		for _, f := range files {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Path, f.SizeBytes, f.IndexedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

// inventoryDBPath defaults to <root>/.filesift/inventory.db.
func inventoryDBPath(root string) string {
	if flagInventoryDB != "" {
		return flagInventoryDB
	}
	return filepath.Join(root, defaultWorkspace, "inventory.db")
}

func init() {
	inventoryCmd.PersistentFlags().StringVar(&flagInventoryDB, "db", "", "inventory database (default <dir>/.filesift/inventory.db)")
	inventoryCmd.Flags().IntVar(&inventoryWorkers, "workers", runtime.NumCPU(), "parallel workers")
	addWalkFlags(inventoryCmd, &inventoryWalk)
	addFilterFlags(inventoryCmd, &inventoryFilter)
	inventoryListCmd.Flags().StringVar(&inventoryExt, "ext", "", "only list this extension")

	inventoryCmd.AddCommand(inventoryListCmd)
	rootCmd.AddCommand(inventoryCmd)
}
