package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"filesift/internal/directory"
	"filesift/internal/rag"
	"filesift/internal/search"
	"filesift/internal/store"
)

const defaultWorkspace = ".filesift"

var flagWorkspace = defaultWorkspace

var (
	flagCatalog string

	buildWalk    walkFlags
	buildFilters directory.FilterSpec
	buildResume  bool

	embedStart int
	embedEnd   int
	embedBatch int

	queryK int
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Build and query a semantic search workspace",
}

var searchBuildCmd = &cobra.Command{
	Use:   "build <dir>",
	Short: "Report, chunk, embed, combine and index a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := newPipeline(ctx, buildWalk, buildFilters)
		if err != nil {
			return err
		}

		fmt.Printf("Building search workspace %s from %s...\n", p.Workspace().Dir, args[0])
		start := time.Now()
		ix, err := p.Run(ctx, args[0])
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}
		fmt.Printf("\nDone in %s\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  Index:   %s over %d embeddings\n", ix.Kind(), ix.Len())

		if flagCatalog != "" {
			return runCatalog(p)
		}
		return nil
	},
}

var searchChunkCmd = &cobra.Command{
	Use:   "chunk <dir>",
	Short: "Write the report and split its text into chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd.Context(), buildWalk, buildFilters)
		if err != nil {
			return err
		}
		if err := p.Report(args[0]); err != nil {
			return err
		}
		n, err := p.Chunk()
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d chunks to %s\n", n, p.Workspace().Path(search.ChunksFile))
		return nil
	},
}

var searchEmbedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed a range of chunks into shards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := newPipeline(ctx, walkFlags{}, directory.FilterSpec{})
		if err != nil {
			return err
		}
		err = p.Embed(ctx, embedStart, embedEnd, embedBatch)
		fmt.Fprintln(os.Stderr)
		return err
	},
}

var searchCombineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge the embedding shards into one matrix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd.Context(), walkFlags{}, directory.FilterSpec{})
		if err != nil {
			return err
		}
		if err := p.Combine(); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", p.Workspace().Path(search.EmbeddingsFile))
		return nil
	},
}

var searchIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the vector index over the combined embeddings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd.Context(), walkFlags{}, directory.FilterSpec{})
		if err != nil {
			return err
		}
		ix, err := p.BuildIndex()
		if err != nil {
			return err
		}
		fmt.Printf("Built %s index over %d embeddings\n", ix.Kind(), ix.Len())
		return nil
	},
}

var searchCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Copy the workspace chunks and embeddings into a SQLite catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd.Context(), walkFlags{}, directory.FilterSpec{})
		if err != nil {
			return err
		}
		return runCatalog(p)
	},
}

var searchQueryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Return the chunks closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		k := queryK
		if !cmd.Flags().Changed("k") {
			k = cfg.Search.TopK
		}
		r, closeFn, err := newRetriever(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		query := strings.Join(args, " ")
		passages, err := r.Retrieve(ctx, query, k)
		if err != nil {
			return err
		}
		if len(passages) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, p := range passages {
			fmt.Printf("%d. %s  (distance %.4f)\n", i+1, p.Source, p.Distance)
			fmt.Printf("   %s\n\n", snippet(p.Content, 200))
		}
		return nil
	},
}

func init() {
	pf := searchCmd.PersistentFlags()
	pf.StringVarP(&flagWorkspace, "workspace", "w", defaultWorkspace, "search workspace folder")
	pf.StringVar(&flagCatalog, "catalog", "", "SQLite catalog to mirror into or query instead of the workspace index")
	pf.String("index", "", "index type: flat, ivf, hnsw or generic")
	pf.String("metric", "", "distance metric: l2 or ip")
	pf.Int("chunk-size", 0, "chunk size")
	pf.Int("chunk-overlap", 0, "chunk overlap")
	pf.String("chunk-length", "", "chunk length unit: chars or tokens")
	_ = v.BindPFlag("index.type", pf.Lookup("index"))
	_ = v.BindPFlag("index.metric", pf.Lookup("metric"))
	_ = v.BindPFlag("chunker.size", pf.Lookup("chunk-size"))
	_ = v.BindPFlag("chunker.overlap", pf.Lookup("chunk-overlap"))
	_ = v.BindPFlag("chunker.length", pf.Lookup("chunk-length"))

	for _, c := range []*cobra.Command{searchBuildCmd, searchChunkCmd} {
		addWalkFlags(c, &buildWalk)
		addFilterFlags(c, &buildFilters)
		c.Flags().BoolVar(&buildResume, "resume", false, "append to an interrupted report instead of replacing it")
	}

	searchEmbedCmd.Flags().IntVar(&embedStart, "start", 0, "first chunk row")
	searchEmbedCmd.Flags().IntVar(&embedEnd, "end", 0, "end chunk row, exclusive (0 = last)")
	searchEmbedCmd.Flags().IntVar(&embedBatch, "batch", 0, "chunks per shard (default from config)")

	searchQueryCmd.Flags().IntVar(&queryK, "k", 5, "number of results")

	searchCmd.AddCommand(searchBuildCmd, searchChunkCmd, searchEmbedCmd, searchCombineCmd,
		searchIndexCmd, searchCatalogCmd, searchQueryCmd)
	rootCmd.AddCommand(searchCmd)
}

// newPipeline opens the workspace with the loaded configuration. The
// workspace folder itself is never walked.
func newPipeline(ctx context.Context, w walkFlags, filters directory.FilterSpec) (*search.Pipeline, error) {
	opts, err := w.options(ctx)
	if err != nil {
		return nil, err
	}
	opts.Ignore = append(opts.Ignore, filepath.Base(flagWorkspace))

	sc, err := searchConfig(opts, filters)
	if err != nil {
		return nil, err
	}
	sc.ResumeReport = buildResume
	sc.Progress = func(stage string, done, total int) {
		fmt.Fprintf(os.Stderr, "\r  %-6s %d/%d", stage, done, total)
	}
	return search.New(flagWorkspace, sc)
}

func runCatalog(p *search.Pipeline) error {
	ctx, cancel := signalContext()
	defer cancel()

	dbPath := flagCatalog
	if dbPath == "" {
		dbPath = filepath.Join(flagWorkspace, "catalog.db")
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := p.Catalog(ctx, st)
	if stats != nil {
		printStats("Catalogued", dbPath, stats.FilesTotal, stats.FilesIndexed, stats.FilesSkipped, stats.ChunksTotal)
	}
	return err
}

// newRetriever queries the catalog when --catalog is set, the workspace
// index otherwise.
func newRetriever(ctx context.Context) (rag.Retriever, func(), error) {
	if flagCatalog != "" {
		if _, err := os.Stat(flagCatalog); os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("catalog not found at %s\nRun 'filesift search catalog' first", flagCatalog)
		}
		st, err := store.Open(flagCatalog)
		if err != nil {
			return nil, nil, fmt.Errorf("open catalog: %w", err)
		}
		emb, err := newEmbedder()
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		return rag.StoreRetriever{Store: st, Embedder: emb}, func() { st.Close() }, nil
	}

	if _, err := os.Stat(filepath.Join(flagWorkspace, search.IndexFile)); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("index not found in %s\nRun 'filesift search build <dir>' first", flagWorkspace)
	}
	p, err := newPipeline(ctx, walkFlags{}, directory.FilterSpec{})
	if err != nil {
		return nil, nil, err
	}
	return rag.WorkspaceRetriever{Pipeline: p}, func() {}, nil
}

func openStore(dbPath string) (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	return st, nil
}

func printStats(verb, dbPath string, total, indexed, skipped, chunks int) {
	fmt.Printf("\n%s into %s\n", verb, dbPath)
	fmt.Printf("  Files:   %d total, %d indexed, %d skipped\n", total, indexed, skipped)
	if chunks > 0 {
		fmt.Printf("  Chunks:  %d\n", chunks)
	}
}

// snippet flattens whitespace and cuts s to n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
