package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"

	"filesift/internal/chunker"
	"filesift/internal/config"
	"filesift/internal/decorate"
	"filesift/internal/directory"
	"filesift/internal/embedder"
	"filesift/internal/llm"
	"filesift/internal/search"
	"filesift/internal/vecindex"
)

var (
	flagConfig  string
	flagVerbose bool

	v   = config.New()
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:          "filesift",
	Short:        "Extract file metadata and search across a directory",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levels := []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
		if flagVerbose {
			levels = logger.AllLevels()
		}
		logger.Init(logger.Config{Levels: levels})

		loaded, _, err := config.Load(v, flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd, "")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ./filesift.yaml or ~/.config/filesift/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.PersistentFlags().String("embedder", "", "embedder type: ollama, openai or tfidf")
	rootCmd.PersistentFlags().String("model", "", "embedding model")
	rootCmd.PersistentFlags().String("ollama", "", "ollama base URL")
	_ = v.BindPFlag("embedder.type", rootCmd.PersistentFlags().Lookup("embedder"))
	_ = v.BindPFlag("embedder.model", rootCmd.PersistentFlags().Lookup("model"))
	_ = v.BindPFlag("embedder.ollama_url", rootCmd.PersistentFlags().Lookup("ollama"))
}

// signalContext is cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// addFilterFlags registers the directory filter flags onto f.
func addFilterFlags(cmd *cobra.Command, f *directory.FilterSpec) {
	cmd.Flags().StringSliceVar(&f.Extensions, "ext", nil, "only include these extensions")
	cmd.Flags().StringSliceVar(&f.ExcludeExtensions, "exclude-ext", nil, "skip these extensions")
	cmd.Flags().Int64Var(&f.MinSize, "min-size", 0, "minimum file size in bytes")
	cmd.Flags().Int64Var(&f.MaxSize, "max-size", 0, "maximum file size in bytes (0 = no limit)")
	cmd.Flags().StringSliceVar(&f.IncludeStr, "include", nil, "only include paths with a component containing one of these strings")
	cmd.Flags().StringSliceVar(&f.ExcludeStr, "exclude", nil, "skip paths with a component containing one of these strings")
}

// walkFlags are the traversal options shared by the directory commands.
type walkFlags struct {
	ocr        bool
	transcribe bool
	gitignore  bool
	ignore     []string
	defaults   bool
}

func addWalkFlags(cmd *cobra.Command, w *walkFlags) {
	cmd.Flags().BoolVar(&w.ocr, "ocr", false, "run OCR on PDFs and images")
	cmd.Flags().BoolVar(&w.transcribe, "transcribe", false, "transcribe audio and video")
	cmd.Flags().BoolVar(&w.gitignore, "gitignore", false, "skip paths matched by the root .gitignore")
	cmd.Flags().StringSliceVar(&w.ignore, "ignore", nil, "directory names, path prefixes or globs to skip")
	cmd.Flags().BoolVar(&w.defaults, "skip-vcs", false, "skip version control and dependency directories")
}

func (w walkFlags) options(ctx context.Context) (directory.Options, error) {
	o := directory.Options{
		UseOCR:           w.ocr,
		UseTranscriber:   w.transcribe,
		RespectGitignore: w.gitignore,
		Ignore:           w.ignore,
		Context:          ctx,
	}
	if w.defaults {
		o.Ignore = append(o.Ignore, directory.DefaultIgnores...)
	}
	var err error
	if o.OCR, o.Imager, o.Speech, err = engines(w.ocr, w.transcribe); err != nil {
		return o, err
	}
	return o, nil
}

// engines resolves the configured OCR and speech executables. Engines that
// were not requested stay nil.
func engines(ocr, transcribe bool) (decorate.OCREngine, decorate.PageImager, decorate.SpeechEngine, error) {
	var (
		o  decorate.OCREngine
		im decorate.PageImager
		sp decorate.SpeechEngine
	)
	d := cfg.Decorators
	if ocr {
		t, err := decorate.NewTesseract(d.Tesseract)
		if err != nil {
			return nil, nil, nil, err
		}
		if d.Language != "" {
			t.Language = d.Language
		}
		o = t
		// pdfimages is optional; PDFs fail with the dependency error when
		// it is missing.
		if p, err := decorate.NewPDFImages(d.PDFImages); err == nil {
			im = p
		} else {
			logger.Debugf("pdfimages unavailable: %v", err)
		}
	}
	if transcribe {
		w, err := decorate.NewWhisper(d.Whisper)
		if err != nil {
			return nil, nil, nil, err
		}
		if d.WhisperModel != "" {
			w.Model = d.WhisperModel
		}
		sp = w
	}
	return o, im, sp, nil
}

func newEmbedder() (embedder.Embedder, error) {
	return embedder.New(cfg.Embedder)
}

func newChat() *llm.OllamaChat {
	return llm.NewOllamaChat(cfg.LLM.OllamaURL, cfg.LLM.Model, 0)
}

// searchConfig assembles the pipeline configuration from the loaded config.
func searchConfig(dir directory.Options, filters directory.FilterSpec) (search.Config, error) {
	emb, err := newEmbedder()
	if err != nil {
		return search.Config{}, err
	}
	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return search.Config{}, err
	}
	kind, err := vecindex.ParseKind(cfg.Index.Type)
	if err != nil {
		return search.Config{}, err
	}
	metric, err := vecindex.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return search.Config{}, err
	}
	return search.Config{
		Embedder:        emb,
		Chunker:         ch,
		IndexKind:       kind,
		Metric:          metric,
		Params:          cfg.Index.Params,
		Directory:       dir,
		Filters:         filters,
		ReportBatchSize: cfg.Report.BatchSize,
		EmbedBatchSize:  cfg.Search.EmbedBatchSize,
	}, nil
}
