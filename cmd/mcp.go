package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"

	"filesift/internal/directory"
	"filesift/internal/extract"
	"filesift/internal/rag"
	"filesift/internal/store"
)

// maxToolText caps the extracted text returned by extract_file.
const maxToolText = 20000

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP server exposing file extraction and search tools",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := mcpserver.NewMCPServer("filesift", "1.0.0", mcpserver.WithToolCapabilities(false))

	s.AddTool(extractFileTool(), makeExtractHandler())
	s.AddTool(directoryAnalyticsTool(), makeAnalyticsHandler())

	// Search and inventory tools are only offered when their data exists.
	if r, closeFn, err := newRetriever(ctx); err == nil {
		defer closeFn()
		s.AddTool(searchDirectoryTool(), makeSearchHandler(r))
	} else {
		logger.Debugf("search_directory disabled: %v", err)
	}
	if flagInventoryDB != "" {
		if _, err := os.Stat(flagInventoryDB); err != nil {
			return fmt.Errorf("inventory not found at %s", flagInventoryDB)
		}
		st, err := store.Open(flagInventoryDB)
		if err != nil {
			return fmt.Errorf("open inventory: %w", err)
		}
		defer st.Close()
		s.AddTool(listInventoryTool(), makeInventoryHandler(st))
	}

	return mcpserver.ServeStdio(s)
}

func init() {
	mcpCmd.Flags().StringVarP(&flagWorkspace, "workspace", "w", defaultWorkspace, "search workspace folder")
	mcpCmd.Flags().StringVar(&flagCatalog, "catalog", "", "search a SQLite catalog instead of the workspace index")
	mcpCmd.Flags().StringVar(&flagInventoryDB, "db", "", "inventory database for list_inventory")
	rootCmd.AddCommand(mcpCmd)
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func searchDirectoryTool() mcp.Tool {
	return mcp.NewTool("search_directory",
		mcp.WithDescription("Semantically search the indexed files. Returns the closest text chunks with their file paths."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Maximum number of chunks to return (default 5)"),
		),
	)
}

func extractFileTool() mcp.Tool {
	return mcp.NewTool("extract_file",
		mcp.WithDescription("Extract the filesystem attributes, format metadata and text of a single file."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Path of the file"),
		),
		mcp.WithBoolean("include_text",
			mcp.Description("Include the extracted text (default true)"),
		),
		mcp.WithBoolean("ocr",
			mcp.Description("Run OCR on PDFs and images"),
		),
		mcp.WithBoolean("transcribe",
			mcp.Description("Transcribe audio and video"),
		),
	)
}

func directoryAnalyticsTool() mcp.Tool {
	return mcp.NewTool("directory_analytics",
		mcp.WithDescription("Summarise the file count and total size per extension under a directory."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Directory to summarise"),
		),
		mcp.WithString("extensions",
			mcp.Description("Optional comma separated extensions to restrict to (e.g. '.pdf,.docx')"),
		),
	)
}

func listInventoryTool() mcp.Tool {
	return mcp.NewTool("list_inventory",
		mcp.WithDescription("List the inventoried files with their size and extracted metadata."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("extension",
			mcp.Description("Optional extension filter (e.g. '.pdf'). Case-insensitive."),
		),
	)
}

// --- Handler factories ---

func makeSearchHandler(r rag.Retriever) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", 5)
		if k <= 0 {
			k = 5
		}

		passages, err := r.Retrieve(ctx, query, k)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No results found for query: %q", query)), nil
		}
		return mcp.NewToolResultText(rag.FormatPassages(query, passages)), nil
	}
}

func makeExtractHandler() mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		if path == "" {
			return mcp.NewToolResultError("path is required"), nil
		}

		f, rec, err := openRecord(ctx, path, req.GetBool("ocr", false), req.GetBool("transcribe", false), true)
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract failed: %v", err)), nil
		}
		if !req.GetBool("include_text", true) {
			delete(rec.Metadata, extract.KeyText)
		} else if text, ok := rec.Text(); ok {
			if r := []rune(text); len(r) > maxToolText {
				rec.Metadata[extract.KeyText] = string(r[:maxToolText]) + "..."
			}
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode record failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
}

func makeAnalyticsHandler() mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := req.GetString("path", "")
		if path == "" {
			return mcp.NewToolResultError("path is required"), nil
		}
		var filters directory.FilterSpec
		for _, ext := range strings.Split(req.GetString("extensions", ""), ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				filters.Extensions = append(filters.Extensions, ext)
			}
		}

		d, err := directory.New(path, directory.Options{Ignore: directory.DefaultIgnores, Context: ctx})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("open directory failed: %v", err)), nil
		}
		rows, err := d.Analytics(filters)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("analytics failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Files under `%s`\n\n", d.Path)
		sb.WriteString("| Extension | Size (MB) | Count |\n|---|---:|---:|\n")
		for _, r := range rows {
			ext := r.Extension
			if ext == "" {
				ext = "(none)"
			}
			fmt.Fprintf(&sb, "| %s | %.3f | %d |\n", ext, r.SizeMB, r.Count)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func makeInventoryHandler(st store.Store) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ext := strings.ToLower(req.GetString("extension", ""))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		files, err := st.ListFiles(ext)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list files failed: %v", err)), nil
		}

		var sb strings.Builder
		if ext != "" {
			fmt.Fprintf(&sb, "## Inventoried files (%d, extension: %s)\n\n", len(files), ext)
		} else {
			fmt.Fprintf(&sb, "## Inventoried files (%d)\n\n", len(files))
		}
		for _, f := range files {
			meta := f.Metadata
			if len(meta) > 120 {
				meta = meta[:120] + "..."
			}
			fmt.Fprintf(&sb, "- **%s** (%d bytes, %s) %s\n", filepath.ToSlash(f.Path), f.SizeBytes, f.Extension, meta)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}
