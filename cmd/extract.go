package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/cobra"

	"filesift/internal/decorate"
	"filesift/internal/extract"
	"filesift/internal/extract/formats"
	"filesift/internal/file"
)

var (
	flagExtractOCR        bool
	flagExtractTranscribe bool
	flagExtractNoOpen     bool
	flagExtractText       bool
	flagExtractHash       string
	flagExtractCopy       string
)

var extractCmd = &cobra.Command{
	Use:   "extract <path>",
	Short: "Print the attributes and metadata extracted from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		f, rec, openErr := openRecord(ctx, args[0], flagExtractOCR, flagExtractTranscribe, !flagExtractNoOpen)
		if f == nil {
			return openErr
		}
		if !flagExtractText {
			delete(rec.Metadata, extract.KeyText)
		}
		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

		if flagExtractHash != "" {
			h, err := f.ComputeHash(flagExtractHash)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", h, rec.AbsolutePath)
		}
		if flagExtractCopy != "" {
			if err := f.Copy(flagExtractCopy, true); err != nil {
				return err
			}
			fmt.Printf("Copied to %s\n", flagExtractCopy)
		}
		return openErr
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the extensions with a dedicated extractor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(strings.Join(formats.Default().Extensions(), " "))
		fmt.Printf("\nOCR: %s\n", strings.Join(slices.Sorted(maps.Keys(decorate.OCRExtensions)), " "))
		fmt.Printf("Transcription: %s\n", strings.Join(slices.Sorted(maps.Keys(decorate.TranscriptionExtensions)), " "))
		return nil
	},
}

func init() {
	extractCmd.Flags().BoolVar(&flagExtractOCR, "ocr", false, "run OCR (pdf and images)")
	extractCmd.Flags().BoolVar(&flagExtractTranscribe, "transcribe", false, "transcribe speech (audio and video)")
	extractCmd.Flags().BoolVar(&flagExtractNoOpen, "attributes-only", false, "only gather filesystem attributes")
	extractCmd.Flags().BoolVar(&flagExtractText, "text", true, "include the extracted text")
	extractCmd.Flags().StringVar(&flagExtractHash, "hash", "", "also print the file hash: md5, sha1, sha256 or sha512")
	extractCmd.Flags().StringVar(&flagExtractCopy, "copy-to", "", "copy the file to this path, verifying its sha256")
	rootCmd.AddCommand(extractCmd, formatsCmd)
}

// openRecord opens path with the configured engines. When extraction fails
// the error record is substituted and f is still returned if the path
// could be resolved.
func openRecord(ctx context.Context, path string, ocr, transcribe, open bool) (*file.File, extract.FileRecord, error) {
	o, imager, speech, err := engines(ocr, transcribe)
	if err != nil {
		return nil, extract.FileRecord{}, err
	}
	f, err := file.Open(path, file.Options{
		UseOCR:         ocr,
		UseTranscriber: transcribe,
		OpenFile:       open,
		OCR:            o,
		Imager:         imager,
		Speech:         speech,
		Context:        ctx,
	})
	if f == nil {
		return nil, extract.FileRecord{}, err
	}
	if err != nil {
		logger.Warnf("extract %s: %v", path, err)
		return f, file.ErrorRecord(path, err), err
	}
	return f, f.Record(), nil
}
