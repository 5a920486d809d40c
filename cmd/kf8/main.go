package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codetheweb/kf8"
	"github.com/codetheweb/kf8/internal/converter"
	"github.com/codetheweb/kf8/internal/epub"
)

var version = "dev"

type globalOptions struct {
	LogLevel  string
	LogFormat string
	Verbose   bool
}

func normalizeLogLevel(level string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(opts globalOptions) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: normalizeLogLevel(opts.LogLevel, opts.Verbose)}
	var handler slog.Handler
	if strings.EqualFold(opts.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func defaultOutputPath(inputPath, extension string) string {
	return strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + extension
}

func parseCompression(name string) (kf8.CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return kf8.CompressionNone, nil
	case "palmdoc":
		return kf8.CompressionPalmDoc, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (expected none or palmdoc)", name)
	}
}

func main() {
	var global globalOptions

	root := &cobra.Command{
		Use:           "kf8",
		Short:         "Read, write and convert KF8 (.azw3) e-books",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&global.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&global.LogFormat, "log-format", "text", "log format (text, json)")
	root.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newUnpackCommand(&global))
	root.AddCommand(newPackCommand(&global))
	root.AddCommand(newInfoCommand(&global))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newUnpackCommand(global *globalOptions) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "unpack <book.azw3>",
		Short: "Convert an AZW3 file to EPUB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*global)
			inputPath := args[0]
			if outputPath == "" {
				outputPath = defaultOutputPath(inputPath, "epub")
			}

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return err
			}
			book, err := kf8.ParseBook(data)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", inputPath, err)
			}
			for _, record := range book.SkippedResourceRecords {
				logger.Warn("skipping unrecognized resource record", "record", record)
			}
			logger.Info("parsed book",
				"title", book.Title,
				"parts", len(book.Parts),
				"stylesheets", len(book.Stylesheets),
				"resources", len(book.Resources))

			out, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			defer out.Close()

			if err := epub.NewWriter(book).WriteTo(out); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			logger.Info("wrote epub", "path", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (default: input with .epub extension)")
	return cmd
}

func newPackCommand(global *globalOptions) *cobra.Command {
	var (
		outputPath    string
		compression   string
		jpegQuality   int
		maxImageWidth int
		noImages      bool
	)

	cmd := &cobra.Command{
		Use:   "pack <book.epub>",
		Short: "Convert an EPUB file to AZW3",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*global)
			inputPath := args[0]
			if outputPath == "" {
				outputPath = defaultOutputPath(inputPath, "azw3")
			}

			compressionType, err := parseCompression(compression)
			if err != nil {
				return err
			}

			pipeline := converter.NewPipeline(converter.ConvertOptions{
				MaxImageWidth: maxImageWidth,
				JPEGQuality:   jpegQuality,
				Compression:   compressionType,
				NoImages:      noImages,
			})
			book, err := pipeline.ConvertFile(inputPath)
			if err != nil {
				return fmt.Errorf("failed to convert %s: %w", inputPath, err)
			}
			for _, warning := range pipeline.Warnings {
				logger.Warn(warning)
			}
			logger.Info("assembled book",
				"title", book.Title,
				"parts", len(book.Parts),
				"resources", len(book.Resources))

			out, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			defer out.Close()

			if _, err := book.WriteTo(out); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			logger.Info("wrote azw3", "path", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (default: input with .azw3 extension)")
	cmd.Flags().StringVar(&compression, "compression", "palmdoc", "text compression (none, palmdoc)")
	cmd.Flags().IntVar(&jpegQuality, "quality", 85, "JPEG quality for optimized images")
	cmd.Flags().IntVar(&maxImageWidth, "max-image-width", 600, "maximum image width in pixels")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "drop images from the output")
	return cmd
}

func newInfoCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <book.azw3>",
		Short: "Print book structure and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			book, err := kf8.ParseBook(data)
			if err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:       %s\n", book.Title)
			fmt.Fprintf(out, "UID:         %d\n", book.UID)
			if tag, ok := book.BCP47LanguageTag(); ok {
				fmt.Fprintf(out, "Language:    %s\n", tag)
			}
			fmt.Fprintf(out, "Compression: %s\n", compressionName(book.Compression))
			fmt.Fprintf(out, "Parts:       %d\n", len(book.Parts))
			for i := range book.Parts {
				part := &book.Parts[i]
				fmt.Fprintf(out, "  %s (%d fragments, %d bytes)\n",
					part.Filename, len(part.Fragments), len(part.Content()))
			}
			resources := book.AllResources()
			fmt.Fprintf(out, "Resources:   %d\n", len(resources))
			for _, res := range resources {
				fmt.Fprintf(out, "  %s %s (%d bytes)\n", res.Kind, res.MIMEType, len(res.Data))
			}
			return nil
		},
	}
	return cmd
}

func compressionName(c kf8.CompressionType) string {
	switch c {
	case kf8.CompressionNone:
		return "none"
	case kf8.CompressionPalmDoc:
		return "palmdoc"
	default:
		return fmt.Sprintf("%#x", uint16(c))
	}
}
