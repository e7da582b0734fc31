package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/docstream/internal/app"
	"github.com/MeKo-Tech/docstream/internal/config"
	"github.com/MeKo-Tech/docstream/internal/document"
	"github.com/MeKo-Tech/docstream/internal/pipeline"
)

// extractCmd represents the extract command.
var extractCmd = &cobra.Command{
	Use:   "extract <file.pdf>",
	Short: "Extract a PDF page by page",
	Long: `Extract text, words, links and regions from a PDF.

With --format ndjson (the default) every page snapshot is written as one JSON
line as soon as it is ready, followed by a final "done" line. --format json
writes only the finished document and --format text only its full text.

Examples:
  docstream extract paper.pdf
  docstream extract paper.pdf --format json -o paper.json
  docstream extract scan.pdf --format text --progress --no-model`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("format", "f", "ndjson", "output format (ndjson, json, text)")
	extractCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	extractCmd.Flags().Bool("progress", false, "show a progress bar on stderr")
	extractCmd.Flags().Bool("no-model", false, "skip the layout model; heuristics only")
	extractCmd.Flags().Int("workers", 0, "page workers (0 = number of CPUs)")
	extractCmd.Flags().Int("lookahead", 0, "pages started ahead of the consumer (0 = 2x workers)")
	extractCmd.Flags().Int("dpi", 200, "render resolution")
	extractCmd.Flags().StringP("password", "p", "", "user password for encrypted PDFs")
	extractCmd.Flags().String("owner-password", "", "owner password for encrypted PDFs")
}

// applyExtractFlags overlays explicitly set flags on the loaded configuration.
func applyExtractFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("no-model") {
		noModel, _ := cmd.Flags().GetBool("no-model")
		cfg.Pipeline.RunModel = !noModel
	}
	if cmd.Flags().Changed("workers") {
		cfg.Pipeline.MaxWorkers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("lookahead") {
		cfg.Pipeline.Lookahead, _ = cmd.Flags().GetInt("lookahead")
	}
	if cmd.Flags().Changed("dpi") {
		cfg.Pipeline.DPI, _ = cmd.Flags().GetInt("dpi")
	}
	if cmd.Flags().Changed("password") {
		cfg.PDF.UserPassword, _ = cmd.Flags().GetString("password")
	}
	if cmd.Flags().Changed("owner-password") {
		cfg.PDF.OwnerPassword, _ = cmd.Flags().GetString("owner-password")
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(format)
	switch format {
	case "ndjson", "json", "text":
	default:
		return fmt.Errorf("unsupported format %q (use ndjson, json or text)", format)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	cfg := *GetConfig()
	applyExtractFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, &cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	out, closeOut, err := openOutput(cmd, cmd.Flags().Lookup("output").Value.String())
	if err != nil {
		return err
	}
	defer closeOut()

	var progress pipeline.ProgressCallback
	if show, _ := cmd.Flags().GetBool("progress"); show {
		progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), filepath.Base(args[0]))
	}
	return writeEvents(ctx, out, format, pipeline.Track(a.Pipeline.Stream(ctx, data), progress))
}

// writeEvents drains a stream into w in the requested format.
func writeEvents(ctx context.Context, w io.Writer, format string, events iter.Seq2[pipeline.Event, error]) error {
	enc := json.NewEncoder(w)
	var entry *document.Entry
	for ev, err := range events {
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return errors.New("interrupted")
			}
			return err
		}
		switch format {
		case "ndjson":
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
		default:
			if ev.Type == pipeline.EventDone {
				entry = ev.Entry
			}
		}
	}

	switch format {
	case "json":
		if entry == nil {
			return errors.New("stream ended without a result")
		}
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	case "text":
		if entry == nil {
			return errors.New("stream ended without a result")
		}
		_, err := fmt.Fprintln(w, entry.FullText)
		return err
	}
	return nil
}

// openOutput returns the command's stdout or the named file.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			slog.Warn("Failed to close output file", "path", path, "error", err)
		}
	}, nil
}
