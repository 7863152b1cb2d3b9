// Package analyze implements the analyze subcommand: run the beat detection
// pipeline over one audio file and print or write the result.
package analyze

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/beatscan/beatscan-go/internal/beatparser"
	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/logging"
	"github.com/beatscan/beatscan-go/internal/model"
)

// Command creates the analyze command for a single audio file.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		method        string
		pictureCount  int
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "analyze [input file]",
		Short: "Analyze an audio file",
		Long:  `Detect beats and estimate tempo in a single audio file.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.Input.Path = args[0]
			return runAnalyze(cmd.Context(), settings, model.ParseOptions{
				SelectionMethod:    model.SelectionMethod(method),
				TargetPictureCount: pictureCount,
				MinConfidence:      minConfidence,
			})
		},
	}

	setupFlags(cmd, settings, &method, &pictureCount, &minConfidence)
	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings, method *string, pictureCount *int, minConfidence *float64) {
	cmd.Flags().StringVarP(&settings.Output.Path, "output", "o", "", "Path to output directory")
	cmd.Flags().StringVarP(&settings.Output.Type, "format", "f", "", "Output format: table, json, csv")
	cmd.Flags().StringVarP(method, "method", "m", string(model.SelectionUniform), "Beat selection method: uniform, adaptive, energy, regular")
	cmd.Flags().IntVarP(pictureCount, "count", "c", 0, "Target number of selected beats, 0 keeps all")
	cmd.Flags().Float64Var(minConfidence, "min-confidence", 0, "Drop beat candidates below this confidence")
}

func runAnalyze(ctx context.Context, settings *conf.Settings, opts model.ParseOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.ForService("analyze")

	parser := beatparser.New(settings.Parser)
	if err := parser.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := parser.Cleanup(context.Background()); err != nil {
			log.Warn("parser cleanup failed", "error", err)
		}
	}()

	result, err := parser.ParseFile(ctx, settings.Input.Path, opts)
	if err != nil {
		return fmt.Errorf("analysis of %s failed: %w", settings.Input.Path, err)
	}

	log.Info("analysis complete",
		"file", settings.Input.Path,
		"beats", len(result.Beats),
		"bpm", result.Tempo.BPM,
		"duration", result.Metadata.ProcessingTime)

	out, cleanup, err := outputWriter(settings)
	if err != nil {
		return err
	}
	defer cleanup()

	format := settings.Output.Type
	if format == "" {
		format = settings.Parser.OutputFormat
	}
	return WriteResult(out, result, format)
}

// outputWriter returns stdout or a file in the configured output directory.
func outputWriter(settings *conf.Settings) (io.Writer, func(), error) {
	if settings.Output.Path == "" {
		return os.Stdout, func() {}, nil
	}
	if err := os.MkdirAll(settings.Output.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("cannot create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(settings.Input.Path), filepath.Ext(settings.Input.Path))
	ext := ".txt"
	switch settings.Output.Type {
	case "json":
		ext = ".json"
	case "csv":
		ext = ".csv"
	}
	f, err := os.Create(filepath.Join(settings.Output.Path, base+ext))
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// WriteResult renders a parse result as JSON, a CSV beat list, or a
// human-readable table.
func WriteResult(w io.Writer, result *model.ParseResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "csv":
		return writeCSV(w, result)
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "Tempo:\t%.1f BPM (confidence %.2f)\n", result.Tempo.BPM, result.Tempo.Confidence)
	fmt.Fprintf(tw, "Beats:\t%d\n", len(result.Beats))
	fmt.Fprintf(tw, "Frames:\t%d\n", result.Metadata.FrameCount)
	fmt.Fprintf(tw, "Processing time:\t%s\n", result.Metadata.ProcessingTime)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "#\tTIMESTAMP\tCONFIDENCE\tSTRENGTH")
	for i, b := range result.Beats {
		fmt.Fprintf(tw, "%d\t%.3fs\t%.2f\t%.3f\n", i+1, b.Timestamp, b.Confidence, b.Strength)
	}
	return tw.Flush()
}

func writeCSV(w io.Writer, result *model.ParseResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "confidence", "strength", "bpm"}); err != nil {
		return err
	}
	bpm := strconv.FormatFloat(result.Tempo.BPM, 'f', 1, 64)
	for _, b := range result.Beats {
		record := []string{
			strconv.FormatFloat(b.Timestamp, 'f', 3, 64),
			strconv.FormatFloat(b.Confidence, 'f', 2, 64),
			strconv.FormatFloat(b.Strength, 'f', 3, 64),
			bpm,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
