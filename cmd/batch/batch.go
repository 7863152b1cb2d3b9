// Package batch implements the batch subcommand: fan a directory of audio
// files out through the offload client, with bounded concurrency.
package batch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/beatscan/beatscan-go/cmd/analyze"
	"github.com/beatscan/beatscan-go/internal/audio"
	"github.com/beatscan/beatscan-go/internal/beatparser"
	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/logging"
	"github.com/beatscan/beatscan-go/internal/model"
	"github.com/beatscan/beatscan-go/internal/observability/metrics"
	"github.com/beatscan/beatscan-go/internal/offload"
)

// Command creates the batch command for analyzing a directory of files.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		workers     int
		method      string
		count       int
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "batch [input directory]",
		Short: "Analyze a directory of audio files",
		Long:  `Detect beats in every supported audio file under a directory, offloaded to a worker with bounded concurrency.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings.Input.Path = args[0]
			return runBatch(cmd.Context(), settings, batchOptions{
				workers:     workers,
				metricsAddr: metricsAddr,
				parseOpts: model.ParseOptions{
					SelectionMethod:    model.SelectionMethod(method),
					TargetPictureCount: count,
				},
			})
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of files decoded and submitted concurrently")
	cmd.Flags().StringVarP(&method, "method", "m", string(model.SelectionUniform), "Beat selection method: uniform, adaptive, energy, regular")
	cmd.Flags().IntVarP(&count, "count", "c", 0, "Target number of selected beats per file, 0 keeps all")
	cmd.Flags().StringVarP(&settings.Output.Path, "output", "o", "", "Path to output directory")
	cmd.Flags().StringVarP(&settings.Output.Type, "format", "f", "", "Output format: table, json, csv")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address, e.g. :9090")

	return cmd
}

type batchOptions struct {
	workers     int
	metricsAddr string
	parseOpts   model.ParseOptions
}

type fileResult struct {
	path   string
	result *model.ParseResult
	err    error
}

func runBatch(ctx context.Context, settings *conf.Settings, opts batchOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.ForService("batch")

	files, err := collectAudioFiles(settings.Input.Path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported audio files under %s", settings.Input.Path)
	}
	log.Info("starting batch analysis", "files", len(files), "workers", opts.workers)

	m, err := metrics.NewMetrics()
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		m.RegisterHandlers(mux)
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	parser := beatparser.New(settings.Parser, beatparser.WithMetrics(m))
	worker := offload.NewWorker(parser, settings.Offload.QueueSize)
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	client, err := offload.NewClient(worker, settings.Offload, offload.WithOffloadMetrics(m.Offload))
	if err != nil {
		return err
	}
	defer client.Close()

	results := make([]fileResult, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers)
	for i, path := range files {
		g.Go(func() error {
			res := analyzeOne(gctx, client, path, opts.parseOpts)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			// Per-file failures are reported, not fatal; only
			// cancellation stops the batch.
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return report(settings, results)
}

// analyzeOne decodes one file and runs it through the offload client.
// Failures are captured per file so one bad input never aborts the batch.
func analyzeOne(ctx context.Context, client *offload.Client, path string, opts model.ParseOptions) fileResult {
	data, err := audio.Decode(path)
	if err != nil {
		return fileResult{path: path, err: err}
	}

	opts.SampleRate = data.SampleRate
	opts.Filename = path
	result, err := client.ParseBuffer(ctx, data.Samples, opts)
	return fileResult{path: path, result: result, err: err}
}

func collectAudioFiles(root string) ([]string, error) {
	supported := make(map[string]bool)
	for _, ext := range beatparser.SupportedFormats() {
		supported[ext] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && supported[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func report(settings *conf.Settings, results []fileResult) error {
	if settings.Output.Path != "" {
		if err := os.MkdirAll(settings.Output.Path, 0o755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		for _, r := range results {
			if r.err != nil {
				continue
			}
			base := strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
			f, err := os.Create(filepath.Join(settings.Output.Path, base+".json"))
			if err != nil {
				return err
			}
			if err := analyze.WriteResult(f, r.result, "json"); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tBPM\tBEATS\tSTATUS")
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			fmt.Fprintf(tw, "%s\t-\t-\t%v\n", r.path, r.err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.1f\t%d\tok\n", r.path, r.result.Tempo.BPM, len(r.result.Beats))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d files failed\n", failures, len(results))
	}
	return nil
}
