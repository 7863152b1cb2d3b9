package beatparser

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/beatscan/beatscan-go/internal/audio"
	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/dsp"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/model"
)

// ParseBuffer runs the full pipeline over a caller-supplied sample buffer.
// The buffer may be []float64, []float32 or an integer sample slice; it is
// normalized before validation. Option zero values fall back to the parser
// configuration.
func (p *Parser) ParseBuffer(ctx context.Context, buffer any, opts model.ParseOptions) (*model.ParseResult, error) {
	samples, err := audio.NormalizeBuffer(buffer)
	if err != nil {
		return nil, err
	}
	return p.parseSamples(ctx, samples, opts)
}

// ParseFile decodes the file at path and parses the resulting buffer. The
// file extension must be on the supported-format allow-list.
func (p *Parser) ParseFile(ctx context.Context, path string, opts model.ParseOptions) (*model.ParseResult, error) {
	data, err := audio.Decode(path)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordParseError("decode")
		}
		return nil, err
	}

	if opts.SampleRate == 0 {
		opts.SampleRate = data.SampleRate
	}
	if opts.Filename == "" {
		opts.Filename = path
	}
	return p.parseSamples(ctx, data.Samples, opts)
}

// ParseStream reads raw little-endian float32 samples from r in chunks and
// parses the accumulated buffer. Reading checks the context between chunks
// so a cancelled operation stops at the next chunk boundary. When
// StreamOptions.Overlap is non-zero the source is expected to re-send that
// fraction of each chunk; the duplicated leading portion is dropped.
func (p *Parser) ParseStream(ctx context.Context, r io.Reader, sopts model.StreamOptions, opts model.ParseOptions) (*model.ParseResult, error) {
	if sopts.ChunkSize <= 0 {
		return nil, errors.Newf("stream chunk size must be positive, got %d", sopts.ChunkSize).
			Component("beatparser").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if sopts.Overlap < 0 || sopts.Overlap >= 1 {
		return nil, errors.Newf("stream overlap must be within [0, 1), got %g", sopts.Overlap).
			Component("beatparser").
			Category(errors.CategoryConfiguration).
			Build()
	}

	overlapSamples := int(float64(sopts.ChunkSize) * sopts.Overlap)
	chunkBytes := make([]byte, sopts.ChunkSize*4)

	var samples []float64
	firstChunk := true
	for {
		if err := ctx.Err(); err != nil {
			return nil, cancellationError(err)
		}

		n, readErr := io.ReadFull(r, chunkBytes)
		if n > 0 {
			chunk := decodeFloat32LE(chunkBytes[:n-n%4])
			if !firstChunk && overlapSamples > 0 && len(chunk) >= overlapSamples {
				chunk = chunk[overlapSamples:]
			}
			samples = append(samples, chunk...)
			firstChunk = false

			// The total length is unknown while reading, so the
			// read phase reports a monotone asymptotic estimate
			// over the first half of the progress range; the
			// analysis phase owns the second half.
			safeProgress(sopts.Progress, 50*float64(len(samples))/float64(len(samples)+sopts.ChunkSize))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return nil, errors.New(readErr).
				Component("beatparser").
				Category(errors.CategoryFileIO).
				Context("operation", "read_stream_chunk").
				Build()
		}
	}

	if opts.Progress == nil && sopts.Progress != nil {
		streamProgress := sopts.Progress
		opts.Progress = func(percent float64) {
			streamProgress(50 + percent/2)
		}
	}
	return p.parseSamples(ctx, samples, opts)
}

// parseSamples is the shared pipeline behind all Parse* operations.
func (p *Parser) parseSamples(ctx context.Context, samples []float64, opts model.ParseOptions) (*model.ParseResult, error) {
	start := time.Now()

	cfg, plugins, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	resolveOptions(&opts, &cfg)

	if opts.HopSize > opts.WindowSize {
		p.log.Warn("hop size exceeds window size, frames will not overlap",
			"hop_size", opts.HopSize, "window_size", opts.WindowSize)
	}

	if err := audio.Validate(samples, opts.WindowSize); err != nil {
		if p.metrics != nil {
			p.metrics.RecordParseError("validation")
		}
		return nil, err
	}
	safeProgress(opts.Progress, 10)

	// Plugin audio hooks form a transform chain ahead of frame analysis.
	pluginsUsed := make([]string, 0, len(plugins))
	for _, plugin := range plugins {
		pluginsUsed = append(pluginsUsed, plugin.Name())
		proc, ok := plugin.(AudioProcessor)
		if !ok {
			continue
		}
		out, err := runAudioHook(ctx, proc, plugin.Name(), samples)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordParseError("plugin")
			}
			return nil, err
		}
		if out != nil {
			samples = out
		}
	}
	safeProgress(opts.Progress, 30)

	analyzer := dsp.NewFrameAnalyzer(opts.WindowSize, opts.HopSize)
	frames, err := analyzer.Analyze(ctx, samples)
	if err != nil {
		return nil, cancellationError(err)
	}
	safeProgress(opts.Progress, 50)

	onset := dsp.OnsetStrength(frames, dsp.OnsetWeights{
		Energy:   cfg.OnsetWeight,
		Spectral: cfg.SpectralWeight,
	})

	tempo := dsp.EstimateTempo(onset, dsp.TempoParams{
		SampleRate:  opts.SampleRate,
		HopSize:     opts.HopSize,
		MinTempo:    cfg.MinTempo,
		MaxTempo:    cfg.MaxTempo,
		TempoWeight: cfg.TempoWeight,
	})
	safeProgress(opts.Progress, 70)

	candidates := dsp.GenerateCandidates(onset, dsp.SelectorParams{
		SampleRate:          opts.SampleRate,
		HopSize:             opts.HopSize,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
	})
	candidates = dsp.FilterByConfidence(candidates, opts.MinConfidence)

	duration := float64(len(samples)) / float64(opts.SampleRate)
	beats := dsp.SelectBeats(candidates, tempo, opts.SelectionMethod, opts.TargetPictureCount, duration)
	safeProgress(opts.Progress, 90)

	// Plugin beat hooks run after selection, again as a transform chain.
	for _, plugin := range plugins {
		proc, ok := plugin.(BeatProcessor)
		if !ok {
			continue
		}
		out, err := runBeatHook(ctx, proc, plugin.Name(), beats)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordParseError("plugin")
			}
			return nil, err
		}
		if out != nil {
			beats = out
		}
	}

	result := &model.ParseResult{
		Beats: beats,
		Tempo: tempo,
		Metadata: model.ResultMetadata{
			ProcessingTime: time.Since(start),
			SampleCount:    len(samples),
			SampleRate:     opts.SampleRate,
			FrameCount:     len(frames),
			Filename:       opts.Filename,
			Algorithms: []string{
				"hann-stft", "spectral-flux", "autocorrelation-tempo",
				"selection-" + string(opts.SelectionMethod),
			},
			Plugins: pluginsUsed,
		},
	}
	if result.Beats == nil {
		result.Beats = []model.Beat{}
	}

	if p.metrics != nil {
		p.metrics.RecordParse(time.Since(start), len(result.Beats))
	}
	safeProgress(opts.Progress, 100)
	return result, nil
}

// resolveOptions fills zero-valued options from the parser configuration.
func resolveOptions(opts *model.ParseOptions, cfg *conf.ParserSettings) {
	if opts.WindowSize <= 0 {
		opts.WindowSize = cfg.FrameSize
	}
	if opts.HopSize <= 0 {
		opts.HopSize = cfg.HopSize
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = cfg.SampleRate
	}
	if !opts.SelectionMethod.Valid() {
		opts.SelectionMethod = model.SelectionUniform
	}
}

// runAudioHook invokes one ProcessAudio hook, converting panics and errors
// into PluginError so a misbehaving plugin aborts only the current call.
func runAudioHook(ctx context.Context, proc AudioProcessor, name string, samples []float64) (out []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPluginError(name, "processAudio", fmt.Errorf("panic: %v", r))
		}
	}()

	out, hookErr := proc.ProcessAudio(ctx, samples)
	if hookErr != nil {
		return nil, newPluginError(name, "processAudio", hookErr)
	}
	return out, nil
}

func runBeatHook(ctx context.Context, proc BeatProcessor, name string, beats []model.Beat) (out []model.Beat, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPluginError(name, "processBeats", fmt.Errorf("panic: %v", r))
		}
	}()

	out, hookErr := proc.ProcessBeats(ctx, beats)
	if hookErr != nil {
		return nil, newPluginError(name, "processBeats", hookErr)
	}
	return out, nil
}

// safeProgress invokes the progress callback, clamping the value to [0, 100]
// and swallowing panics: callback failures must never abort processing.
func safeProgress(fn model.ProgressFunc, percent float64) {
	if fn == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	defer func() { _ = recover() }()
	fn(percent)
}

func cancellationError(err error) error {
	category := errors.CategoryCancellation
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("beatparser").
		Category(category).
		Build()
}

func decodeFloat32LE(b []byte) []float64 {
	out := make([]float64, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		bits := binary.LittleEndian.Uint32(b[i:])
		out = append(out, float64(math.Float32frombits(bits)))
	}
	return out
}
