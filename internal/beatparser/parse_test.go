package beatparser

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalaudio "github.com/beatscan/beatscan-go/internal/audio"
	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/model"
)

// clickTrack synthesizes short bursts at the given tempo over silence, the
// simplest signal with unambiguous onsets.
func clickTrack(bpm float64, sampleRate, length int) []float64 {
	samples := make([]float64, length)
	interval := int(60.0 / bpm * float64(sampleRate))
	for start := 0; start < length; start += interval {
		for i := 0; i < 256 && start+i < length; i++ {
			samples[start+i] = 0.9 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
		}
	}
	return samples
}

func TestParseBufferTooShort(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	_, err := p.ParseBuffer(context.Background(), make([]float32, 100), model.ParseOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2048", "error must name the minimum frame size")
}

func TestParseBufferNilAndEmpty(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	ctx := context.Background()

	_, err := p.ParseBuffer(ctx, nil, model.ParseOptions{})
	require.ErrorIs(t, err, internalaudio.ErrNilBuffer)

	_, err = p.ParseBuffer(ctx, []float64{}, model.ParseOptions{})
	require.ErrorIs(t, err, internalaudio.ErrEmptyBuffer)
}

func TestParseBufferUnsupportedType(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	_, err := p.ParseBuffer(context.Background(), []string{"not", "audio"}, model.ParseOptions{})
	require.ErrorIs(t, err, internalaudio.ErrUnsupportedBufferType)
}

func TestParseBufferConstantSignal(t *testing.T) {
	t.Parallel()

	samples := make([]float32, 4096)
	for i := range samples {
		samples[i] = 0.1
	}

	p := New(conf.ParserSettings{})
	result, err := p.ParseBuffer(context.Background(), samples, model.ParseOptions{})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Beats, "beats must be an empty sequence, never nil")

	assert.True(t, sort.SliceIsSorted(result.Beats, func(i, j int) bool {
		return result.Beats[i].Timestamp < result.Beats[j].Timestamp
	}), "beats must be ordered by timestamp")
	assert.Equal(t, 4096, result.Metadata.SampleCount)
	assert.Equal(t, 44100, result.Metadata.SampleRate)
	assert.Positive(t, result.Metadata.FrameCount)
}

func TestParseBufferClickTrack(t *testing.T) {
	t.Parallel()

	const sampleRate = 44100
	samples := clickTrack(120, sampleRate, sampleRate*10)

	p := New(conf.ParserSettings{})
	result, err := p.ParseBuffer(context.Background(), samples, model.ParseOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Beats)

	assert.InDelta(t, 120, result.Tempo.BPM, 5, "click track tempo should be close to 120 BPM")
	assert.Greater(t, result.Tempo.Confidence, 0.3)

	for i := 1; i < len(result.Beats); i++ {
		assert.Greater(t, result.Beats[i].Timestamp, result.Beats[i-1].Timestamp)
	}
	for _, b := range result.Beats {
		assert.GreaterOrEqual(t, b.Confidence, 0.0)
		assert.LessOrEqual(t, b.Confidence, 1.0)
	}
}

func TestParseBufferSelectionMethods(t *testing.T) {
	t.Parallel()

	const sampleRate = 44100
	samples := clickTrack(120, sampleRate, sampleRate*10)
	ctx := context.Background()

	for _, method := range []model.SelectionMethod{
		model.SelectionUniform,
		model.SelectionEnergy,
		model.SelectionAdaptive,
		model.SelectionRegular,
	} {
		t.Run(string(method), func(t *testing.T) {
			p := New(conf.ParserSettings{})
			result, err := p.ParseBuffer(ctx, samples, model.ParseOptions{
				SelectionMethod:    method,
				TargetPictureCount: 8,
			})
			require.NoError(t, err)
			require.NotEmpty(t, result.Beats)
			assert.LessOrEqual(t, len(result.Beats), 8)
			assert.True(t, sort.SliceIsSorted(result.Beats, func(i, j int) bool {
				return result.Beats[i].Timestamp < result.Beats[j].Timestamp
			}))
		})
	}
}

func TestParseBufferProgressMonotone(t *testing.T) {
	t.Parallel()

	samples := clickTrack(120, 44100, 44100*4)

	var reports []float64
	p := New(conf.ParserSettings{})
	_, err := p.ParseBuffer(context.Background(), samples, model.ParseOptions{
		Progress: func(percent float64) {
			reports = append(reports, percent)
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, reports)

	for i, pct := range reports {
		assert.GreaterOrEqual(t, pct, 0.0)
		assert.LessOrEqual(t, pct, 100.0)
		if i > 0 {
			assert.GreaterOrEqual(t, pct, reports[i-1], "progress must never decrease")
		}
	}
	assert.Equal(t, 100.0, reports[len(reports)-1])
}

func TestParseBufferProgressPanicIgnored(t *testing.T) {
	t.Parallel()

	samples := clickTrack(120, 44100, 44100*2)

	p := New(conf.ParserSettings{})
	result, err := p.ParseBuffer(context.Background(), samples, model.ParseOptions{
		Progress: func(float64) { panic("observer bug") },
	})
	require.NoError(t, err, "progress callback panics must not abort processing")
	require.NotNil(t, result)
}

func TestParseBufferCancellation(t *testing.T) {
	t.Parallel()

	samples := clickTrack(120, 44100, 44100*10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(conf.ParserSettings{})
	_, err := p.ParseBuffer(ctx, samples, model.ParseOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCancellation(err))
}

func TestParseBufferPluginChains(t *testing.T) {
	t.Parallel()

	samples := clickTrack(120, 44100, 44100*5)

	// The audio hook halves amplitude; the beat hook tags each beat.
	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "attenuator", version: "1.0.0",
		audioFn: func(_ context.Context, in []float64) ([]float64, error) {
			out := make([]float64, len(in))
			for i, s := range in {
				out[i] = s * 0.5
			}
			return out, nil
		},
	}))
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "tagger", version: "1.0.0",
		beatsFn: func(_ context.Context, beats []model.Beat) ([]model.Beat, error) {
			for i := range beats {
				if beats[i].Metadata == nil {
					beats[i].Metadata = map[string]any{}
				}
				beats[i].Metadata["tagged"] = true
			}
			return beats, nil
		},
	}))

	result, err := p.ParseBuffer(context.Background(), samples, model.ParseOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Beats)
	for _, b := range result.Beats {
		assert.Equal(t, true, b.Metadata["tagged"])
	}
	assert.Equal(t, []string{"attenuator", "tagger"}, result.Metadata.Plugins)
}

func TestParseFile(t *testing.T) {
	t.Parallel()

	path := writeClickWAV(t, 120, 44100, 44100*5)

	p := New(conf.ParserSettings{})
	result, err := p.ParseFile(context.Background(), path, model.ParseOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Beats)
	assert.Equal(t, path, result.Metadata.Filename)
	assert.Equal(t, 44100, result.Metadata.SampleRate)
}

func TestParseFileNotFound(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	_, err := p.ParseFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), model.ParseOptions{})
	require.ErrorIs(t, err, internalaudio.ErrFileNotFound)
}

func TestParseStream(t *testing.T) {
	t.Parallel()

	samples := clickTrack(120, 44100, 44100*5)
	var buf bytes.Buffer
	for _, s := range samples {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(s)))
		buf.Write(b[:])
	}

	var reports []float64
	p := New(conf.ParserSettings{})
	result, err := p.ParseStream(context.Background(), &buf, model.StreamOptions{
		ChunkSize: 8192,
		Progress: func(percent float64) {
			reports = append(reports, percent)
		},
	}, model.ParseOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Beats)
	assert.Equal(t, len(samples), result.Metadata.SampleCount)

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
	assert.Equal(t, 100.0, reports[len(reports)-1])
}

func TestParseStreamInvalidOptions(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	ctx := context.Background()

	_, err := p.ParseStream(ctx, bytes.NewReader(nil), model.StreamOptions{ChunkSize: 0}, model.ParseOptions{})
	require.Error(t, err)

	_, err = p.ParseStream(ctx, bytes.NewReader(nil), model.StreamOptions{ChunkSize: 1024, Overlap: 1.5}, model.ParseOptions{})
	require.Error(t, err)
}

func TestParseStreamCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(conf.ParserSettings{})
	_, err := p.ParseStream(ctx, bytes.NewReader(make([]byte, 1<<20)), model.StreamOptions{ChunkSize: 1024}, model.ParseOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCancellation(err))
}

func TestVersionAndSupportedFormats(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, Version())
	formats := SupportedFormats()
	assert.Contains(t, formats, ".wav")
	assert.Contains(t, formats, ".flac")
}

// writeClickWAV encodes a click track as a 16-bit mono WAV in a temp dir.
func writeClickWAV(t *testing.T, bpm float64, sampleRate, length int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "click.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	samples := clickTrack(bpm, sampleRate, length)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s * 32767)
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}
