package audio

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tphakala/flac"

	"github.com/beatscan/beatscan-go/internal/errors"
)

// Sentinel errors for file decoding
var (
	ErrFileNotFound     = errors.NewStd("audio file not found")
	ErrUnsupportedExt   = errors.NewStd("unsupported audio file extension")
	ErrUnsupportedCodec = errors.NewStd("no decoder available for this audio format")
	ErrCorruptFile      = errors.NewStd("audio file appears to be corrupted")
)

// supportedExtensions is the allow-list checked before any decoder runs.
// Matching is case-insensitive on the final extension only.
var supportedExtensions = []string{".wav", ".mp3", ".flac", ".ogg", ".m4a"}

// SupportedFormats returns the file extensions accepted by Decode.
func SupportedFormats() []string {
	out := make([]string, len(supportedExtensions))
	copy(out, supportedExtensions)
	return out
}

// decodeCache holds recently decoded files so repeated ParseFile calls on the
// same path skip the disk read.
var decodeCache = gocache.New(5*time.Minute, 10*time.Minute)

// Decode reads an audio file into a mono float64 sample buffer. The file
// extension must be on the supported-format allow-list; wav and flac are
// decoded natively, the remaining formats require an external decoder
// collaborator and yield ErrUnsupportedCodec.
func Decode(path string) (*Data, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !isSupportedExtension(ext) {
		return nil, errors.Newf("%w: %q", ErrUnsupportedExt, ext).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			Context("extension", ext).
			Build()
	}

	if ext != ".wav" && ext != ".flac" {
		return nil, errors.Newf("%w: %q", ErrUnsupportedCodec, ext).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			Context("extension", ext).
			Build()
	}

	if abs, err := filepath.Abs(path); err == nil {
		if cached, found := decodeCache.Get(abs); found {
			return cached.(*Data), nil
		}
	}

	file, err := os.Open(path) //nolint:gosec // G304: path has passed the extension allow-list
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf("%w: %s", ErrFileNotFound, filepath.Base(path)).
				Component("audio").
				Category(errors.CategoryFileIO).
				Build()
		}
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryFileIO).
			Context("operation", "open_audio_file").
			Build()
	}
	defer file.Close() //nolint:errcheck // read-only file

	var data *Data
	if ext == ".wav" {
		data, err = decodeWAV(file)
	} else {
		data, err = decodeFLAC(file)
	}
	if err != nil {
		return nil, err
	}

	if abs, absErr := filepath.Abs(path); absErr == nil {
		decodeCache.Set(abs, data, gocache.DefaultExpiration)
	}
	return data, nil
}

// FlushDecodeCache drops all cached decoded buffers.
func FlushDecodeCache() {
	decodeCache.Flush()
}

func isSupportedExtension(ext string) bool {
	for _, s := range supportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// getAudioDivisor returns the conversion factor for normalizing integer
// samples of the given bit depth to [-1, 1].
func getAudioDivisor(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, errors.Newf("%w: unsupported bit depth %d", ErrCorruptFile, bitDepth).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			Context("bit_depth", bitDepth).
			Build()
	}
}

func decodeWAV(file *os.File) (*Data, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("%w: input is not a valid WAV file", ErrCorruptFile).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			Build()
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, err
	}

	sampleRate := int(decoder.SampleRate)
	channels := int(decoder.NumChans)
	if channels <= 0 {
		channels = 1
	}

	const readChunk = 8192
	buf := &goaudio.IntBuffer{
		Data:   make([]int, readChunk*channels),
		Format: &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
	}

	var samples []float64
	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, errors.Newf("%w: %v", ErrCorruptFile, err).
				Component("audio").
				Category(errors.CategoryAudioDecode).
				Build()
		}
		if n == 0 {
			break
		}
		// Downmix interleaved channels to mono
		for i := 0; i+channels <= n; i += channels {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += float64(buf.Data[i+c])
			}
			samples = append(samples, sum/float64(channels)/divisor)
		}
	}

	return &Data{Samples: samples, SampleRate: sampleRate}, nil
}

func decodeFLAC(file *os.File) (*Data, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return nil, errors.Newf("%w: %v", ErrCorruptFile, err).
			Component("audio").
			Category(errors.CategoryAudioDecode).
			Build()
	}

	divisor, err := getAudioDivisor(decoder.BitsPerSample)
	if err != nil {
		return nil, err
	}

	bytesPerSample := decoder.BitsPerSample / 8
	channels := decoder.NChannels
	if channels <= 0 {
		channels = 1
	}

	var samples []float64
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.Newf("%w: %v", ErrCorruptFile, err).
				Component("audio").
				Category(errors.CategoryAudioDecode).
				Build()
		}

		stride := bytesPerSample * channels
		for i := 0; i+stride <= len(frame); i += stride {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += float64(decodeFLACSample(frame[i+c*bytesPerSample:], decoder.BitsPerSample))
			}
			samples = append(samples, sum/float64(channels)/divisor)
		}
	}

	return &Data{Samples: samples, SampleRate: decoder.SampleRate}, nil
}

// decodeFLACSample reads one little-endian PCM sample of the given bit depth.
func decodeFLACSample(b []byte, bitsPerSample int) int32 {
	switch bitsPerSample {
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return v
	case 32:
		return int32(binary.LittleEndian.Uint32(b))
	default:
		return 0
	}
}
