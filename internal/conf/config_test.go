package conf

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSettings(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	setDefaultConfig()
	settings := &Settings{}
	require.NoError(t, viper.Unmarshal(settings))
	return settings
}

func TestDefaultsAreValid(t *testing.T) {
	settings := defaultSettings(t)

	require.NoError(t, ValidateSettings(settings))
	assert.Equal(t, 44100, settings.Parser.SampleRate)
	assert.Equal(t, 2048, settings.Parser.FrameSize)
	assert.Equal(t, 512, settings.Parser.HopSize)
	assert.InDelta(t, 60.0, settings.Parser.MinTempo, 1e-9)
	assert.InDelta(t, 180.0, settings.Parser.MaxTempo, 1e-9)
	assert.Equal(t, 30*time.Second, settings.Offload.Timeout)
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero_sample_rate", func(s *Settings) { s.Parser.SampleRate = 0 }},
		{"zero_frame_size", func(s *Settings) { s.Parser.FrameSize = 0 }},
		{"negative_hop_size", func(s *Settings) { s.Parser.HopSize = -1 }},
		{"inverted_tempo_range", func(s *Settings) { s.Parser.MinTempo = 200; s.Parser.MaxTempo = 100 }},
		{"confidence_above_one", func(s *Settings) { s.Parser.ConfidenceThreshold = 1.5 }},
		{"zero_timeout", func(s *Settings) { s.Offload.Timeout = 0 }},
		{"negative_retries", func(s *Settings) { s.Offload.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := defaultSettings(t)
			tt.mutate(settings)
			assert.Error(t, ValidateSettings(settings))
		})
	}
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	settings := defaultSettings(t)
	settings.Main.Name = "test-node"

	path := filepath.Join(t.TempDir(), "beatscan.yaml")
	require.NoError(t, SaveYAMLConfig(path, settings))

	viper.Reset()
	viper.SetConfigFile(path)
	setDefaultConfig()
	require.NoError(t, viper.ReadInConfig())

	loaded := &Settings{}
	require.NoError(t, viper.Unmarshal(loaded))
	assert.Equal(t, "test-node", loaded.Main.Name)
	assert.Equal(t, settings.Parser.FrameSize, loaded.Parser.FrameSize)
}
