// config.go: settings struct and functions to load and save the beatscan-go configuration.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled    bool   // true to enable this log
	Path       string // path to log file
	MaxSize    int    // max log size in MB before rotation
	MaxBackups int    // number of rotated log files to keep
	MaxAge     int    // days to retain rotated log files
}

// ParserSettings contains the frozen defaults for the beat detection pipeline.
type ParserSettings struct {
	SampleRate          int     // expected sample rate of input audio in Hz
	FrameSize           int     // analysis window length in samples
	HopSize             int     // stride between consecutive analysis windows
	MinTempo            float64 // lowest tempo considered by the estimator, BPM
	MaxTempo            float64 // highest tempo considered by the estimator, BPM
	OnsetWeight         float64 // weight of the energy flux term in onset strength
	SpectralWeight      float64 // weight of the spectral flux term in onset strength
	TempoWeight         float64 // scaling applied to periodicity scores
	ConfidenceThreshold float64 // minimum normalized onset prominence for a candidate
	OutputFormat        string  // json or csv
}

// OffloadSettings contains settings for the worker offload client.
type OffloadSettings struct {
	Timeout    time.Duration // per-operation deadline enforced by the client
	MaxRetries int           // transport-level resubmissions before giving up
	RetryDelay time.Duration // delay between transport-level retries
	QueueSize  int           // worker request queue depth
}

// Settings contains all configuration options for the beatscan-go application.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name string    // name of this beatscan-go node
		Log  LogConfig // logging configuration
	}

	Parser  ParserSettings  // beat detection pipeline defaults
	Offload OffloadSettings // offload client configuration

	Input struct {
		Path string `yaml:"-"` // path to input file or directory, runtime value
	} `yaml:"-"`

	Output struct {
		Path string // directory to output results
		Type string // json or csv
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("beatscan")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "beatscan-go"))
	}

	viper.SetEnvPrefix("beatscan")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file present, defaults apply
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		return nil
	}
	return settings
}

// ValidateSettings checks that loaded settings form a usable configuration.
func ValidateSettings(settings *Settings) error {
	p := &settings.Parser
	if p.SampleRate <= 0 {
		return fmt.Errorf("parser.samplerate must be positive, got %d", p.SampleRate)
	}
	if p.FrameSize <= 0 {
		return fmt.Errorf("parser.framesize must be positive, got %d", p.FrameSize)
	}
	if p.HopSize <= 0 {
		return fmt.Errorf("parser.hopsize must be positive, got %d", p.HopSize)
	}
	if p.MinTempo <= 0 || p.MaxTempo <= p.MinTempo {
		return fmt.Errorf("tempo range [%g, %g] is invalid", p.MinTempo, p.MaxTempo)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("parser.confidencethreshold must be within [0, 1], got %g", p.ConfidenceThreshold)
	}
	if settings.Offload.Timeout <= 0 {
		return fmt.Errorf("offload.timeout must be positive, got %v", settings.Offload.Timeout)
	}
	if settings.Offload.MaxRetries < 0 {
		return fmt.Errorf("offload.maxretries must not be negative, got %d", settings.Offload.MaxRetries)
	}
	return nil
}

// SaveYAMLConfig writes the settings to a YAML file at the given path.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configPath, err)
	}
	return nil
}
