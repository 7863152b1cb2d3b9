package beatparser

import "github.com/beatscan/beatscan-go/internal/audio"

// version is overridden at build time via -ldflags.
var version = "dev"

// Version returns the library version string.
func Version() string {
	return version
}

// SupportedFormats returns the audio file extensions ParseFile accepts.
func SupportedFormats() []string {
	return audio.SupportedFormats()
}
