// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "BeatScan-Go")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "beatscan.log")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	viper.SetDefault("parser.samplerate", 44100)
	viper.SetDefault("parser.framesize", 2048)
	viper.SetDefault("parser.hopsize", 512)
	viper.SetDefault("parser.mintempo", 60.0)
	viper.SetDefault("parser.maxtempo", 180.0)
	viper.SetDefault("parser.onsetweight", 1.0)
	viper.SetDefault("parser.spectralweight", 1.0)
	viper.SetDefault("parser.tempoweight", 1.0)
	viper.SetDefault("parser.confidencethreshold", 0.3)
	viper.SetDefault("parser.outputformat", "json")

	viper.SetDefault("offload.timeout", 30*time.Second)
	viper.SetDefault("offload.maxretries", 2)
	viper.SetDefault("offload.retrydelay", 500*time.Millisecond)
	viper.SetDefault("offload.queuesize", 64)

	viper.SetDefault("output.path", "")
	viper.SetDefault("output.type", "json")
}
