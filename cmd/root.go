package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/beatscan/beatscan-go/cmd/analyze"
	"github.com/beatscan/beatscan-go/cmd/batch"
	"github.com/beatscan/beatscan-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beatscan",
		Short: "BeatScan-Go CLI",
		Long:  `BeatScan-Go detects beats and estimates tempo in audio files.`,
	}

	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		analyze.Command(settings),
		batch.Command(settings),
		versionCommand(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

func versionCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("BeatScan-Go %s (built %s)\n", settings.Version, settings.BuildDate)
		},
	}
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().IntVar(&settings.Parser.SampleRate, "samplerate", viper.GetInt("parser.samplerate"), "Sample rate assumed for raw buffers, in Hz")
	rootCmd.PersistentFlags().IntVar(&settings.Parser.FrameSize, "framesize", viper.GetInt("parser.framesize"), "Analysis window length in samples")
	rootCmd.PersistentFlags().IntVar(&settings.Parser.HopSize, "hopsize", viper.GetInt("parser.hopsize"), "Stride between analysis windows in samples")
	rootCmd.PersistentFlags().Float64Var(&settings.Parser.MinTempo, "mintempo", viper.GetFloat64("parser.mintempo"), "Lowest tempo considered, in BPM")
	rootCmd.PersistentFlags().Float64Var(&settings.Parser.MaxTempo, "maxtempo", viper.GetFloat64("parser.maxtempo"), "Highest tempo considered, in BPM")
	rootCmd.PersistentFlags().Float64VarP(&settings.Parser.ConfidenceThreshold, "threshold", "t", viper.GetFloat64("parser.confidencethreshold"), "Minimum confidence for beat candidates, between 0.0 and 1.0")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		cobra.CheckErr(fmt.Errorf("error binding flags: %w", err))
	}
}
