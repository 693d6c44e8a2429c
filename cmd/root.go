package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "gazelink",
	Short: "gazelink: eye tracker acquisition for experiments",
	Long: `gazelink connects to an eye tracker over its host link, configures it,
records gaze samples and events to the tracker's data file while buffering
them live, and always tries to bring the data file home on shutdown.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("gazelink v%s\n", Version)
	},
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "gazelink").Logger()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
