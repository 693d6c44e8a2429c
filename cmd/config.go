package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coal/gazelink/internal/settings"
)

var (
	configFile  string
	configForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create, show and validate settings files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default settings to a YAML file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings after defaults and environment overrides",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a settings file and report the first invalid field",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVar(&configFile, "config", "", "Path to settings YAML file (default: built-in defaults)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

// loadSettings loads path, or the defaults with environment overrides when
// path is empty.
func loadSettings(path string) (settings.Settings, error) {
	if path != "" {
		s, err := settings.LoadFromFile(path)
		if err != nil {
			return settings.Settings{}, fmt.Errorf("loading settings: %w", err)
		}
		return s, nil
	}
	s := settings.Default()
	if err := settings.ApplyEnv(&s); err != nil {
		return settings.Settings{}, err
	}
	return settings.Validate(s)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "configs/gazelink.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := settings.SaveToFile(settings.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote default settings to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(configFile)
	if err != nil {
		return err
	}
	out, err := settings.Marshal(s)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s", out)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	s, err := settings.LoadFromFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n  %s is valid\n", args[0])
	fmt.Fprintf(os.Stderr, "  Tracker:   %s (%d Hz, %s eye)\n", s.HostIP, s.SampleRate, s.EyeTracked)
	fmt.Fprintf(os.Stderr, "  Data file: %s\n", s.DataFileName())
	fmt.Fprintf(os.Stderr, "  Screen:    %dx%d px, %gx%g mm\n\n", s.ScreenRes[0], s.ScreenRes[1], s.ScreenWidth, s.ScreenHeight)
	return nil
}
