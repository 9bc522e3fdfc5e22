package cmd

import (
	"os"

	"github.com/Sharif2023/StudyNest-sub001/internal/config"
	"github.com/Sharif2023/StudyNest-sub001/internal/ui"
	"github.com/Sharif2023/StudyNest-sub001/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagServerURL string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studyroom",
	Short: "Peer-to-peer study rooms over WebRTC",
	Long: `StudyRoom runs small video study rooms. Every participant connects directly to
every other participant over WebRTC; a lightweight hub only relays signaling,
hand raises and fallback chat.

Run "studyroom serve" once, then "studyroom join <room>" from every machine.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagServerURL, "server", "", "Hub websocket URL (e.g. wss://rooms.example.com/ws)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// loadConfig merges command-line overrides into the file/env configuration.
func loadConfig(opts config.Options) (*config.Config, error) {
	opts.ConfigPath = flagConfig
	opts.ServerURL = flagServerURL
	return config.Load(opts)
}
