package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zfogg/sidechain/lazyload/internal/config"
	"github.com/zfogg/sidechain/lazyload/internal/logger"
	"github.com/zfogg/sidechain/lazyload/internal/output"
)

var (
	verbose    bool
	configPath string
	outputFmt  string
)

var rootCmd = &cobra.Command{
	Use:   "lazyload",
	Short: "Sidechain lazy image loader",
	Long: `lazyload schedules image downloads for a scrolling feed: images near
the viewport load first, at most a few at a time, and each URL is fetched
only once.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configPath); err != nil {
			return fmt.Errorf("error initializing config: %w", err)
		}

		level := config.GetString("log.level")
		if verbose {
			level = "debug"
		}
		if err := logger.Initialize(level, config.GetString("log.file")); err != nil {
			return fmt.Errorf("error initializing logger: %w", err)
		}

		if cmd.Flags().Changed("output") {
			if !output.ValidateFormat(outputFmt) {
				return fmt.Errorf("invalid output format %q (want text, json or table)", outputFmt)
			}
			config.Set("output.format", outputFmt)
		}
		output.DisableColorUnlessTerminal()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.config/sidechain/lazyload/config.toml)")
	rootCmd.PersistentFlags().StringVar(&outputFmt, "output", "text", "Output format: text, json, table")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}
