package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/common"
)

// errRunFailed marks a verification failure that was already logged
var errRunFailed = errors.New("verification failed")

var (
	configFiles []string

	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:           "chatverify",
	Short:         "Drive a real browser through the chat UI and verify it end to end",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Auto-discover config file if not specified
		if len(configFiles) == 0 {
			if _, err := os.Stat("chatverify.toml"); err == nil {
				configFiles = append(configFiles, "chatverify.toml")
			}
		}

		var err error
		config, err = common.LoadFromFiles(configFiles...)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil,
		"Configuration file path (can be specified multiple times, later files override earlier ones)")

	rootCmd.AddCommand(runCmd, historyCmd, versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			if logger != nil {
				logger.Error().Err(err).Msg("chatverify failed")
			} else {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
		os.Exit(1)
	}
}

// initLogging sets up the logger and crash directory once the final
// configuration is known
func initLogging() {
	logger = common.SetupLogger(config)
	common.InstallCrashHandler(config.Logging.Dir)
}
