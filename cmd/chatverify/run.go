package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/chatverify/internal/common"
	"github.com/ternarybob/chatverify/internal/metrics"
	"github.com/ternarybob/chatverify/internal/models"
	"github.com/ternarybob/chatverify/internal/report"
	"github.com/ternarybob/chatverify/internal/storage"
	"github.com/ternarybob/chatverify/internal/targetserver"
	"github.com/ternarybob/chatverify/internal/verify"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the verification scenario against the chat application",
	Long: `Opens a fresh browser, submits the prompt, waits for the assistant response and,
for the "full" scenario, checks that New Chat clears the conversation.

Exits 0 when every step passed and 1 on the first failed step.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

var (
	runTargetURL    string
	runScenario     string
	runPrompt       string
	runHeadless     bool
	runLogResponses bool
	runVerifyClear  bool
	runArtifactsDir string
)

func init() {
	f := runCmd.Flags()
	f.StringVar(&runTargetURL, "url", "", "Chat application URL (overrides config)")
	f.StringVar(&runScenario, "scenario", "", `Scenario preset: "full" or "generate" (overrides config)`)
	f.StringVar(&runPrompt, "prompt", "", "Prompt text to submit (overrides config)")
	f.BoolVar(&runHeadless, "headless", true, "Run the browser without a window")
	f.BoolVar(&runLogResponses, "log-responses", false, "Log /api/generate responses")
	f.BoolVar(&runVerifyClear, "verify-clear", false, "Verify that New Chat clears the conversation")
	f.StringVar(&runArtifactsDir, "artifacts-dir", "", "Directory for screenshots (overrides config)")
}

// flagOverrides collects only the flags set on the command line
func flagOverrides(cmd *cobra.Command) common.FlagOverrides {
	var o common.FlagOverrides
	f := cmd.Flags()
	if f.Changed("url") {
		o.TargetURL = &runTargetURL
	}
	if f.Changed("scenario") {
		o.Scenario = &runScenario
	}
	if f.Changed("prompt") {
		o.Prompt = &runPrompt
	}
	if f.Changed("headless") {
		o.Headless = &runHeadless
	}
	if f.Changed("log-responses") {
		o.LogResponses = &runLogResponses
	}
	if f.Changed("verify-clear") {
		o.VerifyClear = &runVerifyClear
	}
	if f.Changed("artifacts-dir") {
		o.ArtifactsDir = &runArtifactsDir
	}
	return o
}

func runVerify(cmd *cobra.Command, args []string) error {
	common.ApplyFlagOverrides(config, flagOverrides(cmd))
	initLogging()

	if err := config.Validate(); err != nil {
		return err
	}
	opts, err := config.ScenarioOptions()
	if err != nil {
		return err
	}

	common.PrintBanner(config, logger)
	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Bool("target_server", config.TargetServer.Enabled).
		Bool("storage", config.Storage.Enabled).
		Msg("Resolved configuration")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if config.TargetServer.Enabled {
		server, err := startTargetServer(ctx, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Warn().Err(err).Msg("Target server did not stop cleanly")
			}
		}()
	}

	rec, runErr := verify.NewDriver(opts, logger).Run(ctx, opts.TargetURL)
	publish(ctx, rec)

	if runErr != nil {
		return errRunFailed
	}
	return nil
}

func startTargetServer(ctx context.Context, opts models.ScenarioOptions) (*targetserver.Server, error) {
	serverOpts := targetserver.OptionsFromConfig(config.TargetServer)
	if serverOpts.URL == "" {
		serverOpts.URL = opts.TargetURL
	}
	server := targetserver.New(serverOpts, logger)
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	return server, nil
}

// publish writes the report, metrics and history of a finished run. Output
// failures are logged and never change the run outcome.
func publish(ctx context.Context, rec *models.RunRecord) {
	if path := config.Report.Path; path != "" {
		if err := report.Write(path, config.Report.Format, rec); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to write run report")
		} else {
			logger.Info().Str("path", path).Msg("Run report written")
		}
	}

	if path := config.Metrics.Textfile; path != "" {
		recorder := metrics.NewRecorder()
		recorder.ObserveRun(rec)
		if err := recorder.WriteTextfile(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics textfile")
		}
	}

	if config.Storage.Enabled {
		store, err := storage.NewRunStorage(logger, &config.Storage)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to open run history")
			return
		}
		defer store.Close()
		if err := store.SaveRun(ctx, rec); err != nil {
			logger.Warn().Err(err).Msg("Failed to save run history")
		}
	}
}
