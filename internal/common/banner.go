package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved run target
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("chatverify", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("scenario", config.Scenario.Name).
		Str("target_url", config.Scenario.TargetURL).
		Bool("headless", config.Scenario.Headless).
		Msg("chatverify starting")
}
