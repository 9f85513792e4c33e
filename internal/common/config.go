package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/chatverify/internal/models"
)

// Config represents the application configuration
type Config struct {
	Scenario     ScenarioConfig     `toml:"scenario"`
	Logging      LoggingConfig      `toml:"logging"`
	TargetServer TargetServerConfig `toml:"target_server"`
	Storage      StorageConfig      `toml:"storage"`
	Report       ReportConfig       `toml:"report"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// ScenarioConfig describes the verification run. Unset optional fields fall
// back to the selected preset.
type ScenarioConfig struct {
	Name              string `toml:"name" validate:"oneof=full generate"`              // Preset: "full" or "generate"
	TargetURL         string `toml:"target_url" validate:"required,url"`               // Address of the chat application
	Prompt            string `toml:"prompt" validate:"required"`                       // Text entered into the prompt field
	Headless          bool   `toml:"headless"`                                         // Run Chrome without a window
	LogResponses      *bool  `toml:"log_responses"`                                    // Log /api/generate responses
	AwaitResponse     *bool  `toml:"await_response"`                                   // Arm a response wait before clicking Generate
	VerifyClear       *bool  `toml:"verify_clear"`                                     // Click New Chat and verify the conversation cleared
	ResponseTimeout   string `toml:"response_timeout" validate:"omitempty,duration"`   // e.g. "30s"
	AssertionTimeout  string `toml:"assertion_timeout" validate:"omitempty,duration"`  // Default visibility assertion timeout
	ActionTimeout     string `toml:"action_timeout" validate:"omitempty,duration"`     // Locator resolution timeout for fill/click
	NavigationTimeout string `toml:"navigation_timeout" validate:"omitempty,duration"` // Page load timeout
	ArtifactsDir      string `toml:"artifacts_dir"`                                    // Directory screenshots are written to
	CaptureTranscript bool   `toml:"capture_transcript"`                               // Write a markdown transcript next to each screenshot
	WindowWidth       int    `toml:"window_width" validate:"gte=0"`
	WindowHeight      int    `toml:"window_height" validate:"gte=0"`
	ChromePath        string `toml:"chrome_path"` // Explicit Chrome/Chromium binary (default: auto-detect)
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=trace debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output" validate:"dive,oneof=stdout console file"`   // "stdout", "file"
	Dir    string   `toml:"dir"`                                                // Log and crash file directory
}

// TargetServerConfig optionally starts the application under test before the run
type TargetServerConfig struct {
	Enabled        bool     `toml:"enabled"`
	Command        []string `toml:"command" validate:"required_if=Enabled true"` // argv, e.g. ["pnpm", "dev"]
	Dir            string   `toml:"dir"`                                         // Working directory for the command
	URL            string   `toml:"url" validate:"omitempty,url"`                // Readiness URL (default: scenario target_url)
	ReuseExisting  bool     `toml:"reuse_existing"`                              // Use an instance that is already answering
	StartupTimeout string   `toml:"startup_timeout" validate:"omitempty,duration"`
	LogFile        string   `toml:"log_file"` // Command output (default: discarded)
}

// StorageConfig controls the run history
type StorageConfig struct {
	Enabled bool         `toml:"enabled"`
	Type    string       `toml:"type" validate:"omitempty,oneof=badger"`
	Badger  BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete run history on startup
}

type ReportConfig struct {
	Path   string `toml:"path"`                                        // Empty disables the report
	Format string `toml:"format" validate:"omitempty,oneof=json yaml"` // Default: derived from the path extension
}

type MetricsConfig struct {
	Textfile string `toml:"textfile"` // Prometheus textfile collector output; empty disables
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			Name:         models.ScenarioFull,
			TargetURL:    models.DefaultTargetURL,
			Prompt:       models.DefaultPrompt,
			Headless:     true,
			ArtifactsDir: ".",
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
			Dir:    "./logs",
		},
		TargetServer: TargetServerConfig{
			Enabled:        false,
			ReuseExisting:  true,
			StartupTimeout: "60s",
		},
		Storage: StorageConfig{
			Enabled: false,
			Type:    "badger",
			Badger: BadgerConfig{
				Path: "./data/history",
			},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Scenario configuration
	if name := os.Getenv("CHATVERIFY_SCENARIO"); name != "" {
		config.Scenario.Name = name
	}
	if url := os.Getenv("CHATVERIFY_TARGET_URL"); url != "" {
		config.Scenario.TargetURL = url
	}
	if prompt := os.Getenv("CHATVERIFY_PROMPT"); prompt != "" {
		config.Scenario.Prompt = prompt
	}
	if headless := os.Getenv("CHATVERIFY_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Scenario.Headless = b
		}
	}
	if logResponses := os.Getenv("CHATVERIFY_LOG_RESPONSES"); logResponses != "" {
		if b, err := strconv.ParseBool(logResponses); err == nil {
			config.Scenario.LogResponses = &b
		}
	}
	if verifyClear := os.Getenv("CHATVERIFY_VERIFY_CLEAR"); verifyClear != "" {
		if b, err := strconv.ParseBool(verifyClear); err == nil {
			config.Scenario.VerifyClear = &b
		}
	}
	if await := os.Getenv("CHATVERIFY_AWAIT_RESPONSE"); await != "" {
		if b, err := strconv.ParseBool(await); err == nil {
			config.Scenario.AwaitResponse = &b
		}
	}
	if transcript := os.Getenv("CHATVERIFY_CAPTURE_TRANSCRIPT"); transcript != "" {
		if b, err := strconv.ParseBool(transcript); err == nil {
			config.Scenario.CaptureTranscript = b
		}
	}
	// Timeouts stay strings here so Validate rejects malformed values
	if timeout := os.Getenv("CHATVERIFY_RESPONSE_TIMEOUT"); timeout != "" {
		config.Scenario.ResponseTimeout = timeout
	}
	if timeout := os.Getenv("CHATVERIFY_ASSERTION_TIMEOUT"); timeout != "" {
		config.Scenario.AssertionTimeout = timeout
	}
	if timeout := os.Getenv("CHATVERIFY_ACTION_TIMEOUT"); timeout != "" {
		config.Scenario.ActionTimeout = timeout
	}
	if timeout := os.Getenv("CHATVERIFY_NAVIGATION_TIMEOUT"); timeout != "" {
		config.Scenario.NavigationTimeout = timeout
	}
	if dir := os.Getenv("CHATVERIFY_ARTIFACTS_DIR"); dir != "" {
		config.Scenario.ArtifactsDir = dir
	}
	if chrome := os.Getenv("CHATVERIFY_CHROME_PATH"); chrome != "" {
		config.Scenario.ChromePath = chrome
	}

	// Logging configuration
	if level := os.Getenv("CHATVERIFY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CHATVERIFY_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	// Outputs
	if path := os.Getenv("CHATVERIFY_REPORT_PATH"); path != "" {
		config.Report.Path = path
	}
	if path := os.Getenv("CHATVERIFY_STORAGE_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if path := os.Getenv("CHATVERIFY_METRICS_TEXTFILE"); path != "" {
		config.Metrics.Textfile = path
	}
}

// FlagOverrides carries command-line values. Nil fields were not set on the command line.
type FlagOverrides struct {
	TargetURL    *string
	Scenario     *string
	Prompt       *string
	Headless     *bool
	LogResponses *bool
	VerifyClear  *bool
	ArtifactsDir *string
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	// Command-line flags have highest priority
	if flags.TargetURL != nil {
		config.Scenario.TargetURL = *flags.TargetURL
	}
	if flags.Scenario != nil {
		config.Scenario.Name = *flags.Scenario
	}
	if flags.Prompt != nil {
		config.Scenario.Prompt = *flags.Prompt
	}
	if flags.Headless != nil {
		config.Scenario.Headless = *flags.Headless
	}
	if flags.LogResponses != nil {
		config.Scenario.LogResponses = flags.LogResponses
	}
	if flags.VerifyClear != nil {
		config.Scenario.VerifyClear = flags.VerifyClear
	}
	if flags.ArtifactsDir != nil {
		config.Scenario.ArtifactsDir = *flags.ArtifactsDir
	}
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// ScenarioOptions resolves the scenario section against its preset
func (c *Config) ScenarioOptions() (models.ScenarioOptions, error) {
	sc := c.Scenario

	opts, err := models.PresetOptions(sc.Name)
	if err != nil {
		return models.ScenarioOptions{}, err
	}

	opts.TargetURL = sc.TargetURL
	opts.Prompt = sc.Prompt
	opts.Headless = sc.Headless
	opts.ArtifactsDir = sc.ArtifactsDir
	opts.CaptureTranscript = sc.CaptureTranscript
	opts.WindowWidth = sc.WindowWidth
	opts.WindowHeight = sc.WindowHeight
	opts.ChromePath = sc.ChromePath

	if sc.LogResponses != nil {
		opts.LogResponses = *sc.LogResponses
	}
	if sc.AwaitResponse != nil {
		opts.AwaitResponse = *sc.AwaitResponse
	}
	if sc.VerifyClear != nil {
		opts.VerifyClear = *sc.VerifyClear
	}

	durations := []struct {
		value string
		dst   *time.Duration
	}{
		{sc.ResponseTimeout, &opts.ResponseTimeout},
		{sc.AssertionTimeout, &opts.AssertionTimeout},
		{sc.ActionTimeout, &opts.ActionTimeout},
		{sc.NavigationTimeout, &opts.NavigationTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return models.ScenarioOptions{}, fmt.Errorf("invalid duration %q: %w", d.value, err)
		}
		*d.dst = parsed
	}

	return opts, nil
}

// StartupTimeoutDuration returns the parsed target server startup timeout
func (c TargetServerConfig) StartupTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.StartupTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

func splitString(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
