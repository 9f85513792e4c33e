package models

import (
	"fmt"
	"time"
)

// Scenario presets
const (
	ScenarioFull     = "full"
	ScenarioGenerate = "generate"
)

const (
	DefaultTargetURL = "http://localhost:3000"
	DefaultPrompt    = "Hello, world!"

	// GenerateEndpoint is the URL fragment of the generation API observed during a run
	GenerateEndpoint = "/api/generate"

	DefaultAssertionTimeout  = 5 * time.Second
	DefaultActionTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 30 * time.Second
)

// ScenarioOptions is the fully resolved configuration of one verification run
type ScenarioOptions struct {
	Name      string `json:"name" yaml:"name"`
	TargetURL string `json:"target_url" yaml:"target_url"`
	Prompt    string `json:"prompt" yaml:"prompt"`
	Headless  bool   `json:"headless" yaml:"headless"`

	LogResponses  bool `json:"log_responses" yaml:"log_responses"`
	AwaitResponse bool `json:"await_response" yaml:"await_response"`
	VerifyClear   bool `json:"verify_clear" yaml:"verify_clear"`

	ResponseTimeout   time.Duration `json:"response_timeout" yaml:"response_timeout"`
	AssertionTimeout  time.Duration `json:"assertion_timeout" yaml:"assertion_timeout"`
	ActionTimeout     time.Duration `json:"action_timeout" yaml:"action_timeout"`
	NavigationTimeout time.Duration `json:"navigation_timeout" yaml:"navigation_timeout"`

	ArtifactsDir       string `json:"artifacts_dir" yaml:"artifacts_dir"`
	ResponseScreenshot string `json:"response_screenshot" yaml:"response_screenshot"`
	ClearedScreenshot  string `json:"cleared_screenshot,omitempty" yaml:"cleared_screenshot,omitempty"`
	CaptureTranscript  bool   `json:"capture_transcript" yaml:"capture_transcript"`

	WindowWidth  int    `json:"window_width" yaml:"window_width"`
	WindowHeight int    `json:"window_height" yaml:"window_height"`
	ChromePath   string `json:"chrome_path,omitempty" yaml:"chrome_path,omitempty"`
}

// PresetOptions returns the options of a named scenario.
//
// "full" verifies that a response renders next to the prompt and that New Chat
// clears both. "generate" correlates the Generate click with its
// /api/generate response and logs it.
func PresetOptions(name string) (ScenarioOptions, error) {
	base := ScenarioOptions{
		Name:              name,
		TargetURL:         DefaultTargetURL,
		Prompt:            DefaultPrompt,
		Headless:          true,
		AssertionTimeout:  DefaultAssertionTimeout,
		ActionTimeout:     DefaultActionTimeout,
		NavigationTimeout: DefaultNavigationTimeout,
		ArtifactsDir:      ".",
		WindowWidth:       1920,
		WindowHeight:      1080,
	}

	switch name {
	case ScenarioFull:
		base.VerifyClear = true
		base.ResponseTimeout = 30 * time.Second
		base.ResponseScreenshot = "response_visible.png"
		base.ClearedScreenshot = "chat_cleared.png"
	case ScenarioGenerate:
		base.LogResponses = true
		base.AwaitResponse = true
		base.ResponseTimeout = 20 * time.Second
		base.ResponseScreenshot = "generate_screenshot.png"
	default:
		return ScenarioOptions{}, fmt.Errorf("unknown scenario %q (expected %q or %q)", name, ScenarioFull, ScenarioGenerate)
	}

	return base, nil
}
