package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/browser"
	"github.com/ternarybob/chatverify/internal/models"
)

// UI contract of the chat application under test
const (
	PromptPlaceholder = "Enter your prompt here..."
	GenerateButton    = "Generate"
	NewChatButton     = "New Chat"
	AssistantMarker   = "AI"
)

// maxLoggedBody caps response bodies written to the log
const maxLoggedBody = 2000

// Page is the browser surface a run needs. *browser.Session implements it.
type Page interface {
	Navigate(url string) error
	Fill(loc browser.Locator, value string) error
	Click(loc browser.Locator) error
	ExpectVisible(loc browser.Locator, timeout time.Duration) error
	ExpectHidden(loc browser.Locator, timeout time.Duration) error
	Screenshot(path string) error
	HTML() (string, error)
	ObserveResponses(pattern string, handler browser.ResponseHandler)
	ExpectResponse(pattern string) browser.ResponseWaiter
	Responses() []models.ObservedResponse
	Close() error
}

// PageOpener acquires a fresh isolated page for one run
type PageOpener func(ctx context.Context, opts models.ScenarioOptions, logger arbor.ILogger) (Page, error)

// OpenChromePage launches a chromedp session for the scenario
func OpenChromePage(ctx context.Context, opts models.ScenarioOptions, logger arbor.ILogger) (Page, error) {
	s, err := browser.NewSession(ctx, browser.OptionsFromScenario(opts), logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Driver runs the verification scenario against a live chat application
type Driver struct {
	opts   models.ScenarioOptions
	logger arbor.ILogger
	open   PageOpener
}

// NewDriver creates a driver that uses Chrome through chromedp
func NewDriver(opts models.ScenarioOptions, logger arbor.ILogger) *Driver {
	return NewDriverWithOpener(opts, logger, OpenChromePage)
}

// NewDriverWithOpener creates a driver with a custom page source
func NewDriverWithOpener(opts models.ScenarioOptions, logger arbor.ILogger, open PageOpener) *Driver {
	return &Driver{
		opts:   opts,
		logger: logger,
		open:   open,
	}
}

// Run executes the scenario against targetURL (the configured target when
// empty). Steps run strictly in order and the first failure aborts the run.
// The page is released exactly once on every path. The returned record is
// complete even when err is non-nil.
func (d *Driver) Run(ctx context.Context, targetURL string) (rec *models.RunRecord, err error) {
	if targetURL == "" {
		targetURL = d.opts.TargetURL
	}
	if targetURL == "" {
		targetURL = models.DefaultTargetURL
	}

	rec = &models.RunRecord{
		ID:        uuid.New().String(),
		Scenario:  d.opts.Name,
		TargetURL: targetURL,
		Prompt:    d.opts.Prompt,
		StartedAt: time.Now(),
	}
	logger := d.logger.WithCorrelationId(rec.ID)

	logger.Info().
		Str("scenario", rec.Scenario).
		Str("target_url", targetURL).
		Bool("log_responses", d.opts.LogResponses).
		Bool("await_response", d.opts.AwaitResponse).
		Bool("verify_clear", d.opts.VerifyClear).
		Msg("Starting verification run")

	r := &run{
		opts:      d.opts,
		targetURL: targetURL,
		logger:    logger,
		record:    rec,
	}

	defer func() {
		rec.FinishedAt = time.Now()
		rec.Passed = err == nil
		if err != nil {
			rec.Error = err.Error()
		}
		logger.Info().
			Str("result", rec.Result()).
			Str("duration", rec.Duration().Round(time.Millisecond).String()).
			Int("artifacts", len(rec.Artifacts)).
			Msg("Verification run finished")
	}()

	openStart := time.Now()
	page, openErr := d.open(ctx, d.opts, logger)
	if openErr != nil {
		return rec, r.fail("open session", KindSession, openStart, openErr)
	}
	r.page = page
	rec.Steps = append(rec.Steps, models.StepResult{
		Name:       "open session",
		Status:     models.StepStatusPassed,
		DurationMs: time.Since(openStart).Milliseconds(),
	})

	defer func() {
		rec.Responses = page.Responses()
		if closeErr := page.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Browser session did not close cleanly")
		}
	}()

	steps := r.steps()
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			err = r.fail(s.name, KindSession, time.Now(), err)
			r.skip(steps[i+1:])
			return rec, err
		}
		if err := r.exec(s); err != nil {
			r.skip(steps[i+1:])
			return rec, err
		}
	}

	return rec, nil
}

type step struct {
	name     string
	fallback Kind
	artifact func() string
	fn       func() error
}

// run carries the state of one Driver.Run call
type run struct {
	opts      models.ScenarioOptions
	targetURL string
	logger    arbor.ILogger
	record    *models.RunRecord
	page      Page
}

func (r *run) steps() []step {
	prompt := browser.Text(r.opts.Prompt)
	assistant := browser.Text(AssistantMarker)

	var steps []step

	if r.opts.LogResponses {
		steps = append(steps, step{name: "observe responses", fallback: KindSession, fn: func() error {
			r.page.ObserveResponses(models.GenerateEndpoint, r.logResponse)
			return nil
		}})
	}

	steps = append(steps,
		step{name: "navigate", fallback: KindSession, fn: func() error {
			return r.page.Navigate(r.targetURL)
		}},
		step{name: "fill prompt", fallback: KindLocator, fn: func() error {
			return r.page.Fill(browser.Placeholder(PromptPlaceholder), r.opts.Prompt)
		}},
		step{name: "click generate", fallback: KindLocator, fn: r.clickGenerate},
		step{name: "expect response visible", fallback: KindAssertion, fn: func() error {
			return r.page.ExpectVisible(assistant, r.opts.ResponseTimeout)
		}},
	)

	if r.opts.VerifyClear {
		steps = append(steps, step{name: "expect prompt visible", fallback: KindAssertion, fn: func() error {
			return r.page.ExpectVisible(prompt, r.opts.AssertionTimeout)
		}})
	}

	steps = append(steps, r.screenshotStep("screenshot response", r.opts.ResponseScreenshot))

	if r.opts.VerifyClear {
		steps = append(steps,
			step{name: "click new chat", fallback: KindLocator, fn: func() error {
				return r.page.Click(browser.Role("button", NewChatButton))
			}},
			step{name: "expect chat cleared", fallback: KindAssertion, fn: func() error {
				if err := r.page.ExpectHidden(assistant, r.opts.AssertionTimeout); err != nil {
					return err
				}
				return r.page.ExpectHidden(prompt, r.opts.AssertionTimeout)
			}},
			r.screenshotStep("screenshot cleared", r.opts.ClearedScreenshot),
		)
	}

	return steps
}

// clickGenerate clicks Generate. With AwaitResponse the response wait is armed
// before the click so the exchange it triggers cannot be missed.
func (r *run) clickGenerate() error {
	generate := browser.Role("button", GenerateButton)
	if !r.opts.AwaitResponse {
		return r.page.Click(generate)
	}

	waiter := r.page.ExpectResponse(models.GenerateEndpoint)
	if err := r.page.Click(generate); err != nil {
		return err
	}
	resp, err := waiter.Wait(r.opts.ResponseTimeout)
	if err != nil {
		return err
	}
	r.logger.Info().
		Str("url", resp.URL).
		Int("status", resp.Status).
		Msg("Generate request completed")
	return nil
}

func (r *run) screenshotStep(name, file string) step {
	path := r.artifactPath(file)
	return step{
		name:     name,
		fallback: KindSession,
		artifact: func() string { return path },
		fn: func() error {
			if err := r.page.Screenshot(path); err != nil {
				return err
			}
			r.record.Artifacts = append(r.record.Artifacts, path)
			if r.opts.CaptureTranscript {
				r.writeTranscript(path)
			}
			return nil
		},
	}
}

func (r *run) artifactPath(file string) string {
	if r.opts.ArtifactsDir == "" {
		return file
	}
	return filepath.Join(r.opts.ArtifactsDir, file)
}

// writeTranscript stores a markdown rendering of the page next to a
// screenshot. It is supplementary evidence and never fails the run.
func (r *run) writeTranscript(screenshotPath string) {
	html, err := r.page.HTML()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to snapshot page for transcript")
		return
	}
	transcript, err := browser.RenderTranscript(html, r.targetURL)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to render transcript")
		return
	}
	path := strings.TrimSuffix(screenshotPath, filepath.Ext(screenshotPath)) + ".md"
	if err := os.WriteFile(path, []byte(transcript+"\n"), 0644); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("Failed to write transcript")
		return
	}
	r.record.Artifacts = append(r.record.Artifacts, path)
}

func (r *run) exec(s step) error {
	start := time.Now()
	r.logger.Debug().Str("step", s.name).Msg("Step started")

	if err := s.fn(); err != nil {
		return r.fail(s.name, s.fallback, start, err)
	}

	result := models.StepResult{
		Name:       s.name,
		Status:     models.StepStatusPassed,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if s.artifact != nil {
		result.Artifact = s.artifact()
	}
	r.record.Steps = append(r.record.Steps, result)

	r.logger.Info().
		Str("step", s.name).
		Int64("duration_ms", result.DurationMs).
		Msg("✓ Step passed")
	return nil
}

func (r *run) fail(name string, fallback Kind, start time.Time, err error) error {
	kind := classify(err, fallback)
	stepErr := &StepError{Step: name, Kind: kind, Err: err}

	r.record.FailedStep = name
	r.record.Steps = append(r.record.Steps, models.StepResult{
		Name:       name,
		Status:     models.StepStatusFailed,
		DurationMs: time.Since(start).Milliseconds(),
		Kind:       string(kind),
		Error:      err.Error(),
	})

	r.logger.Error().
		Err(err).
		Str("step", name).
		Str("kind", string(kind)).
		Msg("✗ Step failed")
	return stepErr
}

// skip records the steps that never ran after a failure
func (r *run) skip(steps []step) {
	for _, s := range steps {
		r.record.Steps = append(r.record.Steps, models.StepResult{
			Name:   s.name,
			Status: models.StepStatusSkipped,
		})
	}
}

// truncateBody cuts s to at most n bytes on a rune boundary
func truncateBody(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... (%d bytes)", len(s))
}

func (r *run) logResponse(resp models.ObservedResponse) {
	body := resp.Text
	if resp.IsJSON {
		if compact, err := json.Marshal(resp.JSON); err == nil {
			body = string(compact)
		}
	}
	body = truncateBody(body, maxLoggedBody)

	event := r.logger.Info().
		Str("url", resp.URL).
		Int("status", resp.Status).
		Bool("json", resp.IsJSON).
		Str("body", body)
	if resp.BodyError != "" {
		event = event.Str("body_error", resp.BodyError)
	}
	event.Msg("Observed generate response")
}
