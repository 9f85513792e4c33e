package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/browser"
	"github.com/ternarybob/chatverify/internal/models"
)

// fakePage records every call and fails the ones listed in errs
type fakePage struct {
	calls     []string
	errs      map[string]error
	closed    int
	html      string
	responses []models.ObservedResponse
	handlers  []browser.ResponseHandler
	response  *models.ObservedResponse
}

func newFakePage() *fakePage {
	return &fakePage{errs: map[string]error{}}
}

func (f *fakePage) record(call string) error {
	f.calls = append(f.calls, call)
	return f.errs[call]
}

func (f *fakePage) Navigate(url string) error { return f.record("navigate " + url) }

func (f *fakePage) Fill(loc browser.Locator, value string) error {
	return f.record(fmt.Sprintf("fill %s %s", loc, value))
}

func (f *fakePage) Click(loc browser.Locator) error { return f.record("click " + loc.String()) }

func (f *fakePage) ExpectVisible(loc browser.Locator, timeout time.Duration) error {
	return f.record(fmt.Sprintf("visible %s %v", loc, timeout))
}

func (f *fakePage) ExpectHidden(loc browser.Locator, timeout time.Duration) error {
	return f.record(fmt.Sprintf("hidden %s %v", loc, timeout))
}

func (f *fakePage) Screenshot(path string) error {
	if err := f.record("screenshot " + filepath.Base(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("png"), 0644)
}

func (f *fakePage) HTML() (string, error) { return f.html, f.record("html") }

func (f *fakePage) ObserveResponses(pattern string, handler browser.ResponseHandler) {
	f.handlers = append(f.handlers, handler)
	f.record("observe " + pattern)
}

func (f *fakePage) ExpectResponse(pattern string) browser.ResponseWaiter {
	f.record("expect-response " + pattern)
	return fakeWaiter{page: f}
}

func (f *fakePage) Responses() []models.ObservedResponse { return f.responses }

func (f *fakePage) Close() error {
	f.closed++
	return nil
}

type fakeWaiter struct {
	page *fakePage
}

func (w fakeWaiter) Wait(timeout time.Duration) (models.ObservedResponse, error) {
	if err := w.page.record(fmt.Sprintf("wait-response %v", timeout)); err != nil {
		return models.ObservedResponse{}, err
	}
	resp := *w.page.response
	w.page.responses = append(w.page.responses, resp)
	for _, h := range w.page.handlers {
		h(resp)
	}
	return resp, nil
}

func testOptions(t *testing.T, name string) models.ScenarioOptions {
	t.Helper()
	opts, err := models.PresetOptions(name)
	require.NoError(t, err)
	opts.ArtifactsDir = t.TempDir()
	return opts
}

func openerFor(page *fakePage) PageOpener {
	return func(ctx context.Context, opts models.ScenarioOptions, logger arbor.ILogger) (Page, error) {
		return page, nil
	}
}

func stepNames(rec *models.RunRecord) []string {
	names := make([]string, 0, len(rec.Steps))
	for _, s := range rec.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestDriver_FullScenario(t *testing.T) {
	opts := testOptions(t, models.ScenarioFull)
	page := newFakePage()
	driver := NewDriverWithOpener(opts, arbor.NewLogger(), openerFor(page))

	rec, err := driver.Run(context.Background(), "http://localhost:3000")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"navigate http://localhost:3000",
		`fill placeholder="Enter your prompt here..." Hello, world!`,
		`click role=button[name="Generate"]`,
		`visible text="AI" 30s`,
		`visible text="Hello, world!" 5s`,
		"screenshot response_visible.png",
		`click role=button[name="New Chat"]`,
		`hidden text="AI" 5s`,
		`hidden text="Hello, world!" 5s`,
		"screenshot chat_cleared.png",
	}, page.calls)

	assert.Equal(t, 1, page.closed)
	assert.True(t, rec.Passed)
	assert.Empty(t, rec.FailedStep)
	assert.Equal(t, []string{
		filepath.Join(opts.ArtifactsDir, "response_visible.png"),
		filepath.Join(opts.ArtifactsDir, "chat_cleared.png"),
	}, rec.Artifacts)
	assert.Equal(t, []string{
		"open session",
		"navigate",
		"fill prompt",
		"click generate",
		"expect response visible",
		"expect prompt visible",
		"screenshot response",
		"click new chat",
		"expect chat cleared",
		"screenshot cleared",
	}, stepNames(rec))
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
	assert.NotEmpty(t, rec.ID)
}

func TestDriver_GenerateScenarioArmsWaitBeforeClick(t *testing.T) {
	opts := testOptions(t, models.ScenarioGenerate)
	page := newFakePage()
	page.response = &models.ObservedResponse{
		URL:    "http://localhost:3000/api/generate",
		Status: 200,
		IsJSON: true,
		JSON:   map[string]any{"text": "hi"},
	}
	driver := NewDriverWithOpener(opts, arbor.NewLogger(), openerFor(page))

	rec, err := driver.Run(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"observe /api/generate",
		"navigate http://localhost:3000",
		`fill placeholder="Enter your prompt here..." Hello, world!`,
		"expect-response /api/generate",
		`click role=button[name="Generate"]`,
		"wait-response 20s",
		`visible text="AI" 20s`,
		"screenshot generate_screenshot.png",
	}, page.calls)
	assert.Equal(t, 1, page.closed)
	assert.True(t, rec.Passed)
	require.Len(t, rec.Responses, 1)
	assert.Equal(t, 200, rec.Responses[0].Status)
}

func TestDriver_ChatNotClearedIsAssertionFailure(t *testing.T) {
	opts := testOptions(t, models.ScenarioFull)
	page := newFakePage()
	page.errs[`hidden text="AI" 5s`] = fmt.Errorf(`expected text="AI" to be hidden within 5s: %w`, browser.ErrAssertion)
	driver := NewDriverWithOpener(opts, arbor.NewLogger(), openerFor(page))

	rec, err := driver.Run(context.Background(), "http://localhost:3000")
	require.Error(t, err)

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "expect chat cleared", stepErr.Step)
	assert.Equal(t, KindAssertion, stepErr.Kind)
	assert.ErrorIs(t, err, ErrAssertion)

	// Released once, and the earlier screenshot stays recorded
	assert.Equal(t, 1, page.closed)
	assert.False(t, rec.Passed)
	assert.Equal(t, "expect chat cleared", rec.FailedStep)
	assert.Equal(t, []string{filepath.Join(opts.ArtifactsDir, "response_visible.png")}, rec.Artifacts)
	assert.FileExists(t, filepath.Join(opts.ArtifactsDir, "response_visible.png"))
	assert.NoFileExists(t, filepath.Join(opts.ArtifactsDir, "chat_cleared.png"))
	assert.NotContains(t, page.calls, `hidden text="Hello, world!" 5s`)

	n := len(rec.Steps)
	require.GreaterOrEqual(t, n, 2)
	failed := rec.Steps[n-2]
	assert.Equal(t, "expect chat cleared", failed.Name)
	assert.Equal(t, models.StepStatusFailed, failed.Status)
	assert.Equal(t, "assertion", failed.Kind)
	assert.Equal(t, models.StepResult{Name: "screenshot cleared", Status: models.StepStatusSkipped}, rec.Steps[n-1])
}

func TestDriver_OpenFailure(t *testing.T) {
	opts := testOptions(t, models.ScenarioFull)
	opener := func(ctx context.Context, opts models.ScenarioOptions, logger arbor.ILogger) (Page, error) {
		return nil, errors.New("chrome not found")
	}
	driver := NewDriverWithOpener(opts, arbor.NewLogger(), opener)

	rec, err := driver.Run(context.Background(), "http://localhost:3000")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSession)
	assert.Equal(t, "open session", rec.FailedStep)
	assert.False(t, rec.Passed)
	assert.Len(t, rec.Steps, 1)
}

func TestDriver_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		call     string
		err      error
		wantStep string
		wantKind Kind
	}{
		{
			name:     "navigation failure",
			call:     "navigate http://localhost:3000",
			err:      fmt.Errorf("net::ERR_CONNECTION_REFUSED: %w", browser.ErrSession),
			wantStep: "navigate",
			wantKind: KindSession,
		},
		{
			name:     "prompt input missing",
			call:     `fill placeholder="Enter your prompt here..." Hello, world!`,
			err:      fmt.Errorf("context deadline exceeded: %w", browser.ErrLocator),
			wantStep: "fill prompt",
			wantKind: KindLocator,
		},
		{
			name:     "unclassified error uses the step's kind",
			call:     `click role=button[name="Generate"]`,
			err:      errors.New("boom"),
			wantStep: "click generate",
			wantKind: KindLocator,
		},
		{
			name:     "response never rendered",
			call:     `visible text="AI" 30s`,
			err:      fmt.Errorf("timeout: %w", browser.ErrAssertion),
			wantStep: "expect response visible",
			wantKind: KindAssertion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			page.errs[tt.call] = tt.err
			driver := NewDriverWithOpener(testOptions(t, models.ScenarioFull), arbor.NewLogger(), openerFor(page))

			rec, err := driver.Run(context.Background(), "http://localhost:3000")

			var stepErr *StepError
			require.True(t, errors.As(err, &stepErr))
			assert.Equal(t, tt.wantStep, stepErr.Step)
			assert.Equal(t, tt.wantKind, stepErr.Kind)
			assert.ErrorIs(t, err, tt.wantKind.sentinel())
			assert.Equal(t, tt.call, page.calls[len(page.calls)-1], "no step may run after a failure")
			assert.Equal(t, 1, page.closed)
			assert.Equal(t, tt.wantStep, rec.FailedStep)
		})
	}
}

func TestDriver_CancelledContextStillReleases(t *testing.T) {
	page := newFakePage()
	driver := NewDriverWithOpener(testOptions(t, models.ScenarioFull), arbor.NewLogger(), openerFor(page))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := driver.Run(ctx, "http://localhost:3000")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrSession)
	assert.Empty(t, page.calls)
	assert.Equal(t, 1, page.closed)
}

func TestDriver_Transcript(t *testing.T) {
	opts := testOptions(t, models.ScenarioGenerate)
	opts.AwaitResponse = false
	opts.LogResponses = false
	opts.CaptureTranscript = true

	page := newFakePage()
	page.html = `<html><body><p><b>AI:</b> Hello back</p></body></html>`
	driver := NewDriverWithOpener(opts, arbor.NewLogger(), openerFor(page))

	rec, err := driver.Run(context.Background(), "http://localhost:3000")
	require.NoError(t, err)

	transcript := filepath.Join(opts.ArtifactsDir, "generate_screenshot.md")
	assert.Contains(t, rec.Artifacts, transcript)
	data, err := os.ReadFile(transcript)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**AI:** Hello back")
}

func TestDriver_RepeatedRunsAreIndependent(t *testing.T) {
	opts := testOptions(t, models.ScenarioFull)

	var runs [][]string
	for i := 0; i < 2; i++ {
		page := newFakePage()
		driver := NewDriverWithOpener(opts, arbor.NewLogger(), openerFor(page))
		rec, err := driver.Run(context.Background(), "http://localhost:3000")
		require.NoError(t, err)
		assert.Equal(t, 1, page.closed)
		runs = append(runs, page.calls)
		assert.Len(t, rec.Artifacts, 2)
	}
	assert.Equal(t, runs[0], runs[1])
}

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "hello", n: 10, want: "hello"},
		{name: "exact", in: "hello", n: 5, want: "hello"},
		{name: "ascii", in: "hello world", n: 5, want: "hello... (11 bytes)"},
		{name: "inside two byte rune", in: "aéb", n: 2, want: "a... (4 bytes)"},
		{name: "inside four byte rune", in: "ok👋!", n: 4, want: "ok... (7 bytes)"},
		{name: "on rune boundary", in: "日本語", n: 6, want: "日本... (9 bytes)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateBody(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
