package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/models"
)

const (
	pollInterval = 100 * time.Millisecond
	// settleTimeout bounds the wait for response bodies still being read
	settleTimeout = 5 * time.Second
)

// Options configures a browser session
type Options struct {
	Headless          bool
	WindowWidth       int
	WindowHeight      int
	ChromePath        string
	ActionTimeout     time.Duration
	NavigationTimeout time.Duration
}

// OptionsFromScenario extracts the browser settings of a scenario
func OptionsFromScenario(opts models.ScenarioOptions) Options {
	return Options{
		Headless:          opts.Headless,
		WindowWidth:       opts.WindowWidth,
		WindowHeight:      opts.WindowHeight,
		ChromePath:        opts.ChromePath,
		ActionTimeout:     opts.ActionTimeout,
		NavigationTimeout: opts.NavigationTimeout,
	}
}

// Session owns one isolated Chrome instance with a single page. Close
// releases it and is safe to call any number of times.
type Session struct {
	ctx      context.Context
	logger   arbor.ILogger
	opts     Options
	observer *ResponseObserver

	cancels   []context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// NewSession starts Chrome, opens a page and enables network events on it
func NewSession(ctx context.Context, opts Options, logger arbor.ILogger) (*Session, error) {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = models.DefaultActionTimeout
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = models.DefaultNavigationTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
	)
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}
	if opts.ChromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromePath))
	}
	// Chrome refuses to start sandboxed as root (CI containers)
	if os.Geteuid() == 0 {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:     browserCtx,
		logger:  logger,
		opts:    opts,
		cancels: []context.CancelFunc{cancelAlloc, cancelBrowser},
	}
	s.observer = newResponseObserver(browserCtx, logger, fetchResponseBody)

	// The first Run launches the browser; network events are needed before any navigation
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w: %w", ErrSession, err)
	}
	chromedp.ListenTarget(browserCtx, s.observer.handleEvent)

	logger.Debug().
		Bool("headless", opts.Headless).
		Int("width", opts.WindowWidth).
		Int("height", opts.WindowHeight).
		Msg("Browser session started")

	return s, nil
}

// Close releases the page, the browser context and the Chrome process
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		// Body reads need the browser, so let them finish before tearing it down
		s.observer.Settle(settleTimeout)
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		// Release in reverse order of acquisition
		for i := len(s.cancels) - 1; i >= 0; i-- {
			s.cancels[i]()
		}
		s.logger.Debug().Msg("Browser session released")
	})
	return s.closeErr
}

// Navigate loads url and waits for the load event
func (s *Session) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w: %w", url, ErrSession, err)
	}
	return nil
}

// Fill replaces the value of the located input with value, producing the same
// input events as typing so that framework-controlled inputs observe it.
func (s *Session) Fill(loc Locator, value string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ActionTimeout)
	defer cancel()

	sel := loc.XPath()
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(sel, chromedp.BySearch),
		chromedp.SetValue(sel, "", chromedp.BySearch),
		chromedp.Focus(sel, chromedp.BySearch),
		input.InsertText(value),
	)
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w: %w", loc, ErrLocator, err)
	}
	return nil
}

// Click waits for the located element to be visible and clicks it
func (s *Session) Click(loc Locator) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.ActionTimeout)
	defer cancel()

	sel := loc.XPath()
	err := chromedp.Run(ctx,
		chromedp.WaitVisible(sel, chromedp.BySearch),
		chromedp.Click(sel, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("failed to click %s: %w: %w", loc, ErrLocator, err)
	}
	return nil
}

// ExpectVisible blocks until an element matching loc is rendered
func (s *Session) ExpectVisible(loc Locator, timeout time.Duration) error {
	return s.expect(loc, true, timeout)
}

// ExpectHidden blocks until no element matching loc is rendered
func (s *Session) ExpectHidden(loc Locator, timeout time.Duration) error {
	return s.expect(loc, false, timeout)
}

func (s *Session) expect(loc Locator, visible bool, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = models.DefaultAssertionTimeout
	}

	var ok bool
	err := chromedp.Run(s.ctx, chromedp.Poll(visibilityScript(loc, visible), &ok,
		chromedp.WithPollingTimeout(timeout),
		chromedp.WithPollingInterval(pollInterval),
	))

	state := "visible"
	if !visible {
		state = "hidden"
	}
	switch {
	case err == nil && ok:
		return nil
	case err == nil, errors.Is(err, chromedp.ErrPollingTimeout):
		return fmt.Errorf("expected %s to be %s within %v: %w", loc, state, timeout, ErrAssertion)
	default:
		return fmt.Errorf("failed to evaluate %s visibility: %w: %w", loc, ErrSession, err)
	}
}

// Screenshot captures the viewport as PNG and writes it to path, replacing any previous file
func (s *Session) Screenshot(path string) error {
	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w: %w", ErrSession, err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create screenshot directory: %w: %w", ErrSession, err)
		}
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to save screenshot: %w: %w", ErrSession, err)
	}
	return nil
}

// HTML returns the serialised document
func (s *Session) HTML() (string, error) {
	var html string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w: %w", ErrSession, err)
	}
	return html, nil
}

// ObserveResponses calls handler for each completed response whose URL contains pattern
func (s *Session) ObserveResponses(pattern string, handler ResponseHandler) {
	s.observer.Subscribe(pattern, handler)
}

// ExpectResponse arms a wait for the next response whose URL contains pattern
func (s *Session) ExpectResponse(pattern string) ResponseWaiter {
	return s.observer.Expect(pattern)
}

// Responses returns every observed response of the session, after waiting
// for bodies of finished responses that are still being read
func (s *Session) Responses() []models.ObservedResponse {
	if !s.observer.Settle(settleTimeout) {
		s.logger.Warn().Msg("Response bodies still pending, report may be incomplete")
	}
	return s.observer.Completed()
}
