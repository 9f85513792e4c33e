package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/chatverify/internal/common"
	"github.com/ternarybob/chatverify/internal/models"
)

// ResponseHandler receives completed responses that matched a subscription
type ResponseHandler func(models.ObservedResponse)

// ResponseWaiter blocks until a matching response has completed
type ResponseWaiter interface {
	Wait(timeout time.Duration) (models.ObservedResponse, error)
}

type bodyFetcher func(ctx context.Context, id network.RequestID) ([]byte, error)

type subscription struct {
	pattern string
	handler ResponseHandler
}

// ResponseObserver correlates CDP network events into ObservedResponses for
// URLs matching a subscribed or awaited pattern. Event callbacks run on the
// chromedp event loop, so body retrieval happens on its own goroutine.
type ResponseObserver struct {
	ctx       context.Context
	logger    arbor.ILogger
	fetchBody bodyFetcher

	inflight sync.WaitGroup

	mu            sync.Mutex
	pending       map[network.RequestID]*models.ObservedResponse
	subscriptions []subscription
	waiters       []*PendingResponse
	completed     []models.ObservedResponse
}

func newResponseObserver(ctx context.Context, logger arbor.ILogger, fetch bodyFetcher) *ResponseObserver {
	return &ResponseObserver{
		ctx:       ctx,
		logger:    logger,
		fetchBody: fetch,
		pending:   make(map[network.RequestID]*models.ObservedResponse),
	}
}

// fetchResponseBody reads a finished response body through the page target
func fetchResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return nil, fmt.Errorf("no browser target attached to context")
	}
	return network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, c.Target))
}

// Subscribe calls handler for every completed response whose URL contains pattern
func (o *ResponseObserver) Subscribe(pattern string, handler ResponseHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscriptions = append(o.subscriptions, subscription{pattern: pattern, handler: handler})
}

// Expect arms a wait for the next response whose URL contains pattern. Arm it
// before triggering the request so the response cannot be missed.
func (o *ResponseObserver) Expect(pattern string) *PendingResponse {
	p := &PendingResponse{
		pattern:  pattern,
		ch:       make(chan models.ObservedResponse, 1),
		observer: o,
	}
	o.mu.Lock()
	o.waiters = append(o.waiters, p)
	o.mu.Unlock()
	return p
}

// Completed returns every matched response seen so far, in completion order
func (o *ResponseObserver) Completed() []models.ObservedResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.ObservedResponse, len(o.completed))
	copy(out, o.completed)
	return out
}

// Settle waits up to timeout for finished responses whose bodies are still
// being read. It reports whether everything in flight was delivered.
func (o *ResponseObserver) Settle(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

func (o *ResponseObserver) interested(url string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.subscriptions {
		if strings.Contains(url, s.pattern) {
			return true
		}
	}
	for _, w := range o.waiters {
		if strings.Contains(url, w.pattern) {
			return true
		}
	}
	return false
}

// handleEvent is registered with chromedp.ListenTarget and must not block
func (o *ResponseObserver) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Response == nil || !o.interested(e.Response.URL) {
			return
		}
		o.mu.Lock()
		o.pending[e.RequestID] = &models.ObservedResponse{
			URL:        e.Response.URL,
			Status:     int(e.Response.Status),
			StatusText: e.Response.StatusText,
			MIMEType:   e.Response.MimeType,
			ReceivedAt: time.Now(),
		}
		o.mu.Unlock()

	case *network.EventLoadingFinished:
		if resp := o.take(e.RequestID); resp != nil {
			id := e.RequestID
			o.inflight.Add(1)
			common.SafeGo(o.logger, "response body", func() {
				defer o.inflight.Done()
				o.complete(id, resp)
			})
		}

	case *network.EventLoadingFailed:
		if resp := o.take(e.RequestID); resp != nil {
			resp.BodyError = e.ErrorText
			failed := *resp
			o.inflight.Add(1)
			common.SafeGo(o.logger, "response delivery", func() {
				defer o.inflight.Done()
				o.deliver(failed)
			})
		}
	}
}

func (o *ResponseObserver) take(id network.RequestID) *models.ObservedResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	resp, ok := o.pending[id]
	if !ok {
		return nil
	}
	delete(o.pending, id)
	return resp
}

func (o *ResponseObserver) complete(id network.RequestID, resp *models.ObservedResponse) {
	body, err := o.fetchBody(o.ctx, id)
	if err != nil {
		o.logger.Debug().Err(err).Str("url", resp.URL).Msg("Failed to read response body")
		resp.BodyError = err.Error()
	} else {
		resp.DecodeBody(body)
	}
	o.deliver(*resp)
}

func (o *ResponseObserver) deliver(resp models.ObservedResponse) {
	var handlers []ResponseHandler

	o.mu.Lock()
	o.completed = append(o.completed, resp)
	for _, s := range o.subscriptions {
		if strings.Contains(resp.URL, s.pattern) {
			handlers = append(handlers, s.handler)
		}
	}
	remaining := o.waiters[:0]
	for _, w := range o.waiters {
		if strings.Contains(resp.URL, w.pattern) {
			w.ch <- resp
			continue
		}
		remaining = append(remaining, w)
	}
	o.waiters = remaining
	o.mu.Unlock()

	for _, h := range handlers {
		h(resp)
	}
}

func (o *ResponseObserver) cancel(p *PendingResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, w := range o.waiters {
		if w == p {
			o.waiters = append(o.waiters[:i], o.waiters[i+1:]...)
			return
		}
	}
}

// PendingResponse is an armed wait created by ResponseObserver.Expect
type PendingResponse struct {
	pattern  string
	ch       chan models.ObservedResponse
	observer *ResponseObserver
}

// Wait returns the first completed response matching the pattern
func (p *PendingResponse) Wait(timeout time.Duration) (models.ObservedResponse, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-p.ch:
		return resp, nil
	case <-timer.C:
		p.observer.cancel(p)
		// A delivery may have raced the timer
		select {
		case resp := <-p.ch:
			return resp, nil
		default:
		}
		return models.ObservedResponse{}, fmt.Errorf("no response matching %q within %v: %w", p.pattern, timeout, ErrAssertion)
	case <-p.observer.ctx.Done():
		p.observer.cancel(p)
		return models.ObservedResponse{}, fmt.Errorf("waiting for response matching %q: %w: %w", p.pattern, ErrSession, p.observer.ctx.Err())
	}
}
