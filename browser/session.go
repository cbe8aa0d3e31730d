package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/types"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const labelPollInterval = 200 * time.Millisecond

// Session is one browser process with one page. It is owned by a single job
// and must be closed by that job. Close is idempotent.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	idle     chan struct{}
	download chan string

	closeOnce sync.Once
	closed    atomic.Bool

	metrics *metrics.Collector
	logger  *zap.Logger
}

func newSession(ctx context.Context, cancel, allocCancel context.CancelFunc, collector *metrics.Collector, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		idle:        make(chan struct{}, 1),
		download:    make(chan string, 1),
		metrics:     collector,
		logger:      logger,
	}
}

// handleEvent receives target events. It must not block.
func (s *Session) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *fetch.EventRequestPaused:
		go s.continueOrFail(ev)
	case *page.EventLifecycleEvent:
		if ev.Name == "networkIdle" {
			select {
			case s.idle <- struct{}{}:
			default:
			}
		}
	case *browser.EventDownloadWillBegin:
		s.logger.Debug("download started", zap.String("file", ev.SuggestedFilename))
		select {
		case s.download <- ev.SuggestedFilename:
		default:
		}
	}
}

// DownloadStarted delivers the suggested file name when the browser reports a
// download. It is a hint only and may fire before the file is written.
func (s *Session) DownloadStarted() <-chan string {
	return s.download
}

// =============================================================================
// Primitives
// =============================================================================

// Navigate loads url and waits until the network is idle.
// Failures are NAVIGATION_TIMEOUT.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	runCtx, cancel, err := s.stepContext(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()

	// Drop a stale idle signal from an earlier page.
	select {
	case <-s.idle:
	default:
	}

	s.logger.Debug("navigating", zap.String("url", url))
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return s.classify(err, types.ErrNavigationTimeout, fmt.Sprintf("navigation to %s failed", url))
	}

	select {
	case <-s.idle:
		return nil
	case <-runCtx.Done():
		return s.classify(runCtx.Err(), types.ErrNavigationTimeout, fmt.Sprintf("network did not go idle after loading %s", url))
	}
}

// WaitFor blocks until selector matches a visible element.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, selector, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Type clears the element matched by selector and sends text as key events.
func (s *Session) Type(ctx context.Context, selector, text string, timeout time.Duration) error {
	return s.run(ctx, timeout, selector,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Click clicks the element matched by selector once it is visible.
func (s *Session) Click(ctx context.Context, selector string, timeout time.Duration) error {
	return s.run(ctx, timeout, selector, chromedp.Click(selector, chromedp.ByQuery))
}

// ReadAttribute returns attr of the element matched by selector.
// A missing attribute is ELEMENT_NOT_FOUND.
func (s *Session) ReadAttribute(ctx context.Context, selector, attr string, timeout time.Duration) (string, error) {
	var (
		value string
		ok    bool
	)
	err := s.run(ctx, timeout, selector,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.AttributeValue(selector, attr, &value, &ok, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", types.NewError(types.ErrElementNotFound, fmt.Sprintf("%s has no %s attribute", selector, attr))
	}
	return value, nil
}

// ClickByLabel clicks the first tag element whose first span contains label.
// It polls until such an element exists or the timeout elapses.
func (s *Session) ClickByLabel(ctx context.Context, tag, label string, timeout time.Duration) error {
	runCtx, cancel, err := s.stepContext(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()

	what := fmt.Sprintf("%s labelled %q", tag, label)
	script := labelClickScript(tag, label)
	ticker := time.NewTicker(labelPollInterval)
	defer ticker.Stop()

	for {
		var clicked bool
		if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &clicked)); err != nil {
			return s.classify(err, types.ErrElementNotFound, what+" not found")
		}
		if clicked {
			return nil
		}
		select {
		case <-runCtx.Done():
			return s.classify(runCtx.Err(), types.ErrElementNotFound, what+" not found")
		case <-ticker.C:
		}
	}
}

// Close releases the page and kills the browser process. Safe to call more
// than once and from any goroutine.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = chromedp.Cancel(s.ctx)
		s.cancel()
		s.allocCancel()
		s.metrics.SessionClosed()
		s.logger.Debug("browser session closed")
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, chromedp.ErrInvalidContext) {
		err = nil
	}
	return err
}

// =============================================================================
// Helpers
// =============================================================================

// stepContext derives a context bound to the session, the step timeout and
// the caller's ctx.
func (s *Session) stepContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if s.closed.Load() || s.ctx.Err() != nil {
		return nil, nil, types.NewError(types.ErrSession, "browser session is closed")
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}, nil
}

func (s *Session) run(ctx context.Context, timeout time.Duration, selector string, actions ...chromedp.Action) error {
	runCtx, cancel, err := s.stepContext(ctx, timeout)
	if err != nil {
		return err
	}
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return s.classify(err, types.ErrElementNotFound, fmt.Sprintf("element %s not found", selector))
	}
	return nil
}

// classify turns a chromedp failure into a typed error. A dead session wins
// over the step's own code.
func (s *Session) classify(err error, code types.ErrorCode, msg string) error {
	if s.closed.Load() || s.ctx.Err() != nil {
		return types.NewError(types.ErrSession, "browser session ended").WithCause(err)
	}
	return types.NewError(code, msg).WithCause(err)
}
