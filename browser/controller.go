package browser

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/sgaflow/config"
	"github.com/BaSui01/sgaflow/internal/metrics"
	"github.com/BaSui01/sgaflow/types"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Controller launches one browser process per session.
// It holds no browser state itself; every Open returns an owned Session.
type Controller struct {
	cfg        config.BrowserConfig
	allowHost  string
	metrics    *metrics.Collector
	logger     *zap.Logger
	startLimit time.Duration
}

// NewController creates a controller. allowHost is the plain-HTTP host the
// browser must not upgrade to HTTPS. collector may be nil.
func NewController(cfg config.BrowserConfig, allowHost string, collector *metrics.Collector, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:        cfg,
		allowHost:  allowHost,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "browser")),
		startLimit: 30 * time.Second,
	}
}

// flags returns the Chrome switches layered over the chromedp defaults.
func (c *Controller) flags() map[string]any {
	flags := map[string]any{
		"headless":               c.cfg.Headless,
		"no-sandbox":             true,
		"disable-setuid-sandbox": true,
		"disable-dev-shm-usage":  true,
		"disable-gpu":            true,
	}

	// The portal serves mixed content over plain HTTP.
	if c.cfg.AllowInsecureContent {
		flags["disable-web-security"] = true
		flags["disable-features"] = "IsolateOrigins,BlockInsecurePrivateNetworkRequests"
		flags["disable-site-isolation-trials"] = true
		flags["disable-hsts"] = true
		flags["ignore-certificate-errors"] = true
		flags["allow-running-insecure-content"] = true
		if c.allowHost != "" {
			flags["http-allowlist"] = c.allowHost
		}
	}

	for _, raw := range c.cfg.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(strings.TrimSpace(raw), "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

// flagNames lists the flag names in a stable order so every launch builds
// the same command line.
func flagNames(flags map[string]any) []string {
	return slices.Sorted(maps.Keys(flags))
}

func (c *Controller) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags := c.flags()
	for _, name := range flagNames(flags) {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if c.cfg.WindowWidth > 0 && c.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight))
	}
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// Open starts a browser with the network policy installed and downloads
// routed to downloadDir. ctx bounds startup only; the session lives until
// Close. Failures are SESSION_ERROR.
func (c *Controller) Open(ctx context.Context, downloadDir string) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			c.logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			c.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := newSession(browserCtx, browserCancel, allocCancel, c.metrics, c.logger)
	chromedp.ListenTarget(browserCtx, s.handleEvent)

	// The first Run allocates the browser, so it must not use a derived
	// timeout context. Startup is bounded by ctx and startLimit instead.
	abort := func() {
		browserCancel()
		allocCancel()
	}
	stop := context.AfterFunc(ctx, abort)
	defer stop()
	limit := time.AfterFunc(c.startLimit, abort)
	defer limit.Stop()

	err := chromedp.Run(browserCtx,
		fetch.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		browserCancel()
		allocCancel()
		c.metrics.SessionOpenFailed()
		c.logger.Warn("browser failed to start", zap.Error(err))
		return nil, types.NewError(types.ErrSession, "failed to start browser").WithCause(err)
	}

	c.metrics.SessionOpened()
	c.logger.Debug("browser session opened",
		zap.Bool("headless", c.cfg.Headless),
		zap.String("download_dir", downloadDir))
	return s, nil
}

// continueOrFail answers one paused request according to the network policy.
func (s *Session) continueOrFail(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(s.ctx, c.Target)

	var err error
	if shouldBlock(ev.Request.URL) {
		s.logger.Debug("request blocked", zap.String("url", ev.Request.URL))
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	}
	if err != nil && s.ctx.Err() == nil {
		s.logger.Debug("failed to resolve paused request", zap.String("url", ev.Request.URL), zap.Error(err))
	}
}
