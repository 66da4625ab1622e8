package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	ErrBlocked    = errors.New("anti-bot page detected")
	ErrBadStatus  = errors.New("unexpected response status")
	ErrNavigation = errors.New("navigation failed")
)

// InitScripter accepts scripts that run before any page script in every
// document of a browser context.
type InitScripter interface {
	AddInitScript(script string) error
}

type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
	Close() error
}

type Context interface {
	InitScripter
	Navigate(ctx context.Context, url string, timeout time.Duration) (Page, error)
	Close() error
}

type Driver interface {
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

type Options struct {
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// SettleDelay is waited after DOMContentLoaded so client-side
	// rendering can fill in prices before the snapshot is taken.
	SettleDelay time.Duration
	ScrollDelta float64
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7",
		TimezoneID:     "Europe/Istanbul",
		Locale:         "tr-TR",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
		SettleDelay: 2400 * time.Millisecond,
		ScrollDelta: 500,
	}
}

// Browser is the playwright-backed Driver. One chromium process is shared
// and every scrape gets its own BrowserContext.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewContext(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(b.opts.ExtraHeaders)+1)
	for k, v := range b.opts.ExtraHeaders {
		headers[k] = v
	}
	if b.opts.AcceptLanguage != "" {
		headers["Accept-Language"] = b.opts.AcceptLanguage
	}

	bctx, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &browserContext{
		ctx:    bctx,
		opts:   b.opts,
		logger: b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

type browserContext struct {
	ctx    playwright.BrowserContext
	opts   *Options
	logger *slog.Logger
}

func (c *browserContext) AddInitScript(script string) error {
	return c.ctx.AddInitScript(playwright.Script{Content: playwright.String(script)})
}

type gotoResult struct {
	status int
	err    error
}

// Navigate opens a page, loads url until DOMContentLoaded and lets the page
// settle. Cancelling ctx closes the page, which unblocks playwright.
func (c *browserContext) Navigate(ctx context.Context, url string, timeout time.Duration) (Page, error) {
	page, err := c.ctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	done := make(chan gotoResult, 1)
	go func() {
		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		})
		res := gotoResult{err: err}
		if err == nil && resp != nil {
			res.status = resp.Status()
		}
		done <- res
	}()

	select {
	case <-ctx.Done():
		page.Close()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			page.Close()
			return nil, fmt.Errorf("%w: %v", ErrNavigation, res.err)
		}
		if res.status >= 400 {
			page.Close()
			return nil, fmt.Errorf("%w: %d", ErrBadStatus, res.status)
		}
	}

	if err := c.settle(ctx, page); err != nil {
		page.Close()
		return nil, err
	}

	title, _ := page.Title()
	content, _ := page.Content()
	if DetectBlock(title, content) {
		page.Close()
		return nil, fmt.Errorf("%w: %q", ErrBlocked, title)
	}

	return &playwrightPage{page: page}, nil
}

func (c *browserContext) settle(ctx context.Context, page playwright.Page) error {
	if c.opts.ScrollDelta > 0 {
		if err := page.Mouse().Wheel(0, c.opts.ScrollDelta); err != nil {
			c.logger.Debug("scroll failed", "error", err)
		}
	}

	if c.opts.SettleDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(c.opts.SettleDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *browserContext) Close() error {
	if err := c.ctx.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) URL() string { return p.page.URL() }

func (p *playwrightPage) Title() (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) Content() (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

var blockIndicators = []string{
	"captcha",
	"access denied",
	"attention required",
	"just a moment",
	"checking your browser",
	"erişim engellendi",
	"olağandışı trafik",
	"unusual traffic",
}

// storefrontBlockPhrases are the storefront's own verification and
// not-found screens. They are distinctive enough to match on any page size.
var storefrontBlockPhrases = lowerAll(
	"Robot olmadığını doğrula",
	"Aradığınız sayfayı bulamadık",
	"İlgili Sonuç Bulunamadı",
)

func lowerAll(phrases ...string) []string {
	out := make([]string, len(phrases))
	for i, p := range phrases {
		out[i] = strings.ToLower(p)
	}
	return out
}

// DetectBlock reports whether a loaded page is an anti-bot interstitial
// or a soft not-found page rather than the requested product page.
func DetectBlock(title, content string) bool {
	c := strings.ToLower(content)
	for _, phrase := range storefrontBlockPhrases {
		if strings.Contains(c, phrase) {
			return true
		}
	}

	t := strings.ToLower(title)
	for _, indicator := range blockIndicators {
		if strings.Contains(t, indicator) {
			return true
		}
	}

	// Real product pages are large; challenge pages are small and say so.
	if len(content) < 20000 {
		for _, indicator := range blockIndicators {
			if strings.Contains(c, indicator) {
				return true
			}
		}
	}

	return false
}
