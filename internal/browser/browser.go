package browser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  *slog.Logger
	opts    *Options
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	TraceDir       string
	ScreenshotDir  string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "ko-KR,ko;q=0.9,en;q=0.8",
		TimezoneID:     "Asia/Seoul",
		Locale:         "ko-KR",
		TraceDir:       "output/traces",
		ScreenshotDir:  "output/screenshots",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
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
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: b,
		logger:  slog.Default().With("component", "browser"),
		opts:    opts,
	}, nil
}

// Session is one isolated browser context, bound to a proxy identity and
// recording a HAR trace for later diagnosis.
type Session struct {
	context playwright.BrowserContext
	HARPath string
}

// NewSession creates a context routed through the given proxy (empty for
// direct). traceID names the HAR artifact under the trace directory.
func (b *Browser) NewSession(proxyServer, traceID string) (*Session, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: b.opts.ExtraHeaders,
	}

	if proxyServer != "" {
		contextOpts.Proxy = &playwright.Proxy{Server: proxyServer}
	}

	var harPath string
	if b.opts.TraceDir != "" && traceID != "" {
		if err := os.MkdirAll(b.opts.TraceDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
		harPath = filepath.Join(b.opts.TraceDir, traceID+".har")
		contextOpts.RecordHarPath = &harPath
	}

	context, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Session{context: context, HARPath: harPath}, nil
}

func (s *Session) NewPage() (playwright.Page, error) {
	page, err := s.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(DefaultOptions().Timeout.Milliseconds()))

	return page, nil
}

// Close flushes the HAR recording and releases the context.
func (s *Session) Close() error {
	return s.context.Close()
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

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Navigate loads the URL and waits for the DOM.
func (b *Browser) Navigate(page playwright.Page, url string) error {
	_, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	return nil
}

// CheckChallenge inspects the rendered page for bot-protection challenges.
func (b *Browser) CheckChallenge(page playwright.Page) (bool, error) {
	challengeSelectors := []string{
		"#captchacharacters",
		"form[action*='captcha']",
		"iframe[src*='recaptcha']",
		"iframe[src*='hcaptcha']",
	}

	for _, selector := range challengeSelectors {
		if count, _ := page.Locator(selector).Count(); count > 0 {
			b.logger.Warn("detected challenge", "selector", selector)
			return true, nil
		}
	}

	title, err := page.Title()
	if err != nil {
		return false, fmt.Errorf("failed to get page title: %w", err)
	}

	lower := strings.ToLower(title)
	if strings.Contains(lower, "captcha") || strings.Contains(lower, "access denied") {
		b.logger.Warn("detected challenge in title", "title", title)
		return true, nil
	}

	return false, nil
}

// Screenshot saves a full-page capture under the screenshot directory. Returns
// the file path, or empty when capturing is disabled.
func (b *Browser) Screenshot(page playwright.Page, name string) (string, error) {
	if b.opts.ScreenshotDir == "" || name == "" {
		return "", nil
	}

	if err := os.MkdirAll(b.opts.ScreenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	path := filepath.Join(b.opts.ScreenshotDir, name+".png")
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     &path,
		FullPage: playwright.Bool(true),
	}); err != nil {
		return "", fmt.Errorf("failed to capture screenshot: %w", err)
	}

	return path, nil
}

// HumanizeInteraction adds a little mouse movement and scrolling before the
// content is read.
func (b *Browser) HumanizeInteraction(page playwright.Page) error {
	viewport := page.ViewportSize()
	if viewport == nil {
		return nil
	}

	x := float64(viewport.Width / 2)
	y := float64(viewport.Height / 2)

	page.Mouse().Move(x, y, playwright.MouseMoveOptions{
		Steps: playwright.Int(10),
	})

	time.Sleep(100 * time.Millisecond)

	page.Evaluate(`window.scrollBy(0, Math.random() * 300)`)

	return nil
}
