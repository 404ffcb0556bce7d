package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/storefront-e2e/internal/obs"
)

// DefaultUserAgent is presented by stealth sessions.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const hideWebdriverScript = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// Options select and configure the browser engine.
type Options struct {
	// Browser is chromium, firefox or webkit.
	Browser  string
	Headless bool
	SlowMo   time.Duration
	// DefaultTimeout applies to actions that are not given an explicit timeout.
	DefaultTimeout time.Duration
}

// Driver owns the Playwright process and one launched browser.
type Driver struct {
	opts    Options
	pw      *playwright.Playwright
	browser playwright.Browser
	mu      sync.Mutex
}

// Start launches Playwright and the configured browser.
func Start(opts Options) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browser: start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}

	var bt playwright.BrowserType
	switch strings.ToLower(opts.Browser) {
	case "", "chromium":
		bt = pw.Chromium
		launch.Args = []string{"--disable-blink-features=AutomationControlled"}
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, fmt.Errorf("browser: unsupported browser %q", opts.Browser)
	}

	b, err := bt.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("browser: launch %s: %w", bt.Name(), err)
	}
	obs.Pkg("browser").Info("browser_started", "browser", bt.Name(), "headless", opts.Headless, "version", b.Version())
	return &Driver{opts: opts, pw: pw, browser: b}, nil
}

// Stop closes the browser and the Playwright process.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	if d.browser != nil {
		errs = append(errs, d.browser.Close())
		d.browser = nil
	}
	if d.pw != nil {
		errs = append(errs, d.pw.Stop())
		d.pw = nil
	}
	return errors.Join(errs...)
}

// NewSession opens a fresh context, seeded from opts.StorageState when present.
func (d *Driver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	d.mu.Lock()
	b := d.browser
	d.mu.Unlock()
	if b == nil {
		return nil, errors.New("browser: driver stopped")
	}

	co := playwright.BrowserNewContextOptions{}
	if opts.Stealth {
		ua := opts.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		co.UserAgent = playwright.String(ua)
		co.NoViewport = playwright.Bool(true)
	} else if opts.UserAgent != "" {
		co.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.RecordVideoDir != "" {
		co.RecordVideo = &playwright.RecordVideo{Dir: opts.RecordVideoDir}
	}

	if len(opts.StorageState) > 0 {
		path, cleanup, err := writeStateFile(opts.StorageState)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		co.StorageStatePath = playwright.String(path)
	}

	bc, err := b.NewContext(co)
	if err != nil {
		return nil, fmt.Errorf("browser: new context: %w", err)
	}
	if d.opts.DefaultTimeout > 0 {
		bc.SetDefaultTimeout(float64(d.opts.DefaultTimeout.Milliseconds()))
		bc.SetDefaultNavigationTimeout(float64(d.opts.DefaultTimeout.Milliseconds()))
	}
	if opts.Stealth {
		if err := bc.AddInitScript(playwright.Script{Content: playwright.String(hideWebdriverScript)}); err != nil {
			_ = bc.Close()
			return nil, fmt.Errorf("browser: init script: %w", err)
		}
	}

	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	obs.From(ctx).Debug("session_opened", "pkg", "browser",
		"seeded", len(opts.StorageState) > 0,
		"stealth", opts.Stealth,
	)
	return &PlaywrightSession{bc: bc, page: page}, nil
}

func writeStateFile(state []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "storage-state-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("browser: stage storage state: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(state); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("browser: stage storage state: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("browser: stage storage state: %w", err)
	}
	return filepath.Clean(f.Name()), cleanup, nil
}

// PlaywrightSession adapts a Playwright context and page to Session.
type PlaywrightSession struct {
	bc   playwright.BrowserContext
	page playwright.Page
}

// Page exposes the underlying Playwright page for suite assertions.
func (s *PlaywrightSession) Page() playwright.Page { return s.page }

// Context exposes the underlying Playwright browser context.
func (s *PlaywrightSession) Context() playwright.BrowserContext { return s.bc }

func (s *PlaywrightSession) Goto(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(timeout),
	})
	return mapErr("goto "+url, err)
}

func (s *PlaywrightSession) WaitFor(selector string, state ElementState, timeout time.Duration) error {
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   waitState(state),
		Timeout: ms(timeout),
	})
	return mapErr("wait for "+selector, err)
}

func (s *PlaywrightSession) Fill(selector, value string, timeout time.Duration) error {
	err := s.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{Timeout: ms(timeout)})
	return mapErr("fill "+selector, err)
}

func (s *PlaywrightSession) Click(selector string, timeout time.Duration) error {
	err := s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{Timeout: ms(timeout)})
	return mapErr("click "+selector, err)
}

func (s *PlaywrightSession) Reload(timeout time.Duration) error {
	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   ms(timeout),
	})
	return mapErr("reload", err)
}

func (s *PlaywrightSession) URL() string { return s.page.URL() }

func (s *PlaywrightSession) Content() (string, error) {
	html, err := s.page.Content()
	return html, mapErr("content", err)
}

func (s *PlaywrightSession) Screenshot() ([]byte, error) {
	png, err := s.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(true)})
	return png, mapErr("screenshot", err)
}

func (s *PlaywrightSession) ExportState() ([]byte, error) {
	st, err := s.bc.StorageState()
	if err != nil {
		return nil, fmt.Errorf("browser: export storage state: %w", err)
	}
	return json.Marshal(st)
}

func (s *PlaywrightSession) StartTrace(title string) error {
	err := s.bc.Tracing().Start(playwright.TracingStartOptions{
		Title:       playwright.String(title),
		Screenshots: playwright.Bool(true),
		Snapshots:   playwright.Bool(true),
		Sources:     playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("browser: start trace: %w", err)
	}
	return nil
}

func (s *PlaywrightSession) StopTrace(keep bool) ([]byte, error) {
	if !keep {
		if err := s.bc.Tracing().Stop(); err != nil {
			return nil, fmt.Errorf("browser: stop trace: %w", err)
		}
		return nil, nil
	}

	dir, err := os.MkdirTemp("", "trace-*")
	if err != nil {
		return nil, fmt.Errorf("browser: stage trace: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "trace.zip")
	if err := s.bc.Tracing().Stop(path); err != nil {
		return nil, fmt.Errorf("browser: stop trace: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("browser: read trace: %w", err)
	}
	return data, nil
}

func (s *PlaywrightSession) Close() error {
	return s.bc.Close()
}

func ms(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func waitState(s ElementState) *playwright.WaitForSelectorState {
	switch s {
	case Attached:
		return playwright.WaitForSelectorStateAttached
	case Hidden:
		return playwright.WaitForSelectorStateHidden
	default:
		return playwright.WaitForSelectorStateVisible
	}
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("browser: %s: %w", op, err)
}
