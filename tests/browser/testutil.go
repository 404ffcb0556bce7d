// Package browser holds the Playwright suite: the login flow against a local storefront
// stand-in, and (with STOREFRONT_E2E=1) the dashboard checks against the live storefront.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/storefront-e2e/internal/artifact"
	"github.com/kuitang/storefront-e2e/internal/authctx"
	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/browser"
	"github.com/kuitang/storefront-e2e/internal/email"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/otp"
	"github.com/kuitang/storefront-e2e/internal/session"
)

const (
	// CODING AGENT RULE: Always use these timeout constants for browser tests.
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeout = 5 * time.Second
	codePollInterval  = 50 * time.Millisecond
)

var (
	fixtureMu     sync.Mutex
	sharedFixture *BrowserTestEnv
)

// BrowserTestEnv is shared by every test in the package: one storefront, one browser.
type BrowserTestEnv struct {
	Storefront *Storefront

	driver   *browser.Driver
	driverMu sync.Mutex
}

// SetupBrowserTestEnv returns the shared environment with a fresh storefront state.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()
	fixtureMu.Lock()
	defer fixtureMu.Unlock()

	if sharedFixture == nil {
		sharedFixture = &BrowserTestEnv{Storefront: NewStorefront()}
	}
	sharedFixture.Storefront.Reset()
	return sharedFixture
}

func cleanupSharedBrowserTestEnv() {
	fixtureMu.Lock()
	defer fixtureMu.Unlock()
	if sharedFixture == nil {
		return
	}
	if sharedFixture.driver != nil {
		_ = sharedFixture.driver.Stop()
	}
	sharedFixture.Storefront.Close()
	sharedFixture = nil
}

// InitBrowser starts Chromium once, skipping the test when Playwright is not installed.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) *browser.Driver {
	t.Helper()
	env.driverMu.Lock()
	defer env.driverMu.Unlock()

	if env.driver != nil {
		return env.driver
	}
	d, err := browser.Start(browser.Options{
		Browser:        "chromium",
		Headless:       os.Getenv("HEADED") == "",
		DefaultTimeout: browserMaxTimeout,
	})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	env.driver = d
	return d
}

// Timeouts bounds every login wait by browserMaxTimeout.
func Timeouts() bootstrap.Timeouts {
	return bootstrap.Timeouts{
		Navigation:    browserMaxTimeout,
		Field:         browserMaxTimeout,
		OTPField:      browserMaxTimeout,
		Dashboard:     browserMaxTimeout,
		ErrorAlert:    time.Second,
		Click:         browserMaxTimeout,
		ClickAttempts: 3,
		ClickBackoff:  250 * time.Millisecond,
	}
}

// LoginFixture is a wired login against the local storefront.
type LoginFixture struct {
	Store     *session.FileStore
	Bootstrap *bootstrap.Bootstrapper
	Factory   *authctx.Factory
	Alerts    *email.MockAlerter
}

// NewLoginFixture wires a Bootstrapper and a Factory to the storefront with a per-test
// state file.
func (env *BrowserTestEnv) NewLoginFixture(t *testing.T, driver *browser.Driver) *LoginFixture {
	t.Helper()
	dir := t.TempDir()
	codec, err := session.NewCodec("")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	store := session.NewFileStore(filepath.Join(dir, "auth.json"), codec)
	alerts := email.NewMockAlerter(filepath.Join(dir, "outbox"))
	sf := env.Storefront

	b := &bootstrap.Bootstrapper{
		Config: bootstrap.Config{
			LoginURL:  sf.URL + "/",
			Origin:    sf.URL,
			Email:     "dealer@example.com",
			OTPQuery:  "subject:code",
			Selectors: bootstrap.DefaultSelectors(),
			Timeouts:  Timeouts(),
			Trace:     tracingEnabled(),
		},
		Launcher: driver,
		Recorder: &artifact.Recorder{Sink: artifact.DirSink{Dir: ResultsDir()}},
		Codes:    &otp.Fetcher{Source: sf.Mailbox, PollInterval: codePollInterval, PollTimeout: browserMaxTimeout},
		Store:    store,
	}
	f := &authctx.Factory{
		Config: authctx.Config{
			Origin:            sf.URL,
			VerifyLanding:     true,
			LandingURL:        sf.URL + "/pages/configurators",
			Landmark:          bootstrap.DefaultSelectors().Dashboard,
			NavigationTimeout: browserMaxTimeout,
			LandmarkTimeout:   browserMaxTimeout,
		},
		Launcher:  driver,
		Store:     store,
		Bootstrap: b,
		Alerter:   alerts,
	}
	return &LoginFixture{Store: store, Bootstrap: b, Factory: f, Alerts: alerts}
}

// TestContext tags log lines emitted on behalf of t with its name.
func TestContext(t *testing.T) context.Context {
	return obs.WithTestName(context.Background(), t.Name())
}

// AuthenticatedSession returns a logged-in session that is closed at test end. With
// TRACE set the session is traced and the trace kept if the test fails.
func AuthenticatedSession(t *testing.T, f *authctx.Factory, force bool) *browser.PlaywrightSession {
	t.Helper()
	s, err := f.GetAuthenticatedContext(TestContext(t), force)
	if err != nil {
		t.Fatalf("GetAuthenticatedContext: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ps, ok := s.(*browser.PlaywrightSession)
	if !ok {
		t.Fatalf("expected *browser.PlaywrightSession, got %T", s)
	}
	if tracingEnabled() {
		TraceOnFailure(t, ps, &artifact.Recorder{Sink: artifact.DirSink{Dir: ResultsDir()}})
	}
	return ps
}

// RequireVisible fails the test unless selector becomes visible within browserMaxTimeout.
func RequireVisible(t *testing.T, page browser.Page, selector string) {
	t.Helper()
	if err := page.WaitFor(selector, browser.Visible, browserMaxTimeout); err != nil {
		t.Fatalf("%s not visible on %s: %v", selector, page.URL(), err)
	}
}

// NavbarSelectors locate the header navigation links. Duplicated anchors exist in the
// mobile menu, so the plain-text ones take the second match.
var NavbarSelectors = []struct{ Name, Selector string }{
	{"Products", "xpath=(//a[text()='Products'])[2]"},
	{"Shop", "xpath=(//a[text()='Shop'])[2]"},
	{"Solutions", "xpath=(//a[text()='Solutions'])[2]"},
	{"Sales Tools", "//a/span[text()='Sales Tools']"},
	{"Why DMF", "xpath=(//a[text()='Why DMF'])[2]"},
	{"Inspirations", "//a/span[text()='Inspirations']"},
	{"Rep Maps", "//a/span[text()='Rep Maps']"},
	{"Resources", "//a/span[text()='Resources']"},
}

// CheckNavbar opens home and clicks every navbar link, going back after each.
func CheckNavbar(t *testing.T, s *browser.PlaywrightSession, home string) {
	t.Helper()
	if err := s.Goto(home, browserMaxTimeout); err != nil {
		t.Fatalf("goto %s: %v", home, err)
	}
	for _, link := range NavbarSelectors {
		t.Run(link.Name, func(t *testing.T) {
			RequireVisible(t, s, link.Selector)
			if err := s.Click(link.Selector, browserMaxTimeout); err != nil {
				t.Fatalf("%s link should be clickable: %v", link.Name, err)
			}
			if _, err := s.Page().GoBack(playwright.PageGoBackOptions{
				Timeout: playwright.Float(float64(browserMaxTimeout.Milliseconds())),
			}); err != nil {
				t.Fatalf("go back from %s: %v", link.Name, err)
			}
		})
	}
}

// TraceOnFailure records a Playwright trace of s for the rest of the test and stores it
// as traces/<test>-<timestamp>.zip through rec when the test fails.
func TraceOnFailure(t *testing.T, s browser.Tracer, rec *artifact.Recorder) {
	t.Helper()
	if err := s.StartTrace(t.Name()); err != nil {
		t.Fatalf("start trace: %v", err)
	}
	started := time.Now().UTC()
	t.Cleanup(func() {
		data, err := s.StopTrace(t.Failed())
		if err != nil {
			t.Logf("stop trace: %v", err)
			return
		}
		if len(data) == 0 {
			return
		}
		name := fmt.Sprintf("traces/%s-%s.zip", t.Name(), started.Format("20060102T150405Z"))
		rec.Save(TestContext(t), name, data, "application/zip")
		t.Logf("trace saved as %s", name)
	})
}

// ResultsDir is where failing local tests leave artifacts (RESULTS_DIR, default "results").
func ResultsDir() string {
	if dir := os.Getenv("RESULTS_DIR"); dir != "" {
		return dir
	}
	return "results"
}

// tracingEnabled reports whether TRACE asks for traces of local browser tests.
func tracingEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("TRACE"))
	return err == nil && v
}

// CaptureOnFailure stores the page's HTML and screenshot under dir when t fails.
func CaptureOnFailure(t *testing.T, page browser.Page, dir string) {
	t.Helper()
	t.Cleanup(func() {
		if !t.Failed() {
			return
		}
		rec := &artifact.Recorder{Sink: artifact.DirSink{Dir: dir}}
		rec.CapturePage(context.Background(), t.Name(), page)
		t.Logf("page artifacts written to %s", dir)
	})
}
