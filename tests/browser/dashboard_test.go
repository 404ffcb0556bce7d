package browser

import (
	"context"
	"os"
	"testing"

	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/browser"
	"github.com/kuitang/storefront-e2e/internal/config"
	"github.com/kuitang/storefront-e2e/internal/suite"
)

// liveSession logs in to the configured storefront (or reuses the persisted session).
func liveSession(t *testing.T) (*suite.Suite, *browser.PlaywrightSession) {
	t.Helper()
	if testing.Short() || os.Getenv("STOREFRONT_E2E") != "1" {
		t.Skip("set STOREFRONT_E2E=1 to run against the live storefront")
	}
	cfg, err := config.LoadConfig(config.Flags{})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	s, err := suite.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	driver, err := s.Browser()
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	sess, err := s.Factory(driver, nil).GetAuthenticatedContext(context.Background(), cfg.ForceRecreate)
	if err != nil {
		t.Fatalf("GetAuthenticatedContext: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	ps, ok := sess.(*browser.PlaywrightSession)
	if !ok {
		t.Fatalf("expected *browser.PlaywrightSession, got %T", sess)
	}
	if cfg.Trace {
		TraceOnFailure(t, ps, s.Recorder)
	}
	return s, ps
}

func TestLive_DashboardAccessAfterLogin(t *testing.T) {
	s, sess := liveSession(t)
	cfg := s.Config
	t.Cleanup(func() {
		s.Recorder.CapturePage(context.Background(), "landing_page", sess)
	})

	if err := sess.Goto(cfg.URL(cfg.LandingPath), cfg.NavigationTimeout); err != nil {
		t.Fatalf("goto landing: %v", err)
	}
	if err := sess.WaitFor(bootstrap.DefaultSelectors().Dashboard, browser.Visible, cfg.DashboardTimeout); err != nil {
		t.Fatalf("Dashboard element should be visible after login: %v", err)
	}
}

func TestLive_NavbarLinks(t *testing.T) {
	s, sess := liveSession(t)
	CaptureOnFailure(t, sess, s.Config.ResultsDir)
	CheckNavbar(t, sess, s.Config.URL(""))
}
