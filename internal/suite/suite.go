// Package suite wires configuration into the components the CLI and the browser tests
// share: the session store, alerts, artifacts, the mailbox and the browser.
package suite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kuitang/storefront-e2e/internal/artifact"
	"github.com/kuitang/storefront-e2e/internal/authctx"
	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/browser"
	"github.com/kuitang/storefront-e2e/internal/config"
	"github.com/kuitang/storefront-e2e/internal/email"
	"github.com/kuitang/storefront-e2e/internal/mailbox"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/otp"
	"github.com/kuitang/storefront-e2e/internal/s3client"
	"github.com/kuitang/storefront-e2e/internal/session"
)

// Suite owns the long-lived pieces built from one Config.
type Suite struct {
	Config   *config.Config
	Store    session.Store
	Alerter  email.Alerter
	Recorder *artifact.Recorder

	s3     *s3client.Client
	mu     sync.Mutex
	driver *browser.Driver
}

// New builds the store, alerter and artifact recorder. The browser and the mailbox are
// started on first use.
func New(ctx context.Context, cfg *config.Config) (*Suite, error) {
	s := &Suite{Config: cfg}
	if cfg.StateBackend == config.StateBackendS3 {
		client, err := s3client.New(ctx, s3client.Config{
			Endpoint:        cfg.AWSEndpointS3,
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			BucketName:      cfg.AWSBucketName,
			UsePathStyle:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("suite: s3 client: %w", err)
		}
		s.s3 = client
	}

	store, err := s.newStore()
	if err != nil {
		return nil, err
	}
	s.Store = store
	s.Alerter = newAlerter(cfg)
	s.Recorder = s.newRecorder()
	return s, nil
}

func (s *Suite) newStore() (session.Store, error) {
	codec, err := session.NewCodec(s.Config.StateEncryptionKey)
	if err != nil {
		return nil, err
	}
	if s.s3 != nil {
		return session.NewS3Store(s.s3, s.Config.StateS3Key, codec), nil
	}
	return session.NewFileStore(s.Config.StateFile, codec), nil
}

func newAlerter(cfg *config.Config) email.Alerter {
	if cfg.AlertsEnabled() {
		return email.NewResendAlerter(cfg.AlertResendAPIKey, cfg.AlertFrom, cfg.AlertTo)
	}
	return email.NewMockAlerter(filepath.Join(cfg.ResultsDir, "outbox"))
}

func (s *Suite) newRecorder() *artifact.Recorder {
	if s.s3 != nil {
		return &artifact.Recorder{Sink: artifact.S3Sink{Client: s.s3, Prefix: "artifacts"}}
	}
	return &artifact.Recorder{Sink: artifact.DirSink{Dir: filepath.Join(s.Config.ResultsDir, "artifacts")}}
}

// VideoDir is where recordings go, or "" when recording is off.
func (s *Suite) VideoDir() string {
	if !s.Config.RecordVideo {
		return ""
	}
	return filepath.Join(s.Config.ResultsDir, "videos")
}

// Mailbox opens the OTP mailbox. Interactive lets a missing token start the consent flow.
func (s *Suite) Mailbox(ctx context.Context, interactive bool) (*mailbox.Client, error) {
	return mailbox.New(ctx, mailbox.Config{
		CredentialsFile: s.Config.GmailCredentialsFile,
		TokenFile:       s.Config.GmailTokenFile,
		Interactive:     interactive,
		ExpectedAccount: s.Config.GmailExpectedAccount,
	})
}

// Fetcher polls src using the configured cadence.
func (s *Suite) Fetcher(src otp.Source) *otp.Fetcher {
	return &otp.Fetcher{
		Source:       src,
		PollInterval: s.Config.OTPPollInterval,
		PollTimeout:  s.Config.OTPPollTimeout,
	}
}

// Browser starts the Playwright driver once.
func (s *Suite) Browser() (*browser.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return s.driver, nil
	}
	d, err := browser.Start(browser.Options{
		Browser:        s.Config.Browser,
		Headless:       s.Config.Headless,
		SlowMo:         s.Config.SlowMo,
		DefaultTimeout: s.Config.FieldTimeout,
	})
	if err != nil {
		return nil, err
	}
	s.driver = d
	return d, nil
}

// BootstrapConfig is the login description derived from the suite configuration.
func (s *Suite) BootstrapConfig() bootstrap.Config {
	cfg := s.Config
	return bootstrap.Config{
		LoginURL:           cfg.URL(cfg.LoginPath),
		Origin:             cfg.Origin(),
		Email:              cfg.LoginEmail,
		OTPQuery:           cfg.OTPQuery,
		ConfirmURLContains: cfg.ConfirmURLContains,
		Selectors:          bootstrap.DefaultSelectors(),
		Timeouts: bootstrap.Timeouts{
			Navigation: cfg.NavigationTimeout,
			Field:      cfg.FieldTimeout,
			OTPField:   cfg.OTPFieldTimeout,
			Dashboard:  cfg.DashboardTimeout,
		},
		RecordVideoDir: s.VideoDir(),
		Trace:          cfg.Trace,
	}
}

// Bootstrapper builds a login runner around an explicit code source.
func (s *Suite) Bootstrapper(launcher browser.Launcher, codes bootstrap.CodeSource) *bootstrap.Bootstrapper {
	return &bootstrap.Bootstrapper{
		Config:   s.BootstrapConfig(),
		Launcher: launcher,
		Codes:    codes,
		Store:    s.Store,
		Recorder: s.Recorder,
	}
}

// Factory builds the authenticated-context factory. When codes is nil the Gmail mailbox
// is opened the first time a login is actually needed, so reusing a persisted session
// does not require a mailbox token.
func (s *Suite) Factory(launcher browser.Launcher, codes bootstrap.CodeSource) *authctx.Factory {
	if codes == nil {
		codes = &lazyCodes{suite: s}
	}
	cfg := s.Config
	return &authctx.Factory{
		Config: authctx.Config{
			Origin:            cfg.Origin(),
			SessionMaxAge:     cfg.SessionMaxAge,
			VerifyLanding:     true,
			LandingURL:        cfg.URL(cfg.LandingPath),
			Landmark:          bootstrap.DefaultSelectors().Dashboard,
			NavigationTimeout: cfg.NavigationTimeout,
			LandmarkTimeout:   cfg.DashboardTimeout,
			RecordVideoDir:    s.VideoDir(),
		},
		Launcher:  launcher,
		Store:     s.Store,
		Bootstrap: s.Bootstrapper(launcher, codes),
		Alerter:   s.Alerter,
	}
}

// Close stops the browser if it was started.
func (s *Suite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil
	}
	err := s.driver.Stop()
	s.driver = nil
	if err != nil {
		obs.Pkg("suite").Warn("browser_stop_failed", "error", err)
	}
	return err
}

type lazyCodes struct {
	suite   *Suite
	mu      sync.Mutex
	fetcher *otp.Fetcher
}

func (l *lazyCodes) Fetch(ctx context.Context, req otp.Request) (string, error) {
	l.mu.Lock()
	if l.fetcher == nil {
		mb, err := l.suite.Mailbox(ctx, false)
		if err != nil {
			l.mu.Unlock()
			return "", err
		}
		l.fetcher = l.suite.Fetcher(mb)
	}
	f := l.fetcher
	l.mu.Unlock()
	return f.Fetch(ctx, req)
}
