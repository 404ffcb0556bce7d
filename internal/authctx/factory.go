// Package authctx hands tests a browser session that is already logged in to the
// storefront, reusing persisted state when it is still good and running the login flow
// at most once otherwise.
package authctx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/storefront-e2e/internal/bootstrap"
	"github.com/kuitang/storefront-e2e/internal/browser"
	"github.com/kuitang/storefront-e2e/internal/email"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/session"
)

// ErrLandingNotVerified means a session was opened but the landing page did not show the
// logged-in landmark.
var ErrLandingNotVerified = errors.New("authctx: landing page not verified")

// Bootstrapper performs one login attempt and persists its state.
// *bootstrap.Bootstrapper implements it.
type Bootstrapper interface {
	Run(ctx context.Context) (*session.State, error)
}

// Config controls reuse and verification.
type Config struct {
	// Origin must match the persisted state's origin for it to be reused.
	Origin string
	// SessionMaxAge bounds reuse; 0 means unlimited.
	SessionMaxAge time.Duration
	// VerifyLanding navigates to LandingURL and waits for Landmark before returning.
	VerifyLanding     bool
	LandingURL        string
	Landmark          string
	NavigationTimeout time.Duration
	LandmarkTimeout   time.Duration
	RecordVideoDir    string
}

// Factory produces authenticated sessions. Safe for concurrent use; login attempts are
// serialized.
type Factory struct {
	Config    Config
	Launcher  browser.Launcher
	Store     session.Store
	Bootstrap Bootstrapper
	// Alerter receives stale-session and failed-login alerts. May be nil.
	Alerter email.Alerter
	Now     func() time.Time

	mu sync.Mutex
}

func (f *Factory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}

// GetAuthenticatedContext returns a logged-in session. Without forceRecreate a usable
// persisted state is reused with no network login. The caller closes the session.
func (f *Factory) GetAuthenticatedContext(ctx context.Context, forceRecreate bool) (browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := obs.From(ctx).With("pkg", "authctx")

	if !forceRecreate {
		st, err := f.reusable(ctx)
		if err != nil {
			return nil, err
		}
		if st != nil {
			sess, err := f.open(ctx, st)
			switch {
			case err == nil:
				log.Info("session_reused", "age", st.Age(f.now()).Round(time.Second).String(), "location", f.Store.Location())
				return sess, nil
			case errors.Is(err, ErrLandingNotVerified):
				log.Warn("session_stale", "error", err)
				email.Notify(ctx, f.Alerter, email.Alert{
					Kind:   email.KindStaleSession,
					Origin: f.Config.Origin,
					Reason: "landing_not_verified",
					Detail: err.Error(),
				})
			default:
				return nil, err
			}
		}
	} else {
		log.Info("session_recreate_forced")
	}

	st, err := f.Bootstrap.Run(ctx)
	if err != nil {
		f.alertBootstrapFailure(ctx, err)
		return nil, fmt.Errorf("authctx: login: %w", err)
	}
	sess, err := f.open(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("authctx: fresh session: %w", err)
	}
	log.Info("session_created", "location", f.Store.Location())
	return sess, nil
}

// reusable loads the persisted state. A nil state with a nil error means "log in".
func (f *Factory) reusable(ctx context.Context) (*session.State, error) {
	log := obs.From(ctx).With("pkg", "authctx")
	st, err := f.Store.Load(ctx)
	switch {
	case errors.Is(err, session.ErrNotFound):
		log.Info("session_absent", "location", f.Store.Location())
		return nil, nil
	case errors.Is(err, session.ErrCorrupt):
		log.Warn("session_corrupt", "location", f.Store.Location(), "error", err)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("authctx: load session state: %w", err)
	}

	now := f.now()
	if st.Usable(f.Config.Origin, f.Config.SessionMaxAge, now) {
		return st, nil
	}
	reason := "expired"
	if f.Config.Origin != "" && st.Origin != f.Config.Origin {
		reason = "origin_mismatch"
	}
	log.Warn("session_unusable", "reason", reason, "state_origin", st.Origin, "age", st.Age(now).String())
	email.Notify(ctx, f.Alerter, email.Alert{
		Kind:   email.KindStaleSession,
		Origin: f.Config.Origin,
		Reason: reason,
		Detail: fmt.Sprintf("persisted state from %s captured %s ago", st.Origin, st.Age(now).Round(time.Second)),
	})
	return nil, nil
}

func (f *Factory) open(ctx context.Context, st *session.State) (browser.Session, error) {
	sess, err := f.Launcher.NewSession(ctx, browser.SessionOptions{
		StorageState:   st.StorageState,
		Stealth:        true,
		RecordVideoDir: f.Config.RecordVideoDir,
	})
	if err != nil {
		return nil, fmt.Errorf("authctx: open session: %w", err)
	}
	if !f.Config.VerifyLanding {
		return sess, nil
	}
	if err := f.verify(sess); err != nil {
		if cerr := sess.Close(); cerr != nil {
			obs.From(ctx).Warn("session_close_failed", "pkg", "authctx", "error", cerr)
		}
		return nil, err
	}
	return sess, nil
}

func (f *Factory) verify(page browser.Page) error {
	nav, wait := f.Config.NavigationTimeout, f.Config.LandmarkTimeout
	if nav <= 0 {
		nav = 60 * time.Second
	}
	if wait <= 0 {
		wait = 60 * time.Second
	}
	if err := page.Goto(f.Config.LandingURL, nav); err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrLandingNotVerified, f.Config.LandingURL, err)
	}
	if err := page.WaitFor(f.Config.Landmark, browser.Visible, wait); err != nil {
		return fmt.Errorf("%w: %w", ErrLandingNotVerified, err)
	}
	return nil
}

func (f *Factory) alertBootstrapFailure(ctx context.Context, err error) {
	a := email.Alert{Kind: email.KindBootstrapFailed, Origin: f.Config.Origin, Detail: err.Error()}
	var fe *bootstrap.FailedError
	if errors.As(err, &fe) {
		a.AttemptID = fe.AttemptID
		a.Stage = string(fe.Stage)
		a.Reason = string(fe.Reason)
	}
	email.Notify(ctx, f.Alerter, a)
}
