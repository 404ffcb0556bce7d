// Package bootstrap drives the email + one-time-code login of the storefront and, on
// success, persists the resulting browser storage state.
//
// An attempt is a linear state machine:
//
//	start → awaiting_email_field → email_submitted → awaiting_otp_field →
//	otp_requested → otp_submitted → dashboard_confirmed
//
// Any transition may end the attempt in Failed(stage, reason). A failed attempt never
// writes state; the previously persisted state (if any) is left untouched.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/storefront-e2e/internal/artifact"
	"github.com/kuitang/storefront-e2e/internal/browser"
	"github.com/kuitang/storefront-e2e/internal/logutil"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/otp"
	"github.com/kuitang/storefront-e2e/internal/session"
)

// CodeSource returns the one-time code for a request. *otp.Fetcher implements it.
type CodeSource interface {
	Fetch(ctx context.Context, req otp.Request) (string, error)
}

// Bootstrapper runs login attempts. It is not safe for concurrent Run calls that share a
// Store; callers serialize (see authctx.Factory).
type Bootstrapper struct {
	Config   Config
	Launcher browser.Launcher
	Codes    CodeSource
	Store    session.Store
	// Recorder captures debug artifacts on failure. May be nil.
	Recorder *artifact.Recorder
	Now      func() time.Time
}

type transition struct {
	to     Stage
	reason Reason
	do     func(b *Bootstrapper, ctx context.Context, r *run) error
}

// run is the per-attempt working set.
type run struct {
	attempt Attempt
	page    browser.Page
	code    string
}

var transitions = []transition{
	{to: StageAwaitingEmailField, reason: ReasonEmailFieldTimeout, do: (*Bootstrapper).openLogin},
	{to: StageEmailSubmitted, reason: ReasonContinueUnavailable, do: (*Bootstrapper).submitEmail},
	{to: StageAwaitingOtpField, reason: ReasonOtpFieldTimeout, do: (*Bootstrapper).awaitOTPField},
	{to: StageOtpRequested, reason: ReasonOtpNotFound, do: (*Bootstrapper).requestCode},
	{to: StageOtpSubmitted, reason: ReasonOtpSubmitFailed, do: (*Bootstrapper).submitCode},
	{to: StageDashboardConfirmed, reason: ReasonDashboardNotConfirmed, do: (*Bootstrapper).confirmDashboard},
}

func (b *Bootstrapper) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Run performs one login attempt in a fresh browser session and persists the state on
// success. Stage failures are *FailedError; a failure to persist after a confirmed login
// is returned as a plain wrapped error.
func (b *Bootstrapper) Run(ctx context.Context) (*session.State, error) {
	r := &run{attempt: Attempt{ID: uuid.NewString(), Stage: StageStart, StartedAt: b.now()}}
	ctx = obs.WithAttempt(ctx, r.attempt.ID)
	log := obs.From(ctx).With("pkg", "bootstrap")

	sess, err := b.Launcher.NewSession(ctx, browser.SessionOptions{
		Stealth:        true,
		RecordVideoDir: b.Config.RecordVideoDir,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open browser session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("session_close_failed", "error", cerr)
		}
	}()
	r.page = sess

	succeeded := false
	if tr := b.startTrace(ctx, sess, r.attempt.ID); tr != nil {
		defer func() { b.finishTrace(ctx, tr, !succeeded, r.attempt) }()
	}

	log.Info("attempt_started", "login_url", b.Config.LoginURL, "email", logutil.RedactEmail(b.Config.Email))
	for _, t := range transitions {
		stageCtx := obs.WithStage(ctx, string(r.attempt.Stage))
		if err := b.step(stageCtx, r, t); err != nil {
			obs.From(stageCtx).Warn("attempt_failed",
				"pkg", "bootstrap",
				"reason", string(t.reason),
				"elapsed", b.now().Sub(r.attempt.StartedAt).String(),
				"error", err)
			b.Recorder.CapturePage(stageCtx, "auth-debug-"+r.attempt.ID, sess)
			return nil, err
		}
		r.attempt.Stage = t.to
		log.Info("stage_entered", "stage", string(t.to))
	}

	data, err := sess.ExportState()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: export storage state: %w", err)
	}
	st := &session.State{CreatedAt: b.now().UTC(), Origin: b.Config.Origin, StorageState: data}
	if err := b.Store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("bootstrap: persist session state to %s: %w", b.Store.Location(), err)
	}
	succeeded = true
	cookies, origins := st.Counts()
	log.Info("attempt_succeeded",
		"elapsed", b.now().Sub(r.attempt.StartedAt).String(),
		"cookies", cookies,
		"origins", origins,
		"location", b.Store.Location())
	return st, nil
}

// startTrace begins a Playwright trace when tracing is on and the session supports it.
func (b *Bootstrapper) startTrace(ctx context.Context, sess browser.Session, attemptID string) browser.Tracer {
	if !b.Config.Trace {
		return nil
	}
	tr, ok := sess.(browser.Tracer)
	if !ok {
		return nil
	}
	if err := tr.StartTrace("login " + attemptID); err != nil {
		obs.From(ctx).Warn("trace_start_failed", "pkg", "bootstrap", "error", err)
		return nil
	}
	return tr
}

// finishTrace stops the trace and stores the zip only for a failed attempt.
func (b *Bootstrapper) finishTrace(ctx context.Context, tr browser.Tracer, keep bool, a Attempt) {
	data, err := tr.StopTrace(keep)
	if err != nil {
		obs.From(ctx).Warn("trace_stop_failed", "pkg", "bootstrap", "error", err)
		return
	}
	if keep && len(data) > 0 {
		name := fmt.Sprintf("traces/login-%s-%s.zip", a.ID, a.StartedAt.UTC().Format("20060102T150405Z"))
		b.Recorder.Save(ctx, name, data, "application/zip")
	}
}

func (b *Bootstrapper) step(ctx context.Context, r *run, t transition) error {
	err := ctx.Err()
	if err == nil {
		err = t.do(b, ctx, r)
	}
	if err == nil {
		return nil
	}
	return &FailedError{AttemptID: r.attempt.ID, Stage: r.attempt.Stage, Reason: t.reason, Err: err}
}

func (b *Bootstrapper) openLogin(_ context.Context, r *run) error {
	sel, to := b.Config.Selectors, b.Config.Timeouts.withDefaults()
	if err := r.page.Goto(b.Config.LoginURL, to.Navigation); err != nil {
		return fmt.Errorf("open %s: %w", b.Config.LoginURL, err)
	}
	if sel.LoginLink != "" {
		if err := r.page.WaitFor(sel.LoginLink, browser.Visible, to.Field); err != nil {
			return fmt.Errorf("login link: %w", err)
		}
		if err := r.page.Click(sel.LoginLink, to.Click); err != nil {
			return fmt.Errorf("click login link: %w", err)
		}
	}
	if err := r.page.WaitFor(sel.Email, browser.Visible, to.Field); err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	return nil
}

func (b *Bootstrapper) submitEmail(ctx context.Context, r *run) error {
	sel, to := b.Config.Selectors, b.Config.Timeouts.withDefaults()
	if err := r.page.Fill(sel.Email, b.Config.Email, to.Field); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := r.page.WaitFor(sel.Continue, browser.Attached, to.Field); err != nil {
		return fmt.Errorf("continue button: %w", err)
	}
	return b.clickWithRetry(ctx, r.page, sel.Continue)
}

// awaitOTPField allows exactly one reload when the field does not show up in time.
func (b *Bootstrapper) awaitOTPField(ctx context.Context, r *run) error {
	sel, to := b.Config.Selectors, b.Config.Timeouts.withDefaults()
	err := r.page.WaitFor(sel.OTP, browser.Visible, to.OTPField)
	if err == nil {
		return nil
	}
	if !browser.IsTimeout(err) {
		return fmt.Errorf("OTP field: %w", err)
	}
	obs.From(ctx).Warn("otp_field_reload", "pkg", "bootstrap", "error", err)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.page.Reload(to.Navigation); err != nil {
		return fmt.Errorf("reload for OTP field: %w", err)
	}
	if err := r.page.WaitFor(sel.OTP, browser.Visible, to.OTPField); err != nil {
		return fmt.Errorf("OTP field after reload: %w", err)
	}
	return nil
}

func (b *Bootstrapper) requestCode(ctx context.Context, r *run) error {
	code, err := b.Codes.Fetch(ctx, otp.Request{Query: b.Config.OTPQuery, After: r.attempt.StartedAt})
	if err != nil {
		return err
	}
	r.code = code
	return nil
}

func (b *Bootstrapper) submitCode(ctx context.Context, r *run) error {
	sel, to := b.Config.Selectors, b.Config.Timeouts.withDefaults()
	if err := r.page.Fill(sel.OTP, r.code, to.Field); err != nil {
		return fmt.Errorf("fill OTP: %w", err)
	}
	obs.From(ctx).Info("otp_entered", "pkg", "bootstrap", "code", logutil.MaskCode(r.code))
	return b.clickWithRetry(ctx, r.page, sel.Submit)
}

func (b *Bootstrapper) confirmDashboard(ctx context.Context, r *run) error {
	sel, to := b.Config.Selectors, b.Config.Timeouts.withDefaults()
	err := r.page.WaitFor(sel.Dashboard, browser.Visible, to.Dashboard)
	if err == nil {
		return nil
	}
	if !browser.IsTimeout(err) {
		return fmt.Errorf("dashboard landmark: %w", err)
	}

	if sel.ErrorAlert != "" && r.page.WaitFor(sel.ErrorAlert, browser.Visible, to.ErrorAlert) == nil {
		return errOTPRejected
	}
	if want := b.Config.ConfirmURLContains; want != "" {
		if current := r.page.URL(); strings.Contains(current, want) {
			obs.From(ctx).Warn("dashboard_confirmed_by_url",
				"pkg", "bootstrap",
				"url", current,
				"landmark", sel.Dashboard)
			return nil
		}
	}
	return fmt.Errorf("%w: %w", errLandmarkMissing, err)
}

func (b *Bootstrapper) clickWithRetry(ctx context.Context, page browser.Page, selector string) error {
	to := b.Config.Timeouts.withDefaults()
	var err error
	for i := range to.ClickAttempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(to.ClickBackoff):
			}
		}
		if err = page.Click(selector, to.Click); err == nil {
			return nil
		}
		obs.From(ctx).Debug("click_retry", "pkg", "bootstrap", "selector", selector, "try", i+1, "error", err)
	}
	return fmt.Errorf("click %s after %d tries: %w", selector, to.ClickAttempts, err)
}
