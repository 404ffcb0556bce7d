package mailbox

import (
	"context"
	"fmt"
	"html"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/logutil"
	"github.com/kuitang/storefront-e2e/internal/obs"
)

const (
	defaultIssuerURL        = "https://accounts.google.com"
	defaultAuthorizeTimeout = 5 * time.Minute
	callbackPath            = "/callback"
)

// Authorizer runs the one-time loopback consent flow that produces a refreshable token.
// It is operator-driven and never retried automatically.
type Authorizer struct {
	OAuth *oauth2.Config
	// ExpectedAccount, when set, must equal the email claim of the returned id_token.
	ExpectedAccount string
	IssuerURL       string
	OpenURL         func(string) error
	Timeout         time.Duration
}

type callbackResult struct {
	code string
	err  error
}

// Authorize blocks until the operator completes consent, ctx ends or the timeout passes.
func (a *Authorizer) Authorize(ctx context.Context) (*oauth2.Token, error) {
	log := obs.From(ctx).With("pkg", "mailbox")
	if a.OAuth == nil {
		return nil, errs.New(errs.Configuration, "authorizer has no OAuth client configuration")
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultAuthorizeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "listen for OAuth callback", err)
	}

	oc := *a.OAuth
	oc.RedirectURL = "http://" + ln.Addr().String() + callbackPath
	state := uuid.NewString()

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			res.err = errs.New(errs.Configuration, "OAuth callback state mismatch")
		case q.Get("error") != "":
			res.err = errs.New(errs.Configuration, "authorization denied: "+q.Get("error"))
		case q.Get("code") == "":
			res.err = errs.New(errs.Configuration, "OAuth callback without code")
		default:
			res.code = q.Get("code")
		}
		if res.err != nil {
			http.Error(w, html.EscapeString(res.err.Error()), http.StatusBadRequest)
		} else {
			fmt.Fprintln(w, "Mailbox authorized. You can close this tab.")
		}
		select {
		case results <- res:
		default:
		}
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := oc.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	open := a.OpenURL
	if open == nil {
		open = printURL
	}
	log.Info("authorize_started", "redirect_url", oc.RedirectURL)
	if err := open(authURL); err != nil {
		return nil, errs.Wrap(errs.Internal, "present authorization URL", err)
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Configuration, "mailbox authorization not completed", ctx.Err())
	case res = <-results:
	}
	if res.err != nil {
		return nil, res.err
	}

	tok, err := oc.Exchange(ctx, res.code)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "exchange authorization code", err)
	}
	if tok.RefreshToken == "" {
		log.Warn("authorize_no_refresh_token")
	}

	if a.ExpectedAccount != "" {
		if err := a.verifyAccount(ctx, tok); err != nil {
			return nil, err
		}
	}
	log.Info("authorize_completed", "account", logutil.RedactEmail(a.ExpectedAccount))
	return tok, nil
}

func (a *Authorizer) verifyAccount(ctx context.Context, tok *oauth2.Token) error {
	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return errs.New(errs.Configuration, "token response has no id_token; cannot verify the authorized account")
	}

	issuer := a.IssuerURL
	if issuer == "" {
		issuer = defaultIssuerURL
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return errs.Wrap(errs.Unavailable, "discover OIDC provider", err)
	}
	idToken, err := provider.Verifier(&oidc.Config{ClientID: a.OAuth.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return errs.Wrap(errs.Configuration, "id_token verification failed", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return errs.Wrap(errs.Configuration, "parse id_token claims", err)
	}
	if !strings.EqualFold(claims.Email, a.ExpectedAccount) {
		return errs.New(errs.Configuration, fmt.Sprintf(
			"authorized account %s does not match GMAIL_EXPECTED_ACCOUNT %s",
			logutil.RedactEmail(claims.Email), logutil.RedactEmail(a.ExpectedAccount)))
	}
	return nil
}

func printURL(u string) error {
	_, err := fmt.Fprintf(os.Stderr, "Open this URL in a browser signed in to the OTP mailbox:\n\n  %s\n\n", u)
	return err
}
