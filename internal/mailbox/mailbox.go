// Package mailbox reads the most recent matching message from the Gmail inbox that
// receives the storefront's one-time codes.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/logutil"
	"github.com/kuitang/storefront-e2e/internal/obs"
)

// AuthorizeCommand is the CLI invocation that provisions a token file.
const AuthorizeCommand = "storefront-auth mail authorize"

// ErrNotFound means no message matched the query. It is an expected outcome while polling.
var ErrNotFound = errs.New(errs.NotFound, "no matching message")

// Part is one node of a message's MIME tree.
type Part struct {
	MimeType string
	// Data is the body in base64url transport encoding, as the mail API returns it.
	Data  string
	Parts []Part
}

// Message is the subset of a mail message the OTP flow needs.
type Message struct {
	ID         string
	Subject    string
	From       string
	Snippet    string
	ReceivedAt time.Time
	Payload    Part
}

// Config locates the operator-provisioned OAuth artifacts.
type Config struct {
	CredentialsFile string
	TokenFile       string
	// Interactive allows New to run the browser consent flow when the token file is missing.
	Interactive bool
	// ExpectedAccount, when set, is checked against the authorized identity during Authorize.
	ExpectedAccount string
	IssuerURL       string
	// OpenURL presents the consent URL to the operator. Defaults to printing it to stderr.
	OpenURL func(string) error

	// Endpoint overrides the Gmail API base URL (tests).
	Endpoint string
	// Transport is the base round tripper for API calls (tests).
	Transport http.RoundTripper
}

// Client fetches messages from one mailbox.
type Client struct {
	svc *gmail.Service
}

// Scopes returns the OAuth scopes the client needs.
func Scopes(expectedAccount string) []string {
	scopes := []string{gmail.GmailReadonlyScope}
	if expectedAccount != "" {
		scopes = append(scopes, "openid", "email")
	}
	return scopes
}

// LoadOAuthConfig reads the OAuth client secrets file.
func LoadOAuthConfig(path string, scopes ...string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("cannot read Gmail credentials file %s", path), err)
	}
	oc, err := google.ConfigFromJSON(raw, scopes...)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("invalid Gmail credentials file %s", path), err)
	}
	return oc, nil
}

// New builds a client from the credential and token files.
func New(ctx context.Context, cfg Config) (*Client, error) {
	oc, err := LoadOAuthConfig(cfg.CredentialsFile, Scopes(cfg.ExpectedAccount)...)
	if err != nil {
		return nil, err
	}

	tok, err := LoadToken(cfg.TokenFile)
	switch {
	case errors.Is(err, fs.ErrNotExist) && cfg.Interactive:
		a := &Authorizer{
			OAuth:           oc,
			ExpectedAccount: cfg.ExpectedAccount,
			IssuerURL:       cfg.IssuerURL,
			OpenURL:         cfg.OpenURL,
		}
		tok, err = a.Authorize(ctx)
		if err != nil {
			return nil, err
		}
		if err := SaveToken(cfg.TokenFile, tok); err != nil {
			return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("cannot write Gmail token file %s", cfg.TokenFile), err)
		}
	case errors.Is(err, fs.ErrNotExist):
		return nil, errs.New(errs.Configuration, fmt.Sprintf(
			"Gmail token file %s not found; run `%s` once to create it", cfg.TokenFile, AuthorizeCommand))
	case err != nil:
		return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("invalid Gmail token file %s", cfg.TokenFile), err)
	}

	base := obs.NewTransport("mailbox", cfg.Transport)
	refreshCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Transport: base})
	ts := NewPersistingTokenSource(oc.TokenSource(refreshCtx, tok), cfg.TokenFile, tok)
	httpClient := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}

	return NewWithHTTPClient(ctx, httpClient, cfg.Endpoint)
}

// NewWithHTTPClient builds a client on an already-authorized HTTP client.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, endpoint string) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "create Gmail service", err)
	}
	return &Client{svc: svc}, nil
}

const snippetPreviewChars = 48

// FetchLatest returns the newest message matching query, or ErrNotFound.
func (c *Client) FetchLatest(ctx context.Context, query string) (*Message, error) {
	log := obs.From(ctx).With("pkg", "mailbox")

	list, err := c.svc.Users.Messages.List("me").Q(query).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, classify("list messages", err)
	}
	if len(list.Messages) == 0 {
		log.Debug("mailbox_empty", "query", query)
		return nil, ErrNotFound
	}

	id := list.Messages[0].Id
	raw, err := c.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, classify("get message", err)
	}

	msg := convertMessage(raw)
	log.Debug("mailbox_message",
		"message_id", msg.ID,
		"received_at", msg.ReceivedAt,
		"from", logutil.RedactEmail(addressOf(msg.From)),
		"snippet", logutil.TruncateForLog(logutil.MaskDigits(msg.Snippet), snippetPreviewChars),
	)
	return msg, nil
}

func convertMessage(m *gmail.Message) *Message {
	msg := &Message{
		ID:      m.Id,
		Snippet: m.Snippet,
	}
	if m.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				msg.Subject = h.Value
			case "from":
				msg.From = h.Value
			}
		}
		msg.Payload = convertPart(m.Payload)
	}
	return msg
}

func convertPart(p *gmail.MessagePart) Part {
	part := Part{MimeType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		if child == nil {
			continue
		}
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

func addressOf(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}
