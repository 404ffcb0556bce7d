package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kuitang/storefront-e2e/internal/errs"
	"github.com/kuitang/storefront-e2e/internal/obs"
)

// fakeGmail serves the two mail API calls the client makes.
type fakeGmail struct {
	*httptest.Server
	listStatus int
	getStatus  int
	messages   []map[string]any
	mu         sync.Mutex
	queries    []string
	tokenCalls atomic.Int32
	tokenError string
}

func newFakeGmail(t *testing.T) *fakeGmail {
	t.Helper()
	f := &fakeGmail{listStatus: http.StatusOK, getStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		f.mu.Unlock()
		if f.listStatus != http.StatusOK {
			writeAPIError(w, f.listStatus)
			return
		}
		refs := []map[string]string{}
		if len(f.messages) > 0 {
			refs = append(refs, map[string]string{"id": f.messages[0]["id"].(string)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs, "resultSizeEstimate": len(refs)})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if f.getStatus != http.StatusOK {
			writeAPIError(w, f.getStatus)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		for _, m := range f.messages {
			if m["id"] == id {
				_ = json.NewEncoder(w).Encode(m)
				return
			}
		}
		writeAPIError(w, http.StatusNotFound)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.tokenError != "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":%q}`, f.tokenError)
			return
		}
		fmt.Fprintf(w, `{"access_token":"refreshed-%d","token_type":"Bearer","expires_in":3600}`, n)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, code, http.StatusText(code))
}

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func otpMessage(id string) map[string]any {
	return map[string]any{
		"id":           id,
		"snippet":      "Your code is 482913",
		"internalDate": "1767268800000",
		"payload": map[string]any{
			"mimeType": "multipart/alternative",
			"headers": []map[string]string{
				{"name": "Subject", "value": "Your login code"},
				{"name": "From", "value": "Store <no-reply@dmfluxury.com>"},
			},
			"parts": []map[string]any{
				{"mimeType": "text/plain", "body": map[string]any{"data": b64("Your code is 482913.")}},
				{"mimeType": "text/html", "body": map[string]any{"data": b64("<p>482913</p>")}},
			},
		},
	}
}

func writeFixtures(t *testing.T, tokenURL string, tok *oauth2.Token) (credsPath, tokenPath string) {
	t.Helper()
	dir := t.TempDir()
	credsPath = filepath.Join(dir, "credentials.json")
	creds := fmt.Sprintf(`{"installed":{"client_id":"cid.apps.googleusercontent.com","client_secret":"shh","auth_uri":"%s/auth","token_uri":"%s","redirect_uris":["http://localhost"]}}`, tokenURL, tokenURL)
	require.NoError(t, os.WriteFile(credsPath, []byte(creds), 0o600))
	tokenPath = filepath.Join(dir, "token.json")
	if tok != nil {
		require.NoError(t, SaveToken(tokenPath, tok))
	}
	return credsPath, tokenPath
}

func newTestClient(t *testing.T, f *fakeGmail, tok *oauth2.Token) (*Client, string) {
	t.Helper()
	creds, tokenPath := writeFixtures(t, f.URL+"/token", tok)
	c, err := New(context.Background(), Config{
		CredentialsFile: creds,
		TokenFile:       tokenPath,
		Endpoint:        f.URL + "/",
	})
	require.NoError(t, err)
	return c, tokenPath
}

func validToken() *oauth2.Token {
	return &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
}

func TestFetchLatest_ReturnsNewestMessage(t *testing.T) {
	f := newFakeGmail(t)
	f.messages = []map[string]any{otpMessage("m1")}
	c, _ := newTestClient(t, f, validToken())

	msg, err := c.FetchLatest(context.Background(), "subject:code")
	require.NoError(t, err)
	require.Equal(t, "m1", msg.ID)
	require.Equal(t, "Your login code", msg.Subject)
	require.Equal(t, "Store <no-reply@dmfluxury.com>", msg.From)
	require.Equal(t, time.UnixMilli(1767268800000).UTC(), msg.ReceivedAt)
	require.Equal(t, "multipart/alternative", msg.Payload.MimeType)
	require.Len(t, msg.Payload.Parts, 2)
	require.Equal(t, b64("Your code is 482913."), msg.Payload.Parts[0].Data)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"subject:code"}, f.queries)
}

func TestFetchLatest_LogsMaskedSnippet(t *testing.T) {
	var buf bytes.Buffer
	restore := obs.SetOutputForTests(&buf)
	defer restore()

	f := newFakeGmail(t)
	f.messages = []map[string]any{otpMessage("m1")}
	c, _ := newTestClient(t, f, validToken())

	_, err := c.FetchLatest(context.Background(), "subject:code")
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"snippet":"Your code is ******"`)
	require.NotContains(t, buf.String(), "482913")
}

func TestFetchLatest_EmptyMailboxIsNotFound(t *testing.T) {
	f := newFakeGmail(t)
	c, _ := newTestClient(t, f, validToken())

	_, err := c.FetchLatest(context.Background(), "subject:code")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestFetchLatest_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		listCode  int
		getCode   int
		wantCode  errs.Code
		wantNotFd bool
	}{
		{name: "rate limited", listCode: http.StatusTooManyRequests, wantCode: errs.Unavailable},
		{name: "server error", listCode: http.StatusServiceUnavailable, wantCode: errs.Unavailable},
		{name: "unauthorized", listCode: http.StatusUnauthorized, wantCode: errs.Configuration},
		{name: "forbidden", listCode: http.StatusForbidden, wantCode: errs.Internal},
		{name: "vanished", listCode: http.StatusOK, getCode: http.StatusNotFound, wantCode: errs.NotFound, wantNotFd: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFakeGmail(t)
			f.messages = []map[string]any{otpMessage("m1")}
			f.listStatus = tc.listCode
			if tc.getCode != 0 {
				f.getStatus = tc.getCode
			}
			c, _ := newTestClient(t, f, validToken())

			_, err := c.FetchLatest(context.Background(), "subject:code")
			require.Error(t, err)
			require.Equal(t, tc.wantCode, errs.CodeOf(err), "err=%v", err)
			require.Equal(t, tc.wantNotFd, errors.Is(err, ErrNotFound))
		})
	}
}

func TestFetchLatest_NetworkErrorIsUnavailable(t *testing.T) {
	f := newFakeGmail(t)
	c, _ := newTestClient(t, f, validToken())
	f.Close()

	_, err := c.FetchLatest(context.Background(), "subject:code")
	require.Error(t, err)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err), "err=%v", err)
	require.True(t, errs.Retryable(err))
}

func TestFetchLatest_RefreshPersistsToken(t *testing.T) {
	f := newFakeGmail(t)
	f.messages = []map[string]any{otpMessage("m1")}
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "rt", TokenType: "Bearer", Expiry: time.Now().Add(-time.Hour)}
	c, tokenPath := newTestClient(t, f, expired)

	_, err := c.FetchLatest(context.Background(), "subject:code")
	require.NoError(t, err)
	require.Equal(t, int32(1), f.tokenCalls.Load(), "one refresh for two API calls")

	saved, err := LoadToken(tokenPath)
	require.NoError(t, err)
	require.Equal(t, "refreshed-1", saved.AccessToken)
	require.Equal(t, "rt", saved.RefreshToken, "refresh token is carried over")

	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFetchLatest_RevokedGrantIsConfiguration(t *testing.T) {
	f := newFakeGmail(t)
	f.tokenError = "invalid_grant"
	expired := &oauth2.Token{AccessToken: "old", RefreshToken: "revoked", Expiry: time.Now().Add(-time.Hour)}
	c, _ := newTestClient(t, f, expired)

	_, err := c.FetchLatest(context.Background(), "subject:code")
	require.Error(t, err)
	require.Equal(t, errs.Configuration, errs.CodeOf(err), "err=%v", err)
	require.Contains(t, errs.MessageOf(err), AuthorizeCommand)
	require.False(t, errs.Retryable(err))
}

func TestNew_MissingCredentialsNamesPath(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "missing-credentials.json")
	_, err := New(context.Background(), Config{CredentialsFile: path, TokenFile: "unused"})
	require.Error(t, err)
	require.Equal(t, errs.Configuration, errs.CodeOf(err))
	require.Contains(t, errs.MessageOf(err), path)
}

func TestNew_MissingTokenPointsAtAuthorizeCommand(t *testing.T) {
	t.Parallel()
	creds, tokenPath := writeFixtures(t, "http://127.0.0.1:1/token", nil)
	_, err := New(context.Background(), Config{CredentialsFile: creds, TokenFile: tokenPath})
	require.Error(t, err)
	require.Equal(t, errs.Configuration, errs.CodeOf(err))
	msg := errs.MessageOf(err)
	require.Contains(t, msg, tokenPath)
	require.Contains(t, msg, AuthorizeCommand)
}

func TestNew_InvalidTokenFile(t *testing.T) {
	t.Parallel()
	creds, tokenPath := writeFixtures(t, "http://127.0.0.1:1/token", nil)
	require.NoError(t, os.WriteFile(tokenPath, []byte(`{}`), 0o600))
	_, err := New(context.Background(), Config{CredentialsFile: creds, TokenFile: tokenPath})
	require.Error(t, err)
	require.Equal(t, errs.Configuration, errs.CodeOf(err))
}

func TestScopes(t *testing.T) {
	t.Parallel()
	require.Len(t, Scopes(""), 1)
	require.Contains(t, Scopes("otp@example.com"), "openid")
}
