package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	"github.com/kuitang/storefront-e2e/internal/obs"
)

// LoadToken reads a token file. A missing file yields an error matching fs.ErrNotExist.
func LoadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file holds neither an access nor a refresh token")
	}
	return &tok, nil
}

// SaveToken writes tok atomically with mode 0600.
func SaveToken(path string, tok *oauth2.Token) error {
	raw, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PersistingTokenSource writes every refreshed token back to its file so the next run
// starts from the newest refresh token.
type PersistingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last *oauth2.Token
}

func NewPersistingTokenSource(base oauth2.TokenSource, path string, current *oauth2.Token) *PersistingTokenSource {
	return &PersistingTokenSource{base: base, path: path, last: current}
}

func (s *PersistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, classify("refresh token", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && s.last.AccessToken == tok.AccessToken {
		return tok, nil
	}
	s.last = tok
	if err := SaveToken(s.path, tok); err != nil {
		// The in-memory token is still valid for this run.
		obs.Pkg("mailbox").Warn("token_persist_failed", "path", s.path, "error", err)
	} else {
		obs.Pkg("mailbox").Info("token_refreshed", "path", s.path, "expiry", tok.Expiry)
	}
	return tok, nil
}
