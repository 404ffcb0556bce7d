// Package session persists the authenticated browser state of the storefront login so
// later tests can reuse it without another OTP round-trip.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound means no state has been persisted yet.
	ErrNotFound = errors.New("session: state not found")
	// ErrCorrupt means a persisted record exists but cannot be used. Callers treat it
	// exactly like ErrNotFound.
	ErrCorrupt = errors.New("session: state corrupt")
)

// State is one successful login. It is replaced as a whole, never patched.
type State struct {
	CreatedAt time.Time
	// Origin is scheme://host of the storefront the state was captured on.
	Origin string
	// StorageState is the browser's storage-state export (cookies + local storage).
	StorageState []byte
}

// Store persists exactly one State.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, st *State) error
	Delete(ctx context.Context) error
	// Location describes where the state lives, for logs and the CLI.
	Location() string
}

// Age returns how long ago the state was captured.
func (s *State) Age(now time.Time) time.Duration {
	if s == nil || s.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(s.CreatedAt)
}

// Usable reports whether the state may be reused for origin given maxAge (0 = unlimited).
// A state without a creation time never satisfies a max age.
func (s *State) Usable(origin string, maxAge time.Duration, now time.Time) bool {
	if s == nil || len(s.StorageState) == 0 {
		return false
	}
	if origin != "" && s.Origin != origin {
		return false
	}
	if maxAge > 0 && (s.CreatedAt.IsZero() || s.Age(now) > maxAge) {
		return false
	}
	return true
}

// Counts returns the number of cookies and origins in the storage-state export.
func (s *State) Counts() (cookies, origins int) {
	var export struct {
		Cookies []json.RawMessage `json:"cookies"`
		Origins []json.RawMessage `json:"origins"`
	}
	if s == nil || json.Unmarshal(s.StorageState, &export) != nil {
		return 0, 0
	}
	return len(export.Cookies), len(export.Origins)
}
