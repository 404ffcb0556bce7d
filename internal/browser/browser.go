// Package browser is the thin automation layer the login flow and the suite drive.
// Page is deliberately small so the bootstrap state machine can run against fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a wait, navigation or action exceeds its timeout.
var ErrTimeout = errors.New("browser: timeout")

// ElementState is the condition WaitFor waits for.
type ElementState string

const (
	Visible  ElementState = "visible"
	Attached ElementState = "attached"
	Hidden   ElementState = "hidden"
)

// Page is one browser tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
	WaitFor(selector string, state ElementState, timeout time.Duration) error
	Fill(selector, value string, timeout time.Duration) error
	Click(selector string, timeout time.Duration) error
	Reload(timeout time.Duration) error
	URL() string
	Content() (string, error)
	Screenshot() ([]byte, error)
}

// Session is an isolated browser context with one page.
type Session interface {
	Page
	// ExportState returns the context's storage state (cookies + local storage) as JSON.
	ExportState() ([]byte, error)
	Close() error
}

// Tracer is a session that can record a Playwright trace (actions, DOM snapshots,
// screenshots and sources) for the trace viewer.
type Tracer interface {
	StartTrace(title string) error
	// StopTrace ends the trace. It returns the zip when keep is true and discards it
	// otherwise.
	StopTrace(keep bool) ([]byte, error)
}

// SessionOptions configure a new context.
type SessionOptions struct {
	// StorageState seeds the context; nil starts logged out.
	StorageState []byte
	// Stealth hides the usual automation fingerprints.
	Stealth   bool
	UserAgent string
	// RecordVideoDir enables video capture into the directory.
	RecordVideoDir string
}

// Launcher opens sessions.
type Launcher interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// IsTimeout reports whether err is a browser timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
