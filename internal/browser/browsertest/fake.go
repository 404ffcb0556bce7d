// Package browsertest provides in-memory Page, Session and Launcher fakes so the login
// state machine and the context factory can be exercised without a browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kuitang/storefront-e2e/internal/browser"
)

// Page is a scriptable fake. A selector is "present" once Show has been called for it.
// Hooks run with the page lock released so they may call Show/Hide/SetURL.
type Page struct {
	mu      sync.Mutex
	url     string
	html    string
	shown   map[string]bool
	filled  map[string]string
	calls   []string
	clickFn map[string]func(p *Page) error

	// OnGoto runs after every navigation.
	OnGoto func(p *Page, url string)
	// OnReload runs after every reload.
	OnReload func(p *Page)
	// ScreenshotErr makes Screenshot fail.
	ScreenshotErr error
}

func NewPage() *Page {
	return &Page{
		shown:   map[string]bool{},
		filled:  map[string]string{},
		clickFn: map[string]func(p *Page) error{},
		html:    "<html><body></body></html>",
	}
}

// Show makes selectors present and visible.
func (p *Page) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		p.shown[s] = true
	}
}

// Hide removes selectors.
func (p *Page) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.shown, s)
	}
}

func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// OnClick registers what happens when selector is clicked. A returned error fails the click.
func (p *Page) OnClick(selector string, fn func(p *Page) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickFn[selector] = fn
}

// Filled returns the last value filled into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

// Calls returns the recorded operations, e.g. "goto <url>", "click <sel>", "reload".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Count returns how many recorded operations equal call.
func (p *Page) Count(call string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (p *Page) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *Page) present(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown[selector]
}

func timeout(op, selector string) error {
	return fmt.Errorf("%w: %s %s", browser.ErrTimeout, op, selector)
}

func (p *Page) Goto(url string, _ time.Duration) error {
	p.record("goto " + url)
	p.SetURL(url)
	if p.OnGoto != nil {
		p.OnGoto(p, url)
	}
	return nil
}

// WaitFor never sleeps: an absent selector times out immediately.
func (p *Page) WaitFor(selector string, state browser.ElementState, _ time.Duration) error {
	p.record("wait " + selector)
	present := p.present(selector)
	if state == browser.Hidden {
		if present {
			return timeout("wait hidden", selector)
		}
		return nil
	}
	if !present {
		return timeout("wait", selector)
	}
	return nil
}

func (p *Page) Fill(selector, value string, _ time.Duration) error {
	p.record("fill " + selector)
	if !p.present(selector) {
		return timeout("fill", selector)
	}
	p.mu.Lock()
	p.filled[selector] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(selector string, _ time.Duration) error {
	p.record("click " + selector)
	if !p.present(selector) {
		return timeout("click", selector)
	}
	p.mu.Lock()
	fn := p.clickFn[selector]
	p.mu.Unlock()
	if fn != nil {
		return fn(p)
	}
	return nil
}

func (p *Page) Reload(_ time.Duration) error {
	p.record("reload")
	if p.OnReload != nil {
		p.OnReload(p)
	}
	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Screenshot() ([]byte, error) {
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return []byte("\x89PNG fake"), nil
}

// Session wraps a Page with storage-state export.
type Session struct {
	*Page
	State     []byte
	ExportErr error

	mu      sync.Mutex
	closed  bool
	tracing bool
	traces  []string
}

var _ browser.Tracer = (*Session)(nil)

func NewSession(page *Page, state []byte) *Session {
	if page == nil {
		page = NewPage()
	}
	return &Session{Page: page, State: state}
}

func (s *Session) ExportState() ([]byte, error) {
	if s.ExportErr != nil {
		return nil, s.ExportErr
	}
	return append([]byte(nil), s.State...), nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// StartTrace records the title; Traces lists the titles of traces that were kept.
func (s *Session) StartTrace(title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracing {
		return errors.New("tracing already started")
	}
	s.tracing = true
	s.traces = append(s.traces, title)
	return nil
}

func (s *Session) StopTrace(keep bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.tracing {
		return nil, errors.New("tracing not started")
	}
	s.tracing = false
	title := s.traces[len(s.traces)-1]
	if !keep {
		s.traces = s.traces[:len(s.traces)-1]
		return nil, nil
	}
	return []byte("PK fake trace " + title), nil
}

// Tracing reports whether a trace is in progress.
func (s *Session) Tracing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracing
}

// Traces returns the titles of the traces stopped with keep (or still running).
func (s *Session) Traces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.traces...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Launcher hands out sessions built by New and records the options it was given.
type Launcher struct {
	// New builds the session for the nth call (0-based).
	New func(n int, opts browser.SessionOptions) (*Session, error)

	mu       sync.Mutex
	opts     []browser.SessionOptions
	sessions []*Session
}

func (l *Launcher) NewSession(ctx context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	n := len(l.opts)
	l.opts = append(l.opts, opts)
	l.mu.Unlock()

	var s *Session
	var err error
	if l.New != nil {
		s, err = l.New(n, opts)
	} else {
		s = NewSession(nil, opts.StorageState)
	}
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.sessions = append(l.sessions, s)
	l.mu.Unlock()
	return s, nil
}

// Opened returns the options of every NewSession call so far.
func (l *Launcher) Opened() []browser.SessionOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.SessionOptions(nil), l.opts...)
}

// Sessions returns every session handed out so far.
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}
