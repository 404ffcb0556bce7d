package browser

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"html/template"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/storefront-e2e/internal/mailbox"
	"github.com/kuitang/storefront-e2e/internal/obs"
	"github.com/kuitang/storefront-e2e/internal/otp"
)

const (
	pendingCookie = "_storefront_login"
	sessionCookie = "_storefront_session"
	dealerName    = "Salman"
)

// NavLinks are the navbar entries of the storefront header, in page order.
var NavLinks = []string{"Products", "Shop", "Solutions", "Sales Tools", "Why DMF", "Inspirations", "Rep Maps", "Resources"}

// Storefront is a local stand-in for the dealer storefront: a landing page with a
// "Dealer Login" link, an email form, a one-time-code form and a dashboard. Codes are
// delivered to Mailbox instead of a real inbox.
type Storefront struct {
	*httptest.Server
	Mailbox *Mailbox

	mu        sync.Mutex
	pending   map[string]string
	sessions  map[string]bool
	logins    int
	otpViews  int
	hideOnce  bool
	wrongCode bool
}

func NewStorefront() *Storefront {
	s := &Storefront{
		Mailbox:  &Mailbox{},
		pending:  map[string]string{},
		sessions: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleLanding)
	mux.HandleFunc("GET /account/login", s.handleLoginForm)
	mux.HandleFunc("POST /account/login", s.handleLoginSubmit)
	mux.HandleFunc("GET /account/login/verify", s.handleCodeForm)
	mux.HandleFunc("POST /account/login/verify", s.handleCodeSubmit)
	mux.HandleFunc("GET /account", s.requireSession(s.handleDashboard))
	mux.HandleFunc("GET /pages/configurators", s.requireSession(s.handleDashboard))
	mux.HandleFunc("GET /nav/{name}", s.handleNavTarget)
	s.Server = httptest.NewServer(obs.AccessLogMiddleware("storefront", mux))
	return s
}

// Reset forgets every login and delivered code.
func (s *Storefront) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = map[string]string{}
	s.sessions = map[string]bool{}
	s.logins = 0
	s.otpViews = 0
	s.hideOnce = false
	s.wrongCode = false
	s.Mailbox.Reset()
}

// RevokeSessions logs every browser out server-side, as an expired session would.
func (s *Storefront) RevokeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = map[string]bool{}
}

// HideCodeFieldOnce renders the next code page without its input, as a slow page would.
func (s *Storefront) HideCodeFieldOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideOnce = true
}

// DeliverWrongCodes makes the mailbox receive codes the server will reject.
func (s *Storefront) DeliverWrongCodes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrongCode = true
}

// Logins counts successful code verifications.
func (s *Storefront) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Storefront) loggedIn(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[c.Value]
}

func (s *Storefront) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.loggedIn(r) {
			http.Redirect(w, r, "/account/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

func (s *Storefront) handleLanding(w http.ResponseWriter, r *http.Request) {
	render(w, landingTmpl, pageData{Title: "DMF Luxury", Nav: NavLinks, LoggedIn: s.loggedIn(r), Name: dealerName})
}

func (s *Storefront) handleLoginForm(w http.ResponseWriter, _ *http.Request) {
	render(w, loginTmpl, pageData{Title: "Sign in - DMF Luxury"})
}

func (s *Storefront) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	addr := r.FormValue("email")
	if addr == "" {
		render(w, loginTmpl, pageData{Title: "Sign in - DMF Luxury", Error: "Enter your email"})
		return
	}
	code := randomCode()
	id := uuid.NewString()

	s.mu.Lock()
	s.pending[id] = code
	delivered := code
	if s.wrongCode {
		delivered = rotateDigits(code)
	}
	s.mu.Unlock()

	s.Mailbox.Deliver(addr, delivered, time.Now())
	http.SetCookie(w, &http.Cookie{Name: pendingCookie, Value: id, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/account/login/verify", http.StatusSeeOther)
}

func (s *Storefront) handleCodeForm(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.otpViews++
	hide := s.hideOnce
	s.hideOnce = false
	s.mu.Unlock()
	render(w, codeTmpl, pageData{Title: "Enter code - DMF Luxury", HideField: hide})
}

func (s *Storefront) handleCodeSubmit(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(pendingCookie)
	if err != nil {
		http.Redirect(w, r, "/account/login", http.StatusSeeOther)
		return
	}
	s.mu.Lock()
	want, ok := s.pending[c.Value]
	if !ok || r.FormValue("code") != want {
		s.mu.Unlock()
		render(w, codeTmpl, pageData{Title: "Enter code - DMF Luxury", Error: "Incorrect code. Please try again."})
		return
	}
	delete(s.pending, c.Value)
	sid := uuid.NewString()
	s.sessions[sid] = true
	s.logins++
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: pendingCookie, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Now().Add(24 * time.Hour),
	})
	http.Redirect(w, r, "/account", http.StatusSeeOther)
}

func (s *Storefront) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	render(w, dashboardTmpl, pageData{Title: "Account - DMF Luxury", Nav: NavLinks, LoggedIn: true, Name: dealerName})
}

func (s *Storefront) handleNavTarget(w http.ResponseWriter, r *http.Request) {
	render(w, navTargetTmpl, pageData{Title: r.PathValue("name"), Nav: NavLinks})
}

func randomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

// rotateDigits returns a different six-digit code.
func rotateDigits(code string) string {
	out := []byte(code)
	for i, c := range out {
		out[i] = '0' + (c-'0'+1)%10
	}
	return string(out)
}

// Mailbox records delivered codes and serves them the way the Gmail client does.
type Mailbox struct {
	mu       sync.Mutex
	messages []*mailbox.Message
	polls    int
}

var _ otp.Source = (*Mailbox)(nil)

func (m *Mailbox) Deliver(to, code string, at time.Time) {
	body := fmt.Sprintf("Hi,\r\n\r\nYour DMF Luxury login code is %s.\r\nIt expires in 10 minutes.\r\n", code)
	msg := &mailbox.Message{
		ID:         uuid.NewString(),
		Subject:    "Your login code",
		From:       "DMF Luxury <no-reply@dmfluxury.com>",
		Snippet:    "Your DMF Luxury login code is " + code,
		ReceivedAt: at.UTC(),
		Payload: mailbox.Part{
			MimeType: "multipart/alternative",
			Parts: []mailbox.Part{
				{MimeType: "text/plain; charset=UTF-8", Data: base64.URLEncoding.EncodeToString([]byte(body))},
				{MimeType: "text/html; charset=UTF-8", Data: base64.URLEncoding.EncodeToString([]byte("<p>Your code is <b>" + code + "</b></p>"))},
			},
		},
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	obs.Pkg("storefront").Debug("code_delivered", "to", to)
}

// FetchLatest ignores the query: every message here is a code email.
func (m *Mailbox) FetchLatest(ctx context.Context, _ string) (*mailbox.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.polls++
	if len(m.messages) == 0 {
		return nil, mailbox.ErrNotFound
	}
	return m.messages[len(m.messages)-1], nil
}

func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.polls = 0
}

// Count returns how many messages were delivered.
func (m *Mailbox) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

type pageData struct {
	Title     string
	Nav       []string
	LoggedIn  bool
	Name      string
	Error     string
	HideField bool
}

func render(w http.ResponseWriter, t *template.Template, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		obs.Pkg("storefront").Error("render_failed", "error", err)
	}
}

const layout = `<!doctype html>
<html><head><title>{{.Title}}</title></head>
<body>
{{define "nav"}}
<nav class="mobile-nav">{{range .Nav}}<a href="/nav/{{.}}">{{.}}</a>{{end}}</nav>
<nav class="header-nav">
  <a href="/nav/Products">Products</a>
  <a href="/nav/Shop">Shop</a>
  <a href="/nav/Solutions">Solutions</a>
  <a href="/nav/Sales Tools"><span>Sales Tools</span></a>
  <a href="/nav/Why DMF">Why DMF</a>
  <a href="/nav/Inspirations"><span>Inspirations</span></a>
  <a href="/nav/Rep Maps"><span>Rep Maps</span></a>
  <a href="/nav/Resources"><span>Resources</span></a>
</nav>
{{end}}
{{block "content" .}}{{end}}
</body></html>`

var (
	landingTmpl = template.Must(template.Must(template.New("landing").Parse(layout)).Parse(`{{define "content"}}
{{template "nav" .}}
{{if .LoggedIn}}<h2>Welcome back {{.Name}}!</h2>{{else}}<a href="/account/login">Dealer Login</a>{{end}}
{{end}}`))

	loginTmpl = template.Must(template.Must(template.New("login").Parse(layout)).Parse(`{{define "content"}}
<h1>Sign in</h1>
<form method="post" action="/account/login">
  <input type="email" name="email" autocomplete="email">
  {{if .Error}}<p class="textfield-error">{{.Error}}</p>{{end}}
  <button type="submit" name="commit">Continue</button>
</form>
{{end}}`))

	codeTmpl = template.Must(template.Must(template.New("code").Parse(layout)).Parse(`{{define "content"}}
<h2>Enter code</h2>
{{if .HideField}}<p>Sending code…</p>{{else}}
<form method="post" action="/account/login/verify">
  <input type="text" name="code" inputmode="numeric" placeholder="6-digit code">
  {{if .Error}}<p class="textfield-error">{{.Error}}</p>{{end}}
  <button type="submit"><span>Submit</span></button>
</form>
{{end}}
{{end}}`))

	dashboardTmpl = template.Must(template.Must(template.New("dashboard").Parse(layout)).Parse(`{{define "content"}}
{{template "nav" .}}
<h2>Welcome back {{.Name}}!</h2>
{{end}}`))

	navTargetTmpl = template.Must(template.Must(template.New("nav-target").Parse(layout)).Parse(`{{define "content"}}
{{template "nav" .}}
<h1>{{.Title}}</h1>
{{end}}`))
)
