package bootstrap

import "time"

// Selectors locate the login controls on the storefront.
type Selectors struct {
	// LoginLink is clicked after navigation when the login form is not on the landing page.
	LoginLink  string
	Email      string
	Continue   string
	OTP        string
	Submit     string
	ErrorAlert string
	// Dashboard is the post-login landmark.
	Dashboard string
}

// DefaultSelectors returns the selectors of the dealer portal login.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginLink:  "text=Dealer Login",
		Email:      "input[name='email']",
		Continue:   "button[name='commit']",
		OTP:        `input[placeholder="6-digit code"]`,
		Submit:     `//span[contains(text(),"Submit")]/parent::button`,
		ErrorAlert: "p[class='textfield-error']",
		Dashboard:  `//h2[text()="Welcome back Salman!"]`,
	}
}

// Timeouts bound every wait of an attempt.
type Timeouts struct {
	Navigation time.Duration
	Field      time.Duration
	// OTPField is long because the page waits on mail delivery.
	OTPField  time.Duration
	Dashboard time.Duration
	// ErrorAlert bounds the secondary check for a rejected code.
	ErrorAlert    time.Duration
	Click         time.Duration
	ClickAttempts int
	ClickBackoff  time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:    60 * time.Second,
		Field:         30 * time.Second,
		OTPField:      120 * time.Second,
		Dashboard:     60 * time.Second,
		ErrorAlert:    2 * time.Second,
		Click:         10 * time.Second,
		ClickAttempts: 3,
		ClickBackoff:  250 * time.Millisecond,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Navigation <= 0 {
		t.Navigation = d.Navigation
	}
	if t.Field <= 0 {
		t.Field = d.Field
	}
	if t.OTPField <= 0 {
		t.OTPField = d.OTPField
	}
	if t.Dashboard <= 0 {
		t.Dashboard = d.Dashboard
	}
	if t.ErrorAlert <= 0 {
		t.ErrorAlert = d.ErrorAlert
	}
	if t.Click <= 0 {
		t.Click = d.Click
	}
	if t.ClickAttempts <= 0 {
		t.ClickAttempts = d.ClickAttempts
	}
	if t.ClickBackoff <= 0 {
		t.ClickBackoff = d.ClickBackoff
	}
	return t
}

// Config describes the login to perform.
type Config struct {
	// LoginURL is where the attempt starts.
	LoginURL string
	// Origin is recorded with the persisted state.
	Origin string
	Email  string
	// OTPQuery selects the code email, e.g. "subject:code".
	OTPQuery string
	// ConfirmURLContains enables the URL-based secondary dashboard confirmation.
	ConfirmURLContains string
	Selectors          Selectors
	Timeouts           Timeouts
	RecordVideoDir     string
	// Trace records a Playwright trace of each attempt; it is kept only when the attempt fails.
	Trace bool
}
