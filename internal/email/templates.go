package email

import (
	"fmt"
	"html"
	"time"
)

// Kind names an alert type.
type Kind string

const (
	// KindStaleSession: a persisted session failed verification and was replaced.
	KindStaleSession Kind = "stale_session"
	// KindBootstrapFailed: a login attempt ended in a failed stage.
	KindBootstrapFailed Kind = "bootstrap_failed"
)

// Alert is one operator notification.
type Alert struct {
	Kind      Kind      `json:"kind"`
	Origin    string    `json:"origin"`
	AttemptID string    `json:"attempt_id,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

func renderAlert(a Alert) (subject, body string) {
	switch a.Kind {
	case KindStaleSession:
		subject = fmt.Sprintf("[storefront-e2e] Saved login for %s expired", a.Origin)
		body = renderAlertHTML("Saved login expired",
			"The persisted storefront session no longer reached the dashboard. A fresh login was started.", a)
	case KindBootstrapFailed:
		subject = fmt.Sprintf("[storefront-e2e] Login failed at %s (%s)", a.Stage, a.Reason)
		body = renderAlertHTML("Login failed",
			"The automated email + one-time-code login did not reach the dashboard.", a)
	default:
		subject = fmt.Sprintf("[storefront-e2e] %s", a.Kind)
		body = renderAlertHTML(string(a.Kind), "", a)
	}
	return subject, body
}

func renderAlertHTML(title, lead string, a Alert) string {
	row := func(k, v string) string {
		if v == "" {
			return ""
		}
		return fmt.Sprintf(`<tr><td style="color:#666;padding:4px 12px 4px 0;">%s</td><td style="font-family:monospace;">%s</td></tr>`,
			html.EscapeString(k), html.EscapeString(v))
	}
	at := ""
	if !a.At.IsZero() {
		at = a.At.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>%s</title></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2 style="margin-top: 0;">%s</h2>
    <p>%s</p>
    <table>%s%s%s%s%s%s</table>
    <p style="color: #999; font-size: 12px;">Sent by the storefront end-to-end suite.</p>
</body>
</html>`,
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(lead),
		row("Origin", a.Origin), row("Attempt", a.AttemptID), row("Stage", a.Stage),
		row("Reason", a.Reason), row("Detail", a.Detail), row("At", at))
}
