package email

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/resend/resend-go/v3"

	"github.com/kuitang/storefront-e2e/internal/obs"
)

// ResendAlerter implements Alerter using the Resend API.
type ResendAlerter struct {
	client      *resend.Client
	fromAddress string
	to          []string
}

// NewResendAlerter creates a Resend alerter.
// fromAddress must be verified in Resend.
func NewResendAlerter(apiKey, fromAddress string, to ...string) *ResendAlerter {
	httpClient := &http.Client{Transport: obs.NewTransport("email", nil)}
	return &ResendAlerter{
		client:      resend.NewCustomClient(httpClient, apiKey),
		fromAddress: fromAddress,
		to:          to,
	}
}

// WithBaseURL points the client at another API host (tests).
func (r *ResendAlerter) WithBaseURL(raw string) (*ResendAlerter, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	r.client.BaseURL = u
	return r, nil
}

// Alert sends a via Resend.
func (r *ResendAlerter) Alert(ctx context.Context, a Alert) error {
	subject, body := renderAlert(a)
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      r.to,
		Subject: subject,
		Html:    body,
		Tags:    []resend.Tag{{Name: "kind", Value: string(a.Kind)}},
	}
	if _, err := r.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: failed to send alert: %w", err)
	}
	return nil
}
