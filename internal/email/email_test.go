package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestRenderAlert_KnownKinds(t *testing.T) {
	t.Parallel()
	subject, html := renderAlert(Alert{Kind: KindStaleSession, Origin: "https://dmfluxury.com", AttemptID: "a-1"})
	if !strings.Contains(subject, "expired") || !strings.Contains(subject, "https://dmfluxury.com") {
		t.Fatalf("unexpected stale subject: %q", subject)
	}
	if !strings.Contains(html, "a-1") {
		t.Fatalf("stale html missing attempt id")
	}

	subject, html = renderAlert(Alert{Kind: KindBootstrapFailed, Stage: "awaiting_otp_field", Reason: "otp_field_timeout"})
	if !strings.Contains(subject, "awaiting_otp_field") || !strings.Contains(subject, "otp_field_timeout") {
		t.Fatalf("unexpected failure subject: %q", subject)
	}
	if !strings.Contains(html, "otp_field_timeout") {
		t.Fatalf("failure html missing reason")
	}
}

func testRenderAlert_EscapesDetail(t *rapid.T) {
	detail := rapid.StringMatching(`[A-Za-z0-9 <>&"']{1,64}`).Draw(t, "detail")
	_, html := renderAlert(Alert{Kind: KindBootstrapFailed, Detail: detail})
	if strings.Contains(detail, "<") && strings.Contains(html, detail) {
		t.Fatalf("detail not escaped: %q", detail)
	}
}

func TestRenderAlert_EscapesDetail(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testRenderAlert_EscapesDetail)
}

func TestMockAlerter_CapturesAndWritesOutbox(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := NewMockAlerter(dir)

	Notify(context.Background(), m, Alert{Kind: KindStaleSession, Origin: "https://dmfluxury.com"})
	Notify(context.Background(), m, Alert{Kind: KindBootstrapFailed, Stage: "otp_requested"})

	if m.Count() != 2 || m.CountKind(KindStaleSession) != 1 {
		t.Fatalf("unexpected captures: %+v", m.Alerts)
	}
	last := m.Last()
	if last.Kind != KindBootstrapFailed || last.At.IsZero() || last.AttemptID != "unknown" {
		t.Fatalf("Notify should fill defaults: %+v", last)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 outbox files, got %d", len(entries))
	}
}

func TestNotify_SwallowsFailures(t *testing.T) {
	t.Parallel()
	m := NewMockAlerter("")
	m.Err = errors.New("smtp down")
	Notify(context.Background(), m, Alert{Kind: KindStaleSession})
	Notify(context.Background(), nil, Alert{Kind: KindStaleSession})
	if m.Count() != 1 {
		t.Fatalf("alert should still be captured: %d", m.Count())
	}
}

func TestResendAlerter_SendsEmail(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/emails") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &got)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"email-1"}`))
	}))
	defer srv.Close()

	r, err := NewResendAlerter("re_test", "alerts@example.com", "ops@example.com").WithBaseURL(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	err = r.Alert(context.Background(), Alert{Kind: KindBootstrapFailed, Stage: "otp_requested", Reason: "otp_not_found", At: time.Now()})
	if err != nil {
		t.Fatalf("Alert: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer re_test" {
		t.Fatalf("unexpected auth header: %q", auth)
	}
	if got["from"] != "alerts@example.com" {
		t.Fatalf("unexpected from: %v", got["from"])
	}
	if subj, _ := got["subject"].(string); !strings.Contains(subj, "otp_not_found") {
		t.Fatalf("unexpected subject: %v", got["subject"])
	}
}

func TestResendAlerter_ReportsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"bad from"}`))
	}))
	defer srv.Close()

	r, err := NewResendAlerter("re_test", "bad", "ops@example.com").WithBaseURL(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Alert(context.Background(), Alert{Kind: KindStaleSession}); err == nil {
		t.Fatal("expected error from API")
	}
}
